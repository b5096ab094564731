package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/rent-engine/finance"
	"github.com/warp/rent-engine/generic"
)

// =============================================================================
// CONTRACTS (finance.ContractStore)
// =============================================================================

const contractColumns = `id, property_id, tenant_id, owner_id, manager_id, rent_amount, deposit,
	start_date, end_date, due_day, status, notes, created_at, updated_at`

// CreateContract writes the contract and its schedule in one transaction.
func (s *Store) CreateContract(ctx context.Context, c finance.Contract, schedule []finance.Payment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.wrap("begin create contract", err)
	}
	defer tx.Rollback()

	var owner string
	if c.OwnerID != nil {
		owner = string(*c.OwnerID)
	}
	var deposit sql.NullString
	if c.Deposit != nil {
		deposit = sql.NullString{String: c.Deposit.String(), Valid: true}
	}
	_, err = s.exec(ctx, tx, "insert contract", `
		INSERT INTO contracts (`+contractColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.PropertyID, c.TenantID, nullString(owner), c.ManagerID, c.RentAmount.String(), deposit,
		c.StartDate.String(), c.EndDate.String(), c.DueDay, c.Status, nullString(c.Notes),
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
	)
	if err != nil {
		return err
	}

	for _, p := range schedule {
		if err := s.insertPayment(ctx, tx, p); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return s.wrap("commit create contract", err)
	}
	return nil
}

func (s *Store) GetContract(ctx context.Context, id generic.ContractID) (finance.Contract, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+contractColumns+` FROM contracts WHERE id = ?`), id)
	c, err := scanContract(row)
	if errors.Is(err, sql.ErrNoRows) {
		return finance.Contract{}, &generic.NotFoundError{Kind: "contract", ID: string(id)}
	}
	if err != nil {
		return finance.Contract{}, s.wrap("get contract", err)
	}
	return c, nil
}

func (s *Store) UpdateContract(ctx context.Context, c finance.Contract) error {
	var owner string
	if c.OwnerID != nil {
		owner = string(*c.OwnerID)
	}
	var deposit sql.NullString
	if c.Deposit != nil {
		deposit = sql.NullString{String: c.Deposit.String(), Valid: true}
	}
	res, err := s.exec(ctx, s.db, "update contract", `
		UPDATE contracts SET property_id = ?, tenant_id = ?, owner_id = ?, manager_id = ?,
			rent_amount = ?, deposit = ?, start_date = ?, end_date = ?, due_day = ?,
			status = ?, notes = ?, updated_at = ?
		WHERE id = ?`,
		c.PropertyID, c.TenantID, nullString(owner), c.ManagerID, c.RentAmount.String(), deposit,
		c.StartDate.String(), c.EndDate.String(), c.DueDay, c.Status, nullString(c.Notes),
		formatTime(c.UpdatedAt), c.ID,
	)
	if err != nil {
		return err
	}
	return requireRow(res, "contract", string(c.ID))
}

func (s *Store) ListContracts(ctx context.Context, f finance.ContractFilter) ([]finance.Contract, error) {
	var w where
	if f.ManagerID != "" {
		w.add("manager_id = ?", f.ManagerID)
	}
	w.in("status", stringsOf(f.Statuses))
	if f.EndFrom != nil {
		w.add("end_date >= ?", f.EndFrom.String())
	}
	if f.EndTo != nil {
		w.add("end_date <= ?", f.EndTo.String())
	}
	page, pageArgs := s.pageClause(f.Page)
	query := `SELECT ` + contractColumns + ` FROM contracts` + w.String() + ` ORDER BY end_date, id` + page

	rows, err := s.db.QueryContext(ctx, s.rebind(query), append(w.args, pageArgs...)...)
	if err != nil {
		return nil, s.wrap("list contracts", err)
	}
	defer rows.Close()

	var contracts []finance.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, s.wrap("scan contract", err)
		}
		contracts = append(contracts, c)
	}
	return contracts, s.wrap("list contracts", rows.Err())
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanContract(row scanner) (finance.Contract, error) {
	var (
		c                    finance.Contract
		owner, deposit       sql.NullString
		notes                sql.NullString
		rent, start, end     string
		createdAt, updatedAt string
	)
	err := row.Scan(&c.ID, &c.PropertyID, &c.TenantID, &owner, &c.ManagerID, &rent, &deposit,
		&start, &end, &c.DueDay, &c.Status, &notes, &createdAt, &updatedAt)
	if err != nil {
		return c, err
	}

	if owner.Valid {
		id := generic.OwnerID(owner.String)
		c.OwnerID = &id
	}
	if c.RentAmount, err = decimal.NewFromString(rent); err != nil {
		return c, fmt.Errorf("contract %s rent_amount: %w", c.ID, err)
	}
	if deposit.Valid {
		d, err := decimal.NewFromString(deposit.String)
		if err != nil {
			return c, fmt.Errorf("contract %s deposit: %w", c.ID, err)
		}
		c.Deposit = &d
	}
	if c.StartDate, err = generic.ParseDate(start); err != nil {
		return c, err
	}
	if c.EndDate, err = generic.ParseDate(end); err != nil {
		return c, err
	}
	c.Notes = notes.String
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return c, err
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return c, err
	}
	return c, nil
}

// =============================================================================
// PAYMENTS (finance.PaymentStore)
// =============================================================================

const paymentColumns = `p.id, p.contract_id, p.reference_month, p.amount, p.due_date, p.paid_amount,
	p.paid_date, p.interest, p.penalty, p.status, p.created_at, p.updated_at`

func (s *Store) insertPayment(ctx context.Context, db execer, p finance.Payment) error {
	paidAmount, paidDate := paidColumns(p)
	_, err := s.exec(ctx, db, "insert payment", `
		INSERT INTO payments (id, contract_id, reference_month, amount, due_date, paid_amount,
			paid_date, interest, penalty, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.ContractID, p.ReferenceMonth.String(), p.Amount.String(), p.DueDate.String(),
		paidAmount, paidDate, p.Interest.String(), p.Penalty.String(), p.Status,
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	return err
}

func (s *Store) GetPayment(ctx context.Context, id generic.PaymentID) (finance.Payment, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+paymentColumns+` FROM payments p WHERE p.id = ?`), id)
	p, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return finance.Payment{}, &generic.NotFoundError{Kind: "payment", ID: string(id)}
	}
	if err != nil {
		return finance.Payment{}, s.wrap("get payment", err)
	}
	return p, nil
}

func (s *Store) ListPayments(ctx context.Context, f finance.PaymentFilter) ([]finance.Payment, error) {
	from, w := paymentWhere(f)
	page, pageArgs := s.pageClause(f.Page)
	query := `SELECT ` + paymentColumns + from + w.String() + ` ORDER BY p.due_date, p.id` + page

	rows, err := s.db.QueryContext(ctx, s.rebind(query), append(w.args, pageArgs...)...)
	if err != nil {
		return nil, s.wrap("list payments", err)
	}
	defer rows.Close()

	var payments []finance.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, s.wrap("scan payment", err)
		}
		payments = append(payments, p)
	}
	return payments, s.wrap("list payments", rows.Err())
}

func (s *Store) CountPayments(ctx context.Context, f finance.PaymentFilter) (int, error) {
	from, w := paymentWhere(f)
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*)`+from+w.String()), w.args...).Scan(&n)
	return n, s.wrap("count payments", err)
}

func paymentWhere(f finance.PaymentFilter) (string, *where) {
	from := ` FROM payments p`
	w := &where{}
	if f.ManagerID != "" {
		from += ` JOIN contracts c ON c.id = p.contract_id`
		w.add("c.manager_id = ?", f.ManagerID)
	}
	if f.ContractID != "" {
		w.add("p.contract_id = ?", f.ContractID)
	}
	w.in("p.status", stringsOf(f.Statuses))
	if f.DueFrom != nil {
		w.add("p.due_date >= ?", f.DueFrom.String())
	}
	if f.DueTo != nil {
		w.add("p.due_date <= ?", f.DueTo.String())
	}
	return from, w
}

// UpdatePayment rewrites the mutable columns. Contract and reference month
// are part of the unique key and never change.
func (s *Store) UpdatePayment(ctx context.Context, p finance.Payment) error {
	paidAmount, paidDate := paidColumns(p)
	res, err := s.exec(ctx, s.db, "update payment", `
		UPDATE payments SET amount = ?, due_date = ?, paid_amount = ?, paid_date = ?,
			interest = ?, penalty = ?, status = ?, updated_at = ?
		WHERE id = ?`,
		p.Amount.String(), p.DueDate.String(), paidAmount, paidDate,
		p.Interest.String(), p.Penalty.String(), p.Status, formatTime(p.UpdatedAt), p.ID,
	)
	if err != nil {
		return err
	}
	return requireRow(res, "payment", string(p.ID))
}

func paidColumns(p finance.Payment) (amount, date sql.NullString) {
	if p.PaidAmount != nil {
		amount = sql.NullString{String: p.PaidAmount.String(), Valid: true}
	}
	if p.PaidDate != nil {
		date = sql.NullString{String: p.PaidDate.String(), Valid: true}
	}
	return amount, date
}

func scanPayment(row scanner) (finance.Payment, error) {
	var (
		p                    finance.Payment
		month, amount, due   string
		paidAmount, paidDate sql.NullString
		interest, penalty    string
		createdAt, updatedAt string
	)
	err := row.Scan(&p.ID, &p.ContractID, &month, &amount, &due, &paidAmount,
		&paidDate, &interest, &penalty, &p.Status, &createdAt, &updatedAt)
	if err != nil {
		return p, err
	}

	if p.ReferenceMonth, err = generic.ParseDate(month); err != nil {
		return p, err
	}
	if p.DueDate, err = generic.ParseDate(due); err != nil {
		return p, err
	}
	if p.Amount, err = decimal.NewFromString(amount); err != nil {
		return p, fmt.Errorf("payment %s amount: %w", p.ID, err)
	}
	if p.Interest, err = decimal.NewFromString(interest); err != nil {
		return p, fmt.Errorf("payment %s interest: %w", p.ID, err)
	}
	if p.Penalty, err = decimal.NewFromString(penalty); err != nil {
		return p, fmt.Errorf("payment %s penalty: %w", p.ID, err)
	}
	if paidAmount.Valid {
		d, err := decimal.NewFromString(paidAmount.String)
		if err != nil {
			return p, fmt.Errorf("payment %s paid_amount: %w", p.ID, err)
		}
		p.PaidAmount = &d
	}
	if paidDate.Valid {
		d, err := generic.ParseDate(paidDate.String)
		if err != nil {
			return p, err
		}
		p.PaidDate = &d
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return p, err
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return p, err
	}
	return p, nil
}

// =============================================================================
// RATES (finance.RateStore)
// =============================================================================

func (s *Store) GetRates(ctx context.Context, user generic.UserID) (finance.RateConfig, error) {
	var (
		r                          finance.RateConfig
		interest, penalty, commiss string
		updatedAt                  string
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT user_id, monthly_interest_rate, penalty_rate, grace_days, commission_rate, updated_at
		FROM rate_configs WHERE user_id = ?`), user,
	).Scan(&r.UserID, &interest, &penalty, &r.GraceDays, &commiss, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return finance.RateConfig{}, &generic.NotFoundError{Kind: "rates", ID: string(user)}
	}
	if err != nil {
		return finance.RateConfig{}, s.wrap("get rates", err)
	}

	if r.MonthlyInterestRate, err = decimal.NewFromString(interest); err != nil {
		return r, fmt.Errorf("rates %s interest: %w", user, err)
	}
	if r.PenaltyRate, err = decimal.NewFromString(penalty); err != nil {
		return r, fmt.Errorf("rates %s penalty: %w", user, err)
	}
	if r.CommissionRate, err = decimal.NewFromString(commiss); err != nil {
		return r, fmt.Errorf("rates %s commission: %w", user, err)
	}
	if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return r, err
	}
	return r, nil
}

func (s *Store) UpsertRates(ctx context.Context, r finance.RateConfig) error {
	_, err := s.exec(ctx, s.db, "upsert rates", `
		INSERT INTO rate_configs (user_id, monthly_interest_rate, penalty_rate, grace_days, commission_rate, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			monthly_interest_rate = excluded.monthly_interest_rate,
			penalty_rate = excluded.penalty_rate,
			grace_days = excluded.grace_days,
			commission_rate = excluded.commission_rate,
			updated_at = excluded.updated_at`,
		r.UserID, r.MonthlyInterestRate.String(), r.PenaltyRate.String(), r.GraceDays,
		r.CommissionRate.String(), formatTime(r.UpdatedAt),
	)
	return err
}

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &generic.NotFoundError{Kind: kind, ID: id}
	}
	return nil
}
