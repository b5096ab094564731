package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/warp/rent-engine/generic"
	"github.com/warp/rent-engine/notify"
)

// =============================================================================
// NOTIFICATIONS (notify.NotificationStore)
// =============================================================================

const notificationColumns = `id, category, title, body, priority, user_id, contract_id, payment_id,
	sequence, status, created_at, sent_at, read_at, metadata_json`

func (s *Store) CreateNotification(ctx context.Context, n notify.Notification) error {
	meta, err := marshalMetadata(n.Metadata)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, s.db, "insert notification", `
		INSERT INTO notifications (`+notificationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.Category, n.Title, n.Body, n.Priority, n.UserID,
		nullString(string(n.ContractID)), nullString(string(n.PaymentID)),
		n.Sequence, n.Status, formatTime(n.CreatedAt), nullTime(n.SentAt), nullTime(n.ReadAt), meta,
	)
	return err
}

func (s *Store) GetNotification(ctx context.Context, id generic.NotificationID) (notify.Notification, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+notificationColumns+` FROM notifications WHERE id = ?`), id)
	n, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return notify.Notification{}, &generic.NotFoundError{Kind: "notification", ID: string(id)}
	}
	if err != nil {
		return notify.Notification{}, s.wrap("get notification", err)
	}
	return n, nil
}

func (s *Store) ListNotifications(ctx context.Context, f notify.Filter) ([]notify.Notification, error) {
	w := notificationWhere(f)
	page, pageArgs := s.pageClause(f.Page)
	query := `SELECT ` + notificationColumns + ` FROM notifications` + w.String() + ` ORDER BY created_at, id` + page

	rows, err := s.db.QueryContext(ctx, s.rebind(query), append(w.args, pageArgs...)...)
	if err != nil {
		return nil, s.wrap("list notifications", err)
	}
	defer rows.Close()

	var result []notify.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, s.wrap("scan notification", err)
		}
		result = append(result, n)
	}
	return result, s.wrap("list notifications", rows.Err())
}

func (s *Store) CountNotifications(ctx context.Context, f notify.Filter) (int, error) {
	w := notificationWhere(f)
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM notifications`+w.String()), w.args...).Scan(&n)
	return n, s.wrap("count notifications", err)
}

func notificationWhere(f notify.Filter) *where {
	w := &where{}
	if f.UserID != "" {
		w.add("user_id = ?", f.UserID)
	}
	w.in("category", stringsOf(f.Categories))
	w.in("status", stringsOf(f.Statuses))
	w.notIn("status", stringsOf(f.ExcludeStatuses))
	if f.ContractID != "" {
		w.add("contract_id = ?", f.ContractID)
	}
	if f.PaymentID != "" {
		w.add("payment_id = ?", f.PaymentID)
	}
	if f.Sequence > 0 {
		w.add("sequence = ?", f.Sequence)
	}
	if f.CreatedFrom != nil {
		w.add("created_at >= ?", formatTime(*f.CreatedFrom))
	}
	return w
}

func (s *Store) UpdateNotification(ctx context.Context, n notify.Notification) error {
	meta, err := marshalMetadata(n.Metadata)
	if err != nil {
		return err
	}
	res, err := s.exec(ctx, s.db, "update notification", `
		UPDATE notifications SET title = ?, body = ?, priority = ?, status = ?,
			sent_at = ?, read_at = ?, metadata_json = ?
		WHERE id = ?`,
		n.Title, n.Body, n.Priority, n.Status, nullTime(n.SentAt), nullTime(n.ReadAt), meta, n.ID,
	)
	if err != nil {
		return err
	}
	return requireRow(res, "notification", string(n.ID))
}

func scanNotification(row scanner) (notify.Notification, error) {
	var (
		n                    notify.Notification
		contractID, payment  sql.NullString
		createdAt            string
		sentAt, readAt, meta sql.NullString
	)
	err := row.Scan(&n.ID, &n.Category, &n.Title, &n.Body, &n.Priority, &n.UserID, &contractID, &payment,
		&n.Sequence, &n.Status, &createdAt, &sentAt, &readAt, &meta)
	if err != nil {
		return n, err
	}

	n.ContractID = generic.ContractID(contractID.String)
	n.PaymentID = generic.PaymentID(payment.String)
	if n.CreatedAt, err = parseTime(createdAt); err != nil {
		return n, err
	}
	if n.SentAt, err = parseNullTime(sentAt); err != nil {
		return n, err
	}
	if n.ReadAt, err = parseNullTime(readAt); err != nil {
		return n, err
	}
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &n.Metadata); err != nil {
			return n, fmt.Errorf("notification %s metadata: %w", n.ID, err)
		}
	}
	return n, nil
}

func marshalMetadata(meta map[string]string) (sql.NullString, error) {
	if len(meta) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal metadata: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// =============================================================================
// POLICIES (notify.PolicyStore)
// =============================================================================

const policyColumns = `user_id, enabled, notify_due_soon, notify_overdue, notify_contract_expiring,
	days_before_due, reminder_interval_days, max_reminders, days_before_contract_end, updated_at`

func (s *Store) GetPolicy(ctx context.Context, user generic.UserID) (notify.Policy, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+policyColumns+` FROM notification_policies WHERE user_id = ?`), user)
	p, err := scanPolicy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return notify.Policy{}, &generic.NotFoundError{Kind: "policy", ID: string(user)}
	}
	if err != nil {
		return notify.Policy{}, s.wrap("get policy", err)
	}
	return p, nil
}

func (s *Store) UpsertPolicy(ctx context.Context, p notify.Policy) error {
	_, err := s.exec(ctx, s.db, "upsert policy", `
		INSERT INTO notification_policies (`+policyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			enabled = excluded.enabled,
			notify_due_soon = excluded.notify_due_soon,
			notify_overdue = excluded.notify_overdue,
			notify_contract_expiring = excluded.notify_contract_expiring,
			days_before_due = excluded.days_before_due,
			reminder_interval_days = excluded.reminder_interval_days,
			max_reminders = excluded.max_reminders,
			days_before_contract_end = excluded.days_before_contract_end,
			updated_at = excluded.updated_at`,
		p.UserID, boolInt(p.Enabled), boolInt(p.NotifyDueSoon), boolInt(p.NotifyOverdue),
		boolInt(p.NotifyContractExpiring), p.DaysBeforeDue, p.ReminderIntervalDays, p.MaxReminders,
		p.DaysBeforeContractEnd, formatTime(p.UpdatedAt),
	)
	return err
}

func (s *Store) ListActivePolicies(ctx context.Context) ([]notify.Policy, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT `+policyColumns+` FROM notification_policies
		WHERE enabled = ? ORDER BY user_id`), boolInt(true))
	if err != nil {
		return nil, s.wrap("list policies", err)
	}
	defer rows.Close()

	var result []notify.Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, s.wrap("scan policy", err)
		}
		result = append(result, p)
	}
	return result, s.wrap("list policies", rows.Err())
}

func scanPolicy(row scanner) (notify.Policy, error) {
	var (
		p                                  notify.Policy
		enabled, dueSoon, overdue, expiring int
		updatedAt                          string
	)
	err := row.Scan(&p.UserID, &enabled, &dueSoon, &overdue, &expiring,
		&p.DaysBeforeDue, &p.ReminderIntervalDays, &p.MaxReminders, &p.DaysBeforeContractEnd, &updatedAt)
	if err != nil {
		return p, err
	}
	p.Enabled = enabled != 0
	p.NotifyDueSoon = dueSoon != 0
	p.NotifyOverdue = overdue != 0
	p.NotifyContractExpiring = expiring != 0
	p.UpdatedAt, err = parseTime(updatedAt)
	return p, err
}

// =============================================================================
// SCAN RUNS (notify.RunStore)
// =============================================================================

// BeginRun takes the scan lease. The partial unique index on running
// records turns a concurrent BeginRun from another process into
// ErrScanInProgress too.
func (s *Store) BeginRun(ctx context.Context, run notify.Run, staleBefore time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.wrap("begin run", err)
	}
	defer tx.Rollback()

	var holder string
	err = tx.QueryRowContext(ctx, s.rebind(`
		SELECT id FROM scan_runs WHERE status = ? AND started_at > ?`),
		notify.RunRunning, formatTime(staleBefore),
	).Scan(&holder)
	switch {
	case err == nil:
		return fmt.Errorf("run %s: %w", holder, generic.ErrScanInProgress)
	case !errors.Is(err, sql.ErrNoRows):
		return s.wrap("check running scans", err)
	}

	if _, err := s.exec(ctx, tx, "expire stale runs", `
		UPDATE scan_runs SET status = ?, error = ? WHERE status = ?`,
		notify.RunFailed, "lease expired", notify.RunRunning,
	); err != nil {
		return err
	}

	_, err = s.exec(ctx, tx, "insert run", `
		INSERT INTO scan_runs (id, reference_date, status, started_at)
		VALUES (?, ?, ?, ?)`,
		run.ID, run.ReferenceDate.String(), run.Status, formatTime(run.StartedAt),
	)
	if errors.Is(err, generic.ErrDuplicate) {
		return fmt.Errorf("run %s: %w", run.ID, generic.ErrScanInProgress)
	}
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("run %s: %w", run.ID, generic.ErrScanInProgress)
		}
		return s.wrap("commit run", err)
	}
	return nil
}

func (s *Store) FinishRun(ctx context.Context, run notify.Run) error {
	res, err := s.exec(ctx, s.db, "finish run", `
		UPDATE scan_runs SET status = ?, finished_at = ?, created_count = ?, delivered_count = ?,
			error_count = ?, error = ?
		WHERE id = ?`,
		run.Status, nullTime(run.FinishedAt), run.Created, run.Delivered, run.Errors,
		nullString(run.Error), run.ID,
	)
	if err != nil {
		return err
	}
	return requireRow(res, "run", string(run.ID))
}

func (s *Store) ListRuns(ctx context.Context, page generic.Page) ([]notify.Run, error) {
	clause, args := s.pageClause(page)
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, reference_date, status, started_at, finished_at, created_count,
			delivered_count, error_count, error
		FROM scan_runs ORDER BY started_at DESC, id DESC`+clause), args...)
	if err != nil {
		return nil, s.wrap("list runs", err)
	}
	defer rows.Close()

	var result []notify.Run
	for rows.Next() {
		var (
			r                     notify.Run
			refDate, startedAt    string
			finishedAt, errorText sql.NullString
		)
		if err := rows.Scan(&r.ID, &refDate, &r.Status, &startedAt, &finishedAt,
			&r.Created, &r.Delivered, &r.Errors, &errorText); err != nil {
			return nil, s.wrap("scan run", err)
		}
		if r.ReferenceDate, err = generic.ParseDate(refDate); err != nil {
			return nil, err
		}
		if r.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		if r.FinishedAt, err = parseNullTime(finishedAt); err != nil {
			return nil, err
		}
		r.Error = errorText.String
		result = append(result, r)
	}
	return result, s.wrap("list runs", rows.Err())
}
