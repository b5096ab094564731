package sqlstore

// schema is portable between SQLite and PostgreSQL. Statements are split on
// ';' by Migrate, so no statement may contain one.
const schema = `
-- Contracts (closed by status, never deleted)
CREATE TABLE IF NOT EXISTS contracts (
	id TEXT PRIMARY KEY,
	property_id TEXT NOT NULL,
	tenant_id TEXT NOT NULL,
	owner_id TEXT,
	manager_id TEXT NOT NULL,
	rent_amount TEXT NOT NULL,
	deposit TEXT,
	start_date TEXT NOT NULL,
	end_date TEXT NOT NULL,
	due_day INTEGER NOT NULL,
	status TEXT NOT NULL,
	notes TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_contracts_manager_status_end
	ON contracts(manager_id, status, end_date);

-- Payments: one installment per contract per reference month
CREATE TABLE IF NOT EXISTS payments (
	id TEXT PRIMARY KEY,
	contract_id TEXT NOT NULL REFERENCES contracts(id),
	reference_month TEXT NOT NULL,
	amount TEXT NOT NULL,
	due_date TEXT NOT NULL,
	paid_amount TEXT,
	paid_date TEXT,
	interest TEXT NOT NULL,
	penalty TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_contract_month
	ON payments(contract_id, reference_month);

-- Hot path for the scans: open payments by due date
CREATE INDEX IF NOT EXISTS idx_payments_status_due
	ON payments(status, due_date);

-- Rate configuration per user
CREATE TABLE IF NOT EXISTS rate_configs (
	user_id TEXT PRIMARY KEY,
	monthly_interest_rate TEXT NOT NULL,
	penalty_rate TEXT NOT NULL,
	grace_days INTEGER NOT NULL,
	commission_rate TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

-- Notifications (cancelled, never deleted)
CREATE TABLE IF NOT EXISTS notifications (
	id TEXT PRIMARY KEY,
	category TEXT NOT NULL,
	title TEXT NOT NULL,
	body TEXT NOT NULL,
	priority TEXT NOT NULL,
	user_id TEXT NOT NULL,
	contract_id TEXT,
	payment_id TEXT,
	sequence INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	created_at TEXT NOT NULL,
	sent_at TEXT,
	read_at TEXT,
	metadata_json TEXT
);

-- Dedup lookups: (user, payment, category) and (user, contract, category)
CREATE INDEX IF NOT EXISTS idx_notifications_user_payment
	ON notifications(user_id, payment_id, category);
CREATE INDEX IF NOT EXISTS idx_notifications_user_contract
	ON notifications(user_id, contract_id, category);

-- Delivery flush: pending, oldest first
CREATE INDEX IF NOT EXISTS idx_notifications_status_created
	ON notifications(status, created_at);

-- Notification policy per user
CREATE TABLE IF NOT EXISTS notification_policies (
	user_id TEXT PRIMARY KEY,
	enabled INTEGER NOT NULL,
	notify_due_soon INTEGER NOT NULL,
	notify_overdue INTEGER NOT NULL,
	notify_contract_expiring INTEGER NOT NULL,
	days_before_due INTEGER NOT NULL CHECK (days_before_due BETWEEN 0 AND 90),
	reminder_interval_days INTEGER NOT NULL CHECK (reminder_interval_days BETWEEN 1 AND 90),
	max_reminders INTEGER NOT NULL CHECK (max_reminders BETWEEN 0 AND 50),
	days_before_contract_end INTEGER NOT NULL CHECK (days_before_contract_end BETWEEN 0 AND 365),
	updated_at TEXT NOT NULL
);

-- Scan runs (overlap guard and audit)
CREATE TABLE IF NOT EXISTS scan_runs (
	id TEXT PRIMARY KEY,
	reference_date TEXT NOT NULL,
	status TEXT NOT NULL,
	started_at TEXT NOT NULL,
	finished_at TEXT,
	created_count INTEGER NOT NULL DEFAULT 0,
	delivered_count INTEGER NOT NULL DEFAULT 0,
	error_count INTEGER NOT NULL DEFAULT 0,
	error TEXT
);

CREATE INDEX IF NOT EXISTS idx_scan_runs_started
	ON scan_runs(started_at);

-- At most one running scan across processes
CREATE UNIQUE INDEX IF NOT EXISTS idx_scan_runs_one_running
	ON scan_runs(status) WHERE status = 'running'
`
