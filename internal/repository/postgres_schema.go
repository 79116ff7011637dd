package repository

// PostgresSchema creates the monitors and alerts tables. The partial unique
// index is what enforces one active monitor per (owner, subject) across instances.
var PostgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS monitors (
		id              TEXT PRIMARY KEY,
		owner_id        TEXT NOT NULL,
		subject         TEXT NOT NULL,
		category        TEXT NOT NULL DEFAULT '',
		config          JSONB NOT NULL,
		status          TEXT NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL,
		last_checked_at TIMESTAMPTZ NULL,
		next_check_at   TIMESTAMPTZ NOT NULL,
		total_alerts    INTEGER NOT NULL DEFAULT 0,
		error_count     INTEGER NOT NULL DEFAULT 0,
		last_error      TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS monitors_active_owner_subject
		ON monitors (owner_id, subject) WHERE status = 'active'`,
	`CREATE INDEX IF NOT EXISTS monitors_status_next_check ON monitors (status, next_check_at)`,
	`CREATE INDEX IF NOT EXISTS monitors_owner ON monitors (owner_id)`,
	`CREATE TABLE IF NOT EXISTS alerts (
		id          TEXT PRIMARY KEY,
		monitor_id  TEXT NOT NULL REFERENCES monitors (id),
		title       TEXT NOT NULL,
		summary     TEXT NOT NULL,
		confidence  DOUBLE PRECISION NOT NULL,
		changes     JSONB NOT NULL,
		anomalies   JSONB NOT NULL,
		priority    JSONB NULL,
		explanation JSONB NULL,
		fingerprint TEXT NOT NULL,
		read        BOOLEAN NOT NULL DEFAULT FALSE,
		feedback    TEXT NULL,
		created_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS alerts_monitor_created ON alerts (monitor_id, created_at DESC)`,
}
