package sqlstore

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Driver names accepted by New
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite3"
)

type dialect struct {
	name   string
	schema []string
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		id                 VARCHAR(36) PRIMARY KEY,
		queue_name         VARCHAR(255) NOT NULL,
		payload            JSONB NOT NULL,
		status             VARCHAR(20) NOT NULL,
		priority           INTEGER NOT NULL DEFAULT 0,
		attempts           INTEGER NOT NULL DEFAULT 0,
		max_attempts       INTEGER NOT NULL DEFAULT 3,
		created_at         TIMESTAMPTZ NOT NULL,
		updated_at         TIMESTAMPTZ NOT NULL,
		started_at         TIMESTAMPTZ NULL,
		completed_at       TIMESTAMPTZ NULL,
		failed_at          TIMESTAMPTZ NULL,
		error_message      TEXT NULL,
		result             JSONB NULL,
		processing_time_ms BIGINT NULL,
		next_eligible_at   TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_ready ON jobs (queue_name, status, next_eligible_at)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_updated ON jobs (status, updated_at)`,
	`CREATE TABLE IF NOT EXISTS scheduled_jobs (
		id                 VARCHAR(36) PRIMARY KEY,
		name               VARCHAR(255) NOT NULL UNIQUE,
		description        TEXT NOT NULL DEFAULT '',
		cron_expression    VARCHAR(255) NOT NULL,
		status             VARCHAR(20) NOT NULL,
		last_run_at        TIMESTAMPTZ NULL,
		next_run_at        TIMESTAMPTZ NULL,
		run_count          INTEGER NOT NULL DEFAULT 0,
		last_error_message TEXT NULL,
		created_at         TIMESTAMPTZ NOT NULL,
		updated_at         TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS file_records (
		id         VARCHAR(36) PRIMARY KEY,
		path       TEXT NOT NULL,
		checksum   VARCHAR(128) NOT NULL DEFAULT '',
		size_bytes BIGINT NOT NULL DEFAULT 0,
		status     VARCHAR(20) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_file_records_checksum ON file_records (checksum)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id         VARCHAR(64) PRIMARY KEY,
		user_id    VARCHAR(64) NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
}

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		id                 VARCHAR(36) PRIMARY KEY,
		queue_name         VARCHAR(255) NOT NULL,
		payload            JSON NOT NULL,
		status             VARCHAR(20) NOT NULL,
		priority           INT NOT NULL DEFAULT 0,
		attempts           INT NOT NULL DEFAULT 0,
		max_attempts       INT NOT NULL DEFAULT 3,
		created_at         DATETIME(6) NOT NULL,
		updated_at         DATETIME(6) NOT NULL,
		started_at         DATETIME(6) NULL,
		completed_at       DATETIME(6) NULL,
		failed_at          DATETIME(6) NULL,
		error_message      TEXT NULL,
		result             JSON NULL,
		processing_time_ms BIGINT NULL,
		next_eligible_at   DATETIME(6) NOT NULL,
		INDEX idx_jobs_ready (queue_name, status, next_eligible_at),
		INDEX idx_jobs_updated (status, updated_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS scheduled_jobs (
		id                 VARCHAR(36) PRIMARY KEY,
		name               VARCHAR(255) NOT NULL,
		description        VARCHAR(1024) NOT NULL DEFAULT '',
		cron_expression    VARCHAR(255) NOT NULL,
		status             VARCHAR(20) NOT NULL,
		last_run_at        DATETIME(6) NULL,
		next_run_at        DATETIME(6) NULL,
		run_count          INT NOT NULL DEFAULT 0,
		last_error_message TEXT NULL,
		created_at         DATETIME(6) NOT NULL,
		updated_at         DATETIME(6) NOT NULL,
		UNIQUE KEY uq_scheduled_jobs_name (name)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS file_records (
		id         VARCHAR(36) PRIMARY KEY,
		path       VARCHAR(1024) NOT NULL,
		checksum   VARCHAR(128) NOT NULL DEFAULT '',
		size_bytes BIGINT NOT NULL DEFAULT 0,
		status     VARCHAR(20) NOT NULL,
		created_at DATETIME(6) NOT NULL,
		expires_at DATETIME(6) NULL,
		INDEX idx_file_records_checksum (checksum)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id         VARCHAR(64) PRIMARY KEY,
		user_id    VARCHAR(64) NOT NULL,
		expires_at DATETIME(6) NOT NULL,
		created_at DATETIME(6) NOT NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		id                 TEXT PRIMARY KEY,
		queue_name         TEXT NOT NULL,
		payload            TEXT NOT NULL,
		status             TEXT NOT NULL,
		priority           INTEGER NOT NULL DEFAULT 0,
		attempts           INTEGER NOT NULL DEFAULT 0,
		max_attempts       INTEGER NOT NULL DEFAULT 3,
		created_at         TIMESTAMP NOT NULL,
		updated_at         TIMESTAMP NOT NULL,
		started_at         TIMESTAMP NULL,
		completed_at       TIMESTAMP NULL,
		failed_at          TIMESTAMP NULL,
		error_message      TEXT NULL,
		result             TEXT NULL,
		processing_time_ms INTEGER NULL,
		next_eligible_at   TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_ready ON jobs (queue_name, status, next_eligible_at)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_updated ON jobs (status, updated_at)`,
	`CREATE TABLE IF NOT EXISTS scheduled_jobs (
		id                 TEXT PRIMARY KEY,
		name               TEXT NOT NULL UNIQUE,
		description        TEXT NOT NULL DEFAULT '',
		cron_expression    TEXT NOT NULL,
		status             TEXT NOT NULL,
		last_run_at        TIMESTAMP NULL,
		next_run_at        TIMESTAMP NULL,
		run_count          INTEGER NOT NULL DEFAULT 0,
		last_error_message TEXT NULL,
		created_at         TIMESTAMP NOT NULL,
		updated_at         TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS file_records (
		id         TEXT PRIMARY KEY,
		path       TEXT NOT NULL,
		checksum   TEXT NOT NULL DEFAULT '',
		size_bytes INTEGER NOT NULL DEFAULT 0,
		status     TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		expires_at TIMESTAMP NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_file_records_checksum ON file_records (checksum)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		expires_at TIMESTAMP NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case DriverPostgres:
		return dialect{name: driver, schema: postgresSchema}, nil
	case DriverMySQL:
		return dialect{name: driver, schema: mysqlSchema}, nil
	case DriverSQLite:
		return dialect{name: driver, schema: sqliteSchema}, nil
	}
	return dialect{}, fmt.Errorf("unsupported sql driver %q", driver)
}

// isUniqueViolation recognises duplicate key errors from every supported driver
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}

	return false
}
