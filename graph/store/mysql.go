package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
)

// MySQLStore is a Store backed by MySQL or Aurora MySQL.
//
// Suited to deployments where several hive processes share run history.
// The connection pool is tuned for many short writes: one upsert per run
// transition and one batch insert per committed round.
type MySQLStore struct {
	sqlStore
}

var mysqlDialect = dialect{
	name: "mysql",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS hive_runs (
			run_id VARCHAR(255) NOT NULL PRIMARY KEY,
			graph VARCHAR(255) NOT NULL DEFAULT '',
			task MEDIUMTEXT NOT NULL,
			status VARCHAR(64) NOT NULL,
			error TEXT NOT NULL,
			digest CHAR(64) NOT NULL DEFAULT '',
			started_at BIGINT NOT NULL DEFAULT 0,
			finished_at BIGINT NOT NULL DEFAULT 0,
			INDEX idx_hive_runs_started (started_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		`CREATE TABLE IF NOT EXISTS hive_messages (
			run_id VARCHAR(255) NOT NULL,
			seq INT NOT NULL,
			source VARCHAR(255) NOT NULL,
			content MEDIUMTEXT NOT NULL,
			status VARCHAR(32) NOT NULL,
			PRIMARY KEY (run_id, seq)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	},
	createRun: `INSERT IGNORE INTO hive_runs (run_id, graph, task, status, error, digest, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
	upsertRun: `INSERT INTO hive_runs (run_id, graph, task, status, error, digest, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			graph = VALUES(graph),
			task = VALUES(task),
			status = VALUES(status),
			error = VALUES(error),
			digest = VALUES(digest),
			started_at = VALUES(started_at),
			finished_at = VALUES(finished_at)`,
	insertMessage: `INSERT IGNORE INTO hive_messages (run_id, seq, source, content, status) VALUES (?, ?, ?, ?, ?)`,
}

// NewMySQLStore connects to MySQL using dsn and creates the schema.
//
// DSN format: user:password@tcp(host:port)/dbname
//
// Never hardcode credentials; read the DSN from the environment:
//
//	st, err := store.NewMySQLStore(os.Getenv("HIVE_MYSQL_DSN"))
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)  // prevent stale connections
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	s := &MySQLStore{sqlStore: sqlStore{db: db, dialect: mysqlDialect}}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}
