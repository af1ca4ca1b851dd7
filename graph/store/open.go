package store

import (
	"context"
	"fmt"
	"strings"
)

// Open returns a Store for dsn. Recognised forms:
//
//	""  or "memory"                     MemStore
//	"sqlite:./hive.db"                  SQLiteStore (also "sqlite://")
//	"mysql://user:pw@tcp(host)/db"      MySQLStore; the prefix is stripped
//	"postgres://user:pw@host/db"        PostgresStore (also "postgresql://")
func Open(ctx context.Context, dsn string) (Store, error) {
	switch {
	case dsn == "" || dsn == "memory":
		return NewMemStore(), nil
	case strings.HasPrefix(dsn, "sqlite://"):
		return NewSQLiteStore(strings.TrimPrefix(dsn, "sqlite://"))
	case strings.HasPrefix(dsn, "sqlite:"):
		return NewSQLiteStore(strings.TrimPrefix(dsn, "sqlite:"))
	case strings.HasPrefix(dsn, "mysql://"):
		return NewMySQLStore(strings.TrimPrefix(dsn, "mysql://"))
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return NewPostgresStore(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported store dsn %q", dsn)
	}
}
