// Package sqlstore keeps recorded market data and the fill and
// transition archive in SQL. SQLite serves local runs and tests,
// Postgres shared deployments; the schema is the same on both.
package sqlstore

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	_ "github.com/glebarez/go-sqlite"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Store struct {
	db     *sql.DB
	driver string
	log    *zap.Logger
}

var sqlitePragmas = []string{
	"PRAGMA journal_mode=WAL;",
	"PRAGMA synchronous=NORMAL;",
	"PRAGMA busy_timeout=5000;",
}

// Open connects and creates missing tables.
func Open(ctx context.Context, driver, dsn string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, errors.Newf("sqlstore: unknown driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", driver)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "ping %s", driver)
	}

	s := &Store{db: db, driver: driver, log: log}
	if driver == DriverSQLite {
		// one writer; avoids SQLITE_BUSY between pooled connections
		db.SetMaxOpenConns(1)
		for _, p := range sqlitePragmas {
			if _, err := db.ExecContext(ctx, p); err != nil {
				_ = db.Close()
				return nil, errors.Wrapf(err, "pragma %s", p)
			}
		}
	}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info("sql store opened", zap.String("driver", driver))
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	serial := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.driver == DriverPostgres {
		serial = "BIGSERIAL PRIMARY KEY"
	}
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS ticks (
			id ` + serial + `,
			symbol TEXT NOT NULL,
			ts BIGINT NOT NULL,
			price BIGINT NOT NULL,
			bids TEXT NOT NULL DEFAULT '',
			asks TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS ticks_ts ON ticks (ts, id)`,
		`CREATE TABLE IF NOT EXISTS fills (
			id ` + serial + `,
			run_id TEXT NOT NULL DEFAULT '',
			seq BIGINT NOT NULL,
			symbol TEXT NOT NULL,
			order_id BIGINT NOT NULL,
			counter_order_id BIGINT NOT NULL,
			side SMALLINT NOT NULL,
			price BIGINT NOT NULL,
			exec_price BIGINT NOT NULL,
			qty BIGINT NOT NULL,
			ts BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS fills_order ON fills (order_id)`,
		`CREATE TABLE IF NOT EXISTS transitions (
			id ` + serial + `,
			order_id BIGINT NOT NULL,
			symbol TEXT NOT NULL,
			from_status SMALLINT NOT NULL,
			to_status SMALLINT NOT NULL,
			filled BIGINT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			ts BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS transitions_order ON transitions (order_id)`,
	}
	for _, q := range ddl {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return errors.Wrap(err, "migrate")
		}
	}
	return nil
}

// rebind rewrites ? placeholders for drivers that number them.
func (s *Store) rebind(q string) string {
	if s.driver != DriverPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
