package source

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"
)

const pingTimeout = 5 * time.Second

// Dialect selects the SQL driver and placeholder style.
type Dialect string

const (
	DialectMySQL    Dialect = "mysql"
	DialectPostgres Dialect = "postgres"
	DialectPGX      Dialect = "pgx"
)

// ParseDialect validates a driver name from configuration.
func ParseDialect(v string) (Dialect, error) {
	switch d := Dialect(strings.ToLower(strings.TrimSpace(v))); d {
	case DialectMySQL, DialectPostgres, DialectPGX:
		return d, nil
	}
	return "", fmt.Errorf("unsupported database driver %q", v)
}

// DBConfig describes one database connection.
type DBConfig struct {
	Driver   Dialect
	Host     string
	Port     int
	Name     string
	User     string
	Password string
}

// DSN renders the driver-specific connection string.
func (c DBConfig) DSN() (string, error) {
	addr := net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	switch c.Driver {
	case DialectMySQL:
		mc := mysql.NewConfig()
		mc.User = c.User
		mc.Passwd = c.Password
		mc.Net = "tcp"
		mc.Addr = addr
		mc.DBName = c.Name
		mc.ParseTime = true
		return mc.FormatDSN(), nil
	case DialectPostgres, DialectPGX:
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(c.User, c.Password),
			Host:     addr,
			Path:     "/" + c.Name,
			RawQuery: "sslmode=prefer",
		}
		if c.Driver == DialectPostgres {
			// lib/pq does not understand sslmode=prefer
			u.RawQuery = "sslmode=disable"
		}
		return u.String(), nil
	}
	return "", fmt.Errorf("unsupported database driver %q", c.Driver)
}

// Opener opens a database handle. sql.Open is used when nil.
type Opener func(driverName, dsn string) (*sql.DB, error)

// Open opens a pool for cfg and pings it with a bounded timeout.
// The caller owns the returned handle and must close it.
func Open(ctx context.Context, cfg DBConfig, open Opener) (*sql.DB, error) {
	if open == nil {
		open = sql.Open
	}
	dsn, err := cfg.DSN()
	if err != nil {
		return nil, err
	}
	db, err := open(string(cfg.Driver), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database %s: %w", cfg.Driver, cfg.Name, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s database %s: %w", cfg.Driver, cfg.Name, err)
	}
	return db, nil
}

// inClause renders a membership test for ids starting at placeholder n.
func (d Dialect) inClause(column string, ids []string, n int) (string, []any) {
	switch d {
	case DialectPostgres:
		return fmt.Sprintf("%s = ANY($%d)", column, n), []any{pq.Array(ids)}
	case DialectPGX:
		return fmt.Sprintf("%s = ANY($%d)", column, n), []any{ids}
	}
	marks := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return fmt.Sprintf("%s IN (%s)", column, marks), args
}

// placeholder returns the n-th bind marker (1-based).
func (d Dialect) placeholder(n int) string {
	if d == DialectMySQL {
		return "?"
	}
	return "$" + strconv.Itoa(n)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
