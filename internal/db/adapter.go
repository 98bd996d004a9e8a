package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/microsoft/go-mssqldb"
	_ "modernc.org/sqlite"

	"db_respawn/internal/graph"
)

// ErrUnsupported is returned by a Dialect for a capability it does not have.
var ErrUnsupported = errors.New("not supported by dialect")

// Querier is the read side of *sql.DB, *sql.Conn and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Dialect abstracts provider-specific metadata queries and SQL rendering.
type Dialect interface {
	Provider() string
	ListTables(ctx context.Context, q Querier, f Filter) ([]graph.Table, error)
	ListRelationships(ctx context.Context, q Querier, f Filter) ([]graph.Relationship, error)
	ListTemporalTables(ctx context.Context, q Querier, f Filter) ([]TemporalTable, error)
	RenderDelete(g *graph.Graph, opts DeleteOptions) string
	RenderReseed(tables []graph.Table) (string, error)
	RenderVersioning(tables []TemporalTable, on bool) (string, error)
	SupportsReseed() bool
	SupportsTemporalTables() bool
}

// SessionRestorer is implemented by dialects whose delete script changes
// session state that a rollback leaves in place. RestoreSession returns the
// statements that put the session back after a failed script.
type SessionRestorer interface {
	RestoreSession() []string
}

// Provider names.
const (
	ProviderPostgres  = "postgres"
	ProviderMySQL     = "mysql"
	ProviderSQLite    = "sqlite"
	ProviderSQLServer = "sqlserver"
)

// Shared dialect values. They hold no state.
var (
	Postgres  Dialect = PostgresDialect{}
	MySQL     Dialect = MySQLDialect{}
	SQLite    Dialect = SQLiteDialect{}
	SQLServer Dialect = SQLServerDialect{}
)

var driverNames = map[string]string{
	ProviderPostgres:  "pgx",
	ProviderMySQL:     "mysql",
	ProviderSQLite:    "sqlite",
	ProviderSQLServer: "sqlserver",
}

// ForProvider returns the dialect for a provider name.
func ForProvider(provider string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case ProviderPostgres, "postgresql", "pgx":
		return Postgres, nil
	case ProviderMySQL, "mariadb":
		return MySQL, nil
	case ProviderSQLite, "sqlite3":
		return SQLite, nil
	case ProviderSQLServer, "mssql":
		return SQLServer, nil
	default:
		return nil, fmt.Errorf("unsupported provider %s", provider)
	}
}

// Open opens a connection pool for the provider and returns it with its
// dialect. The caller owns the returned *sql.DB.
func Open(provider, dsn string) (*sql.DB, Dialect, error) {
	dialect, err := ForProvider(provider)
	if err != nil {
		return nil, nil, err
	}
	if dialect.Provider() == ProviderMySQL {
		// Validate DSN early to provide actionable errors.
		if _, err := mysql.ParseDSN(dsn); err != nil {
			return nil, nil, fmt.Errorf("invalid mysql dsn: %w", err)
		}
	}
	conn, err := sql.Open(driverNames[dialect.Provider()], dsn)
	if err != nil {
		return nil, nil, err
	}
	conn.SetConnMaxIdleTime(5 * time.Minute)
	conn.SetMaxOpenConns(5)
	if dialect.Provider() == ProviderSQLite {
		// single writer; connection-scoped PRAGMAs must apply to every query
		conn.SetMaxOpenConns(1)
	}
	return conn, dialect, nil
}
