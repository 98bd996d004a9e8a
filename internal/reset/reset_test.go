package reset

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"db_respawn/internal/db"
	"db_respawn/internal/graph"
)

type recordingLogger struct {
	infos  []string
	errors []string
}

func (l *recordingLogger) Info(msg string, _ ...any)  { l.infos = append(l.infos, msg) }
func (l *recordingLogger) Error(msg string, _ ...any) { l.errors = append(l.errors, msg) }

func exact(stmt string) string {
	return "^" + regexp.QuoteMeta(stmt) + "$"
}

// expectCatalog queues the SQL Server metadata queries for a store with
// authors <- books and a system-versioned prices table.
func expectCatalog(mock sqlmock.Sqlmock) {
	mock.ExpectQuery("is_ms_shipped = 0").
		WillReturnRows(sqlmock.NewRows([]string{"schema", "name"}).
			AddRow("dbo", "authors").
			AddRow("dbo", "books").
			AddRow("dbo", "prices"))
	mock.ExpectQuery("FROM sys.foreign_keys").
		WillReturnRows(sqlmock.NewRows([]string{"fk", "ps", "pt", "cs", "ct"}).
			AddRow("FK_books_authors", "dbo", "authors", "dbo", "books"))
}

func expectTemporal(mock sqlmock.Sqlmock) {
	mock.ExpectQuery("temporal_type = 2").
		WillReturnRows(sqlmock.NewRows([]string{"s", "t", "hs", "h"}).
			AddRow("dbo", "prices", "history", "prices"))
}

const (
	versioningOff = "ALTER TABLE [dbo].[prices] SET (SYSTEM_VERSIONING = OFF)"
	versioningOn  = "ALTER TABLE [dbo].[prices] SET (SYSTEM_VERSIONING = ON (HISTORY_TABLE = [history].[prices]))"
)

var deletes = []string{
	"DELETE [dbo].[books]",
	"DELETE [dbo].[authors]",
	"DELETE [dbo].[prices]",
}

// buildStore builds a SQL Server plan against a mock connection. Unmet
// expectations fail the test on cleanup.
func buildStore(t *testing.T, opts Options) (*Plan, *sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		conn.Close()
	})

	expectCatalog(mock)
	opts.Dialect = db.SQLServer
	plan, err := Build(context.Background(), conn, opts)
	require.NoError(t, err)
	return plan, conn, mock
}

func TestBuildRendersPlan(t *testing.T) {
	log := &recordingLogger{}
	plan, _, _ := buildStore(t, Options{WithReseed: true, Logger: log})

	assert.Equal(t, []graph.Table{
		graph.NewTable("dbo", "books"),
		graph.NewTable("dbo", "authors"),
		graph.NewTable("dbo", "prices"),
	}, plan.Tables)
	assert.Equal(t, "DELETE [dbo].[books];\nDELETE [dbo].[authors];\nDELETE [dbo].[prices];\n", plan.DeleteSQL)
	assert.Contains(t, plan.ReseedSQL, "DBCC CHECKIDENT (N'[dbo].[books]', RESEED, 0)")
	assert.Len(t, db.SplitStatements(plan.ReseedSQL), 3)
	assert.Len(t, plan.Relationships, 1)
	assert.Equal(t, []string{"reset plan built"}, log.infos)
}

func TestResetRunsStagesInOrder(t *testing.T) {
	plan, conn, mock := buildStore(t, Options{WithReseed: true, CheckTemporalTables: true})

	expectTemporal(mock)
	mock.ExpectBegin()
	mock.ExpectExec(exact(versioningOff)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectBegin()
	for _, stmt := range deletes {
		mock.ExpectExec(exact(stmt)).WillReturnResult(sqlmock.NewResult(0, 1))
	}
	for range deletes {
		mock.ExpectExec("DBCC CHECKIDENT").WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec(exact(versioningOn)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	require.NoError(t, plan.Reset(context.Background(), conn))
}

func TestResetRollsBackAndRestoresVersioningOnFailure(t *testing.T) {
	plan, conn, mock := buildStore(t, Options{CheckTemporalTables: true})

	boom := errors.New("permission denied")
	expectTemporal(mock)
	mock.ExpectBegin()
	mock.ExpectExec(exact(versioningOff)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec(exact(deletes[0])).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(exact(deletes[1])).WillReturnError(boom)
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectExec(exact(versioningOn)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := plan.Reset(context.Background(), conn)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExecution)
	assert.ErrorIs(t, err, boom)

	execErr, ok := IsExecutionError(err)
	require.True(t, ok)
	assert.Equal(t, StageDelete, execErr.Stage)
	assert.Equal(t, deletes[1], execErr.Statement)
}

func TestResetJoinsRestoreFailure(t *testing.T) {
	log := &recordingLogger{}
	plan, conn, mock := buildStore(t, Options{CheckTemporalTables: true, Logger: log})

	deleteErr := errors.New("deadlock")
	restoreErr := errors.New("history table missing")
	expectTemporal(mock)
	mock.ExpectBegin()
	mock.ExpectExec(exact(versioningOff)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec(exact(deletes[0])).WillReturnError(deleteErr)
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectExec(exact(versioningOn)).WillReturnError(restoreErr)
	mock.ExpectRollback()

	err := plan.Reset(context.Background(), conn)
	assert.ErrorIs(t, err, deleteErr)
	assert.ErrorIs(t, err, restoreErr)
	assert.Contains(t, log.errors, "restore system versioning")
}

func TestResetStopsWhenVersioningCannotBeDisabled(t *testing.T) {
	plan, conn, mock := buildStore(t, Options{CheckTemporalTables: true})

	boom := errors.New("not owner")
	expectTemporal(mock)
	mock.ExpectBegin()
	mock.ExpectExec(exact(versioningOff)).WillReturnError(boom)
	mock.ExpectRollback()

	err := plan.Reset(context.Background(), conn)
	execErr, ok := IsExecutionError(err)
	require.True(t, ok)
	assert.Equal(t, StageVersioningOff, execErr.Stage)
}

func TestResetWithoutTemporalTablesSkipsVersioning(t *testing.T) {
	plan, conn, mock := buildStore(t, Options{CheckTemporalTables: true})

	mock.ExpectQuery("temporal_type = 2").WillReturnRows(sqlmock.NewRows([]string{"s", "t", "hs", "h"}))
	mock.ExpectBegin()
	for _, stmt := range deletes {
		mock.ExpectExec(exact(stmt)).WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectCommit()

	require.NoError(t, plan.Reset(context.Background(), conn))
}

func TestResetIsRepeatable(t *testing.T) {
	plan, conn, mock := buildStore(t, Options{})

	for range 2 {
		mock.ExpectBegin()
		for _, stmt := range deletes {
			mock.ExpectExec(exact(stmt)).WillReturnResult(sqlmock.NewResult(0, 0))
		}
		mock.ExpectCommit()
	}
	require.NoError(t, plan.Reset(context.Background(), conn))
	require.NoError(t, plan.Reset(context.Background(), conn))
}

func TestBuildNoTablesExecutesNothing(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectQuery("FROM information_schema.tables").
		WillReturnRows(sqlmock.NewRows([]string{"table_schema", "table_name"}).AddRow("public", "schema_migrations"))

	_, err = Build(context.Background(), conn, Options{
		Dialect: db.Postgres,
		Filter:  db.Filter{TablesToIgnore: []graph.Table{{Name: "schema_migrations"}}},
	})
	assert.ErrorIs(t, err, ErrNoTablesFound)

	var noTables *NoTablesFoundError
	require.ErrorAs(t, err, &noTables)
	assert.Equal(t, db.ProviderPostgres, noTables.Provider)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBuildRejectsBadOptionsBeforeIO(t *testing.T) {
	cases := []struct {
		name string
		opts Options
		want error
	}{
		{"no dialect", Options{}, ErrConfiguration},
		{"negative timeout", Options{Dialect: db.MySQL, CommandTimeout: -1}, ErrConfiguration},
		{"reseed on postgres", Options{Dialect: db.Postgres, WithReseed: true}, ErrUnsupportedCapability},
		{"temporal on mysql", Options{Dialect: db.MySQL, CheckTemporalTables: true}, ErrUnsupportedCapability},
		{"temporal on sqlite", Options{Dialect: db.SQLite, CheckTemporalTables: true}, ErrUnsupportedCapability},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conn, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer conn.Close()

			_, err = Build(context.Background(), conn, tc.opts)
			assert.ErrorIs(t, err, tc.want)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestUnsupportedCapabilityUnwrapsToDialectError(t *testing.T) {
	_, err := Build(context.Background(), nil, Options{Dialect: db.Postgres, WithReseed: true})
	assert.ErrorIs(t, err, db.ErrUnsupported)

	var capErr *UnsupportedCapabilityError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, "reseed", capErr.Capability)
}

func TestDSNEntryPointsRequirePostgres(t *testing.T) {
	_, err := BuildDSN(context.Background(), "root@tcp(localhost)/app", Options{Dialect: db.MySQL})
	assert.ErrorIs(t, err, ErrConfiguration)

	plan := &Plan{Dialect: db.SQLite}
	assert.ErrorIs(t, plan.ResetDSN(context.Background(), "file:x.db"), ErrConfiguration)
}

func TestBuildWrapsListErrors(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	boom := errors.New("connection reset")
	mock.ExpectQuery("is_ms_shipped").WillReturnError(boom)

	_, err = Build(context.Background(), conn, Options{Dialect: db.SQLServer})
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "list tables")
}

func TestMySQLFailedDeleteRestoresForeignKeyChecks(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		conn.Close()
	})

	mock.ExpectQuery(`table_schema = DATABASE\(\)`).
		WillReturnRows(sqlmock.NewRows([]string{"table_schema", "table_name"}).
			AddRow("app", "a").
			AddRow("app", "b"))
	mock.ExpectQuery(`kcu.table_schema = DATABASE\(\)`).
		WillReturnRows(sqlmock.NewRows([]string{"c", "ps", "pt", "cs", "ct"}).
			AddRow("fk_b_a", "app", "a", "app", "b").
			AddRow("fk_a_b", "app", "b", "app", "a"))

	ctx := context.Background()
	plan, err := Build(ctx, conn, Options{Dialect: db.MySQL})
	require.NoError(t, err)

	boom := errors.New("lock wait timeout exceeded")
	mock.ExpectBegin()
	mock.ExpectExec(exact("SET FOREIGN_KEY_CHECKS = 0")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(exact("DELETE FROM `app`.`a`")).WillReturnError(boom)
	mock.ExpectRollback()
	mock.ExpectExec(exact("SET FOREIGN_KEY_CHECKS = 1")).WillReturnResult(sqlmock.NewResult(0, 0))

	err = plan.Reset(ctx, conn)
	assert.ErrorIs(t, err, boom)
	execErr, ok := IsExecutionError(err)
	require.True(t, ok)
	assert.Equal(t, StageDelete, execErr.Stage)
}
