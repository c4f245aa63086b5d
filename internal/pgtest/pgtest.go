/*
Disposable PostgreSQL databases for integration tests. A single container is
started per test binary with testcontainers, unless "PGQ_TEST_DATABASE_URL"
points at an existing server. Every call to `URL` creates a fresh database
from a template holding the test schema, and drops it when the test ends.
*/
package pgtest

import (
	"context"
	"crypto/rand"
	"database/sql"
	_ "embed"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/mitranim/pgq"
	"github.com/mitranim/pgq/pgxq"
	"github.com/mitranim/pgq/stdq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	EnvURL = `PGQ_TEST_DATABASE_URL`

	image        = `postgres:18-alpine`
	templateName = `pgq_template`
)

//go:embed schema.sql
var Schema string

// Foreign keys of `Schema`, for configs that infer parent columns.
var ForeignKeys = []pgq.ForeignKey{
	{Table: `books`, Column: `authorId`, RefTable: `authors`, RefColumn: `id`},
	{Table: `tags`, Column: `bookId`, RefTable: `books`, RefColumn: `id`},
	{Table: `employees`, Column: `managerId`, RefTable: `employees`, RefColumn: `id`},
}

var (
	serverOnce sync.Once
	serverURL  string
	serverErr  error

	templateOnce sync.Once
	templateErr  error
)

// Connection string of the server, starting the container on first use.
func server() (string, error) {
	serverOnce.Do(func() {
		if val := os.Getenv(EnvURL); val != `` {
			serverURL = val
			return
		}

		ctx := context.Background()
		container, err := postgres.Run(ctx,
			image,
			postgres.WithDatabase(`postgres`),
			postgres.WithUsername(`test`),
			postgres.WithPassword(`test`),
			testcontainers.WithWaitStrategy(
				wait.ForLog(`database system is ready to accept connections`).
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second),
			),
		)
		if err != nil {
			serverErr = fmt.Errorf(`failed to start PostgreSQL container: %w`, err)
			return
		}

		// Ryuk removes the container when the test binary exits.
		serverURL, err = container.ConnectionString(ctx, `sslmode=disable`)
		if err != nil {
			_ = container.Terminate(ctx)
			serverErr = fmt.Errorf(`failed to get PostgreSQL connection string: %w`, err)
		}
	})
	return serverURL, serverErr
}

func template(admin string) error {
	templateOnce.Do(func() {
		ctx := context.Background()

		err := exec(ctx, admin, `drop database if exists `+pgx.Identifier{templateName}.Sanitize())
		if err == nil {
			err = exec(ctx, admin, `create database `+pgx.Identifier{templateName}.Sanitize())
		}
		if err == nil {
			err = exec(ctx, withDatabase(admin, templateName), Schema)
		}
		if err != nil {
			templateErr = fmt.Errorf(`failed to create template database: %w`, err)
			return
		}

		// Copying works without the flag; it only allows non-superusers.
		_ = exec(ctx, admin, `alter database `+pgx.Identifier{templateName}.Sanitize()+` with is_template = true`)
	})
	return templateErr
}

/*
Creates a database with `Schema` applied and returns its connection string.
The database is dropped when the test completes.
*/
func URL(tb testing.TB) string {
	tb.Helper()

	admin, err := server()
	require.NoError(tb, err)
	require.NoError(tb, template(admin))

	name := uniqueName(`test`)
	ctx := context.Background()
	require.NoError(tb, exec(ctx, admin, fmt.Sprintf(
		`create database %s with template %s`,
		pgx.Identifier{name}.Sanitize(), pgx.Identifier{templateName}.Sanitize(),
	)))

	tb.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = exec(ctx, admin, `drop database if exists `+pgx.Identifier{name}.Sanitize()+` with (force)`)
	})
	return withDatabase(admin, name)
}

// Default config for tests: `pgq.DefaultConfig` with `ForeignKeys` and quick
// transaction retries.
func Config() *pgq.Config {
	out := pgq.DefaultConfig()
	out.ForeignKeys = ForeignKeys
	out.TxnMinDelay = time.Millisecond
	out.TxnMaxDelay = 20 * time.Millisecond
	return out
}

// Opens a fresh database through a pgx pool.
func Pgx(tb testing.TB, conf *pgq.Config) *pgq.DB {
	tb.Helper()

	db, pool, err := pgxq.Open(context.Background(), URL(tb), conf)
	require.NoError(tb, err)
	tb.Cleanup(pool.Close)
	return db
}

/*
Opens a fresh database through "database/sql" with the given registered
driver: "pgx" (the pgx stdlib driver) or "postgres" (lib/pq).
*/
func Std(tb testing.TB, driver string, conf *pgq.Config) *pgq.DB {
	tb.Helper()

	db, conn, err := stdq.Open(context.Background(), driver, URL(tb), conf)
	require.NoError(tb, err)
	tb.Cleanup(func() { _ = conn.Close() })
	return db
}

// Runs a statement outside of `pgq`, for fixtures and assertions.
func Exec(tb testing.TB, db *pgq.DB, text string, args ...any) {
	tb.Helper()
	_, err := db.Run(context.Background(), pgq.SQL(text, args...))
	require.NoError(tb, err)
}

func exec(ctx context.Context, dsn, text string) error {
	conn, err := sql.Open(`pgx`, dsn)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	_, err = conn.ExecContext(ctx, text)
	return err
}

func withDatabase(dsn, name string) string {
	loc, err := url.Parse(dsn)
	if err != nil {
		panic(fmt.Errorf(`invalid connection string: %w`, err))
	}
	loc.Path = `/` + name
	return loc.String()
}

func uniqueName(prefix string) string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return prefix + `_` + hex.EncodeToString(buf)
}
