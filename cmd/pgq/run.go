package main

import (
	"context"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/mitranim/pgq"
	"github.com/mitranim/pgq/pgxq"
	"github.com/mitranim/pgq/stdq"
	"github.com/spf13/cobra"
)

// Values of "database.driver".
const (
	driverPgx       = `pgx`
	driverPq        = `postgres`
	driverPgxStdlib = `pgx-stdlib`
)

// Flags of "run" other than the connection.
type runOpts struct {
	txn        string
	readOnly   bool
	deferrable bool
}

func (self *app) runCmd() *cobra.Command {
	var opts runOpts

	cmd := &cobra.Command{
		Use:   `run [document]`,
		Short: `Run a query document and print its result`,
		Long: `Runs a query document against the configured database and prints the
shaped result.

Drivers: "pgx" (native pool, default), "postgres" (database/sql with lib/pq)
and "pgx-stdlib" (database/sql with the pgx driver). With --txn the query runs
in a transaction of the given isolation level, retried on serialization
failures.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := self.readDoc(docArg(args))
			if err != nil {
				return err
			}

			level, inTxn, err := isolationLevel(opts)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			db, closeDB, err := self.open(ctx)
			if err != nil {
				return err
			}
			defer closeDB()

			var out any
			if inTxn {
				out, err = pgq.Transaction(ctx, db, level, func(ctx context.Context, db *pgq.DB) (any, error) {
					return doc.Run(ctx, db)
				})
			} else {
				out, err = doc.Run(ctx, db)
			}
			if err != nil {
				return err
			}
			return self.write(out)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&self.dbURL, `db`, ``, `database URL (overrides database.url)`)
	flags.StringVar(&self.driver, `driver`, ``, `database driver: pgx, postgres or pgx-stdlib`)
	flags.StringVar(&opts.txn, `txn`, ``, `run in a transaction: serializable, repeatable-read or read-committed`)
	flags.BoolVar(&opts.readOnly, `read-only`, false, `make the transaction read only`)
	flags.BoolVar(&opts.deferrable, `deferrable`, false, `make a serializable read-only transaction deferrable`)
	return cmd
}

func (self *app) open(ctx context.Context) (*pgq.DB, func(), error) {
	dsn, err := self.file.DSN()
	if err != nil {
		return nil, nil, err
	}

	config := self.file.Config(self.log)
	driver := self.file.Database.Driver
	self.log.Debug(`connecting`, `driver`, driver)

	switch driver {
	case driverPgx, ``:
		db, pool, err := pgxq.Open(ctx, dsn, config)
		if err != nil {
			return nil, nil, err
		}
		return db, pool.Close, nil

	case driverPq, driverPgxStdlib:
		name := driverPq
		if driver == driverPgxStdlib {
			name = driverPgx
		}
		db, sqlDB, err := stdq.Open(ctx, name, dsn, config)
		if err != nil {
			return nil, nil, err
		}
		return db, func() { _ = sqlDB.Close() }, nil

	default:
		return nil, nil, fmt.Errorf(`unknown database driver %q`, driver)
	}
}

// Returns the level of the transaction requested by the flags, and whether
// any was requested.
func isolationLevel(opts runOpts) (pgq.IsolationLevel, bool, error) {
	if opts.txn == `` {
		if opts.readOnly || opts.deferrable {
			return 0, false, fmt.Errorf(`--read-only and --deferrable require --txn`)
		}
		return 0, false, nil
	}

	if opts.deferrable && !(opts.txn == `serializable` && opts.readOnly) {
		return 0, false, fmt.Errorf(`--deferrable requires --txn serializable --read-only`)
	}

	switch opts.txn {
	case `serializable`:
		if opts.deferrable {
			return pgq.LevelSerializableReadOnlyDeferrable, true, nil
		}
		if opts.readOnly {
			return pgq.LevelSerializableReadOnly, true, nil
		}
		return pgq.LevelSerializable, true, nil

	case `repeatable-read`:
		if opts.readOnly {
			return pgq.LevelRepeatableReadReadOnly, true, nil
		}
		return pgq.LevelRepeatableRead, true, nil

	case `read-committed`:
		if opts.readOnly {
			return pgq.LevelReadCommittedReadOnly, true, nil
		}
		return pgq.LevelReadCommitted, true, nil

	default:
		return 0, false, fmt.Errorf(`unknown isolation level %q`, opts.txn)
	}
}
