/*
pgq: composable SQL for Postgres. You write plain SQL fragments with typed
holes, and build the common queries with shortcut functions that return rows
as JSON, shaped on the Go side. Everything compiles to a single statement with
ordinal parameters such as $1, $2, executed by any client through a narrow
executor interface.

Key Features

• You write plain SQL. Fragments made by `SQL` and `SQLNamed` nest into each
other and into shortcut queries; parameters are renumbered automatically.

• Identifiers, raw text, values and markers are distinct kinds of holes. Values
always become parameters. Arrays and objects are sent as JSON by default.

• Per-column conditions via `Where`, with `Self` referring to the column under
the current key.

• Shortcut queries: `Select`, `SelectOne`, `SelectExactlyOne`, `Count`, `Sum`,
`Avg`, `Min`, `Max`, `Insert`, `Upsert`, `Update`, `Delete`, `Truncate`.

• Nested queries via `SelectOpts.Lateral`, joined laterally, referring to the
enclosing query via `Parent`. Related rows come back in one round trip.

• Upserts report whether each row was inserted or updated.

• Transactions with isolation levels, automatic retries of serialization
failures, and composable nesting. See `Transaction`.

Examples

See `SQL`, `Select`, `SelectOpts`, `Upsert` and `Transaction`. The
sub-package "cond" provides ready-made conditions for `Where`. The
sub-packages "pgxq" and "stdq" adapt pgx and database/sql to `Executor`.
*/
package pgq
