/*
Command pgq compiles and runs query documents against PostgreSQL.

	pgq compile query.yaml
	pgq run --db postgres://app@localhost/app query.yaml
	pgq config

See "internal/querydoc" for the document format and "conf" for settings.
*/
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := newRootCmd(os.Stdin, os.Stdout, os.Stderr).ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, `error:`, err)
		stop()
		os.Exit(1)
	}
}
