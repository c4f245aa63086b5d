package main

import (
	"github.com/mitranim/pgq"
	"github.com/spf13/cobra"
)

// Output of "compile".
type compiled struct {
	Text  string `json:"text"`
	Args  []any  `json:"args"`
	Shape string `json:"shape"`
}

func (self *app) compileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   `compile [document]`,
		Short: `Print the SQL text and arguments of a query document`,
		Long: `Compiles a query document without connecting to the database.

Reads the document from the given path, or from stdin when the path is
omitted or "-". Foreign keys and JSON casting follow the loaded settings.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			doc, err := self.readDoc(docArg(args))
			if err != nil {
				return err
			}

			expr, err := doc.Build()
			if err != nil {
				return err
			}

			out, err := pgq.Compile(self.file.Config(nil), expr)
			if err != nil {
				return err
			}

			if out.Args == nil {
				out.Args = []any{}
			}
			return self.write(compiled{Text: out.Text, Args: out.Args, Shape: out.Shape.String()})
		},
	}
}
