package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/mitranim/pgq/conf"
	"github.com/mitranim/pgq/internal/querydoc"
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"
)

const (
	formatJSON = `json`
	formatYAML = `yaml`

	// Document path meaning standard input.
	stdinPath = `-`
)

// State shared by the commands of a single invocation.
type app struct {
	stdin   io.Reader
	stdout  io.Writer
	stderr  io.Writer
	cfgFile string
	verbose int
	format  string
	dbURL   string
	driver  string

	file     *conf.File
	filePath string
	log      *slog.Logger
}

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	app := &app{stdin: stdin, stdout: stdout, stderr: stderr}

	cmd := &cobra.Command{
		Use:   `pgq`,
		Short: `Compile and run PostgreSQL query documents`,
		Long: `pgq builds PostgreSQL queries from YAML or JSON documents.

Documents describe selects (with lateral subqueries), inserts, upserts,
updates, deletes, truncations and raw SQL. Results are shaped into JSON.

Settings come from pgq.yaml (searched upwards to the repository root),
PGQ_* environment variables and command-line flags.`,
		PersistentPreRunE: app.load,
		SilenceUsage:      true,
		SilenceErrors:     true,
	}
	cmd.SetIn(stdin)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	flags := cmd.PersistentFlags()
	flags.StringVar(&app.cfgFile, `config`, ``, `config file (default: search for pgq.yaml)`)
	flags.CountVarP(&app.verbose, `verbose`, `v`, `log at debug level and log queries`)
	flags.StringVarP(&app.format, `format`, `f`, formatJSON, `output format: json or yaml`)

	cmd.AddCommand(app.compileCmd(), app.runCmd(), app.configCmd())
	return cmd
}

func (self *app) load(cmd *cobra.Command, _ []string) error {
	if self.format != formatJSON && self.format != formatYAML {
		return fmt.Errorf(`unknown output format %q`, self.format)
	}

	overrides := map[string]any{}
	if self.verbose > 0 {
		overrides[`log.level`] = `debug`
		overrides[`log.queries`] = true
	}
	if cmd.Flags().Changed(`db`) {
		overrides[`database.url`] = self.dbURL
	}
	if cmd.Flags().Changed(`driver`) {
		overrides[`database.driver`] = self.driver
	}

	file, path, err := conf.Load(self.cfgFile, overrides)
	if err != nil {
		return err
	}

	level, err := file.LogLevel()
	if err != nil {
		return err
	}

	self.file, self.filePath = file, path
	self.log = slog.New(slog.NewTextHandler(self.stderr, &slog.HandlerOptions{Level: level}))
	if path != `` {
		self.log.Debug(`loaded config`, `path`, path)
	}
	return nil
}

func (self *app) readDoc(path string) (querydoc.Doc, error) {
	if path != stdinPath {
		return querydoc.Load(path)
	}
	src, err := io.ReadAll(self.stdin)
	if err != nil {
		return querydoc.Doc{}, fmt.Errorf(`failed to read query document from stdin: %w`, err)
	}
	return querydoc.Parse(src)
}

func (self *app) write(val any) error {
	if self.format == formatYAML {
		out, err := yaml.Marshal(val)
		if err != nil {
			return fmt.Errorf(`failed to encode output: %w`, err)
		}
		_, err = self.stdout.Write(out)
		return err
	}

	enc := json.NewEncoder(self.stdout)
	enc.SetIndent(``, `  `)
	err := enc.Encode(val)
	if err != nil {
		return fmt.Errorf(`failed to encode output: %w`, err)
	}
	return nil
}

func docArg(args []string) string {
	if len(args) == 0 {
		return stdinPath
	}
	return args[0]
}
