/*
Loads `pgq` settings from a "pgq.yaml" file, `PGQ_*` environment variables and
explicit overrides, using viper. Precedence, highest first: overrides,
environment, file, defaults.

	database:
	  url: postgres://app@localhost:5432/app?sslmode=disable
	  driver: pgx
	cast:
	  arrays: true
	  objects: true
	txn:
	  attempts: 5
	  min_delay: 25ms
	  max_delay: 250ms
	log:
	  level: debug
	  queries: true
	foreign_keys:
	  - {table: books, column: authorId, ref_table: authors, ref_column: id}

Environment variables replace dots with underscores: `PGQ_DATABASE_URL`,
`PGQ_TXN_ATTEMPTS`, `PGQ_LOG_LEVEL`.
*/
package conf

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitranim/pgq"
	"github.com/spf13/viper"
)

const (
	EnvPrefix = `PGQ`

	// Upper bound of directories visited when searching for a config file.
	maxWalkDepth = 25
)

// Names of config files, in order of preference.
var FileNames = []string{`pgq.yaml`, `pgq.yml`}

var ErrNotFound = errors.New(`config file not found`)

type File struct {
	Database    Database     `mapstructure:"database" json:"database"`
	Cast        Cast         `mapstructure:"cast" json:"cast"`
	Txn         Txn          `mapstructure:"txn" json:"txn"`
	Log         Log          `mapstructure:"log" json:"log"`
	ForeignKeys []ForeignKey `mapstructure:"foreign_keys" json:"foreign_keys"`
}

type Database struct {
	URL      string `mapstructure:"url" json:"url"`
	Driver   string `mapstructure:"driver" json:"driver"`
	Host     string `mapstructure:"host" json:"host"`
	Port     int    `mapstructure:"port" json:"port"`
	Name     string `mapstructure:"name" json:"name"`
	User     string `mapstructure:"user" json:"user"`
	Password string `mapstructure:"password" json:"password"`
	SSLMode  string `mapstructure:"sslmode" json:"sslmode"`
}

// JSON casting of array and object parameters. See `pgq.Config`.
type Cast struct {
	Arrays  bool `mapstructure:"arrays" json:"arrays"`
	Objects bool `mapstructure:"objects" json:"objects"`
}

// Retry policy of transactions. See `pgq.Config`.
type Txn struct {
	Attempts int           `mapstructure:"attempts" json:"attempts"`
	MinDelay time.Duration `mapstructure:"min_delay" json:"min_delay"`
	MaxDelay time.Duration `mapstructure:"max_delay" json:"max_delay"`
}

type Log struct {
	Level   string `mapstructure:"level" json:"level"`
	Queries bool   `mapstructure:"queries" json:"queries"`
}

type ForeignKey struct {
	Table     string `mapstructure:"table" json:"table"`
	Column    string `mapstructure:"column" json:"column"`
	RefTable  string `mapstructure:"ref_table" json:"ref_table"`
	RefColumn string `mapstructure:"ref_column" json:"ref_column"`
}

/*
Loads the settings. When `path` is empty, looks for a config file in the
working directory and its parents, stopping at a repository root (".git");
finding none is not an error. Returns the settings and the path of the file
used, if any. Keys of `overrides` use dots for nesting, like "database.url".
*/
func Load(path string, overrides map[string]any) (*File, string, error) {
	vip := viper.New()
	setDefaults(vip)

	vip.SetEnvPrefix(EnvPrefix)
	vip.SetEnvKeyReplacer(strings.NewReplacer(`.`, `_`))
	vip.AutomaticEnv()

	path, err := findFile(path)
	if err != nil {
		return nil, ``, err
	}

	if path != `` {
		vip.SetConfigFile(path)
		err := vip.ReadInConfig()
		if err != nil {
			return nil, path, fmt.Errorf(`failed to read config file %q: %w`, path, err)
		}
	}

	for key, val := range overrides {
		vip.Set(key, val)
	}

	var out File
	err = vip.Unmarshal(&out)
	if err != nil {
		return nil, path, fmt.Errorf(`failed to decode config: %w`, err)
	}
	return &out, path, nil
}

func setDefaults(vip *viper.Viper) {
	vip.SetDefault(`database.url`, ``)
	vip.SetDefault(`database.driver`, `pgx`)
	vip.SetDefault(`database.host`, ``)
	vip.SetDefault(`database.port`, 5432)
	vip.SetDefault(`database.name`, ``)
	vip.SetDefault(`database.user`, ``)
	vip.SetDefault(`database.password`, ``)
	vip.SetDefault(`database.sslmode`, ``)

	def := pgq.DefaultConfig()
	vip.SetDefault(`cast.arrays`, def.CastArrayParamsToJSON)
	vip.SetDefault(`cast.objects`, def.CastObjectParamsToJSON)
	vip.SetDefault(`txn.attempts`, def.TxnAttempts)
	vip.SetDefault(`txn.min_delay`, def.TxnMinDelay)
	vip.SetDefault(`txn.max_delay`, def.TxnMaxDelay)

	vip.SetDefault(`log.level`, `info`)
	vip.SetDefault(`log.queries`, false)
}

func findFile(path string) (string, error) {
	if path != `` {
		_, err := os.Stat(path)
		if err != nil {
			return ``, fmt.Errorf(`%w: %s`, ErrNotFound, path)
		}
		return path, nil
	}

	dir, err := os.Getwd()
	if err != nil {
		return ``, fmt.Errorf(`failed to get working directory: %w`, err)
	}

	for range maxWalkDepth {
		for _, name := range FileNames {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
		}

		if _, err := os.Stat(filepath.Join(dir, `.git`)); err == nil {
			break
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ``, nil
}

/*
Connection string of the database. Returns `Database.URL` when set, otherwise
builds a "postgres://" URL from the discrete fields, which then require host,
name and user.
*/
func (self *File) DSN() (string, error) {
	src := self.Database
	if src.URL != `` {
		return src.URL, nil
	}

	var missing []string
	if src.Host == `` {
		missing = append(missing, `database.host`)
	}
	if src.Name == `` {
		missing = append(missing, `database.name`)
	}
	if src.User == `` {
		missing = append(missing, `database.user`)
	}
	if len(missing) > 0 {
		return ``, fmt.Errorf(`database.url is not set; missing %s`, strings.Join(missing, `, `))
	}

	out := url.URL{
		Scheme: `postgres`,
		Host:   fmt.Sprintf(`%s:%d`, src.Host, src.Port),
		Path:   `/` + src.Name,
	}
	if src.Password != `` {
		out.User = url.UserPassword(src.User, src.Password)
	} else {
		out.User = url.User(src.User)
	}
	if src.SSLMode != `` {
		out.RawQuery = url.Values{`sslmode`: {src.SSLMode}}.Encode()
	}
	return out.String(), nil
}

/*
Builds a `pgq.Config` from the settings. When `Log.Queries` is set and the
logger is non-nil, queries, results and transactions are logged through it.
*/
func (self *File) Config(log *slog.Logger) *pgq.Config {
	out := pgq.DefaultConfig()
	out.CastArrayParamsToJSON = self.Cast.Arrays
	out.CastObjectParamsToJSON = self.Cast.Objects
	out.TxnAttempts = self.Txn.Attempts
	out.TxnMinDelay = self.Txn.MinDelay
	out.TxnMaxDelay = self.Txn.MaxDelay

	for _, key := range self.ForeignKeys {
		out.ForeignKeys = append(out.ForeignKeys, pgq.ForeignKey(key))
	}

	if log != nil && self.Log.Queries {
		out.Listeners = pgq.LogListeners(log)
	}
	return out
}

// Parses `Log.Level`: "debug", "info", "warn" or "error", case-insensitive.
func (self *File) LogLevel() (slog.Level, error) {
	var out slog.Level
	err := out.UnmarshalText([]byte(self.Log.Level))
	if err != nil {
		return out, fmt.Errorf(`invalid log level %q: %w`, self.Log.Level, err)
	}
	return out, nil
}
