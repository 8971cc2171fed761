package slurmdb

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/common/config"
	"github.com/prometheus/common/model"
)

// Supported database drivers.
const (
	MySQLDriver  = "mysql"
	SQLiteDriver = "sqlite3"
)

// DefaultCluster is the table prefix of the accounting tables when no
// cluster name is configured.
const DefaultCluster = "create"

// Custom errors.
var (
	ErrInvalidClusterName = errors.New("invalid cluster name")
	ErrUnsupportedDriver  = errors.New("unsupported database driver")
)

// Table prefixes are interpolated into queries. Only allow identifier
// characters.
var clusterRegex = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// MySQLConfig contains the connection details of the slurmdbd database.
type MySQLConfig struct {
	Host     string         `yaml:"host"`
	Port     int            `yaml:"port"`
	User     string         `yaml:"user"`
	Password config.Secret  `yaml:"password"`
	Database string         `yaml:"database"`
	Timeout  model.Duration `yaml:"timeout"`
}

// SQLiteConfig contains the path to a SQLite copy of the accounting tables.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Config is the accounting store config.
type Config struct {
	Driver  string       `yaml:"driver"`
	Cluster string       `yaml:"cluster"`
	MySQL   MySQLConfig  `yaml:"mysql"`
	SQLite  SQLiteConfig `yaml:"sqlite"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (c *Config) UnmarshalYAML(unmarshal func(any) error) error {
	// Set a default config
	*c = Config{
		Driver:  MySQLDriver,
		Cluster: DefaultCluster,
		MySQL: MySQLConfig{
			Host:     "localhost",
			Port:     3306,
			Database: "slurm_acct_db",
			Timeout:  model.Duration(30 * time.Second),
		},
	}

	type plain Config

	if err := unmarshal((*plain)(c)); err != nil {
		return err
	}

	return c.Validate()
}

// Validate returns all problems found in the config.
func (c *Config) Validate() error {
	var errs error

	if !clusterRegex.MatchString(c.Cluster) {
		errs = multierror.Append(errs, fmt.Errorf("%w: %q", ErrInvalidClusterName, c.Cluster))
	}

	switch c.Driver {
	case MySQLDriver:
		if c.MySQL.Host == "" {
			errs = multierror.Append(errs, errors.New("mysql.host is required"))
		}

		if c.MySQL.User == "" {
			errs = multierror.Append(errs, errors.New("mysql.user is required"))
		}

		if c.MySQL.Database == "" {
			errs = multierror.Append(errs, errors.New("mysql.database is required"))
		}

		if c.MySQL.Port <= 0 || c.MySQL.Port > 65535 {
			errs = multierror.Append(errs, fmt.Errorf("invalid mysql.port %d", c.MySQL.Port))
		}
	case SQLiteDriver:
		if c.SQLite.Path == "" {
			errs = multierror.Append(errs, errors.New("sqlite.path is required"))
		}
	default:
		errs = multierror.Append(errs, fmt.Errorf("%w: %q", ErrUnsupportedDriver, c.Driver))
	}

	return errs
}

// DSN returns the driver name and data source name of the store.
func (c *Config) DSN() (string, string) {
	if c.Driver == SQLiteDriver {
		return SQLiteDriver, makeSQLiteDSN(c.SQLite.Path, sqliteOpts)
	}

	cfg := mysql.NewConfig()
	cfg.User = c.MySQL.User
	cfg.Passwd = string(c.MySQL.Password)
	cfg.DBName = c.MySQL.Database
	cfg.Timeout = time.Duration(c.MySQL.Timeout)
	cfg.ReadTimeout = time.Duration(c.MySQL.Timeout)

	// Absolute paths are unix sockets
	if strings.HasPrefix(c.MySQL.Host, "/") {
		cfg.Net = "unix"
		cfg.Addr = c.MySQL.Host
	} else {
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(c.MySQL.Host, strconv.Itoa(c.MySQL.Port))
	}

	return MySQLDriver, cfg.FormatDSN()
}

// Accounting snapshots are only read.
var sqliteOpts = [][2]string{
	{"mode", "ro"},
	{"_busy_timeout", "5000"},
}

// Make DSN from DB file path and opts.
func makeSQLiteDSN(filePath string, opts [][2]string) string {
	optsSlice := make([]string, 0, len(opts))
	for _, opt := range opts {
		optsSlice = append(optsSlice, opt[0]+"="+opt[1])
	}

	return fmt.Sprintf("file:%s?%s", filePath, strings.Join(optsSlice, "&"))
}
