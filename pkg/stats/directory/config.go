package directory

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/common/config"
	"github.com/prometheus/common/model"
)

// DefaultUserFilter matches Active Directory user objects by account name.
const DefaultUserFilter = "(&(objectClass=user)(sAMAccountName=%s))"

// Config is the directory config. Key names are shared with other tools
// reading the same file.
type Config struct {
	Host               string         `yaml:"ldap_host"`
	URL                string         `yaml:"ldap_url"`
	CAFile             string         `yaml:"ldap_ca_file"`
	BindDN             string         `yaml:"ldap_binddn"`
	Password           config.Secret  `yaml:"ldap_password"`
	UsersOU            string         `yaml:"ldap_users_ou"`
	UserFilter         string         `yaml:"user_filter"`
	NetworkTimeout     model.Duration `yaml:"network_timeout"`
	InsecureSkipVerify bool           `yaml:"insecure_skip_verify"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (c *Config) UnmarshalYAML(unmarshal func(any) error) error {
	// Set a default config
	*c = Config{
		UserFilter:     DefaultUserFilter,
		NetworkTimeout: model.Duration(10 * time.Second),
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

	if c.Host == "" && c.URL == "" {
		errs = multierror.Append(errs, errors.New("one of ldap_host or ldap_url is required"))
	}

	if c.UsersOU == "" {
		errs = multierror.Append(errs, errors.New("ldap_users_ou is required"))
	}

	if strings.Count(c.UserFilter, "%s") != 1 {
		errs = multierror.Append(errs, fmt.Errorf("user_filter %q must contain exactly one %%s", c.UserFilter))
	}

	if c.NetworkTimeout <= 0 {
		errs = multierror.Append(errs, errors.New("network_timeout must be positive"))
	}

	return errs
}

// url returns the directory URL. Hosts are reached over LDAPS.
func (c *Config) url() string {
	if c.URL != "" {
		return c.URL
	}

	return "ldaps://" + c.Host
}
