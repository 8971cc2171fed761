package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/prometheus/common/config"
)

// ErrUserNotFound is returned when the search does not match any entry.
var ErrUserNotFound = errors.New("user not found in directory")

// conn is the subset of *ldap.Conn used by the client.
type conn interface {
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	Close() error
}

type ldapConn struct {
	*ldap.Conn
}

func (l *ldapConn) Close() error {
	l.Conn.Close()

	return nil
}

// Client is a lazily connected LDAP client. A lost connection is
// re-established once per search.
type Client struct {
	config *Config
	logger *slog.Logger
	dial   func() (conn, error)

	mu   sync.Mutex
	conn conn
}

// NewClient returns a new LDAP client. No connection is made until the
// first lookup.
func NewClient(cfg *Config, logger *slog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid directory config: %w", err)
	}

	tlsConfig, err := config.NewTLSConfig(&config.TLSConfig{
		CAFile:             cfg.CAFile,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create TLS config for directory: %w", err)
	}

	timeout := time.Duration(cfg.NetworkTimeout)

	c := &Client{
		config: cfg,
		logger: logger,
	}

	c.dial = func() (conn, error) {
		l, err := ldap.DialURL(
			cfg.url(),
			ldap.DialWithTLSConfig(tlsConfig),
			ldap.DialWithDialer(&net.Dialer{Timeout: timeout}),
		)
		if err != nil {
			return nil, err
		}

		l.SetTimeout(timeout)

		if err := l.Bind(cfg.BindDN, string(cfg.Password)); err != nil {
			l.Close()

			return nil, fmt.Errorf("failed to bind as %s: %w", cfg.BindDN, err)
		}

		return &ldapConn{l}, nil
	}

	return c, nil
}

func (c *Client) connect() error {
	conn, err := c.dial()
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.config.url(), err)
	}

	c.conn = conn
	c.logger.Info("Connected to directory", "url", c.config.url())

	return nil
}

// search runs req, connecting first if needed. On a network error the
// connection is re-established and req is retried once.
func (c *Client) search(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		if err := c.connect(); err != nil {
			return nil, err
		}
	}

	res, err := c.conn.Search(req)
	if err == nil || !ldap.IsErrorWithCode(err, ldap.ErrorNetwork) {
		return res, err
	}

	c.logger.Warn("Directory connection lost, reconnecting", "err", err)

	c.conn.Close()
	c.conn = nil

	if err := c.connect(); err != nil {
		return nil, err
	}

	return c.conn.Search(req)
}

// Lookup returns the first value of attribute of username. The value is
// empty when the user has no such attribute.
func (c *Client) Lookup(ctx context.Context, username, attribute string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	req := ldap.NewSearchRequest(
		c.config.UsersOU,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		0, 0, false,
		fmt.Sprintf(c.config.UserFilter, ldap.EscapeFilter(username)),
		[]string{attribute},
		nil,
	)

	res, err := c.search(req)
	if err != nil {
		return "", err
	}

	for _, entry := range res.Entries {
		// Referrals carry no DN
		if entry.DN == "" {
			continue
		}

		c.logger.Debug("Directory entry found", "user", username, "dn", entry.DN, "attribute", attribute)

		return entry.GetAttributeValue(attribute), nil
	}

	return "", fmt.Errorf("%w: %d entries and %d referrals returned", ErrUserNotFound, len(res.Entries), len(res.Referrals))
}

// Close closes the connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}

	err := c.conn.Close()
	c.conn = nil

	return err
}
