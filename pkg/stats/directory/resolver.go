// Package directory resolves user attributes from an LDAP directory or a
// static map, memoising every answer for the lifetime of a run.
package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jellydator/ttlcache/v3"
)

// Unknown is the attribute value reported whenever a lookup fails.
const Unknown = "unknown"

// Number of lookups logged in detail and errors kept for the summary.
const maxLogged = 3

// Source returns the value of an attribute of a user. An empty value with a
// nil error means the user exists without that attribute.
type Source interface {
	Lookup(ctx context.Context, username, attribute string) (string, error)
}

// Summary describes the lookups made by a Resolver.
type Summary struct {
	Lookups    int
	Unknown    int
	ErrorCount int
	Errors     []string
}

// Resolver memoises lookups against a Source. Failed lookups resolve to
// Unknown and are memoised as well.
type Resolver struct {
	logger *slog.Logger
	source Source
	cache  *ttlcache.Cache[string, string]

	mu         sync.Mutex
	lookups    int
	errorCount int
	errors     []string
}

// NewResolver returns a new Resolver backed by source.
func NewResolver(source Source, logger *slog.Logger) *Resolver {
	return &Resolver{
		logger: logger,
		source: source,
		cache: ttlcache.New(
			ttlcache.WithTTL[string, string](ttlcache.NoTTL),
			ttlcache.WithDisableTouchOnHit[string, string](),
		),
	}
}

func cacheKey(username, attribute string) string {
	return username + "\x00" + attribute
}

// Resolve returns the attribute value of username or Unknown.
func (r *Resolver) Resolve(ctx context.Context, username, attribute string) string {
	key := cacheKey(username, attribute)

	if item := r.cache.Get(key); item != nil {
		return item.Value()
	}

	value, err := r.source.Lookup(ctx, username, attribute)

	r.mu.Lock()
	r.lookups++
	detailed := r.lookups <= maxLogged

	if err != nil {
		r.errorCount++

		if len(r.errors) < maxLogged {
			r.errors = append(r.errors, fmt.Sprintf("User %s: %s", username, describe(err)))
		}
	}
	r.mu.Unlock()

	switch {
	case err != nil:
		if detailed {
			r.logger.Debug("Directory lookup failed", "user", username, "attribute", attribute, "err", err)
		}

		// Do not memoise lookups aborted by the caller
		if ctx.Err() != nil {
			return Unknown
		}

		value = Unknown
	case value == "":
		value = Unknown
	}

	if detailed && err == nil {
		r.logger.Debug("Directory lookup", "user", username, "attribute", attribute, "value", value)
	}

	r.cache.Set(key, value, ttlcache.DefaultTTL)

	return value
}

func describe(err error) string {
	if errors.Is(err, ErrUserNotFound) {
		return "not found in directory"
	}

	return "directory error - " + err.Error()
}

// Summary returns lookup counts and the first errors seen.
func (r *Resolver) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	var unknown int

	for _, item := range r.cache.Items() {
		if item.Value() == Unknown {
			unknown++
		}
	}

	return Summary{
		Lookups:    r.cache.Len(),
		Unknown:    unknown,
		ErrorCount: r.errorCount,
		Errors:     append([]string(nil), r.errors...),
	}
}

// LogSummary logs the Summary the way the reports expect it.
func (r *Resolver) LogSummary() {
	s := r.Summary()

	if s.ErrorCount > 0 {
		r.logger.Warn("Directory lookups failed", "count", s.ErrorCount)

		for _, e := range s.Errors {
			r.logger.Warn("Directory lookup failed", "err", e)
		}

		if s.ErrorCount > len(s.Errors) {
			r.logger.Warn("More directory errors not shown", "count", s.ErrorCount-len(s.Errors))
		}
	}

	r.logger.Info("Directory lookups", "users", s.Lookups, "unknown", s.Unknown)
}
