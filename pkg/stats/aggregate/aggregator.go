package aggregate

import (
	"cmp"
	"context"
	"slices"

	"github.com/hpc-data-analysis/hpcstats/pkg/stats/models"
)

// GlobalKey is the key of the single group of the global grouping.
const GlobalKey = "all"

// Unknown is the group key of jobs whose attribute could not be resolved.
const Unknown = "unknown"

// Resolver returns the value of a directory attribute of a user. It must
// return Unknown instead of failing.
type Resolver interface {
	Resolve(ctx context.Context, username, attribute string) string
}

// Dimension is an attribute to group jobs by and the label used to report it.
type Dimension struct {
	Attribute string
	Label     string
}

// Grouping is a set of Stats keyed by group key.
type Grouping struct {
	Dimension

	groups map[string]*Stats
	order  []string
}

// NewGrouping returns an empty grouping for dimension d.
func NewGrouping(d Dimension) *Grouping {
	return &Grouping{
		Dimension: d,
		groups:    make(map[string]*Stats),
	}
}

// Fold adds the metrics m to the group key, creating the group when it is
// seen for the first time.
func (g *Grouping) Fold(key string, m models.JobMetrics) {
	g.group(key).Fold(m)
}

func (g *Grouping) group(key string) *Stats {
	s, ok := g.groups[key]
	if !ok {
		s = NewStats(key)
		g.groups[key] = s
		g.order = append(g.order, key)
	}

	return s
}

// Merge adds all groups of o into g.
func (g *Grouping) Merge(o *Grouping) {
	for _, key := range o.order {
		g.group(key).Merge(o.groups[key])
	}
}

// Get returns the group stats of key.
func (g *Grouping) Get(key string) (*Stats, bool) {
	s, ok := g.groups[key]

	return s, ok
}

// Keys returns group keys in the order they were first seen.
func (g *Grouping) Keys() []string {
	return slices.Clone(g.order)
}

// Len returns the number of groups.
func (g *Grouping) Len() int {
	return len(g.order)
}

// Sorted finalizes every group and returns them by descending job count.
// Groups with equal job counts keep the order they were first seen in.
func (g *Grouping) Sorted() []*Stats {
	stats := make([]*Stats, 0, len(g.order))

	for _, key := range g.order {
		s := g.groups[key]
		s.Finalize()
		stats = append(stats, s)
	}

	slices.SortStableFunc(stats, func(a, b *Stats) int {
		return cmp.Compare(b.JobCount, a.JobCount)
	})

	return stats
}

// Aggregator folds jobs into one grouping per dimension and optionally into
// a global grouping.
type Aggregator struct {
	resolver  Resolver
	groupings []*Grouping
	global    *Grouping
}

// New returns an aggregator over dims. Resolver is only consulted when dims
// is not empty and can be nil otherwise.
func New(dims []Dimension, global bool, resolver Resolver) *Aggregator {
	a := &Aggregator{resolver: resolver}

	for _, d := range dims {
		a.groupings = append(a.groupings, NewGrouping(d))
	}

	if global {
		a.global = NewGrouping(Dimension{})
	}

	return a
}

// Add folds the metrics of one job into every grouping.
func (a *Aggregator) Add(ctx context.Context, m models.JobMetrics) {
	for _, g := range a.groupings {
		key := a.resolver.Resolve(ctx, m.User, g.Attribute)
		if key == "" {
			key = Unknown
		}

		g.Fold(key, m)
	}

	if a.global != nil {
		a.global.Fold(GlobalKey, m)
	}
}

// Groupings returns the per dimension groupings in the order of dims.
func (a *Aggregator) Groupings() []*Grouping {
	return a.groupings
}

// Global returns the global grouping or nil when it is disabled.
func (a *Aggregator) Global() *Grouping {
	return a.global
}
