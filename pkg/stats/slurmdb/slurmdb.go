// Package slurmdb reads job and step accounting records from the slurmdbd
// database
package slurmdb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/hpc-data-analysis/hpcstats/internal/common"
	"github.com/hpc-data-analysis/hpcstats/internal/structset"
	_ "github.com/mattn/go-sqlite3"
)

// BatchStepName is the name of the step running the batch script.
const BatchStepName = "batch"

// SpecialSteps maps the names of synthetic steps (batch, extern,
// interactive, ...) to their negative step IDs. A name has several IDs when
// the step table spans Slurm versions that numbered special steps
// differently.
type SpecialSteps map[string][]int64

// Batch returns the first ID of the batch step.
func (s SpecialSteps) Batch() (int64, bool) {
	ids := s[BatchStepName]
	if len(ids) == 0 {
		return 0, false
	}

	return ids[0], true
}

// IsBatch returns true when id is one of the IDs of the batch step.
func (s SpecialSteps) IsBatch(id int64) bool {
	return slices.Contains(s[BatchStepName], id)
}

// IsSpecial returns true when id is the ID of a special step.
func (s SpecialSteps) IsSpecial(id int64) bool {
	for _, ids := range s {
		if slices.Contains(ids, id) {
			return true
		}
	}

	return false
}

// Store is a read only accessor of the accounting tables of one cluster.
type Store struct {
	db      *sql.DB
	cluster string
	logger  *slog.Logger
}

// Open connects to the accounting database described by cfg.
func Open(ctx context.Context, cfg *Config, logger *slog.Logger) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid accounting store config: %w", err)
	}

	driver, dsn := cfg.DSN()

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to connect to %s database: %w", driver, err)
	}

	logger.Debug("Connected to accounting database", "driver", driver, "cluster", cfg.Cluster)

	return NewWithDB(db, cfg.Cluster, logger), nil
}

// NewWithDB returns a store using an existing database handle.
func NewWithDB(db *sql.DB, cluster string, logger *slog.Logger) *Store {
	return &Store{
		db:      db,
		cluster: cluster,
		logger:  logger,
	}
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) table(name string) string {
	return fmt.Sprintf("%s_%s_table", s.cluster, name)
}

type stepRow struct {
	ID   int64          `sql:"id_step"`
	Name sql.NullString `sql:"step_name"`
}

// SpecialSteps returns the special steps found in the step table. A missing
// batch step is logged but is not an error.
func (s *Store) SpecialSteps(ctx context.Context) (SpecialSteps, error) {
	defer common.TimeTrack(time.Now(), "Special steps discovery", s.logger)

	q := Query{}
	q.query("SELECT DISTINCT id_step, step_name FROM " + s.table("step"))
	q.query(" WHERE id_step < 0 ORDER BY id_step")

	queryString, queryParams := q.get()

	rows, err := s.db.QueryContext(ctx, queryString, queryParams...)
	if err != nil {
		return nil, fmt.Errorf("failed to query special steps: %w", err)
	}
	defer rows.Close()

	stepRows, err := scanRows[stepRow](rows)
	if err != nil {
		return nil, fmt.Errorf("failed to read special steps: %w", err)
	}

	steps := make(SpecialSteps, len(stepRows))

	for _, r := range stepRows {
		if !slices.Contains(steps[r.Name.String], r.ID) {
			steps[r.Name.String] = append(steps[r.Name.String], r.ID)
		}
	}

	s.logger.Info("Discovered special steps", "steps", steps)

	if _, ok := steps.Batch(); !ok {
		s.logger.Warn("No batch step found in step table. Jobs without regular steps will have zero CPU time")
	}

	return steps, nil
}

// Scan all rows into a slice of T.
func scanRows[T any](rows *sql.Rows) ([]T, error) {
	var values []T

	var value T

	indexes := structset.CachedFieldIndexes(reflect.TypeOf(value))

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("cannot fetch columns: %w", err)
	}

	for rows.Next() {
		if err := structset.ScanRow(rows, columns, indexes, &value); err != nil {
			return nil, err
		}

		values = append(values, value)
	}

	return values, rows.Err()
}

// Jobs returns a cursor over the jobs submitted in [since, until) that
// started and ended, ordered by their database index. Step rows are folded
// into models.StepTotals using steps.
func (s *Store) Jobs(ctx context.Context, since, until time.Time, steps SpecialSteps) (*JobCursor, error) {
	q := Query{}
	q.query("SELECT " + strings.Join(jobColumns, ", "))
	q.query(" FROM " + s.table("job") + " j")
	q.query(" JOIN " + s.table("assoc") + " a ON j.id_assoc = a.id_assoc")
	q.query(" LEFT JOIN " + s.table("step") + " s ON j.job_db_inx = s.job_db_inx")
	q.query(" WHERE j.time_submit >= ")
	q.param(since.Unix())
	q.query(" AND j.time_submit < ")
	q.param(until.Unix())
	q.query(" AND j.time_start > 0 AND j.time_end > 0 AND j.time_end >= j.time_start")
	q.query(" ORDER BY j.job_db_inx")

	queryString, queryParams := q.get()
	s.logger.Debug("Querying jobs", "query", queryString, "since", since, "until", until)

	rows, err := s.db.QueryContext(ctx, queryString, queryParams...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}

	columns, err := rows.Columns()
	if err != nil {
		rows.Close()

		return nil, fmt.Errorf("cannot fetch columns: %w", err)
	}

	return &JobCursor{
		rows:    rows,
		columns: columns,
		indexes: structset.CachedFieldIndexes(reflect.TypeOf(jobRow{})),
		steps:   steps,
	}, nil
}
