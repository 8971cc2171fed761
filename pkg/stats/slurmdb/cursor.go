package slurmdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"reflect"

	"github.com/hpc-data-analysis/hpcstats/internal/structset"
	"github.com/hpc-data-analysis/hpcstats/pkg/stats/models"
	"github.com/hpc-data-analysis/hpcstats/pkg/stats/tres"
)

// jobRow is one row of the job/step join. A job has as many rows as steps,
// or a single row with NULL step columns when it has none. The table tag is
// the alias of the table the column is selected from.
type jobRow struct {
	DBIndex   int64          `sql:"job_db_inx"        table:"j"`
	JobID     int64          `sql:"id_job"            table:"j"`
	User      sql.NullString `sql:"user"              table:"a"`
	State     sql.NullInt64  `sql:"state"             table:"j"`
	ExitCode  sql.NullInt64  `sql:"exit_code"         table:"j"`
	Submit    sql.NullInt64  `sql:"time_submit"       table:"j"`
	Start     sql.NullInt64  `sql:"time_start"        table:"j"`
	End       sql.NullInt64  `sql:"time_end"          table:"j"`
	CPUsReq   sql.NullInt64  `sql:"cpus_req"          table:"j"`
	TRESReq   sql.NullString `sql:"tres_req"          table:"j"`
	Timelimit sql.NullInt64  `sql:"timelimit"         table:"j"`
	Nodes     sql.NullInt64  `sql:"nodes_alloc"       table:"j"`
	StepID    sql.NullInt64  `sql:"id_step"           table:"s"`
	UserSec   sql.NullInt64  `sql:"user_sec"          table:"s"`
	UserUsec  sql.NullInt64  `sql:"user_usec"         table:"s"`
	SysSec    sql.NullInt64  `sql:"sys_sec"           table:"s"`
	SysUsec   sql.NullInt64  `sql:"sys_usec"          table:"s"`
	UsageMax  sql.NullString `sql:"tres_usage_in_max" table:"s"`
}

func (r *jobRow) job() models.Job {
	return models.Job{
		DBIndex:   r.DBIndex,
		JobID:     r.JobID,
		User:      r.User.String,
		State:     models.JobState(r.State.Int64),
		ExitCode:  r.ExitCode.Int64,
		Submit:    r.Submit.Int64,
		Start:     r.Start.Int64,
		End:       r.End.Int64,
		CPUsReq:   r.CPUsReq.Int64,
		TRESReq:   r.TRESReq.String,
		Timelimit: r.Timelimit.Int64,
		Nodes:     r.Nodes.Int64,
	}
}

// Select list of the job query built from the jobRow tags.
var jobColumns = func() []string {
	t := reflect.TypeOf(jobRow{})
	columns := make([]string, 0, t.NumField())

	for i := range t.NumField() {
		f := t.Field(i)
		columns = append(columns, fmt.Sprintf("%[1]s.%[2]s AS %[2]s", f.Tag.Get("table"), f.Tag.Get("sql")))
	}

	return columns
}()

// CPU counters in the order user sec, user usec, sys sec, sys usec.
type cpuCounters [4]int64

// stepFolder folds the step rows of a single job into models.StepTotals.
type stepFolder struct {
	steps    SpecialSteps
	regular  cpuCounters
	batch    cpuCounters
	maxRSS   int64
	hasBatch bool
}

func (f *stepFolder) add(r *jobRow) {
	// Job without steps
	if !r.StepID.Valid {
		return
	}

	if mem := tres.Value(r.UsageMax.String, tres.Mem); mem > f.maxRSS {
		f.maxRSS = mem
	}

	counters := cpuCounters{r.UserSec.Int64, r.UserUsec.Int64, r.SysSec.Int64, r.SysUsec.Int64}

	if f.steps.IsBatch(r.StepID.Int64) {
		for i := range counters {
			f.batch[i] = max(f.batch[i], counters[i])
		}

		f.hasBatch = true

		return
	}

	if f.steps.IsSpecial(r.StepID.Int64) {
		return
	}

	for i := range counters {
		f.regular[i] += counters[i]
	}
}

// totals uses the regular step sum of each counter and falls back to the
// batch step value when that sum is zero. Both are never added together.
func (f *stepFolder) totals() models.StepTotals {
	var c cpuCounters

	for i := range c {
		c[i] = f.regular[i]
		if c[i] == 0 && f.hasBatch {
			c[i] = f.batch[i]
		}
	}

	return models.StepTotals{
		UserSec:  c[0],
		UserUsec: c[1],
		SysSec:   c[2],
		SysUsec:  c[3],
		MaxRSS:   f.maxRSS,
	}
}

// JobCursor streams jobs from the job/step join.
type JobCursor struct {
	rows    *sql.Rows
	columns []string
	indexes map[string]int
	steps   SpecialSteps
	pending *jobRow
	err     error
}

func (c *JobCursor) next() (*jobRow, error) {
	if !c.rows.Next() {
		if err := c.rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to iterate over jobs: %w", err)
		}

		return nil, io.EOF
	}

	var r jobRow
	if err := structset.ScanRow(c.rows, c.columns, c.indexes, &r); err != nil {
		return nil, fmt.Errorf("failed to scan job row: %w", err)
	}

	return &r, nil
}

// Read returns the next job. It returns io.EOF when there are no more jobs.
func (c *JobCursor) Read(ctx context.Context) (models.Job, error) {
	if err := ctx.Err(); err != nil {
		return models.Job{}, err
	}

	first := c.pending
	c.pending = nil

	if first == nil {
		if c.err != nil {
			return models.Job{}, c.err
		}

		var err error
		if first, err = c.next(); err != nil {
			c.err = err

			return models.Job{}, err
		}
	}

	folder := stepFolder{steps: c.steps}
	folder.add(first)

	for {
		r, err := c.next()
		if err != nil {
			c.err = err

			// Do not return a job whose steps were only partially read
			if !errors.Is(err, io.EOF) {
				return models.Job{}, err
			}

			break
		}

		if r.DBIndex != first.DBIndex {
			c.pending = r

			break
		}

		folder.add(r)
	}

	job := first.job()
	job.Steps = folder.totals()

	return job, nil
}

// Close releases the underlying rows.
func (c *JobCursor) Close() error {
	return c.rows.Close()
}
