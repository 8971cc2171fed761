package slurmdb

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/hpc-data-analysis/hpcstats/internal/fixture"
	"github.com/hpc-data-analysis/hpcstats/pkg/stats/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var noOpLogger = slog.New(slog.DiscardHandler)

func setupStore(t *testing.T) *Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "slurm.db")
	require.NoError(t, fixture.CreateSlurmDB(dbPath, noOpLogger))

	cfg := &Config{
		Driver:  SQLiteDriver,
		Cluster: DefaultCluster,
		SQLite:  SQLiteConfig{Path: dbPath},
	}

	store, err := Open(context.Background(), cfg, noOpLogger)
	require.NoError(t, err)

	t.Cleanup(func() { store.Close() })

	return store
}

func readAll(t *testing.T, cursor *JobCursor) []models.Job {
	t.Helper()

	var jobs []models.Job

	for {
		job, err := cursor.Read(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}

		require.NoError(t, err)

		jobs = append(jobs, job)
	}

	return jobs
}

func TestSpecialSteps(t *testing.T) {
	store := setupStore(t)

	steps, err := store.SpecialSteps(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SpecialSteps{"interactive": {-6}, "batch": {-5}, "extern": {-4}}, steps)

	batch, ok := steps.Batch()
	assert.True(t, ok)
	assert.Equal(t, int64(-5), batch)
	assert.True(t, steps.IsSpecial(-4))
	assert.False(t, steps.IsSpecial(0))
	assert.True(t, steps.IsBatch(-5))
	assert.False(t, steps.IsBatch(-4))
}

func TestJobsSpecialStepsWithSeveralIDs(t *testing.T) {
	store := setupStore(t)

	// Old batch step ID left over from an earlier Slurm version
	_, err := store.db.Exec(`
INSERT INTO create_job_table
  (job_db_inx, id_job, id_assoc, state, exit_code, time_submit, time_start, time_end, cpus_req, tres_req, timelimit, nodes_alloc)
VALUES
  (8, 1008, 1, 3, 0, 1705320000, 1705320100, 1705320200, 1, '1=1,2=100', 10, 1),
  (9, 1009, 1, 3, 0, 1705320000, 1705320100, 1705320200, 1, '1=1,2=100', 10, 1);
INSERT INTO create_step_table
  (job_db_inx, id_step, step_name, user_sec, user_usec, sys_sec, sys_usec, tres_usage_in_max)
VALUES
  (8, -2, 'batch', 1000, 0, 0, 0, '2=100'),
  (8, 0, 'python', 10, 0, 0, 0, '2=100'),
  (9, -2, 'batch', 40, 0, 2, 0, '2=100');`)
	require.NoError(t, err)

	steps, err := store.SpecialSteps(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SpecialSteps{"interactive": {-6}, "batch": {-5, -2}, "extern": {-4}}, steps)
	assert.True(t, steps.IsSpecial(-2))
	assert.True(t, steps.IsBatch(-2))

	cursor, err := store.Jobs(
		context.Background(),
		time.Unix(fixture.SampleSince, 0),
		time.Unix(fixture.SampleUntil, 0),
		steps,
	)
	require.NoError(t, err)

	defer cursor.Close()

	totals := make(map[int64]models.StepTotals)
	for _, job := range readAll(t, cursor) {
		totals[job.JobID] = job.Steps
	}

	// Regular steps only
	assert.Equal(t, models.StepTotals{UserSec: 10, MaxRSS: 100}, totals[1008])
	// Batch fallback from the old ID
	assert.Equal(t, models.StepTotals{UserSec: 40, SysSec: 2, MaxRSS: 100}, totals[1009])
}

func TestJobs(t *testing.T) {
	store := setupStore(t)

	steps, err := store.SpecialSteps(context.Background())
	require.NoError(t, err)

	cursor, err := store.Jobs(
		context.Background(),
		time.Unix(fixture.SampleSince, 0),
		time.Unix(fixture.SampleUntil, 0),
		steps,
	)
	require.NoError(t, err)

	defer cursor.Close()

	jobs := readAll(t, cursor)

	expected := []models.Job{
		{
			DBIndex: 1, JobID: 1001, User: "usr1", State: models.StateCompleted,
			Submit: 1705312800, Start: 1705312900, End: 1705316500,
			CPUsReq: 4, TRESReq: "1=4,2=8192,4=1", Timelimit: 120, Nodes: 1,
			// Regular steps only. Batch is dropped and memory is the numeric max
			Steps: models.StepTotals{UserSec: 7000, UserUsec: 500000, SysSec: 199, SysUsec: 500000, MaxRSS: 10000000},
		},
		{
			DBIndex: 2, JobID: 1002, User: "usr2", State: models.StateFailed, ExitCode: 256,
			Submit: 1705312810, Start: 1705312820, End: 1705313420,
			CPUsReq: 2, TRESReq: "1=2,2=1024,4=1", Timelimit: 20, Nodes: 1,
			// Batch fallback
			Steps: models.StepTotals{UserSec: 500, SysSec: 100, MaxRSS: 536870912},
		},
		{
			DBIndex: 3, JobID: 1003, User: "usr1", State: models.StateCancelled,
			Submit: 1705312850, Start: 1705312840, End: 1705312900,
			CPUsReq: 1, Nodes: 1,
		},
		{
			DBIndex: 5, JobID: 1005, User: "usr2", State: models.JobState(11),
			Submit: 1705312870, Start: 1705312880, End: 1705312980,
			CPUsReq: 1, TRESReq: "1=1,2=100", Timelimit: 10, Nodes: 1,
			Steps: models.StepTotals{MaxRSS: 100},
		},
		{
			DBIndex: 7, JobID: 1007, User: "usr3", State: models.StateCompleted,
			Submit: 1705313700, Start: 1705313800, End: 1705313860,
			CPUsReq: 1, TRESReq: "1=1,2=100", Timelimit: 1, Nodes: 1,
			// User time from the regular step, system time falls back to batch
			Steps: models.StepTotals{UserSec: 30, SysSec: 5, MaxRSS: 1048576},
		},
	}

	assert.Equal(t, expected, jobs)

	// Cursor stays exhausted
	_, err = cursor.Read(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestJobsWithoutSpecialSteps(t *testing.T) {
	store := setupStore(t)

	cursor, err := store.Jobs(
		context.Background(),
		time.Unix(fixture.SampleSince, 0),
		time.Unix(fixture.SampleUntil, 0),
		SpecialSteps{},
	)
	require.NoError(t, err)

	defer cursor.Close()

	jobs := readAll(t, cursor)
	require.Len(t, jobs, 5)

	// All steps are summed when no special steps are known
	assert.Equal(t, int64(7010), jobs[0].Steps.UserSec)
}

func TestJobsCancelledContext(t *testing.T) {
	store := setupStore(t)

	ctx, cancel := context.WithCancel(context.Background())

	cursor, err := store.Jobs(ctx, time.Unix(fixture.SampleSince, 0), time.Unix(fixture.SampleUntil, 0), SpecialSteps{})
	require.NoError(t, err)

	defer cursor.Close()

	cancel()

	_, err = cursor.Read(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpenErrors(t *testing.T) {
	_, err := Open(context.Background(), &Config{Driver: "postgres", Cluster: DefaultCluster}, noOpLogger)
	require.ErrorIs(t, err, ErrUnsupportedDriver)

	cfg := &Config{
		Driver:  SQLiteDriver,
		Cluster: DefaultCluster,
		SQLite:  SQLiteConfig{Path: filepath.Join(t.TempDir(), "missing", "slurm.db")},
	}
	_, err = Open(context.Background(), cfg, noOpLogger)
	assert.Error(t, err)
}

func TestSpecialStepsWithoutBatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	defer db.Close()

	mock.ExpectQuery("SELECT DISTINCT id_step, step_name FROM cluster1_step_table WHERE id_step < 0").
		WillReturnRows(sqlmock.NewRows([]string{"id_step", "step_name"}).AddRow(int64(-4), "extern"))

	store := NewWithDB(db, "cluster1", noOpLogger)

	steps, err := store.SpecialSteps(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SpecialSteps{"extern": {-4}}, steps)

	_, ok := steps.Batch()
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSpecialStepsQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	defer db.Close()

	mock.ExpectQuery("SELECT DISTINCT id_step").WillReturnError(errors.New("table does not exist"))

	_, err = NewWithDB(db, "cluster1", noOpLogger).SpecialSteps(context.Background())
	assert.ErrorContains(t, err, "table does not exist")
}

func TestJobsRowError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	defer db.Close()

	columns := []string{
		"job_db_inx", "id_job", "user", "state", "exit_code", "time_submit", "time_start", "time_end",
		"cpus_req", "tres_req", "timelimit", "nodes_alloc",
		"id_step", "user_sec", "user_usec", "sys_sec", "sys_usec", "tres_usage_in_max",
	}
	rows := sqlmock.NewRows(columns).
		AddRow(1, 11, "usr1", 3, 0, 10, 20, 30, 1, "1=1", 1, 1, 0, 5, 0, 1, 0, "2=10").
		AddRow(2, 12, "usr2", 3, 0, 10, 20, 30, 1, "1=1", 1, 1, 0, 5, 0, 1, 0, "2=10").
		AddRow(2, 12, "usr2", 3, 0, 10, 20, 30, 1, "1=1", 1, 1, 1, 5, 0, 1, 0, "2=10").
		RowError(2, errors.New("connection reset"))

	mock.ExpectQuery("FROM cluster1_job_table j JOIN cluster1_assoc_table a").
		WithArgs(int64(100), int64(200)).
		WillReturnRows(rows)

	cursor, err := NewWithDB(db, "cluster1", noOpLogger).Jobs(context.Background(), time.Unix(100, 0), time.Unix(200, 0), SpecialSteps{})
	require.NoError(t, err)

	defer cursor.Close()

	job, err := cursor.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(11), job.JobID)
	assert.Equal(t, models.StepTotals{UserSec: 5, SysSec: 1, MaxRSS: 10}, job.Steps)

	// Second job fails while its steps are read
	_, err = cursor.Read(context.Background())
	require.ErrorContains(t, err, "connection reset")

	_, err = cursor.Read(context.Background())
	require.ErrorContains(t, err, "connection reset")
}
