package report

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hpc-data-analysis/hpcstats/pkg/stats/aggregate"
	"github.com/hpc-data-analysis/hpcstats/pkg/stats/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"
)

func ptr[T any](v T) *T {
	return &v
}

var (
	completedJob = models.JobMetrics{
		JobID: 1, User: "usr1", State: models.StateCompleted,
		Elapsed: 100, Wait: 10, TimelimitSec: 200,
		TotalCPU: 50, UserCPU: 40, SysCPU: 10,
		ReqCPUs: 1, MaxRSS: 100, ReqMem: 200, CPURequested: 100, Nodes: 1,
		CPUEff: ptr(50.0), MemEff: ptr(50.0), TimeEff: ptr(50.0), UserCPUPct: ptr(80.0),
		Success: true,
	}
	failedJob = models.JobMetrics{
		JobID: 2, User: "usr2", State: models.StateFailed, ExitCode: 256,
		ReqCPUs: 2, Nodes: 1,
	}
)

func engineeringStats() *aggregate.Stats {
	s := aggregate.NewStats("Engineering")
	s.Fold(completedJob)
	s.Fold(failedJob)
	s.Finalize()

	return s
}

func TestGroupRecord(t *testing.T) {
	expected := []string{
		"Engineering", "2", "1", "1",
		"1", "0", "1", "0", "0", "0",
		"100.00", "50.00", "50.00", "25.00", "40.00", "10.00", "80.00", "20.00",
		"100", "50.00", "200", "100.00", "3", "1.50", "2", "10.00", "5.00",
		"50.00", "50.00", "50.00", "50.00", "50.00", "50.00",
		"50.00", "50.00", "50.00", "50.00", "50.00", "50.00",
		"0:1;256:1",
	}

	record := GroupRecord(engineeringStats())
	assert.Equal(t, expected, record)
	assert.Len(t, record, len(GroupHeader("faculty")))
}

func TestGroupRecordNulls(t *testing.T) {
	s := aggregate.NewStats(aggregate.Unknown)
	s.Fold(failedJob)
	s.Finalize()

	record := GroupRecord(s)
	header := GroupHeader("faculty")

	values := make(map[string]string, len(header))
	for i, h := range header {
		values[h] = record[i]
	}

	assert.Equal(t, "unknown", values["faculty"])
	assert.Equal(t, "0.00", values["total_cpu_sec"])
	assert.Equal(t, "0.00", values["avg_cpu_sec"])
	assert.Equal(t, "0.00", values["avg_wait_sec"])
	assert.Equal(t, Null, values["user_cpu_pct"])
	assert.Equal(t, Null, values["weighted_cpu_eff_pct"])
	assert.Equal(t, Null, values["avg_mem_eff_pct"])
	assert.Equal(t, Null, values["success_weighted_time_eff_pct"])
	assert.Equal(t, "256:1", values["exit_codes"])
}

func TestWriteGroupsCSV(t *testing.T) {
	small := aggregate.NewStats("Physics")
	small.Fold(completedJob)
	small.Finalize()

	var buf bytes.Buffer

	require.NoError(t, WriteGroupsCSV(&buf, "faculty", []*aggregate.Stats{engineeringStats(), small}))
	require.NoError(t, WriteGroupsCSV(&buf, GlobalLabel, []*aggregate.Stats{engineeringStats()}))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 5)

	assert.Equal(t, "faculty", records[0][0])
	assert.Equal(t, "exit_codes", records[0][len(records[0])-1])
	assert.Equal(t, "Engineering", records[1][0])
	assert.Equal(t, "Physics", records[2][0])
	assert.Equal(t, "global", records[3][0])
	assert.Equal(t, "Engineering", records[4][0])
}

func TestRenderGroups(t *testing.T) {
	stats := []*aggregate.Stats{engineeringStats()}

	tests := []struct {
		format   string
		contains []string
	}{
		{format: FormatCSV, contains: []string{"faculty,job_count,", "Engineering,2,1,1,"}},
		{format: FormatTable, contains: []string{"FACULTY", "Engineering", "50.00"}},
		{format: FormatMarkdown, contains: []string{"| Engineering |"}},
		{format: FormatHTML, contains: []string{"<table", "Engineering"}},
	}

	for _, test := range tests {
		t.Run(test.format, func(t *testing.T) {
			var buf bytes.Buffer

			require.NoError(t, RenderGroups(&buf, test.format, "faculty", stats))

			for _, c := range test.contains {
				assert.Contains(t, buf.String(), c)
			}
		})
	}

	err := RenderGroups(&bytes.Buffer{}, "xlsx", "faculty", stats)
	require.ErrorIs(t, err, ErrUnknownFormat)
}

func TestCSVJobWriter(t *testing.T) {
	tests := []struct {
		name    string
		label   string
		faculty *string
		header  string
		row     string
	}{
		{
			name:   "without attribute",
			header: "job_id,username,state,exit_code,is_success,elapsed_sec,wait_sec,timelimit_sec,cpu_eff_pct,mem_eff_pct,time_eff_pct,total_cpu_sec,user_cpu_sec,sys_cpu_sec,user_cpu_pct,maxrss_bytes,reqmem_bytes,reqcpus,nodes",
			row:    "2,usr2,5,256,0,0.00,0.00,0,NULL,NULL,NULL,0.00,0.00,0.00,NULL,0,0,2,1",
		},
		{
			name:    "with attribute",
			label:   "department",
			faculty: ptr("Physics, Applied"),
			header:  "job_id,username,department,state,exit_code,is_success,elapsed_sec,wait_sec,timelimit_sec,cpu_eff_pct,mem_eff_pct,time_eff_pct,total_cpu_sec,user_cpu_sec,sys_cpu_sec,user_cpu_pct,maxrss_bytes,reqmem_bytes,reqcpus,nodes",
			row:     `2,usr2,"Physics, Applied",5,256,0,0.00,0.00,0,NULL,NULL,NULL,0.00,0.00,0.00,NULL,0,0,2,1`,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var buf bytes.Buffer

			w, err := NewCSVJobWriter(&buf, test.label)
			require.NoError(t, err)
			require.NoError(t, w.Write(NewJobRecord(failedJob, failedJob.User, test.faculty)))
			require.NoError(t, w.Close())

			assert.Equal(t, test.header+"\n"+test.row+"\n", buf.String())
		})
	}
}

func TestCSVJobWriterCompleted(t *testing.T) {
	var buf bytes.Buffer

	w, err := NewCSVJobWriter(&buf, "")
	require.NoError(t, err)
	require.NoError(t, w.Write(NewJobRecord(completedJob, "anon", nil)))
	require.NoError(t, w.Close())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "1,anon,3,0,1,100.00,10.00,200,50.00,50.00,50.00,50.00,40.00,10.00,80.00,100,200,1,1", lines[1])
}

func TestParquetJobWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.parquet")

	f, err := os.Create(path)
	require.NoError(t, err)

	w, err := NewParquetJobWriter(f)
	require.NoError(t, err)
	require.NoError(t, w.Write(NewJobRecord(completedJob, "usr1", ptr("Engineering"))))
	require.NoError(t, w.Write(NewJobRecord(failedJob, "usr2", nil)))
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	fr, err := local.NewLocalFileReader(path)
	require.NoError(t, err)

	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(JobRecord), 1)
	require.NoError(t, err)

	defer pr.ReadStop()

	require.Equal(t, int64(2), pr.GetNumRows())

	records := make([]JobRecord, 2)
	require.NoError(t, pr.Read(&records))

	assert.Equal(t, NewJobRecord(completedJob, "usr1", ptr("Engineering")), records[0])
	assert.Equal(t, NewJobRecord(failedJob, "usr2", nil), records[1])
}

func TestWriteTextfile(t *testing.T) {
	g := aggregate.NewGrouping(aggregate.Dimension{Attribute: "st", Label: "faculty"})
	g.Fold("Engineering", completedJob)
	g.Fold("Engineering", failedJob)

	global := aggregate.NewGrouping(aggregate.Dimension{})
	global.Fold(aggregate.GlobalKey, completedJob)

	path := filepath.Join(t.TempDir(), "hpcstats.prom")
	require.NoError(t, WriteTextfile(path, 1705363200, []*aggregate.Grouping{g}, global))

	content, err := os.ReadFile(path)
	require.NoError(t, err)

	for _, line := range []string{
		`hpcstats_jobs{dimension="faculty",group="Engineering",outcome="success"} 1`,
		`hpcstats_jobs{dimension="faculty",group="Engineering",outcome="failed"} 1`,
		`hpcstats_cpu_seconds{dimension="faculty",group="Engineering",mode="user"} 40`,
		`hpcstats_efficiency_percent{dimension="faculty",group="Engineering",jobs="all",method="weighted",resource="cpu"} 50`,
		`hpcstats_efficiency_percent{dimension="global",group="all",jobs="success",method="mean",resource="time"} 50`,
		`hpcstats_report_window_end_timestamp_seconds 1.7053632e+09`,
	} {
		assert.Contains(t, string(content), line)
	}
}

func TestFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.csv")

	f, err := CreateFile(path)
	require.NoError(t, err)

	_, err = f.WriteString("faculty\n")
	require.NoError(t, err)
	assert.NoFileExists(t, path)

	require.NoError(t, f.Commit())
	require.NoError(t, f.Abort())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "faculty\n", string(content))

	// Aborted files leave nothing behind
	f, err = CreateFile(filepath.Join(dir, "aborted.csv"))
	require.NoError(t, err)
	require.NoError(t, f.Abort())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "report.csv", entries[0].Name())
}

func TestCommitAll(t *testing.T) {
	dir := t.TempDir()

	groups, err := CreateFile(filepath.Join(dir, "stats.csv"))
	require.NoError(t, err)

	// A directory in place of the second report cannot be replaced
	globalPath := filepath.Join(dir, "stats_global.csv")
	require.NoError(t, os.MkdirAll(filepath.Join(globalPath, "keep"), 0o755))

	global, err := CreateFile(globalPath)
	require.NoError(t, err)

	require.Error(t, CommitAll(groups, global))

	// Neither report is left behind
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "stats_global.csv", entries[0].Name())
	assert.True(t, entries[0].IsDir())

	// Both files are moved on success
	groups, err = CreateFile(filepath.Join(dir, "a.csv"))
	require.NoError(t, err)

	other, err := CreateFile(filepath.Join(dir, "a_global.csv"))
	require.NoError(t, err)

	require.NoError(t, CommitAll(groups, other))
	assert.FileExists(t, filepath.Join(dir, "a.csv"))
	assert.FileExists(t, filepath.Join(dir, "a_global.csv"))
}
