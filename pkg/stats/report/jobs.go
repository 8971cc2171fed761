package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"reflect"

	"github.com/hpc-data-analysis/hpcstats/internal/structset"
	"github.com/hpc-data-analysis/hpcstats/pkg/stats/models"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

// Output formats of job reports.
const (
	FormatParquet = "parquet"
)

// JobFormats are the supported job report formats.
var JobFormats = []string{FormatCSV, FormatParquet}

// Name of the attribute column in JobRecord tags.
const facultyColumn = "faculty"

// JobRecord is one row of the job report.
type JobRecord struct {
	JobID        int64    `csv:"job_id"        parquet:"name=job_id, type=INT64"`
	Username     string   `csv:"username"      parquet:"name=username, type=BYTE_ARRAY, convertedtype=UTF8"`
	Faculty      *string  `csv:"faculty"       parquet:"name=faculty, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	State        int64    `csv:"state"         parquet:"name=state, type=INT64"`
	ExitCode     int64    `csv:"exit_code"     parquet:"name=exit_code, type=INT64"`
	IsSuccess    bool     `csv:"is_success"    parquet:"name=is_success, type=BOOLEAN"`
	Elapsed      float64  `csv:"elapsed_sec"   parquet:"name=elapsed_sec, type=DOUBLE"`
	Wait         float64  `csv:"wait_sec"      parquet:"name=wait_sec, type=DOUBLE"`
	TimelimitSec int64    `csv:"timelimit_sec" parquet:"name=timelimit_sec, type=INT64"`
	CPUEff       *float64 `csv:"cpu_eff_pct"   parquet:"name=cpu_eff_pct, type=DOUBLE, repetitiontype=OPTIONAL"`
	MemEff       *float64 `csv:"mem_eff_pct"   parquet:"name=mem_eff_pct, type=DOUBLE, repetitiontype=OPTIONAL"`
	TimeEff      *float64 `csv:"time_eff_pct"  parquet:"name=time_eff_pct, type=DOUBLE, repetitiontype=OPTIONAL"`
	TotalCPU     float64  `csv:"total_cpu_sec" parquet:"name=total_cpu_sec, type=DOUBLE"`
	UserCPU      float64  `csv:"user_cpu_sec"  parquet:"name=user_cpu_sec, type=DOUBLE"`
	SysCPU       float64  `csv:"sys_cpu_sec"   parquet:"name=sys_cpu_sec, type=DOUBLE"`
	UserCPUPct   *float64 `csv:"user_cpu_pct"  parquet:"name=user_cpu_pct, type=DOUBLE, repetitiontype=OPTIONAL"`
	MaxRSS       int64    `csv:"maxrss_bytes"  parquet:"name=maxrss_bytes, type=INT64"`
	ReqMem       int64    `csv:"reqmem_bytes"  parquet:"name=reqmem_bytes, type=INT64"`
	ReqCPUs      int64    `csv:"reqcpus"       parquet:"name=reqcpus, type=INT64"`
	Nodes        int64    `csv:"nodes"         parquet:"name=nodes, type=INT64"`
}

// NewJobRecord returns the report row of m. Faculty is nil when the job
// report has no attribute column.
func NewJobRecord(m models.JobMetrics, username string, faculty *string) JobRecord {
	return JobRecord{
		JobID:        m.JobID,
		Username:     username,
		Faculty:      faculty,
		State:        int64(m.State),
		ExitCode:     m.ExitCode,
		IsSuccess:    m.Success,
		Elapsed:      m.Elapsed,
		Wait:         m.Wait,
		TimelimitSec: m.TimelimitSec,
		CPUEff:       m.CPUEff,
		MemEff:       m.MemEff,
		TimeEff:      m.TimeEff,
		TotalCPU:     m.TotalCPU,
		UserCPU:      m.UserCPU,
		SysCPU:       m.SysCPU,
		UserCPUPct:   m.UserCPUPct,
		MaxRSS:       m.MaxRSS,
		ReqMem:       m.ReqMem,
		ReqCPUs:      m.ReqCPUs,
		Nodes:        m.Nodes,
	}
}

// JobWriter streams job records to an output.
type JobWriter interface {
	Write(r JobRecord) error
	// Close flushes buffered records. It does not close the underlying writer.
	Close() error
}

// CSVJobWriter writes job records as CSV rows.
type CSVJobWriter struct {
	w      *csv.Writer
	fields []int
}

// NewCSVJobWriter writes the header to w and returns a new CSVJobWriter. The
// attribute column is named facultyLabel and omitted when it is empty.
func NewCSVJobWriter(w io.Writer, facultyLabel string) (*CSVJobWriter, error) {
	cw := &CSVJobWriter{w: csv.NewWriter(w)}

	// Every field of JobRecord is tagged so tag and field positions match
	var header []string

	for i, name := range structset.GetStructFieldTagValues(JobRecord{}, "csv") {
		if name == facultyColumn {
			if facultyLabel == "" {
				continue
			}

			name = facultyLabel
		}

		header = append(header, name)
		cw.fields = append(cw.fields, i)
	}

	if err := cw.w.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	return cw, nil
}

// Write implements JobWriter.
func (c *CSVJobWriter) Write(r JobRecord) error {
	v := reflect.ValueOf(r)
	row := make([]string, len(c.fields))

	for i, field := range c.fields {
		row[i] = formatValue(v.Field(field))
	}

	return c.w.Write(row)
}

// Close implements JobWriter.
func (c *CSVJobWriter) Close() error {
	c.w.Flush()

	return c.w.Error()
}

// ParquetJobWriter writes job records in a snappy compressed Parquet file.
type ParquetJobWriter struct {
	pw *writer.ParquetWriter
}

// NewParquetJobWriter returns a new ParquetJobWriter writing to w.
func NewParquetJobWriter(w io.Writer) (*ParquetJobWriter, error) {
	pw, err := writer.NewParquetWriterFromWriter(w, new(JobRecord), 1)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}

	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	return &ParquetJobWriter{pw: pw}, nil
}

// Write implements JobWriter.
func (p *ParquetJobWriter) Write(r JobRecord) error {
	return p.pw.Write(r)
}

// Close implements JobWriter. It writes the Parquet footer.
func (p *ParquetJobWriter) Close() (err error) {
	// WriteStop can panic on malformed rows
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parquet writer panicked: %v", r)
		}
	}()

	if err := p.pw.WriteStop(); err != nil {
		return fmt.Errorf("failed to stop parquet writer: %w", err)
	}

	return nil
}
