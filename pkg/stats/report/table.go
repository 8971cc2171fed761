package report

import (
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/hpc-data-analysis/hpcstats/pkg/stats/aggregate"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Output formats of group reports.
const (
	FormatCSV      = "csv"
	FormatTable    = "table"
	FormatMarkdown = "markdown"
	FormatHTML     = "html"
)

// GroupFormats are the supported group report formats.
var GroupFormats = []string{FormatCSV, FormatTable, FormatMarkdown, FormatHTML}

// ErrUnknownFormat is returned for unsupported output formats.
var ErrUnknownFormat = errors.New("unknown output format")

// Columns shown in rendered tables. CSV reports carry all columns.
var tableColumns = []string{
	"job_count", "job_count_success", "job_count_failed",
	"avg_elapsed_sec", "avg_wait_sec", "avg_reqcpus",
	"weighted_cpu_eff_pct", "avg_cpu_eff_pct",
	"weighted_mem_eff_pct", "avg_mem_eff_pct",
	"weighted_time_eff_pct", "avg_time_eff_pct",
}

// newTable returns a table writer of the groups in stats.
func newTable(label string, stats []*aggregate.Stats) table.Writer {
	t := table.NewWriter()

	style := table.Style{
		Name:    "CustomStyleLight",
		Box:     table.StyleBoxLight,
		Color:   table.ColorOptionsDefault,
		HTML:    table.DefaultHTMLOptions,
		Options: table.OptionsDefault,
		Size:    table.SizeOptionsDefault,
		Title:   table.TitleOptionsDefault,
		Format: table.FormatOptions{
			Footer: text.FormatDefault,
			Header: text.FormatUpper,
			Row:    text.FormatDefault,
		},
	}

	t.SetStyle(style)
	t.SuppressTrailingSpaces()

	// Map full report columns to their position
	header := GroupHeader(label)
	indexes := make([]int, 0, len(tableColumns)+1)
	indexes = append(indexes, 0)

	for _, c := range tableColumns {
		indexes = append(indexes, slices.Index(header, c))
	}

	pick := func(values []string) table.Row {
		row := make(table.Row, 0, len(indexes))
		for _, i := range indexes {
			row = append(row, values[i])
		}

		return row
	}

	var columnConfigs []table.ColumnConfig
	for i := 1; i < len(indexes); i++ {
		columnConfigs = append(columnConfigs, table.ColumnConfig{Number: i + 1, Align: text.AlignRight})
	}

	t.SetColumnConfigs(columnConfigs)
	t.AppendHeader(pick(header))

	for _, s := range stats {
		t.AppendRow(pick(GroupRecord(s)))
	}

	return t
}

// RenderGroups writes one report section in format to w.
func RenderGroups(w io.Writer, format, label string, stats []*aggregate.Stats) error {
	if format == FormatCSV {
		return WriteGroupsCSV(w, label, stats)
	}

	t := newTable(label, stats)

	var out string

	switch format {
	case FormatTable:
		out = t.Render()
	case FormatMarkdown:
		out = t.RenderMarkdown()
	case FormatHTML:
		out = t.RenderHTML()
	default:
		return fmt.Errorf("%w: %s", ErrUnknownFormat, format)
	}

	_, err := fmt.Fprintln(w, out)

	return err
}
