package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/hpc-data-analysis/hpcstats/internal/common"
	"github.com/hpc-data-analysis/hpcstats/pkg/stats/aggregate"
	"github.com/hpc-data-analysis/hpcstats/pkg/stats/base"
	"github.com/hpc-data-analysis/hpcstats/pkg/stats/directory"
	"github.com/hpc-data-analysis/hpcstats/pkg/stats/models"
	"github.com/hpc-data-analysis/hpcstats/pkg/stats/report"
	"github.com/hpc-data-analysis/hpcstats/pkg/stats/slurmdb"
	"github.com/prometheus/common/promslog"
	"github.com/prometheus/common/promslog/flag"
	"github.com/prometheus/common/version"
)

// HPCStats represents the `hpc_stats` cli.
type HPCStats struct {
	appName string
	App     kingpin.Application
	stdout  io.Writer
}

// NewHPCStats returns a new HPCStats instance.
func NewHPCStats() (*HPCStats, error) {
	return &HPCStats{
		appName: base.StatsAppName,
		App:     base.StatsApp,
		stdout:  os.Stdout,
	}, nil
}

// Main is the entry point of the `hpc_stats` command.
func (s *HPCStats) Main() error {
	var flags commonFlags

	flags.register(&s.App)

	var (
		collateBy = s.App.Flag(
			"collate-by",
			"Directory attribute to collate jobs by as attr=label, eg st=faculty, or 'none' for global statistics. Can be repeated.",
		).Required().Strings()
		output = s.App.Flag(
			"output",
			"Path of the report file. Global statistics are saved next to it with a _global suffix. Report is printed when empty.",
		).Default("").String()
		outputFormat = s.App.Flag(
			"output.format",
			"Format of the report.",
		).Default(report.FormatCSV).Enum(report.GroupFormats...)
		textfile = s.App.Flag(
			"metrics.textfile",
			"Path of a Prometheus text file to export group efficiencies to, eg for node_exporter textfile collector.",
		).Default("").String()
	)

	promslogConfig := &promslog.Config{}
	flag.AddFlags(&s.App, promslogConfig)
	s.App.Version(version.Print(s.appName))
	s.App.UsageWriter(os.Stdout)
	s.App.HelpFlag.Short('h')

	if _, err := s.App.Parse(os.Args[1:]); err != nil {
		return fmt.Errorf("failed to parse CLI flags: %w", err)
	}

	since, until, err := parseDateRange(flags.since, flags.until)
	if err != nil {
		return err
	}

	dims, global, err := parseCollateBy(*collateBy)
	if err != nil {
		return err
	}

	if err := common.LoadEnvFile(flags.envFile); err != nil {
		return err
	}

	logger := newLogger(promslogConfig, s.appName)

	// Read all configs before touching the database
	storeConfig, err := loadStoreConfig(flags.configFile, logger)
	if err != nil {
		return err
	}

	var (
		resolver    aggregate.Resolver
		dirResolver *directory.Resolver
	)

	if len(dims) > 0 {
		source, closer, err := newDirectorySource(&flags, logger)
		if err != nil {
			return err
		}
		defer closer.Close()

		dirResolver = directory.NewResolver(source, logger)
		resolver = dirResolver
	}

	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := slurmdb.Open(ctx, storeConfig, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	agg := aggregate.New(dims, global, resolver)

	counts, err := forEachFinishedJob(ctx, store, since, until, logger, func(m models.JobMetrics) error {
		agg.Add(ctx, m)

		return nil
	})
	if err != nil {
		logger.Error("Failed to process jobs", "err", err)

		return fmt.Errorf("failed to process jobs: %w", err)
	}

	logger.Info("Processed jobs", "count", counts.processed, "finished", counts.finished)

	if dirResolver != nil {
		dirResolver.LogSummary()
	}

	for _, g := range agg.Groupings() {
		logger.Info("Groups found", "attribute", g.Attribute, "label", g.Label, "groups", g.Keys())
	}

	if err := writeGroupReports(s.stdout, *output, *outputFormat, agg, logger); err != nil {
		return err
	}

	if *textfile != "" {
		if err := report.WriteTextfile(*textfile, until.Unix(), agg.Groupings(), agg.Global()); err != nil {
			return err
		}

		logger.Info("Metrics saved", "path", *textfile)
	}

	return nil
}

// writeGroupReports writes one section per grouping to output and the global
// report to its own file. Reports are printed to stdout when output is empty.
func writeGroupReports(stdout io.Writer, output, format string, agg *aggregate.Aggregator, logger *slog.Logger) error {
	global := agg.Global()

	if output == "" {
		for _, g := range agg.Groupings() {
			logger.Info("Statistics collated by " + g.Label)

			if err := report.RenderGroups(stdout, format, g.Label, g.Sorted()); err != nil {
				return err
			}
		}

		if global != nil {
			logger.Info("Global statistics")

			return report.RenderGroups(stdout, format, report.GlobalLabel, global.Sorted())
		}

		return nil
	}

	var files []*report.File

	abort := func(err error) error {
		for _, f := range files {
			err = errors.Join(err, f.Abort())
		}

		return err
	}

	if len(agg.Groupings()) > 0 {
		f, err := report.CreateFile(output)
		if err != nil {
			return err
		}

		files = append(files, f)

		for _, g := range agg.Groupings() {
			if err := report.RenderGroups(f, format, g.Label, g.Sorted()); err != nil {
				return abort(err)
			}
		}
	}

	if global != nil {
		f, err := report.CreateFile(globalOutputPath(output))
		if err != nil {
			return abort(err)
		}

		files = append(files, f)

		if err := report.RenderGroups(f, format, report.GlobalLabel, global.Sorted()); err != nil {
			return abort(err)
		}
	}

	if err := report.CommitAll(files...); err != nil {
		return err
	}

	for _, f := range files {
		logger.Info("Statistics saved", "path", f.Path())
	}

	return nil
}
