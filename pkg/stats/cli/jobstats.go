package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/hpc-data-analysis/hpcstats/internal/common"
	"github.com/hpc-data-analysis/hpcstats/pkg/stats/base"
	"github.com/hpc-data-analysis/hpcstats/pkg/stats/directory"
	"github.com/hpc-data-analysis/hpcstats/pkg/stats/models"
	"github.com/hpc-data-analysis/hpcstats/pkg/stats/report"
	"github.com/hpc-data-analysis/hpcstats/pkg/stats/slurmdb"
	"github.com/prometheus/common/promslog"
	"github.com/prometheus/common/promslog/flag"
	"github.com/prometheus/common/version"
)

// HPCJobStats represents the `hpc_job_stats` cli.
type HPCJobStats struct {
	appName string
	App     kingpin.Application
}

// NewHPCJobStats returns a new HPCJobStats instance.
func NewHPCJobStats() (*HPCJobStats, error) {
	return &HPCJobStats{
		appName: base.JobStatsAppName,
		App:     base.JobStatsApp,
	}, nil
}

// Main is the entry point of the `hpc_job_stats` command.
func (j *HPCJobStats) Main() error {
	var flags commonFlags

	flags.register(&j.App)

	var (
		output = j.App.Flag(
			"output",
			"Path of the job report file.",
		).Required().String()
		outputFormat = j.App.Flag(
			"output.format",
			"Format of the job report.",
		).Default(report.FormatCSV).Enum(report.JobFormats...)
		includeFaculty = j.App.Flag(
			"include-faculty",
			"Include the faculty column looked up in the directory.",
		).Default("false").Bool()
		facultyAttr = j.App.Flag(
			"faculty-attr",
			"Directory attribute holding the faculty of a user.",
		).Default("st").String()
		facultyLabel = j.App.Flag(
			"faculty-label",
			"Name of the faculty column in CSV reports.",
		).Default("faculty").String()
		anonymize = j.App.Flag(
			"report.anonymize-users",
			"Replace usernames by stable pseudonyms in the report.",
		).Default("false").Bool()
	)

	promslogConfig := &promslog.Config{}
	flag.AddFlags(&j.App, promslogConfig)
	j.App.Version(version.Print(j.appName))
	j.App.UsageWriter(os.Stdout)
	j.App.HelpFlag.Short('h')

	if _, err := j.App.Parse(os.Args[1:]); err != nil {
		return fmt.Errorf("failed to parse CLI flags: %w", err)
	}

	since, until, err := parseDateRange(flags.since, flags.until)
	if err != nil {
		return err
	}

	if err := common.LoadEnvFile(flags.envFile); err != nil {
		return err
	}

	logger := newLogger(promslogConfig, j.appName)

	storeConfig, err := loadStoreConfig(flags.configFile, logger)
	if err != nil {
		return err
	}

	var resolver *directory.Resolver

	if *includeFaculty {
		source, closer, err := newDirectorySource(&flags, logger)
		if err != nil {
			return err
		}
		defer closer.Close()

		resolver = directory.NewResolver(source, logger)
	}

	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := slurmdb.Open(ctx, storeConfig, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	f, err := report.CreateFile(*output)
	if err != nil {
		return err
	}

	var (
		w     report.JobWriter
		label string
	)

	if *includeFaculty {
		label = *facultyLabel
	}

	switch *outputFormat {
	case report.FormatParquet:
		w, err = report.NewParquetJobWriter(f)
	default:
		w, err = report.NewCSVJobWriter(f, label)
	}

	if err != nil {
		return errors.Join(err, f.Abort())
	}

	counts, err := forEachFinishedJob(ctx, store, since, until, logger, func(m models.JobMetrics) error {
		username := m.User

		if *anonymize {
			pseudonym, err := common.GetUUIDFromString([]string{m.User})
			if err != nil {
				return fmt.Errorf("failed to anonymize user %s: %w", m.User, err)
			}

			username = pseudonym
		}

		var faculty *string

		if resolver != nil {
			v := resolver.Resolve(ctx, m.User, *facultyAttr)
			faculty = &v
		}

		return w.Write(report.NewJobRecord(m, username, faculty))
	})
	if err != nil {
		logger.Error("Failed to process jobs", "err", err)

		return errors.Join(fmt.Errorf("failed to process jobs: %w", err), f.Abort())
	}

	logger.Info("Processed jobs", "count", counts.processed, "included", counts.finished)

	if resolver != nil {
		resolver.LogSummary()
	}

	if err := w.Close(); err != nil {
		return errors.Join(err, f.Abort())
	}

	if err := f.Commit(); err != nil {
		return err
	}

	logger.Info("Output saved", "path", *output, "format", *outputFormat)

	return nil
}
