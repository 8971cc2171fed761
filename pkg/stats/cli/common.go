// Package cli implements the CLI apps of the group and job reports
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/hpc-data-analysis/hpcstats/internal/common"
	internal_runtime "github.com/hpc-data-analysis/hpcstats/internal/runtime"
	"github.com/hpc-data-analysis/hpcstats/pkg/stats/aggregate"
	"github.com/hpc-data-analysis/hpcstats/pkg/stats/base"
	"github.com/hpc-data-analysis/hpcstats/pkg/stats/directory"
	"github.com/hpc-data-analysis/hpcstats/pkg/stats/metrics"
	"github.com/hpc-data-analysis/hpcstats/pkg/stats/models"
	"github.com/hpc-data-analysis/hpcstats/pkg/stats/slurmdb"
	"github.com/hpc-data-analysis/hpcstats/pkg/stats/tres"
	"github.com/prometheus/common/promslog"
	"github.com/prometheus/common/version"
)

// Custom errors.
var (
	ErrInvalidDateRange = errors.New("since date must be before until date")
	ErrInvalidCollateBy = errors.New("invalid collate by value. Use 'attr=label' or 'none'")
)

// Value of --collate-by selecting the global report.
const collateByNone = "none"

var collateByRegex = regexp.MustCompile(`^([a-zA-Z0-9]+)=(.+)$`)

// commonFlags are the flags shared by all apps.
type commonFlags struct {
	since               string
	until               string
	configFile          string
	envFile             string
	directoryConfigFile string
	directoryStaticMap  string
}

func (f *commonFlags) register(app *kingpin.Application) {
	app.Flag(
		"since", "Start date (YYYY-MM-DD, local time) of the job submission window. Inclusive.",
	).Required().StringVar(&f.since)
	app.Flag(
		"until", "End date (YYYY-MM-DD, local time) of the job submission window. Exclusive.",
	).Required().StringVar(&f.until)
	app.Flag(
		"config.file", "Path to the accounting database configuration file.",
	).Envar("HPCSTATS_CONFIG_FILE").Default(base.DefaultConfigFile).StringVar(&f.configFile)
	app.Flag(
		"config.env-file", "Path to a .env file whose variables can be referenced in configuration files.",
	).Default("").StringVar(&f.envFile)
	app.Flag(
		"directory.config.file", "Path to the LDAP directory configuration file.",
	).Envar("HPCSTATS_DIRECTORY_CONFIG_FILE").Default(base.DefaultDirectoryConfigFile).StringVar(&f.directoryConfigFile)
	app.Flag(
		"directory.static-map", "Path to a YAML map of users to attributes used instead of the LDAP directory.",
	).Default("").StringVar(&f.directoryStaticMap)
}

// parseDateRange returns the local midnights of since and until.
func parseDateRange(since, until string) (time.Time, time.Time, error) {
	sinceTime, err := time.ParseInLocation(base.DateLayout, since, time.Local)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("failed to parse --since: %w", err)
	}

	untilTime, err := time.ParseInLocation(base.DateLayout, until, time.Local)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("failed to parse --until: %w", err)
	}

	if !sinceTime.Before(untilTime) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %s >= %s", ErrInvalidDateRange, since, until)
	}

	return sinceTime, untilTime, nil
}

// parseCollateBy returns the dimensions of values in the order attributes
// first appear and whether the global report is asked for. When an attribute
// is repeated, its last label is used. Labels must be unique.
func parseCollateBy(values []string) ([]aggregate.Dimension, bool, error) {
	var (
		dims   []aggregate.Dimension
		global bool
	)

	for _, v := range values {
		if strings.EqualFold(v, collateByNone) {
			global = true

			continue
		}

		matches := collateByRegex.FindStringSubmatch(v)
		if matches == nil {
			return nil, false, fmt.Errorf("%w: %s", ErrInvalidCollateBy, v)
		}

		d := aggregate.Dimension{Attribute: matches[1], Label: matches[2]}

		if i := slices.IndexFunc(dims, func(e aggregate.Dimension) bool { return e.Attribute == d.Attribute }); i >= 0 {
			dims[i].Label = d.Label
		} else {
			dims = append(dims, d)
		}
	}

	labels := make(map[string]string, len(dims))

	for _, d := range dims {
		if attr, ok := labels[d.Label]; ok {
			return nil, false, fmt.Errorf("%w: label %q used by %s and %s", ErrInvalidCollateBy, d.Label, attr, d.Attribute)
		}

		labels[d.Label] = d.Attribute
	}

	return dims, global, nil
}

// globalOutputPath returns the path of the global report next to output.
func globalOutputPath(output string) string {
	global := strings.ReplaceAll(output, ".csv", "_global.csv")
	if global == output {
		global = output + "_global"
	}

	return global
}

// newLogger returns the app logger and logs startup information.
func newLogger(cfg *promslog.Config, appName string) *slog.Logger {
	logger := promslog.New(cfg)

	logger.Info("Starting "+appName, "version", version.Info())
	logger.Info("Operational information", append([]any{"build_context", version.BuildContext()}, internal_runtime.Attrs()...)...)

	return logger
}

// loadStoreConfig reads the accounting database config.
func loadStoreConfig(configFile string, logger *slog.Logger) (*slurmdb.Config, error) {
	cfg, err := common.MakeConfig[slurmdb.Config](configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	common.WarnIfReadableByOthers(configFile, logger)

	return cfg, nil
}

// newDirectorySource returns the static map when one is given and an LDAP
// client otherwise. The returned closer must be called once done.
func newDirectorySource(flags *commonFlags, logger *slog.Logger) (directory.Source, io.Closer, error) {
	if flags.directoryStaticMap != "" {
		s, err := directory.LoadStatic(flags.directoryStaticMap)
		if err != nil {
			return nil, nil, err
		}

		logger.Info("Using static directory map", "path", flags.directoryStaticMap, "users", len(s))

		return s, io.NopCloser(nil), nil
	}

	cfg, err := common.MakeConfig[directory.Config](flags.directoryConfigFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse directory config file: %w", err)
	}

	common.WarnIfReadableByOthers(flags.directoryConfigFile, logger)

	client, err := directory.NewClient(cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	return client, client, nil
}

// jobCounts are the number of jobs read and of finished jobs among them.
type jobCounts struct {
	processed int
	finished  int
}

// forEachFinishedJob calls fn with the metrics of every finished job
// submitted between since and until.
func forEachFinishedJob(
	ctx context.Context,
	store *slurmdb.Store,
	since, until time.Time,
	logger *slog.Logger,
	fn func(models.JobMetrics) error,
) (jobCounts, error) {
	defer common.TimeTrack(time.Now(), "Jobs processed", logger)

	var counts jobCounts

	steps, err := store.SpecialSteps(ctx)
	if err != nil {
		return counts, err
	}

	logger.Info("Querying jobs", "since", since.Format(base.DateLayout), "until", until.Format(base.DateLayout))

	cursor, err := store.Jobs(ctx, since, until, steps)
	if err != nil {
		return counts, err
	}
	defer cursor.Close()

	for {
		job, err := cursor.Read(ctx)
		if errors.Is(err, io.EOF) {
			return counts, nil
		}

		if err != nil {
			return counts, err
		}

		counts.processed++

		if !job.State.Finished() {
			continue
		}

		counts.finished++

		logger.Debug("Job", "jobid", job.JobID, "user", job.User, "state", job.State, "tres_req", tres.Values(job.TRESReq))

		if err := fn(metrics.Calculate(job)); err != nil {
			return counts, err
		}
	}
}
