// Package base defines the names and variables that have global scope
// throughout which can be used in other subpackages
package base

import (
	"time"

	"github.com/alecthomas/kingpin/v2"
)

// StatsAppName is kingpin app name of the group report.
const StatsAppName = "hpc_stats"

// StatsApp is kingpin CLI app of the group report.
var StatsApp = *kingpin.New(
	StatsAppName,
	"Efficiency statistics of finished Slurm jobs collated by directory attributes.",
)

// JobStatsAppName is kingpin app name of the job report.
const JobStatsAppName = "hpc_job_stats"

// JobStatsApp is kingpin CLI app of the job report.
var JobStatsApp = *kingpin.New(
	JobStatsAppName,
	"Efficiency metrics of every finished Slurm job for distribution analysis.",
)

// DateLayout of --since and --until.
const DateLayout = time.DateOnly

// Default config file paths.
const (
	DefaultConfigFile          = "config.yaml"
	DefaultDirectoryConfigFile = "/etc/hpc_export_stats.yaml"
)
