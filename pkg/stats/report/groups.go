package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/hpc-data-analysis/hpcstats/pkg/stats/aggregate"
	"github.com/hpc-data-analysis/hpcstats/pkg/stats/models"
)

// GlobalLabel is the key column name of the global report.
const GlobalLabel = "global"

// groupColumns follow the key column in every group report.
var groupColumns = []string{
	"job_count", "job_count_success", "job_count_failed",
	"count_completed", "count_cancelled", "count_failed",
	"count_timeout", "count_node_fail", "count_preempted",
	"total_elapsed_sec", "avg_elapsed_sec",
	"total_cpu_sec", "avg_cpu_sec",
	"total_user_cpu_sec", "total_sys_cpu_sec",
	"user_cpu_pct", "sys_cpu_pct",
	"total_maxrss_bytes", "avg_maxrss_bytes",
	"total_reqmem_bytes", "avg_reqmem_bytes",
	"total_reqcpus", "avg_reqcpus",
	"total_nodes",
	"total_wait_sec", "avg_wait_sec",
	"weighted_cpu_eff_pct", "avg_cpu_eff_pct",
	"weighted_mem_eff_pct", "avg_mem_eff_pct",
	"weighted_time_eff_pct", "avg_time_eff_pct",
	"success_weighted_cpu_eff_pct", "success_avg_cpu_eff_pct",
	"success_weighted_mem_eff_pct", "success_avg_mem_eff_pct",
	"success_weighted_time_eff_pct", "success_avg_time_eff_pct",
	"exit_codes",
}

// GroupHeader returns the header of a group report keyed by label.
func GroupHeader(label string) []string {
	return append([]string{label}, groupColumns...)
}

func efficiencyValues(e aggregate.Efficiencies) []string {
	return []string{
		OptFloat(e.WeightedCPU), OptFloat(e.MeanCPU),
		OptFloat(e.WeightedMem), OptFloat(e.MeanMem),
		OptFloat(e.WeightedTime), OptFloat(e.MeanTime),
	}
}

// ExitCodes formats the exit code histogram as code:count pairs in
// ascending code order.
func ExitCodes(s *aggregate.Stats) string {
	codes := s.SortedExitCodes()
	pairs := make([]string, 0, len(codes))

	for _, code := range codes {
		pairs = append(pairs, fmt.Sprintf("%d:%d", code, s.ExitCodes[code]))
	}

	return strings.Join(pairs, ";")
}

// GroupRecord returns the report row of finalized stats s.
func GroupRecord(s *aggregate.Stats) []string {
	record := []string{
		s.Key,
		Int(s.JobCount), Int(s.SuccessCount), Int(s.FailedCount),
	}

	for _, state := range models.FinishedStates {
		record = append(record, Int(s.StateCounts[state]))
	}

	record = append(record,
		Float(s.All.Elapsed), OptFloat(s.Summary.AvgElapsed),
		Float(s.All.CPU), OptFloat(s.Summary.AvgCPU),
		Float(s.All.UserCPU), Float(s.All.SysCPU),
		OptFloat(s.Summary.UserCPUPct), OptFloat(s.Summary.SysCPUPct),
		Int(s.All.MaxRSS), OptFloat(s.Summary.AvgMaxRSS),
		Int(s.All.ReqMem), OptFloat(s.Summary.AvgReqMem),
		Int(s.All.ReqCPUs), OptFloat(s.Summary.AvgReqCPUs),
		Int(s.All.Nodes),
		Float(s.All.Wait), OptFloat(s.Summary.AvgWait),
	)
	record = append(record, efficiencyValues(s.Summary.All)...)
	record = append(record, efficiencyValues(s.Summary.Success)...)

	return append(record, ExitCodes(s))
}

// WriteGroupsCSV writes one report section, a header keyed by label followed
// by one row per group, in the order of stats.
func WriteGroupsCSV(w io.Writer, label string, stats []*aggregate.Stats) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(GroupHeader(label)); err != nil {
		return err
	}

	for _, s := range stats {
		if err := cw.Write(GroupRecord(s)); err != nil {
			return err
		}
	}

	cw.Flush()

	return cw.Error()
}
