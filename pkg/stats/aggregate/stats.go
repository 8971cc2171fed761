// Package aggregate folds per job metrics into per group statistics
package aggregate

import (
	"maps"
	"slices"

	"github.com/hpc-data-analysis/hpcstats/pkg/stats/models"
)

// Ratio accumulates the non nil values of a per job ratio to compute
// its arithmetic mean.
type Ratio struct {
	Sum   float64
	Count int64
}

func (r *Ratio) add(v *float64) {
	if v == nil {
		return
	}

	r.Sum += *v
	r.Count++
}

// Mean returns the mean of the accumulated values or nil when there are none.
func (r Ratio) Mean() *float64 {
	return ratio(r.Sum, float64(r.Count), 1)
}

// Totals are the running sums over a set of jobs.
type Totals struct {
	Elapsed      float64
	CPU          float64
	UserCPU      float64
	SysCPU       float64
	MaxRSS       int64
	ReqMem       int64
	ReqCPUs      int64
	Timelimit    int64
	Nodes        int64
	Wait         float64
	CPURequested float64

	CPUEff  Ratio
	MemEff  Ratio
	TimeEff Ratio
}

func (t *Totals) add(m models.JobMetrics) {
	t.Elapsed += m.Elapsed
	t.CPU += m.TotalCPU
	t.UserCPU += m.UserCPU
	t.SysCPU += m.SysCPU
	t.MaxRSS += m.MaxRSS
	t.ReqMem += m.ReqMem
	t.ReqCPUs += m.ReqCPUs
	t.Timelimit += m.TimelimitSec
	t.Nodes += m.Nodes
	t.Wait += m.Wait
	t.CPURequested += m.CPURequested

	t.CPUEff.add(m.CPUEff)
	t.MemEff.add(m.MemEff)
	t.TimeEff.add(m.TimeEff)
}

func (t *Totals) merge(o Totals) {
	t.Elapsed += o.Elapsed
	t.CPU += o.CPU
	t.UserCPU += o.UserCPU
	t.SysCPU += o.SysCPU
	t.MaxRSS += o.MaxRSS
	t.ReqMem += o.ReqMem
	t.ReqCPUs += o.ReqCPUs
	t.Timelimit += o.Timelimit
	t.Nodes += o.Nodes
	t.Wait += o.Wait
	t.CPURequested += o.CPURequested

	for _, p := range []struct{ dst, src *Ratio }{
		{&t.CPUEff, &o.CPUEff},
		{&t.MemEff, &o.MemEff},
		{&t.TimeEff, &o.TimeEff},
	} {
		p.dst.Sum += p.src.Sum
		p.dst.Count += p.src.Count
	}
}

// Efficiencies are the weighted (ratio of sums) and mean (mean of per job
// ratios) efficiencies of a set of jobs in percent.
type Efficiencies struct {
	WeightedCPU  *float64
	MeanCPU      *float64
	WeightedMem  *float64
	MeanMem      *float64
	WeightedTime *float64
	MeanTime     *float64
}

func (t Totals) efficiencies() Efficiencies {
	return Efficiencies{
		WeightedCPU:  ratio(t.CPU, t.CPURequested, 100),
		MeanCPU:      t.CPUEff.Mean(),
		WeightedMem:  ratio(float64(t.MaxRSS), float64(t.ReqMem), 100),
		MeanMem:      t.MemEff.Mean(),
		WeightedTime: ratio(t.Elapsed, float64(t.Timelimit), 100),
		MeanTime:     t.TimeEff.Mean(),
	}
}

// Summary holds the values derived from the running sums by Finalize.
type Summary struct {
	AvgElapsed *float64
	AvgCPU     *float64
	AvgMaxRSS  *float64
	AvgReqMem  *float64
	AvgReqCPUs *float64
	AvgWait    *float64
	UserCPUPct *float64
	SysCPUPct  *float64

	All     Efficiencies
	Success Efficiencies
}

// Stats is the accumulator of one group.
type Stats struct {
	Key          string
	JobCount     int64
	SuccessCount int64
	FailedCount  int64
	StateCounts  map[models.JobState]int64
	ExitCodes    map[int64]int64

	All     Totals // Over all folded jobs
	Success Totals // Over successful jobs only

	Summary Summary
}

// NewStats returns an empty accumulator for key.
func NewStats(key string) *Stats {
	return &Stats{
		Key:         key,
		StateCounts: make(map[models.JobState]int64),
		ExitCodes:   make(map[int64]int64),
	}
}

// Fold adds the metrics of one job.
func (s *Stats) Fold(m models.JobMetrics) {
	s.JobCount++

	if m.Success {
		s.SuccessCount++
	} else {
		s.FailedCount++
	}

	if m.State.Finished() {
		s.StateCounts[m.State]++
	}

	s.ExitCodes[m.ExitCode]++

	s.All.add(m)

	if m.Success {
		s.Success.add(m)
	}
}

// Merge adds the sums and counters of o into s. Summary of s is left
// untouched and must be recomputed with Finalize.
func (s *Stats) Merge(o *Stats) {
	s.JobCount += o.JobCount
	s.SuccessCount += o.SuccessCount
	s.FailedCount += o.FailedCount

	for state, count := range o.StateCounts {
		s.StateCounts[state] += count
	}

	for code, count := range o.ExitCodes {
		s.ExitCodes[code] += count
	}

	s.All.merge(o.All)
	s.Success.merge(o.Success)
}

// Finalize computes Summary from the running sums. It can be called any
// number of times.
func (s *Stats) Finalize() {
	jobs := float64(s.JobCount)
	cpu := s.All.UserCPU + s.All.SysCPU

	s.Summary = Summary{
		AvgElapsed: ratio(s.All.Elapsed, jobs, 1),
		AvgCPU:     ratio(s.All.CPU, jobs, 1),
		AvgMaxRSS:  ratio(float64(s.All.MaxRSS), jobs, 1),
		AvgReqMem:  ratio(float64(s.All.ReqMem), jobs, 1),
		AvgReqCPUs: ratio(float64(s.All.ReqCPUs), jobs, 1),
		AvgWait:    ratio(s.All.Wait, jobs, 1),
		UserCPUPct: ratio(s.All.UserCPU, cpu, 100),
		SysCPUPct:  ratio(s.All.SysCPU, cpu, 100),
		All:        s.All.efficiencies(),
		Success:    s.Success.efficiencies(),
	}
}

// SortedExitCodes returns the exit codes seen in ascending order.
func (s *Stats) SortedExitCodes() []int64 {
	return slices.Sorted(maps.Keys(s.ExitCodes))
}

// ratio returns num/den*scale or nil when den is not positive.
func ratio(num, den, scale float64) *float64 {
	if den <= 0 {
		return nil
	}

	v := num / den * scale

	return &v
}
