// Package metrics derives per job efficiency metrics from accounting records
package metrics

import (
	"github.com/hpc-data-analysis/hpcstats/pkg/stats/models"
	"github.com/hpc-data-analysis/hpcstats/pkg/stats/tres"
)

const (
	usecPerSec  = 1_000_000
	bytesPerMiB = 1024 * 1024
)

// Calculate returns the metrics of job. It is a pure function of job.
func Calculate(job models.Job) models.JobMetrics {
	m := models.JobMetrics{
		JobID:        job.JobID,
		User:         job.User,
		State:        job.State,
		ExitCode:     job.ExitCode,
		TimelimitSec: job.Timelimit * 60,
		MaxRSS:       job.Steps.MaxRSS,
		Nodes:        job.Nodes,
		Success:      job.State.Success(),
	}

	if job.End > 0 && job.Start > 0 {
		m.Elapsed = float64(job.End - job.Start)
	}

	if job.Start > 0 && job.Submit > 0 {
		m.Wait = float64(job.Start - job.Submit)
	}

	m.UserCPU = float64(job.Steps.UserSec) + float64(job.Steps.UserUsec)/usecPerSec
	m.SysCPU = float64(job.Steps.SysSec) + float64(job.Steps.SysUsec)/usecPerSec
	m.TotalCPU = m.UserCPU + m.SysCPU

	m.ReqCPUs = tres.Value(job.TRESReq, tres.CPU)
	if m.ReqCPUs == 0 {
		m.ReqCPUs = job.CPUsReq
	}

	// tres_req stores memory in MiB
	m.ReqMem = tres.Value(job.TRESReq, tres.Mem) * bytesPerMiB

	m.CPURequested = m.Elapsed * float64(m.ReqCPUs)
	m.CPUEff = percent(m.TotalCPU, m.CPURequested)
	m.MemEff = percent(float64(m.MaxRSS), float64(m.ReqMem))
	m.TimeEff = percent(m.Elapsed, float64(m.TimelimitSec))
	m.UserCPUPct = percent(m.UserCPU, m.TotalCPU)

	return m
}

// percent returns num/den*100 or nil when den is not positive.
func percent(num, den float64) *float64 {
	if den <= 0 {
		return nil
	}

	v := num / den * 100

	return &v
}
