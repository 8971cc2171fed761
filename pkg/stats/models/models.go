// Package models defines the types shared by the accounting store, the metric
// calculator, the aggregator and the report writers
package models

import (
	"strconv"
)

// JobState is the numeric job state as stored in the slurmdbd job table.
type JobState int64

// Slurm job states. Only the states of jobs that ran and ended are named.
// See https://slurm.schedmd.com/squeue.html#SECTION_JOB-STATE-CODES
const (
	StateCompleted JobState = 3
	StateCancelled JobState = 4
	StateFailed    JobState = 5
	StateTimeout   JobState = 6
	StateNodeFail  JobState = 7
	StatePreempted JobState = 8
)

// FinishedStates in the order they are reported.
var FinishedStates = []JobState{
	StateCompleted,
	StateCancelled,
	StateFailed,
	StateTimeout,
	StateNodeFail,
	StatePreempted,
}

var stateNames = map[JobState]string{
	StateCompleted: "completed",
	StateCancelled: "cancelled",
	StateFailed:    "failed",
	StateTimeout:   "timeout",
	StateNodeFail:  "node_fail",
	StatePreempted: "preempted",
}

// String returns the lower case name of a finished state or the numeric
// value for any other state.
func (s JobState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}

	return strconv.FormatInt(int64(s), 10)
}

// Finished returns true when the job ran and ended.
func (s JobState) Finished() bool {
	_, ok := stateNames[s]

	return ok
}

// Success returns true when the job completed.
func (s JobState) Success() bool {
	return s == StateCompleted
}

// StepTotals are the per job counters folded from the step table.
type StepTotals struct {
	UserSec  int64 // User CPU seconds of regular steps, or of the batch step when those sum to zero
	UserUsec int64 // Microsecond part of user CPU time, same selection as UserSec
	SysSec   int64 // System CPU seconds, same selection as UserSec
	SysUsec  int64 // Microsecond part of system CPU time
	MaxRSS   int64 // Largest memory high water mark in bytes over all steps
}

// Job is a job read from the accounting store. All nullable columns are
// coerced to zero values by the store.
type Job struct {
	DBIndex   int64    // Primary key of the job table
	JobID     int64    // Slurm job ID
	User      string   // Username from the association table
	State     JobState // Raw job state
	ExitCode  int64    // Raw exit code
	Submit    int64    // Unix seconds, 0 when unset
	Start     int64    // Unix seconds, 0 when unset
	End       int64    // Unix seconds, 0 when unset
	CPUsReq   int64    // Requested CPUs column
	TRESReq   string   // Requested TRES string
	Timelimit int64    // Time limit in minutes, 0 when unlimited
	Nodes     int64    // Number of allocated nodes
	Steps     StepTotals
}

// JobMetrics are the derived per job quantities. Pointer fields are nil
// when the quantity is undefined for the job.
type JobMetrics struct {
	JobID    int64
	User     string
	State    JobState
	ExitCode int64

	Elapsed      float64 // Wall time in seconds
	Wait         float64 // Queue time in seconds. Can be negative on clock skew
	TimelimitSec int64
	TotalCPU     float64 // User plus system CPU seconds
	UserCPU      float64
	SysCPU       float64
	ReqCPUs      int64
	MaxRSS       int64 // Bytes
	ReqMem       int64 // Bytes
	CPURequested float64 // Elapsed times requested CPUs
	Nodes        int64

	CPUEff     *float64 // Percent
	MemEff     *float64 // Percent
	TimeEff    *float64 // Percent
	UserCPUPct *float64

	Success bool
}
