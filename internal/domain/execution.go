package domain

import "time"

// ResultStatus is the outcome a step Executor reports back to the engine.
type ResultStatus string

const (
	ResultSuccess            ResultStatus = "SUCCESS"
	ResultFailed             ResultStatus = "FAILED"
	ResultWaiting            ResultStatus = "WAITING"
	ResultRetry              ResultStatus = "RETRY"
	ResultSkipped            ResultStatus = "SKIPPED"
	ResultCancelled          ResultStatus = "CANCELLED"
	ResultConditionNotMet    ResultStatus = "CONDITION_NOT_MET"
	ResultTimeout            ResultStatus = "TIMEOUT"
)

// StepExecutionContext is the per-invocation snapshot handed to an
// Executor (spec §4.1 step 5).
type StepExecutionContext struct {
	InstanceID      string
	StepID          string
	User            string
	InputParameters map[string]Value
	InstanceContext map[string]Value
	StartTime       time.Time
	TimeoutMs       int64
	RetryCount      int
	Priority        int
	Async           bool
}

// StepExecutionResult is what an Executor returns from Execute.
type StepExecutionResult struct {
	Status     ResultStatus
	OutputData map[string]Value
	Error      error
	NeedRetry  bool
	Message    string
}

// BranchExecutionResult is the outcome of one parallel branch (spec §4.5).
type BranchExecutionResult struct {
	BranchID        string
	Status          ResultStatus
	OutputData      map[string]Value
	ExecutionTimeMs int64
	Error           string
	// CompletedSeq orders branches by completion, not launch order; zero
	// means the branch never ran (e.g. skipped after a failFast stop).
	// JoinFirst uses this to pick the branch that actually finished first.
	CompletedSeq int64
}

// JoinResult is the parallel step's aggregated outcome (spec §4.5).
type JoinResult struct {
	Success    bool
	Message    string
	MergedData map[string]Value
}
