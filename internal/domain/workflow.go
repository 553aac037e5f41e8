// Package domain holds the immutable workflow definition types and the
// mutable runtime instance types the engine operates on.
package domain

import "time"

// WorkflowStatus is the lifecycle status of a workflow definition.
type WorkflowStatus string

const (
	WorkflowDraft      WorkflowStatus = "DRAFT"
	WorkflowActive     WorkflowStatus = "ACTIVE"
	WorkflowSuspended  WorkflowStatus = "SUSPENDED"
	WorkflowCompleted  WorkflowStatus = "COMPLETED"
	WorkflowTerminated WorkflowStatus = "TERMINATED"
)

// StepType enumerates the kinds of step a workflow definition may contain.
type StepType string

const (
	StepTask            StepType = "TASK"
	StepUserTask        StepType = "USER_TASK"
	StepCondition       StepType = "CONDITION"
	StepParallelGateway StepType = "PARALLEL_GATEWAY"
	StepMergeGateway    StepType = "MERGE_GATEWAY"
	StepServiceCall     StepType = "SERVICE_CALL"
	StepScript          StepType = "SCRIPT"
	StepEmail           StepType = "EMAIL"
	StepTimer           StepType = "TIMER"
	StepStart           StepType = "START"
	StepEnd             StepType = "END"
)

// Precondition decides whether a step is eligible to run given the current
// instance context. A nil precondition is always true.
type Precondition func(ctx map[string]Value) bool

// Workflow is an immutable definition: a dense, ordered list of steps plus
// routing and config. Workflows are shared across instances and are never
// mutated after Publish.
type Workflow struct {
	ID          string
	Name        string
	Version     int
	Description string
	Status      WorkflowStatus
	Steps       []*Step
	Config      map[string]Value
	CreateTime  time.Time
	UpdateTime  time.Time
}

// Step is an immutable unit of work inside a Workflow.
type Step struct {
	ID              string
	Name            string
	Description     string
	Order           int // 1-based, dense within a workflow
	Type            StepType
	ExecutorKey     string
	Config          map[string]Value
	Precondition    Precondition
	// PreconditionKey names a predicate in the host's predicate registry
	// (see internal/engine.PredicateRegistry) re-attached to Precondition
	// after a Workflow loads from storage, since a Go closure cannot
	// itself be persisted.
	PreconditionKey string
	NextStepID      string
	ErrorStepID     string
	Optional        bool
	TimeoutSeconds  int
	RetryCount      int
	Rollbackable    bool
}

// StepByID returns the step with the given id, or nil.
func (w *Workflow) StepByID(id string) *Step {
	for _, s := range w.Steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// StepByOrder returns the step at 1-based order n, or nil.
func (w *Workflow) StepByOrder(n int) *Step {
	if n < 1 || n > len(w.Steps) {
		return nil
	}
	return w.Steps[n-1]
}

// FirstStep returns the START step if present, else the first declared step.
func (w *Workflow) FirstStep() *Step {
	for _, s := range w.Steps {
		if s.Type == StepStart {
			return s
		}
	}
	if len(w.Steps) == 0 {
		return nil
	}
	return w.Steps[0]
}

// Validate checks the dense-order/unique-id invariants from spec §3.
func (w *Workflow) Validate() error {
	if len(w.Steps) == 0 {
		return NewError(KindConfiguration, "workflow has no steps")
	}
	seen := make(map[string]bool, len(w.Steps))
	for i, s := range w.Steps {
		if s.Order != i+1 {
			return NewError(KindConfiguration, "step order is not dense: step %q has order %d, expected %d", s.ID, s.Order, i+1)
		}
		if seen[s.ID] {
			return NewError(KindConfiguration, "duplicate step id %q", s.ID)
		}
		seen[s.ID] = true
		if requiresExecutor(s.Type) && s.ExecutorKey == "" {
			return NewError(KindConfiguration, "step %q of type %s requires an executor key", s.ID, s.Type)
		}
	}
	return nil
}

func requiresExecutor(t StepType) bool {
	switch t {
	case StepStart, StepEnd, StepCondition, StepMergeGateway:
		return false
	default:
		return true
	}
}

// CanPublish reports whether the workflow may transition DRAFT -> ACTIVE.
func (w *Workflow) CanPublish() bool { return w.Status == WorkflowDraft }

// CanSpawnInstances reports whether Start() may create instances of w.
func (w *Workflow) CanSpawnInstances() bool { return w.Status == WorkflowActive }

// CanEdit reports whether the workflow definition may still be mutated.
func (w *Workflow) CanEdit() bool { return w.Status == WorkflowDraft }
