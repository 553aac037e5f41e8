// Package repo defines the abstract persistence port (C8) the engine
// depends on. The core never talks to a database directly; it only calls
// through these interfaces, which a concrete adapter (internal/repo/postgres)
// implements synchronously and transactionally per call (spec §6).
package repo

import (
	"context"
	"time"

	"github.com/orcheo-io/workflow-engine/internal/domain"
)

// InstanceFilter narrows ListWithFilter results.
type InstanceFilter struct {
	WorkflowID  string
	Status      domain.InstanceStatus
	BusinessKey string
	Tag         string
	Page        int
	Size        int
}

// DefinitionRepository persists Workflow definitions.
type DefinitionRepository interface {
	Get(ctx context.Context, id string) (*domain.Workflow, error)
	ListByName(ctx context.Context, name string) ([]*domain.Workflow, error)
	Save(ctx context.Context, wf *domain.Workflow) error
	UpdateStatus(ctx context.Context, id string, status domain.WorkflowStatus) error
}

// InstanceRepository persists Instance runtime state.
type InstanceRepository interface {
	Get(ctx context.Context, id string) (*domain.Instance, error)
	ListByBusinessKey(ctx context.Context, businessKey string) ([]*domain.Instance, error)
	ListWithFilter(ctx context.Context, filter InstanceFilter) ([]*domain.Instance, error)
	Save(ctx context.Context, inst *domain.Instance) error
	Update(ctx context.Context, inst *domain.Instance) error
	DeleteCascade(ctx context.Context, id string) error
}

// HistoryRepository persists ExecutionHistory entries.
type HistoryRepository interface {
	AppendEntry(ctx context.Context, instanceID string, entry *domain.ExecutionHistory) error
	ListByInstance(ctx context.Context, instanceID string) ([]*domain.ExecutionHistory, error)
	DeleteByInstance(ctx context.Context, instanceID string) error
	// DeleteAfter removes history entries for instanceID whose StartedTime is
	// after cutoff (used by RollbackTo to prune post-target history).
	DeleteAfter(ctx context.Context, instanceID string, cutoff time.Time) error
}

// GroupLookup resolves whether user belongs to one of groups; injected,
// external to the core (spec §4.4).
type GroupLookup func(ctx context.Context, user string, groups []string) (bool, error)

// UserTaskRepository persists UserTask rows.
type UserTaskRepository interface {
	Save(ctx context.Context, t *domain.UserTask) error
	Get(ctx context.Context, id string) (*domain.UserTask, error)
	ListByInstance(ctx context.Context, instanceID string) ([]*domain.UserTask, error)
	ListPendingForUser(ctx context.Context, user string, lookup GroupLookup, page, size int) ([]*domain.UserTask, error)
	Update(ctx context.Context, t *domain.UserTask) error
	Delete(ctx context.Context, id string) error
	DeleteByInstance(ctx context.Context, instanceID string) error
	// DeleteNotForStep removes user tasks for instanceID not belonging to
	// keepStepID (used by RollbackTo).
	DeleteNotForStep(ctx context.Context, instanceID, keepStepID string) error
}

// VariableRepository persists Variable rows.
type VariableRepository interface {
	Upsert(ctx context.Context, v *domain.Variable) error
	Lookup(ctx context.Context, instanceID string, scope domain.VariableScope, name, stepID string) (*domain.Variable, error)
	Delete(ctx context.Context, instanceID string, scope domain.VariableScope, name, stepID string) error
	ListByInstance(ctx context.Context, instanceID string) ([]*domain.Variable, error)
}

// Repository aggregates the five ports the engine depends on.
type Repository interface {
	Definitions() DefinitionRepository
	Instances() InstanceRepository
	History() HistoryRepository
	UserTasks() UserTaskRepository
	Variables() VariableRepository
}
