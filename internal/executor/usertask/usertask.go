// Package usertask implements the USER_TASK step executor (C5): it
// creates a pending domain.UserTask when a step's execution reaches a
// human checkpoint, and exposes the Complete/Delegate/Reclaim operations
// spec §4.4 defines, authorized against assignee/candidateUsers/
// candidateGroups. No direct teacher equivalent existed (engine-go has no
// human-task concept); the allocation/assignment vocabulary is grounded on
// the retrieved beverage-workflow orchestrator's TaskManager/AssignTask/
// Assignee shape, rewritten in this repo's zap/stats idiom.
package usertask

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orcheo-io/workflow-engine/internal/domain"
	"github.com/orcheo-io/workflow-engine/internal/repo"
)

// AssignmentStrategy picks a single assignee out of a candidate pool at
// task-creation time (spec §4.4's direct/round_robin/load_balance/random).
type AssignmentStrategy string

const (
	AssignDirect      AssignmentStrategy = "direct"
	AssignRoundRobin  AssignmentStrategy = "round_robin"
	AssignLoadBalance AssignmentStrategy = "load_balance"
	AssignRandom      AssignmentStrategy = "random"
)

// Notifier delivers a user-task notification out of band (email/sms/system).
// The executor calls Notify synchronously; a delivery error is logged or
// ignored and never fails the step or operation.
type Notifier interface {
	Notify(ctx context.Context, task *domain.UserTask, event string) error
}

// LoadLookup reports how many open tasks a candidate currently holds, used
// by the load_balance strategy.
type LoadLookup func(ctx context.Context, candidate string) (int, error)

// Executor creates, assigns, and resolves USER_TASK steps.
type Executor struct {
	tasks     repo.UserTaskRepository
	notifiers []Notifier
	logger    *zap.Logger
	loadOf    LoadLookup

	rrCursor atomic.Uint64 // round-robin cursor, kept in-process (spec §9 open question)
}

// NewExecutor builds a user-task Executor.
func NewExecutor(tasks repo.UserTaskRepository, logger *zap.Logger, loadOf LoadLookup, notifiers ...Notifier) *Executor {
	return &Executor{tasks: tasks, logger: logger.With(zap.String("component", "usertask")), loadOf: loadOf, notifiers: notifiers}
}

func (e *Executor) Key() string { return "usertask" }

func (e *Executor) Supports(t domain.StepType) bool { return t == domain.StepUserTask }

func (e *Executor) ValidateConfig(cfg map[string]domain.Value) error {
	strategy, _ := cfg["assignmentStrategy"]
	if strategy.Kind == domain.KindString {
		switch AssignmentStrategy(strategy.Str) {
		case AssignDirect, AssignRoundRobin, AssignLoadBalance, AssignRandom:
		default:
			return domain.NewError(domain.KindConfiguration, "unknown user task assignment strategy %q", strategy.Str)
		}
	}
	return nil
}

// Execute creates a pending UserTask and returns ResultWaiting: the engine
// parks the instance until Complete resolves the task out of band;
// Delegate and Reclaim only reassign it (spec §4.4 step 1).
func (e *Executor) Execute(ctx context.Context, execCtx *domain.StepExecutionContext, cfg map[string]domain.Value) (*domain.StepExecutionResult, error) {
	candidateUsers := stringsFromValue(cfg["candidateUsers"])
	candidateGroups := stringsFromValue(cfg["candidateGroups"])

	assignee := ""
	if v, ok := cfg["assignee"]; ok && v.Kind == domain.KindString {
		assignee = v.Str
	} else if len(candidateUsers) > 0 {
		strategy := AssignDirect
		if v, ok := cfg["assignmentStrategy"]; ok && v.Kind == domain.KindString {
			strategy = AssignmentStrategy(v.Str)
		}
		assigned, err := e.pick(ctx, strategy, candidateUsers)
		if err != nil {
			return nil, err
		}
		assignee = assigned
	}

	now := time.Now().UTC()
	task := &domain.UserTask{
		ID:              uuid.NewString(),
		InstanceID:      execCtx.InstanceID,
		StepID:          execCtx.StepID,
		Assignee:        assignee,
		CandidateUsers:  candidateUsers,
		CandidateGroups: candidateGroups,
		Status:          domain.UserTaskCreated,
		CreateTime:      now,
	}
	if assignee != "" {
		task.Status = domain.UserTaskAssigned
	}

	if err := e.tasks.Save(ctx, task); err != nil {
		return nil, domain.Wrap(domain.KindResource, err, "save user task for step %s", execCtx.StepID)
	}

	for _, n := range e.notifiers {
		if err := n.Notify(ctx, task, "created"); err != nil {
			e.logger.Warn("user task notification failed", zap.Error(err), zap.String("task_id", task.ID))
		}
	}

	return &domain.StepExecutionResult{Status: domain.ResultWaiting, Message: "waiting for user task " + task.ID}, nil
}

func (e *Executor) pick(ctx context.Context, strategy AssignmentStrategy, candidates []string) (string, error) {
	if len(candidates) == 0 {
		return "", nil
	}
	switch strategy {
	case AssignRoundRobin:
		idx := e.rrCursor.Add(1) - 1
		return candidates[int(idx)%len(candidates)], nil
	case AssignLoadBalance:
		if e.loadOf == nil {
			return candidates[0], nil
		}
		best, bestLoad := candidates[0], -1
		for _, c := range candidates {
			load, err := e.loadOf(ctx, c)
			if err != nil {
				return "", domain.Wrap(domain.KindResource, err, "look up load for candidate %q", c)
			}
			if bestLoad == -1 || load < bestLoad {
				best, bestLoad = c, load
			}
		}
		return best, nil
	case AssignRandom:
		idx := time.Now().UnixNano() % int64(len(candidates))
		return candidates[idx], nil
	default: // direct: first listed candidate
		return candidates[0], nil
	}
}

// CanRetry: user tasks never auto-retry; resolution only happens via an
// explicit Complete call.
func (e *Executor) CanRetry(err error, attempt int) bool { return false }

func (e *Executor) RetryDelay(attempt int, base time.Duration) time.Duration { return 0 }

func (e *Executor) HandleTimeout(ctx context.Context, execCtx *domain.StepExecutionContext) error { return nil }

func (e *Executor) EstimateTime(cfg map[string]domain.Value) time.Duration { return 0 }

func stringsFromValue(v domain.Value) []string {
	if v.Kind != domain.KindArray {
		return nil
	}
	out := make([]string, 0, len(v.Array))
	for _, item := range v.Array {
		if item.Kind == domain.KindString {
			out = append(out, item.Str)
		}
	}
	return out
}
