package engine

import (
	"context"

	"github.com/orcheo-io/workflow-engine/internal/domain"
)

// CompleteUserTask resolves a pending USER_TASK in favor of user, merges
// outputData into the instance's context, and resumes the run loop from
// the step's NextStepID (spec §4.4 step 4, §8 scenario 4: "Complete(T.id,
// user, data) ⇒ instance advances; context now contains data").
func (e *Engine) CompleteUserTask(ctx context.Context, taskID, user string, outputData map[string]domain.Value, groupLookup func(user string, groups []string) bool) error {
	if e.userTasks == nil {
		return domain.NewError(domain.KindConfiguration, "no user task executor configured")
	}
	task, output, err := e.userTasks.Complete(ctx, taskID, user, outputData, groupLookup)
	if err != nil {
		return err
	}
	return e.advanceAfterUserTask(ctx, task, output)
}

// DelegateUserTask reassigns taskID to toUser; the instance stays WAITING
// since the step itself hasn't resolved (spec §4.4).
func (e *Engine) DelegateUserTask(ctx context.Context, taskID, fromUser, toUser, reason string, groupLookup func(user string, groups []string) bool) (*domain.UserTask, error) {
	if e.userTasks == nil {
		return nil, domain.NewError(domain.KindConfiguration, "no user task executor configured")
	}
	return e.userTasks.Delegate(ctx, taskID, fromUser, toUser, reason, groupLookup)
}

// ReclaimUserTask pulls a delegated task back to byUser; like Delegate,
// the instance stays WAITING.
func (e *Engine) ReclaimUserTask(ctx context.Context, taskID, byUser string) (*domain.UserTask, error) {
	if e.userTasks == nil {
		return nil, domain.NewError(domain.KindConfiguration, "no user task executor configured")
	}
	return e.userTasks.Reclaim(ctx, taskID, byUser)
}

// advanceAfterUserTask mirrors Skip's pattern (internal/engine/operations.go):
// record the step as resolved, flip the instance back to RUNNING, advance
// past it, and re-enter the run loop.
func (e *Engine) advanceAfterUserTask(ctx context.Context, task *domain.UserTask, output map[string]domain.Value) error {
	inst, err := e.mustLoad(ctx, task.InstanceID)
	if err != nil {
		return err
	}
	wf, err := e.loadWorkflow(ctx, inst.WorkflowID)
	if err != nil {
		return err
	}
	step := wf.StepByID(task.StepID)
	if step == nil {
		return domain.NewError(domain.KindState, "user task %s references unknown step %s", task.ID, task.StepID)
	}

	e.resetAttempts(inst.ID)
	e.mergeOutput(ctx, inst, output)
	e.recordHistory(ctx, inst, step, domain.HistorySuccess, output, "")
	inst.Status = domain.InstanceRunning
	if !e.advance(ctx, inst, step.NextStepID, wf) {
		return nil
	}
	return e.resume(ctx, inst.ID)
}
