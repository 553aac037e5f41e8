package engine

import (
	"context"
	"time"

	"github.com/orcheo-io/workflow-engine/internal/domain"
)

// Suspend parks a RUNNING/WAITING instance (spec §4.2's operation
// authority matrix: SUSP is permitted from RUNNING/WAITING only).
func (e *Engine) Suspend(ctx context.Context, instanceID string) error {
	inst, err := e.mustLoad(ctx, instanceID)
	if err != nil {
		return err
	}
	if !inst.CanSuspend() {
		return domain.NewError(domain.KindState, "instance %s in status %s cannot be suspended", instanceID, inst.Status).WithInstance(instanceID, "")
	}
	e.cancelRun(instanceID)
	e.setStatus(ctx, inst, domain.InstanceSuspended)
	return nil
}

// Resume reactivates a SUSPENDED instance and re-enters the run loop from
// its CurrentStepID (spec §4.2: RES permitted from SUSPENDED only).
func (e *Engine) Resume(ctx context.Context, instanceID string) error {
	inst, err := e.mustLoad(ctx, instanceID)
	if err != nil {
		return err
	}
	if !inst.CanResume() {
		return domain.NewError(domain.KindState, "instance %s in status %s cannot be resumed", instanceID, inst.Status).WithInstance(instanceID, "")
	}
	e.setStatus(ctx, inst, domain.InstanceRunning)
	return e.resume(ctx, instanceID)
}

// Terminate force-ends a non-terminal instance immediately without
// following any error routing (spec §4.2: TERM permitted unless already
// terminal).
func (e *Engine) Terminate(ctx context.Context, instanceID, reason string) error {
	inst, err := e.mustLoad(ctx, instanceID)
	if err != nil {
		return err
	}
	if !inst.CanTerminate() {
		return domain.NewError(domain.KindState, "instance %s in status %s cannot be terminated", instanceID, inst.Status).WithInstance(instanceID, "")
	}
	e.cancelRun(instanceID)
	now := time.Now().UTC()
	inst.Status = domain.InstanceTerminated
	inst.EndTime = &now
	inst.UpdateTime = now
	inst.ErrorMessage = reason
	if err := e.repo.Instances().Update(ctx, inst); err != nil {
		return domain.Wrap(domain.KindResource, err, "persist terminate for instance %s", instanceID)
	}
	e.metrics.InstanceCompleted(inst.WorkflowID, "terminated")
	return nil
}

// Cancel marks a non-terminal instance CANCELLED, distinct from Terminate
// in intent (user-initiated abandonment rather than operator force-stop)
// though the mechanics are identical (spec §4.2: CANC permitted unless
// already terminal).
func (e *Engine) Cancel(ctx context.Context, instanceID, reason string) error {
	inst, err := e.mustLoad(ctx, instanceID)
	if err != nil {
		return err
	}
	if inst.Status.IsTerminal() {
		return domain.NewError(domain.KindState, "instance %s in status %s cannot be cancelled", instanceID, inst.Status).WithInstance(instanceID, "")
	}
	e.cancelRun(instanceID)
	now := time.Now().UTC()
	inst.Status = domain.InstanceCancelled
	inst.EndTime = &now
	inst.UpdateTime = now
	inst.ErrorMessage = reason
	if err := e.repo.Instances().Update(ctx, inst); err != nil {
		return domain.Wrap(domain.KindResource, err, "persist cancel for instance %s", instanceID)
	}
	e.metrics.InstanceCompleted(inst.WorkflowID, "cancelled")
	return nil
}

// Retry re-attempts the current step of a FAILED instance, resetting it to
// RUNNING (spec §4.2: RETRY permitted from FAILED only).
func (e *Engine) Retry(ctx context.Context, instanceID string) error {
	inst, err := e.mustLoad(ctx, instanceID)
	if err != nil {
		return err
	}
	if inst.Status != domain.InstanceFailed {
		return domain.NewError(domain.KindState, "instance %s in status %s cannot be retried", instanceID, inst.Status).WithInstance(instanceID, "")
	}
	e.resetAttempts(instanceID)
	inst.Status = domain.InstanceRunning
	inst.ErrorMessage = ""
	inst.UpdateTime = time.Now().UTC()
	if err := e.repo.Instances().Update(ctx, inst); err != nil {
		return domain.Wrap(domain.KindResource, err, "persist retry for instance %s", instanceID)
	}
	return e.resume(ctx, instanceID)
}

// Skip advances a FAILED or WAITING instance past its current step without
// executing it, following the step's normal NextStepID routing (spec
// §4.2: SKIP, used to manually clear a stuck step).
func (e *Engine) Skip(ctx context.Context, instanceID string) error {
	inst, err := e.mustLoad(ctx, instanceID)
	if err != nil {
		return err
	}
	if inst.Status != domain.InstanceFailed && inst.Status != domain.InstanceWaiting {
		return domain.NewError(domain.KindState, "instance %s in status %s cannot be skipped", instanceID, inst.Status).WithInstance(instanceID, "")
	}
	wf, err := e.loadWorkflow(ctx, inst.WorkflowID)
	if err != nil {
		return err
	}
	step := wf.StepByID(inst.CurrentStepID)
	if step == nil {
		return domain.NewError(domain.KindState, "instance %s references unknown step %s", instanceID, inst.CurrentStepID)
	}
	e.resetAttempts(instanceID)
	e.recordHistory(ctx, inst, step, domain.HistorySkipped, nil, "manually skipped")
	inst.Status = domain.InstanceRunning
	if !e.advance(ctx, inst, step.NextStepID, wf) {
		return nil
	}
	return e.resume(ctx, instanceID)
}

// RollbackTo moves an instance's CurrentStepID back to targetStepID,
// pruning history recorded after that step and user tasks of other steps
// (spec §4.2: ROLL). A FAILED instance may be rolled back; any other
// terminal status is rejected. The target step must be Rollbackable and
// must have a SUCCESS history entry.
func (e *Engine) RollbackTo(ctx context.Context, instanceID, targetStepID string) error {
	inst, err := e.mustLoad(ctx, instanceID)
	if err != nil {
		return err
	}
	if inst.Status.IsTerminal() && inst.Status != domain.InstanceFailed {
		return domain.NewError(domain.KindState, "instance %s in status %s cannot be rolled back", instanceID, inst.Status).WithInstance(instanceID, "")
	}
	wf, err := e.loadWorkflow(ctx, inst.WorkflowID)
	if err != nil {
		return err
	}
	target := wf.StepByID(targetStepID)
	if target == nil {
		return domain.NewError(domain.KindConfiguration, "rollback target step %s not found", targetStepID)
	}
	if !target.Rollbackable {
		return domain.NewError(domain.KindState, "step %s is not marked rollbackable", target.ID).WithInstance(instanceID, target.ID)
	}

	history, err := e.repo.History().ListByInstance(ctx, instanceID)
	if err != nil {
		return domain.Wrap(domain.KindResource, err, "load history for rollback of instance %s", instanceID)
	}
	var lastSuccess *domain.ExecutionHistory
	for _, h := range history {
		if h.StepID != targetStepID || h.Status != domain.HistorySuccess {
			continue
		}
		if lastSuccess == nil || h.CompletedTime.After(lastSuccess.CompletedTime) {
			lastSuccess = h
		}
	}
	if lastSuccess == nil {
		return domain.NewError(domain.KindState, "step %s has no successful run to roll back to", targetStepID).WithInstance(instanceID, target.ID)
	}

	if err := e.repo.History().DeleteAfter(ctx, instanceID, lastSuccess.CompletedTime); err != nil {
		return domain.Wrap(domain.KindResource, err, "prune history for rollback of instance %s", instanceID)
	}
	if err := e.repo.UserTasks().DeleteNotForStep(ctx, instanceID, targetStepID); err != nil {
		return domain.Wrap(domain.KindResource, err, "prune user tasks for rollback of instance %s", instanceID)
	}

	e.resetAttempts(instanceID)
	inst.CurrentStepID = targetStepID
	inst.CurrentStepOrder = target.Order
	inst.Status = domain.InstanceRunning
	inst.UpdateTime = time.Now().UTC()
	if err := e.repo.Instances().Update(ctx, inst); err != nil {
		return domain.Wrap(domain.KindResource, err, "persist rollback for instance %s", instanceID)
	}
	e.recordHistory(ctx, inst, target, domain.HistoryRollback, nil, "rolled back to this step")
	return e.resume(ctx, instanceID)
}

// UpdateContext merges updates into a non-terminal instance's context
// (spec §4.2: UPDATE, permitted for any non-terminal status).
func (e *Engine) UpdateContext(ctx context.Context, instanceID string, updates map[string]domain.Value) error {
	inst, err := e.mustLoad(ctx, instanceID)
	if err != nil {
		return err
	}
	if inst.Status.IsTerminal() {
		return domain.NewError(domain.KindState, "instance %s in status %s cannot be updated", instanceID, inst.Status).WithInstance(instanceID, "")
	}
	inst.Context = domain.MergeValues(inst.Context, updates)
	inst.UpdateTime = time.Now().UTC()
	if err := e.repo.Instances().Update(ctx, inst); err != nil {
		return domain.Wrap(domain.KindResource, err, "persist context update for instance %s", instanceID)
	}
	return e.vars.SaveContext(ctx, instanceID, updates)
}

func (e *Engine) mustLoad(ctx context.Context, instanceID string) (*domain.Instance, error) {
	inst, err := e.repo.Instances().Get(ctx, instanceID)
	if err != nil {
		return nil, domain.Wrap(domain.KindResource, err, "load instance %s", instanceID)
	}
	if inst == nil {
		return nil, domain.NewError(domain.KindState, "instance %s not found", instanceID)
	}
	return inst, nil
}

func (e *Engine) cancelRun(instanceID string) {
	e.activeMu.Lock()
	if cancel, ok := e.active[instanceID]; ok {
		cancel()
		delete(e.active, instanceID)
	}
	e.activeMu.Unlock()
}
