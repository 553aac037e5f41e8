package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orcheo-io/workflow-engine/internal/domain"
	"github.com/orcheo-io/workflow-engine/internal/queue"
)

// StartInstance creates a new Instance of workflow workflowID and begins
// running it from its first step (spec §4.1 step 1-4), grounded on the
// teacher's RunWorkflow: validate the definition, seed execution state,
// persist it, then hand off to the async processing loop.
func (e *Engine) StartInstance(ctx context.Context, workflowID, businessKey, startUser string, input map[string]domain.Value) (*domain.Instance, error) {
	wf, err := e.loadWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if !wf.CanSpawnInstances() {
		return nil, domain.NewError(domain.KindState, "workflow %s in status %s cannot spawn instances", workflowID, wf.Status)
	}
	first := wf.FirstStep()
	if first == nil {
		return nil, domain.NewError(domain.KindConfiguration, "workflow %s has no steps", workflowID)
	}

	now := time.Now().UTC()
	inst := &domain.Instance{
		ID:            uuid.NewString(),
		WorkflowID:    wf.ID,
		BusinessKey:   businessKey,
		Status:        domain.InstanceRunning,
		CurrentStepID: first.ID,
		StartUserID:   startUser,
		CurrentUserID: startUser,
		Context:       domain.CloneValues(input),
		CreateTime:    now,
		StartTime:     &now,
		UpdateTime:    now,
	}

	if err := e.repo.Instances().Save(ctx, inst); err != nil {
		return nil, domain.Wrap(domain.KindResource, err, "save instance for workflow %s", workflowID)
	}
	if err := e.vars.SaveContext(ctx, inst.ID, inst.Context); err != nil {
		return nil, domain.Wrap(domain.KindResource, err, "seed context for instance %s", inst.ID)
	}

	e.metrics.InstanceStarted(wf.ID)
	e.publish(ctx, queue.EventInstanceStarted, queue.LifecycleEvent{
		Type: queue.EventInstanceStarted, InstanceID: inst.ID, WorkflowID: wf.ID,
		Status: string(inst.Status), OccurredAt: now,
	})

	runCtx, cancel := context.WithCancel(context.Background())
	e.trackActive(inst.ID, cancel)
	go e.run(runCtx, inst.ID)

	return inst.Snapshot(), nil
}

// resume re-enters the execution loop for instanceID, used by the retry
// scheduler and by user-task/operation resolutions that unpark a WAITING
// or SUSPENDED instance.
func (e *Engine) resume(ctx context.Context, instanceID string) error {
	runCtx, cancel := context.WithCancel(context.Background())
	e.trackActive(instanceID, cancel)
	go e.run(runCtx, instanceID)
	return nil
}

// run drives the step loop for one instance until it reaches WAITING,
// SUSPENDED, or a terminal status, grounded on the teacher's
// processExecution main loop (channel-driven DAG scheduling collapsed
// here into a straight-line nextStepId walk since steps execute one at a
// time rather than fanning out over dependency edges).
func (e *Engine) run(ctx context.Context, instanceID string) {
	defer e.untrackActive(instanceID)

	for {
		inst, err := e.repo.Instances().Get(ctx, instanceID)
		if err != nil {
			e.logger.Error("failed to load instance", zap.String("instance_id", instanceID), zap.Error(err))
			return
		}
		if inst == nil || inst.Status != domain.InstanceRunning {
			return
		}

		wf, err := e.loadWorkflow(ctx, inst.WorkflowID)
		if err != nil {
			e.failInstance(ctx, inst, err)
			return
		}

		step := wf.StepByID(inst.CurrentStepID)
		if step == nil {
			e.failInstance(ctx, inst, domain.NewError(domain.KindState, "instance %s references unknown step %s", inst.ID, inst.CurrentStepID))
			return
		}

		if step.Precondition != nil && !step.Precondition(inst.Context) {
			e.recordHistory(ctx, inst, step, domain.HistorySkipped, nil, "")
			if !e.advance(ctx, inst, step.NextStepID, wf) {
				return
			}
			continue
		}

		cont := e.executeStep(ctx, inst, step, wf)
		if !cont {
			return
		}
	}
}

// executeStep dispatches one step attempt and applies its outcome,
// returning false when the run loop should stop (waiting/suspended/
// terminal/cancelled context).
func (e *Engine) executeStep(ctx context.Context, inst *domain.Instance, step *domain.Step, wf *domain.Workflow) bool {
	if step.Type == domain.StepParallelGateway || step.Type == domain.StepMergeGateway {
		result := e.executeParallelStep(ctx, inst, step, wf)
		return e.applyStepResult(ctx, inst, step, wf, result, result.Error)
	}

	dispatcher, err := e.dispatcherFor(stepExecutorKey(step))
	if err != nil {
		e.failInstance(ctx, inst, err)
		return false
	}

	attempt := e.attemptCount(inst.ID)
	timeout := time.Duration(step.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = e.config.DefaultStepTimeout
	}

	execCtx := &domain.StepExecutionContext{
		InstanceID:      inst.ID,
		StepID:          step.ID,
		User:            inst.CurrentUserID,
		InputParameters: inst.Context,
		InstanceContext: inst.Context,
		StartTime:       time.Now(),
		TimeoutMs:       timeout.Milliseconds(),
		RetryCount:      attempt,
		Priority:        inst.Priority,
	}

	start := time.Now()
	result, execErr := dispatcher.Attempt(ctx, execCtx, step.Config)
	e.metrics.RecordStepDuration(wf.ID, string(step.Type), time.Since(start))

	if result == nil {
		result = &domain.StepExecutionResult{Status: domain.ResultFailed, Error: execErr}
	}
	return e.applyStepResult(ctx, inst, step, wf, result, execErr)
}

// applyStepResult interprets one step attempt's outcome, shared by the
// generic dispatcher path and the parallel-gateway path.
func (e *Engine) applyStepResult(ctx context.Context, inst *domain.Instance, step *domain.Step, wf *domain.Workflow, result *domain.StepExecutionResult, execErr error) bool {
	switch result.Status {
	case domain.ResultSuccess:
		e.metrics.StepExecuted(wf.ID, string(step.Type), "success")
		e.resetAttempts(inst.ID)
		e.mergeOutput(ctx, inst, result.OutputData)
		e.recordHistory(ctx, inst, step, domain.HistorySuccess, result.OutputData, "")
		next := step.NextStepID
		if step.Type == domain.StepCondition {
			if v, ok := result.OutputData["nextStepId"]; ok && v.Kind == domain.KindString && v.Str != "" {
				next = v.Str
			}
		}
		return e.advance(ctx, inst, next, wf)

	case domain.ResultWaiting:
		e.metrics.StepExecuted(wf.ID, string(step.Type), "waiting")
		e.recordHistory(ctx, inst, step, domain.HistoryWaiting, nil, result.Message)
		e.setStatus(ctx, inst, domain.InstanceWaiting)
		return false

	case domain.ResultConditionNotMet, domain.ResultSkipped:
		e.metrics.StepExecuted(wf.ID, string(step.Type), "skipped")
		e.recordHistory(ctx, inst, step, domain.HistorySkipped, nil, result.Message)
		return e.advance(ctx, inst, step.NextStepID, wf)

	default: // FAILED, TIMEOUT, CANCELLED
		return e.handleFailure(ctx, inst, step, wf, result, execErr)
	}
}

func (e *Engine) handleFailure(ctx context.Context, inst *domain.Instance, step *domain.Step, wf *domain.Workflow, result *domain.StepExecutionResult, execErr error) bool {
	status := string(result.Status)
	e.metrics.StepExecuted(wf.ID, string(step.Type), status)

	maxRetries := step.RetryCount
	if maxRetries <= 0 {
		maxRetries = e.config.DefaultMaxRetries
	}
	if step.Type == domain.StepTimer {
		// A TIMER step polls toward a deadline rather than retrying after a
		// genuine failure, so its attempt count isn't bounded by the
		// workflow's ordinary retry budget.
		maxRetries = 1<<31 - 1
	}
	attempt := e.incAttempt(inst.ID)

	retryable := result.NeedRetry || domain.IsRetryable(execErr)
	if retryable && attempt <= maxRetries {
		histStatus := domain.HistoryRetry
		if result.Status == domain.ResultTimeout {
			histStatus = domain.HistoryTimeout
		}
		e.recordHistory(ctx, inst, step, histStatus, nil, result.Message)
		e.metrics.StepRetried(wf.ID, string(step.Type))

		delay := e.config.DefaultRetryDelay
		if d, err := e.dispatcherFor(stepExecutorKey(step)); err == nil {
			delay = d.NextDelay(attempt - 1)
		}
		e.retry.schedule(inst.ID, delay)
		return false
	}

	e.resetAttempts(inst.ID)
	errMsg := result.Message
	if execErr != nil {
		errMsg = execErr.Error()
	}
	e.recordHistory(ctx, inst, step, domain.HistoryFailed, nil, errMsg)

	if step.ErrorStepID != "" {
		return e.advance(ctx, inst, step.ErrorStepID, wf)
	}
	if step.Optional {
		return e.advance(ctx, inst, step.NextStepID, wf)
	}

	inst.ErrorMessage = errMsg
	e.failInstance(ctx, inst, domain.NewError(domain.KindExecution, "step %s failed: %s", step.ID, errMsg).WithInstance(inst.ID, step.ID))
	return false
}

// advance moves the instance to nextStepID, or completes it if there is
// none, persisting the new state. Returns whether the run loop should
// continue iterating.
func (e *Engine) advance(ctx context.Context, inst *domain.Instance, nextStepID string, wf *domain.Workflow) bool {
	if nextStepID == "" {
		e.completeInstance(ctx, inst)
		return false
	}
	inst.CurrentStepID = nextStepID
	if next := wf.StepByID(nextStepID); next != nil {
		inst.CurrentStepOrder = next.Order
	}
	inst.UpdateTime = time.Now().UTC()
	if err := e.repo.Instances().Update(ctx, inst); err != nil {
		e.logger.Error("failed to persist instance advance", zap.String("instance_id", inst.ID), zap.Error(err))
		return false
	}
	return true
}

func (e *Engine) setStatus(ctx context.Context, inst *domain.Instance, status domain.InstanceStatus) {
	inst.Status = status
	inst.UpdateTime = time.Now().UTC()
	if err := e.repo.Instances().Update(ctx, inst); err != nil {
		e.logger.Error("failed to persist instance status", zap.String("instance_id", inst.ID), zap.Error(err))
	}
}

func (e *Engine) completeInstance(ctx context.Context, inst *domain.Instance) {
	now := time.Now().UTC()
	inst.Status = domain.InstanceCompleted
	inst.EndTime = &now
	inst.UpdateTime = now
	if err := e.repo.Instances().Update(ctx, inst); err != nil {
		e.logger.Error("failed to persist instance completion", zap.String("instance_id", inst.ID), zap.Error(err))
	}
	e.metrics.InstanceCompleted(inst.WorkflowID, "completed")
	if inst.StartTime != nil {
		e.metrics.RecordInstanceDuration(inst.WorkflowID, now.Sub(*inst.StartTime))
	}
	e.publish(ctx, queue.EventInstanceCompleted, queue.LifecycleEvent{
		Type: queue.EventInstanceCompleted, InstanceID: inst.ID, WorkflowID: inst.WorkflowID,
		Status: string(inst.Status), OccurredAt: now,
	})
}

func (e *Engine) failInstance(ctx context.Context, inst *domain.Instance, cause error) {
	now := time.Now().UTC()
	inst.Status = domain.InstanceFailed
	inst.EndTime = &now
	inst.UpdateTime = now
	if cause != nil {
		inst.ErrorMessage = cause.Error()
	}
	if err := e.repo.Instances().Update(ctx, inst); err != nil {
		e.logger.Error("failed to persist instance failure", zap.String("instance_id", inst.ID), zap.Error(err))
	}
	e.metrics.InstanceFailed(inst.WorkflowID, "execution_error")
	if inst.StartTime != nil {
		e.metrics.RecordInstanceDuration(inst.WorkflowID, now.Sub(*inst.StartTime))
	}
	e.publish(ctx, queue.EventInstanceFailed, queue.LifecycleEvent{
		Type: queue.EventInstanceFailed, InstanceID: inst.ID, WorkflowID: inst.WorkflowID,
		Status: string(inst.Status), OccurredAt: now,
	})
}

func (e *Engine) mergeOutput(ctx context.Context, inst *domain.Instance, output map[string]domain.Value) {
	if len(output) == 0 {
		return
	}
	if inst.Context == nil {
		inst.Context = map[string]domain.Value{}
	}
	inst.Context = domain.MergeValues(inst.Context, output)
	if err := e.vars.SaveContext(ctx, inst.ID, output); err != nil {
		e.logger.Warn("failed to persist step output variables", zap.String("instance_id", inst.ID), zap.Error(err))
	}
}

func (e *Engine) recordHistory(ctx context.Context, inst *domain.Instance, step *domain.Step, status domain.HistoryStatus, output map[string]domain.Value, errMsg string) {
	entry := &domain.ExecutionHistory{
		ID:            uuid.NewString(),
		InstanceID:    inst.ID,
		StepID:        step.ID,
		StepName:      step.Name,
		StepType:      step.Type,
		Status:        status,
		ExecutorName:  stepExecutorKey(step),
		OutputData:    output,
		ErrorMessage:  errMsg,
		StartedTime:   time.Now().UTC(),
		CompletedTime: time.Now().UTC(),
		RetryCount:    e.attemptCount(inst.ID),
	}
	if err := e.repo.History().AppendEntry(ctx, inst.ID, entry); err != nil {
		e.logger.Warn("failed to append execution history", zap.String("instance_id", inst.ID), zap.Error(err))
	}
}
