package engine

import (
	"context"
	"time"

	"github.com/orcheo-io/workflow-engine/internal/domain"
	"github.com/orcheo-io/workflow-engine/internal/executor/parallel"
)

// executeParallelStep runs a PARALLEL_GATEWAY step: each entry in
// step.Config["branchStepIds"] names another step in the same workflow to
// run once as a branch, dispatched through that step's own registered
// executor, then joined via parallel.Executor according to
// step.Config["mode"]/["join"]/["batchSize"]. This is kept as a dedicated
// path rather than forcing branch fan-out through the generic
// StepDispatcher interface, since a branch runs a whole other Step
// (with its own executor key) rather than a single Execute call (C6).
func (e *Engine) executeParallelStep(ctx context.Context, inst *domain.Instance, step *domain.Step, wf *domain.Workflow) *domain.StepExecutionResult {
	branchIDs := stringsFromConfig(step.Config, "branchStepIds")
	if len(branchIDs) == 0 {
		return &domain.StepExecutionResult{Status: domain.ResultFailed, Error: domain.NewError(domain.KindConfiguration, "parallel step %s has no branchStepIds", step.ID)}
	}

	branches := make([]parallel.Branch, 0, len(branchIDs))
	for _, id := range branchIDs {
		branchStep := wf.StepByID(id)
		if branchStep == nil {
			return &domain.StepExecutionResult{Status: domain.ResultFailed, Error: domain.NewError(domain.KindConfiguration, "parallel step %s references unknown branch %s", step.ID, id)}
		}
		bs := branchStep
		branches = append(branches, parallel.Branch{
			ID:       bs.ID,
			FailFast: boolFromConfig(step.Config, "failFast", false),
			Execute: func(bctx context.Context) (*domain.StepExecutionResult, error) {
				dispatcher, err := e.dispatcherFor(stepExecutorKey(bs))
				if err != nil {
					return nil, err
				}
				execCtx := &domain.StepExecutionContext{
					InstanceID:      inst.ID,
					StepID:          bs.ID,
					User:            inst.CurrentUserID,
					InputParameters: inst.Context,
					InstanceContext: inst.Context,
					StartTime:       time.Now(),
					TimeoutMs:       (time.Duration(bs.TimeoutSeconds) * time.Second).Milliseconds(),
				}
				return dispatcher.Attempt(bctx, execCtx, bs.Config)
			},
		})
	}

	cfg := parallel.Config{
		Mode:          parallel.ExecutionMode(stringFromConfig(step.Config, "mode", string(parallel.ModeParallel))),
		Join:          parallel.JoinStrategy(stringFromConfig(step.Config, "join", string(parallel.JoinAND))),
		BatchSize:     intFromConfig(step.Config, "batchSize"),
		Timeout:       durationFromConfig(step.Config, "timeout"),
		BranchTimeout: durationFromConfig(step.Config, "branchTimeout"),
	}

	runner := parallel.NewExecutor()
	joinResult, branchResults, err := runner.Run(ctx, branches, cfg)
	e.metrics.JoinOutcome(wf.ID, string(cfg.Join), joinResult != nil && joinResult.Success)
	if err != nil {
		return &domain.StepExecutionResult{Status: domain.ResultFailed, Error: err}
	}

	if !joinResult.Success {
		return &domain.StepExecutionResult{
			Status:  domain.ResultFailed,
			Message: joinResult.Message,
			Error:   domain.NewError(domain.KindExecution, "parallel step %s join strategy %s not satisfied across %d branches", step.ID, cfg.Join, len(branchResults)),
		}
	}
	return &domain.StepExecutionResult{Status: domain.ResultSuccess, OutputData: joinResult.MergedData}
}

func stringsFromConfig(cfg map[string]domain.Value, key string) []string {
	v, ok := cfg[key]
	if !ok || v.Kind != domain.KindArray {
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

func stringFromConfig(cfg map[string]domain.Value, key, def string) string {
	if v, ok := cfg[key]; ok && v.Kind == domain.KindString {
		return v.Str
	}
	return def
}

func intFromConfig(cfg map[string]domain.Value, key string) int {
	if v, ok := cfg[key]; ok && (v.Kind == domain.KindInt || v.Kind == domain.KindLong) {
		return int(v.Int)
	}
	return 0
}

func boolFromConfig(cfg map[string]domain.Value, key string, def bool) bool {
	if v, ok := cfg[key]; ok && v.Kind == domain.KindBool {
		return v.Bool
	}
	return def
}

// durationFromConfig reads a seconds value (int/long) from step config and
// returns it as a time.Duration; a missing or zero value means "no bound".
func durationFromConfig(cfg map[string]domain.Value, key string) time.Duration {
	if v, ok := cfg[key]; ok && (v.Kind == domain.KindInt || v.Kind == domain.KindLong) {
		return time.Duration(v.Int) * time.Second
	}
	return 0
}
