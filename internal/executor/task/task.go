// Package task implements the TASK/SERVICE_CALL step executor (C4): a
// registry of handlers keyed by the step's Config["handler"], grounded on
// the teacher's node-type switch (http/database/transform/default) in
// simulateStepExecution, generalized into real pluggable handlers instead
// of a simulated sleep-and-coinflip.
package task

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/orcheo-io/workflow-engine/internal/domain"
)

// Handler executes one concrete task kind (http call, db query, script,
// file op) given the step's decoded configuration.
type Handler interface {
	Name() string
	ValidateConfig(cfg map[string]domain.Value) error
	Run(ctx context.Context, execCtx *domain.StepExecutionContext, cfg map[string]domain.Value) (map[string]domain.Value, error)
}

// Registry dispatches to Handlers by name.
type Registry struct {
	handlers map[string]Handler
	logger   *zap.Logger
}

// NewRegistry builds a Registry with the given handlers indexed by Name().
func NewRegistry(logger *zap.Logger, handlers ...Handler) *Registry {
	r := &Registry{handlers: make(map[string]Handler, len(handlers)), logger: logger}
	for _, h := range handlers {
		r.handlers[h.Name()] = h
	}
	return r
}

// Register adds or replaces a handler.
func (r *Registry) Register(h Handler) { r.handlers[h.Name()] = h }

func (r *Registry) lookup(cfg map[string]domain.Value) (Handler, error) {
	name := "default"
	if v, ok := cfg["handler"]; ok && v.Kind == domain.KindString {
		name = v.Str
	}
	h, ok := r.handlers[name]
	if !ok {
		return nil, domain.NewError(domain.KindConfiguration, "no task handler registered for %q", name)
	}
	return h, nil
}

// Key identifies this executor for Lifecycle/circuit-breaker naming.
func (r *Registry) Key() string { return "task" }

// Supports reports the step types this executor handles.
func (r *Registry) Supports(t domain.StepType) bool {
	return t == domain.StepTask || t == domain.StepServiceCall || t == domain.StepScript
}

// ValidateConfig resolves the handler and delegates config validation.
func (r *Registry) ValidateConfig(cfg map[string]domain.Value) error {
	h, err := r.lookup(cfg)
	if err != nil {
		return err
	}
	return h.ValidateConfig(cfg)
}

// Execute resolves the handler and runs it, wrapping the result into a
// domain.StepExecutionResult.
func (r *Registry) Execute(ctx context.Context, execCtx *domain.StepExecutionContext, cfg map[string]domain.Value) (*domain.StepExecutionResult, error) {
	h, err := r.lookup(cfg)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	out, err := h.Run(ctx, execCtx, cfg)
	elapsed := time.Since(start)
	r.logger.Debug("task handler finished",
		zap.String("handler", h.Name()),
		zap.String("step_id", execCtx.StepID),
		zap.Duration("elapsed", elapsed),
		zap.Error(err),
	)
	if err != nil {
		return &domain.StepExecutionResult{Status: domain.ResultFailed, Error: err}, err
	}
	return &domain.StepExecutionResult{Status: domain.ResultSuccess, OutputData: out}, nil
}

// CanRetry defers to the WorkflowError classification attached to err.
func (r *Registry) CanRetry(err error, attempt int) bool {
	return domain.IsRetryable(err)
}

// RetryDelay implements exponential backoff doubling base per attempt.
func (r *Registry) RetryDelay(attempt int, base time.Duration) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
	}
	return d
}

// HandleTimeout has nothing to clean up at the registry level; individual
// handlers that hold external resources (e.g. an HTTP handler mid-request)
// rely on ctx cancellation to unwind.
func (r *Registry) HandleTimeout(ctx context.Context, execCtx *domain.StepExecutionContext) error {
	return nil
}

// EstimateTime has no static estimate at the registry level.
func (r *Registry) EstimateTime(cfg map[string]domain.Value) time.Duration { return 0 }

func requireString(cfg map[string]domain.Value, key string) (string, error) {
	v, ok := cfg[key]
	if !ok || v.Kind != domain.KindString || v.Str == "" {
		return "", domain.NewError(domain.KindConfiguration, "task config missing required string %q", key)
	}
	return v.Str, nil
}

func optString(cfg map[string]domain.Value, key, def string) string {
	if v, ok := cfg[key]; ok && v.Kind == domain.KindString {
		return v.Str
	}
	return def
}
