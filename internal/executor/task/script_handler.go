package task

import (
	"context"
	"time"

	"github.com/orcheo-io/workflow-engine/internal/domain"
)

// ScriptPredicate evaluates a SCRIPT step's boolean/routing logic. Per
// SPEC_FULL.md's decision against embedding a scripting VM, predicates are
// registered Go functions keyed by name rather than parsed expressions.
type ScriptPredicate func(ctx context.Context, params map[string]domain.Value) (map[string]domain.Value, error)

// ScriptHandler dispatches SCRIPT/CONDITION steps to a named, host-registered
// predicate function (grounded on the teacher's "transform" node-type
// branch, generalized from a sleep-only stub into real dispatch).
type ScriptHandler struct {
	predicates map[string]ScriptPredicate
}

// NewScriptHandler builds a ScriptHandler with the given named predicates.
func NewScriptHandler(predicates map[string]ScriptPredicate) *ScriptHandler {
	if predicates == nil {
		predicates = map[string]ScriptPredicate{}
	}
	return &ScriptHandler{predicates: predicates}
}

// Register adds or replaces a named predicate.
func (h *ScriptHandler) Register(name string, fn ScriptPredicate) { h.predicates[name] = fn }

func (h *ScriptHandler) Name() string { return "script" }

func (h *ScriptHandler) ValidateConfig(cfg map[string]domain.Value) error {
	name, err := requireString(cfg, "function")
	if err != nil {
		return err
	}
	if _, ok := h.predicates[name]; !ok {
		return domain.NewError(domain.KindConfiguration, "no script predicate registered for %q", name)
	}
	return nil
}

func (h *ScriptHandler) Run(ctx context.Context, execCtx *domain.StepExecutionContext, cfg map[string]domain.Value) (map[string]domain.Value, error) {
	name, err := requireString(cfg, "function")
	if err != nil {
		return nil, err
	}
	fn, ok := h.predicates[name]
	if !ok {
		return nil, domain.NewError(domain.KindConfiguration, "no script predicate registered for %q", name)
	}
	return fn(ctx, execCtx.InputParameters)
}

// DefaultHandler is the executor fallback when a step declares no explicit
// handler, mirroring the teacher's switch-default sleep branch: it merges
// its configured output literal into outputData without contacting any
// external system.
type DefaultHandler struct {
	delay time.Duration
}

// NewDefaultHandler builds a DefaultHandler that sleeps delay before
// returning, bounding how long a no-op step occupies a worker slot.
func NewDefaultHandler(delay time.Duration) *DefaultHandler {
	return &DefaultHandler{delay: delay}
}

func (h *DefaultHandler) Name() string { return "default" }

func (h *DefaultHandler) ValidateConfig(cfg map[string]domain.Value) error { return nil }

func (h *DefaultHandler) Run(ctx context.Context, execCtx *domain.StepExecutionContext, cfg map[string]domain.Value) (map[string]domain.Value, error) {
	if h.delay > 0 {
		select {
		case <-time.After(h.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	out := map[string]domain.Value{}
	if v, ok := cfg["output"]; ok {
		out["output"] = v
	}
	return out, nil
}
