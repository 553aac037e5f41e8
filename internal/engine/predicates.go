package engine

import (
	"sync"

	"github.com/orcheo-io/workflow-engine/internal/domain"
)

// PredicateRegistry holds named domain.Precondition closures the host
// process registers at startup, keyed the same way
// internal/executor/task's ScriptHandler keys its named predicates. A
// Workflow loaded from storage carries only a Step's PreconditionKey
// (Precondition itself is a closure and is never persisted); loadWorkflow
// re-attaches Precondition from this registry after decode.
type PredicateRegistry struct {
	mu         sync.RWMutex
	predicates map[string]domain.Precondition
}

// NewPredicateRegistry builds an empty PredicateRegistry.
func NewPredicateRegistry() *PredicateRegistry {
	return &PredicateRegistry{predicates: make(map[string]domain.Precondition)}
}

// Register names a predicate for later lookup by Step.PreconditionKey.
func (r *PredicateRegistry) Register(key string, p domain.Precondition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.predicates[key] = p
}

func (r *PredicateRegistry) lookup(key string) domain.Precondition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.predicates[key]
}

// SetPredicates attaches the registry the engine consults when loading
// workflows. Optional: a workflow whose steps carry no PreconditionKey
// never needs one.
func (e *Engine) SetPredicates(r *PredicateRegistry) {
	e.predicates = r
}

func (e *Engine) attachPreconditions(wf *domain.Workflow) {
	if e.predicates == nil {
		return
	}
	for _, step := range wf.Steps {
		if step.PreconditionKey == "" || step.Precondition != nil {
			continue
		}
		step.Precondition = e.predicates.lookup(step.PreconditionKey)
	}
}
