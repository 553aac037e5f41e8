package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/orcheo-io/workflow-engine/internal/domain"
	"github.com/orcheo-io/workflow-engine/internal/repo"
)

// fakeRepository is a minimal in-memory repo.Repository for exercising the
// instance execution loop without Postgres, following the fakeCache
// pattern in internal/executor/timer/timer_test.go.
type fakeRepository struct {
	mu sync.Mutex

	workflows map[string]*domain.Workflow
	instances map[string]*domain.Instance
	history   map[string][]*domain.ExecutionHistory
	tasks     map[string]*domain.UserTask
	variables map[string]*domain.Variable
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		workflows: make(map[string]*domain.Workflow),
		instances: make(map[string]*domain.Instance),
		history:   make(map[string][]*domain.ExecutionHistory),
		tasks:     make(map[string]*domain.UserTask),
		variables: make(map[string]*domain.Variable),
	}
}

func (r *fakeRepository) Definitions() repo.DefinitionRepository { return fakeDefinitions{r} }
func (r *fakeRepository) Instances() repo.InstanceRepository      { return fakeInstances{r} }
func (r *fakeRepository) History() repo.HistoryRepository         { return fakeHistory{r} }
func (r *fakeRepository) UserTasks() repo.UserTaskRepository      { return fakeUserTasks{r} }
func (r *fakeRepository) Variables() repo.VariableRepository      { return fakeVariables{r} }

// putWorkflow seeds a workflow definition directly, bypassing Save, for
// test setup convenience.
func (r *fakeRepository) putWorkflow(wf *domain.Workflow) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workflows[wf.ID] = wf
}

type fakeDefinitions struct{ r *fakeRepository }

func (f fakeDefinitions) Get(ctx context.Context, id string) (*domain.Workflow, error) {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	return f.r.workflows[id], nil
}

func (f fakeDefinitions) ListByName(ctx context.Context, name string) ([]*domain.Workflow, error) {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	var out []*domain.Workflow
	for _, wf := range f.r.workflows {
		if wf.Name == name {
			out = append(out, wf)
		}
	}
	return out, nil
}

func (f fakeDefinitions) Save(ctx context.Context, wf *domain.Workflow) error {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	f.r.workflows[wf.ID] = wf
	return nil
}

func (f fakeDefinitions) UpdateStatus(ctx context.Context, id string, status domain.WorkflowStatus) error {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	if wf, ok := f.r.workflows[id]; ok {
		wf.Status = status
	}
	return nil
}

type fakeInstances struct{ r *fakeRepository }

func (f fakeInstances) Get(ctx context.Context, id string) (*domain.Instance, error) {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	inst, ok := f.r.instances[id]
	if !ok {
		return nil, nil
	}
	return inst.Snapshot(), nil
}

func (f fakeInstances) ListByBusinessKey(ctx context.Context, businessKey string) ([]*domain.Instance, error) {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	var out []*domain.Instance
	for _, inst := range f.r.instances {
		if inst.BusinessKey == businessKey {
			out = append(out, inst.Snapshot())
		}
	}
	return out, nil
}

func (f fakeInstances) ListWithFilter(ctx context.Context, filter repo.InstanceFilter) ([]*domain.Instance, error) {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	var out []*domain.Instance
	for _, inst := range f.r.instances {
		if filter.WorkflowID != "" && inst.WorkflowID != filter.WorkflowID {
			continue
		}
		if filter.Status != "" && inst.Status != filter.Status {
			continue
		}
		out = append(out, inst.Snapshot())
	}
	return out, nil
}

func (f fakeInstances) Save(ctx context.Context, inst *domain.Instance) error {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	f.r.instances[inst.ID] = inst.Snapshot()
	return nil
}

func (f fakeInstances) Update(ctx context.Context, inst *domain.Instance) error {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	f.r.instances[inst.ID] = inst.Snapshot()
	return nil
}

func (f fakeInstances) DeleteCascade(ctx context.Context, id string) error {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	delete(f.r.instances, id)
	delete(f.r.history, id)
	for tid, t := range f.r.tasks {
		if t.InstanceID == id {
			delete(f.r.tasks, tid)
		}
	}
	return nil
}

type fakeHistory struct{ r *fakeRepository }

func (f fakeHistory) AppendEntry(ctx context.Context, instanceID string, entry *domain.ExecutionHistory) error {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	f.r.history[instanceID] = append(f.r.history[instanceID], entry)
	return nil
}

func (f fakeHistory) ListByInstance(ctx context.Context, instanceID string) ([]*domain.ExecutionHistory, error) {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	out := append([]*domain.ExecutionHistory(nil), f.r.history[instanceID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].StartedTime.Before(out[j].StartedTime) })
	return out, nil
}

func (f fakeHistory) DeleteByInstance(ctx context.Context, instanceID string) error {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	delete(f.r.history, instanceID)
	return nil
}

func (f fakeHistory) DeleteAfter(ctx context.Context, instanceID string, cutoff time.Time) error {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	var kept []*domain.ExecutionHistory
	for _, h := range f.r.history[instanceID] {
		if !h.StartedTime.After(cutoff) {
			kept = append(kept, h)
		}
	}
	f.r.history[instanceID] = kept
	return nil
}

type fakeUserTasks struct{ r *fakeRepository }

func (f fakeUserTasks) Save(ctx context.Context, t *domain.UserTask) error {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	f.r.tasks[t.ID] = t
	return nil
}

func (f fakeUserTasks) Get(ctx context.Context, id string) (*domain.UserTask, error) {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	return f.r.tasks[id], nil
}

func (f fakeUserTasks) ListByInstance(ctx context.Context, instanceID string) ([]*domain.UserTask, error) {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	var out []*domain.UserTask
	for _, t := range f.r.tasks {
		if t.InstanceID == instanceID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f fakeUserTasks) ListPendingForUser(ctx context.Context, user string, lookup repo.GroupLookup, page, size int) ([]*domain.UserTask, error) {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	var out []*domain.UserTask
	for _, t := range f.r.tasks {
		if t.Assignee == user && t.Status != domain.UserTaskCompleted && t.Status != domain.UserTaskCancelled {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f fakeUserTasks) Update(ctx context.Context, t *domain.UserTask) error {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	f.r.tasks[t.ID] = t
	return nil
}

func (f fakeUserTasks) Delete(ctx context.Context, id string) error {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	delete(f.r.tasks, id)
	return nil
}

func (f fakeUserTasks) DeleteByInstance(ctx context.Context, instanceID string) error {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	for id, t := range f.r.tasks {
		if t.InstanceID == instanceID {
			delete(f.r.tasks, id)
		}
	}
	return nil
}

func (f fakeUserTasks) DeleteNotForStep(ctx context.Context, instanceID, keepStepID string) error {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	for id, t := range f.r.tasks {
		if t.InstanceID == instanceID && t.StepID != keepStepID {
			delete(f.r.tasks, id)
		}
	}
	return nil
}

type fakeVariables struct{ r *fakeRepository }

func variableKey(instanceID string, scope domain.VariableScope, name, stepID string) string {
	return instanceID + "|" + string(scope) + "|" + name + "|" + stepID
}

func (f fakeVariables) Upsert(ctx context.Context, v *domain.Variable) error {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	instanceID, scope, name, stepID := v.Key()
	f.r.variables[variableKey(instanceID, scope, name, stepID)] = v
	return nil
}

func (f fakeVariables) Lookup(ctx context.Context, instanceID string, scope domain.VariableScope, name, stepID string) (*domain.Variable, error) {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	return f.r.variables[variableKey(instanceID, scope, name, stepID)], nil
}

func (f fakeVariables) Delete(ctx context.Context, instanceID string, scope domain.VariableScope, name, stepID string) error {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	delete(f.r.variables, variableKey(instanceID, scope, name, stepID))
	return nil
}

func (f fakeVariables) ListByInstance(ctx context.Context, instanceID string) ([]*domain.Variable, error) {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	var out []*domain.Variable
	for _, v := range f.r.variables {
		if v.InstanceID == instanceID {
			out = append(out, v)
		}
	}
	return out, nil
}
