package usertask

import (
	"context"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/orcheo-io/workflow-engine/internal/domain"
	"github.com/orcheo-io/workflow-engine/internal/repo"
)

// fakeTaskRepo is a minimal in-memory repo.UserTaskRepository, following
// the fakeCache pattern in internal/executor/timer/timer_test.go.
type fakeTaskRepo struct {
	mu    sync.Mutex
	tasks map[string]*domain.UserTask
}

func newFakeTaskRepo() *fakeTaskRepo { return &fakeTaskRepo{tasks: make(map[string]*domain.UserTask)} }

func (f *fakeTaskRepo) Save(ctx context.Context, t *domain.UserTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[t.ID] = t
	return nil
}

func (f *fakeTaskRepo) Get(ctx context.Context, id string) (*domain.UserTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tasks[id], nil
}

func (f *fakeTaskRepo) ListByInstance(ctx context.Context, instanceID string) ([]*domain.UserTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.UserTask
	for _, t := range f.tasks {
		if t.InstanceID == instanceID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeTaskRepo) ListPendingForUser(ctx context.Context, user string, lookup repo.GroupLookup, page, size int) ([]*domain.UserTask, error) {
	return nil, nil
}

func (f *fakeTaskRepo) Update(ctx context.Context, t *domain.UserTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[t.ID] = t
	return nil
}

func (f *fakeTaskRepo) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tasks, id)
	return nil
}

func (f *fakeTaskRepo) DeleteByInstance(ctx context.Context, instanceID string) error { return nil }

func (f *fakeTaskRepo) DeleteNotForStep(ctx context.Context, instanceID, keepStepID string) error {
	return nil
}

func newTestExecutor(t *testing.T) (*Executor, *fakeTaskRepo) {
	t.Helper()
	tasks := newFakeTaskRepo()
	return NewExecutor(tasks, zap.NewNop(), nil), tasks
}

func seedTask(t *testing.T, tasks *fakeTaskRepo, mutate func(*domain.UserTask)) *domain.UserTask {
	t.Helper()
	task := &domain.UserTask{
		ID:         "task-1",
		InstanceID: "inst-1",
		StepID:     "approve",
		Assignee:   "alice",
		Status:     domain.UserTaskAssigned,
	}
	if mutate != nil {
		mutate(task)
	}
	if err := tasks.Save(context.Background(), task); err != nil {
		t.Fatalf("seed task: %v", err)
	}
	return task
}

func permissionErr(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected a permission error, got nil")
	}
	we, ok := err.(*domain.WorkflowError)
	if !ok || we.Kind != domain.KindPermission {
		t.Fatalf("expected a PERMISSION_ERROR, got %v", err)
	}
}

func TestComplete_AssigneeMayComplete(t *testing.T) {
	exec, tasks := newTestExecutor(t)
	seedTask(t, tasks, nil)

	task, output, err := exec.Complete(context.Background(), "task-1", "alice", map[string]domain.Value{"ok": domain.NewBool(true)}, nil)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if task.Status != domain.UserTaskCompleted || task.CompletedBy != "alice" {
		t.Fatalf("expected task marked completed by alice, got %+v", task)
	}
	if !output["ok"].AsBool() {
		t.Fatalf("expected output data passed through, got %+v", output)
	}
}

func TestComplete_NonCandidateRejected(t *testing.T) {
	exec, tasks := newTestExecutor(t)
	seedTask(t, tasks, nil)

	_, _, err := exec.Complete(context.Background(), "task-1", "mallory", nil, nil)
	permissionErr(t, err)
}

func TestComplete_AlreadyResolvedRejected(t *testing.T) {
	exec, tasks := newTestExecutor(t)
	seedTask(t, tasks, func(ut *domain.UserTask) { ut.Status = domain.UserTaskCompleted })

	_, _, err := exec.Complete(context.Background(), "task-1", "alice", nil, nil)
	if err == nil {
		t.Fatalf("expected completing an already-resolved task to be rejected")
	}
}

func TestDelegate_OnlyAssigneeMayDelegate(t *testing.T) {
	exec, tasks := newTestExecutor(t)
	seedTask(t, tasks, func(ut *domain.UserTask) { ut.CandidateUsers = []string{"alice", "bob"} })

	// bob is a candidate but not the assignee: delegate must still reject him.
	_, err := exec.Delegate(context.Background(), "task-1", "bob", "carol", "out sick", nil)
	permissionErr(t, err)

	task, err := exec.Delegate(context.Background(), "task-1", "alice", "carol", "out sick", nil)
	if err != nil {
		t.Fatalf("Delegate by assignee: %v", err)
	}
	if task.Assignee != "carol" || task.DelegatedBy != "alice" || task.Status != domain.UserTaskDelegated {
		t.Fatalf("expected task delegated to carol by alice, got %+v", task)
	}
}

func TestReclaim_DelegatorMayReclaim(t *testing.T) {
	exec, tasks := newTestExecutor(t)
	seedTask(t, tasks, func(ut *domain.UserTask) {
		ut.Assignee = "carol"
		ut.DelegatedBy = "alice"
		ut.Status = domain.UserTaskDelegated
	})

	task, err := exec.Reclaim(context.Background(), "task-1", "alice")
	if err != nil {
		t.Fatalf("Reclaim by delegator: %v", err)
	}
	if task.Assignee != "alice" || task.Status != domain.UserTaskReclaimed {
		t.Fatalf("expected task reclaimed back to alice, got %+v", task)
	}
}

func TestReclaim_CandidateUserMayReclaim(t *testing.T) {
	exec, tasks := newTestExecutor(t)
	seedTask(t, tasks, func(ut *domain.UserTask) {
		ut.Assignee = "carol"
		ut.DelegatedBy = "alice"
		ut.CandidateUsers = []string{"alice", "dave"}
		ut.Status = domain.UserTaskDelegated
	})

	task, err := exec.Reclaim(context.Background(), "task-1", "dave")
	if err != nil {
		t.Fatalf("Reclaim by candidate user: %v", err)
	}
	if task.Assignee != "dave" {
		t.Fatalf("expected task reclaimed to dave, got %+v", task)
	}
}

// TestReclaim_UnrelatedUserRejected is the regression case for the missing
// authorization check: before the fix, any caller could reclaim any task.
func TestReclaim_UnrelatedUserRejected(t *testing.T) {
	exec, tasks := newTestExecutor(t)
	seedTask(t, tasks, func(ut *domain.UserTask) {
		ut.Assignee = "carol"
		ut.DelegatedBy = "alice"
		ut.CandidateUsers = []string{"alice"}
		ut.Status = domain.UserTaskDelegated
	})

	_, err := exec.Reclaim(context.Background(), "task-1", "mallory")
	permissionErr(t, err)
}
