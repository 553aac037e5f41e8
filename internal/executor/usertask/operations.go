package usertask

import (
	"context"
	"time"

	"github.com/orcheo-io/workflow-engine/internal/domain"
)

// Complete resolves a user task as completed by user, persisting formData
// as OutputData the engine merges into the instance context on resume.
func (e *Executor) Complete(ctx context.Context, taskID, user string, outputData map[string]domain.Value, groupLookup func(user string, groups []string) bool) (*domain.UserTask, map[string]domain.Value, error) {
	task, err := e.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, nil, domain.Wrap(domain.KindResource, err, "load user task %s", taskID)
	}
	if task == nil {
		return nil, nil, domain.NewError(domain.KindState, "user task %s not found", taskID)
	}
	if task.Status == domain.UserTaskCompleted || task.Status == domain.UserTaskCancelled {
		return nil, nil, domain.NewError(domain.KindState, "user task %s already resolved (%s)", taskID, task.Status)
	}
	if !task.CanAct(user, groupLookup) {
		return nil, nil, domain.NewError(domain.KindPermission, "user %s is not authorized to complete task %s", user, taskID)
	}

	now := time.Now().UTC()
	task.Status = domain.UserTaskCompleted
	task.CompletedBy = user
	task.CompletedTime = &now
	task.UpdateTime = now

	if err := e.tasks.Update(ctx, task); err != nil {
		return nil, nil, domain.Wrap(domain.KindResource, err, "update user task %s", taskID)
	}
	for _, n := range e.notifiers {
		_ = n.Notify(ctx, task, "completed")
	}
	return task, outputData, nil
}

// Delegate reassigns a task to another user, recording who delegated it
// and why (spec §4.4).
func (e *Executor) Delegate(ctx context.Context, taskID, fromUser, toUser, reason string, groupLookup func(user string, groups []string) bool) (*domain.UserTask, error) {
	task, err := e.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, domain.Wrap(domain.KindResource, err, "load user task %s", taskID)
	}
	if task == nil {
		return nil, domain.NewError(domain.KindState, "user task %s not found", taskID)
	}
	if task.Assignee != fromUser {
		return nil, domain.NewError(domain.KindPermission, "user %s is not the assignee of task %s and cannot delegate it", fromUser, taskID)
	}

	now := time.Now().UTC()
	task.Assignee = toUser
	task.Status = domain.UserTaskDelegated
	task.DelegatedBy = fromUser
	task.DelegatedTime = &now
	task.DelegationReason = reason
	task.UpdateTime = now

	if err := e.tasks.Update(ctx, task); err != nil {
		return nil, domain.Wrap(domain.KindResource, err, "update user task %s", taskID)
	}
	for _, n := range e.notifiers {
		_ = n.Notify(ctx, task, "delegated")
	}
	return task, nil
}

// Reclaim pulls a delegated task back to a new assignee. Only the user who
// originally delegated it away, or one of its candidateUsers, may reclaim
// it (spec §4.4) — otherwise any caller could steal a task they were never
// offered.
func (e *Executor) Reclaim(ctx context.Context, taskID, byUser string) (*domain.UserTask, error) {
	task, err := e.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, domain.Wrap(domain.KindResource, err, "load user task %s", taskID)
	}
	if task == nil {
		return nil, domain.NewError(domain.KindState, "user task %s not found", taskID)
	}
	if !reclaimAuthorized(task, byUser) {
		return nil, domain.NewError(domain.KindPermission, "user %s is not authorized to reclaim task %s", byUser, taskID)
	}

	now := time.Now().UTC()
	task.Assignee = byUser
	task.Status = domain.UserTaskReclaimed
	task.ReclaimedBy = byUser
	task.ReclaimedTime = &now
	task.UpdateTime = now

	if err := e.tasks.Update(ctx, task); err != nil {
		return nil, domain.Wrap(domain.KindResource, err, "update user task %s", taskID)
	}
	for _, n := range e.notifiers {
		_ = n.Notify(ctx, task, "reclaimed")
	}
	return task, nil
}

// reclaimAuthorized reports whether byUser may reclaim task: either the
// user who delegated it away, or one of its original candidateUsers.
func reclaimAuthorized(task *domain.UserTask, byUser string) bool {
	if task.DelegatedBy != "" && task.DelegatedBy == byUser {
		return true
	}
	for _, u := range task.CandidateUsers {
		if u == byUser {
			return true
		}
	}
	return false
}
