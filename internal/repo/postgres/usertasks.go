package postgres

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/orcheo-io/workflow-engine/internal/domain"
	"github.com/orcheo-io/workflow-engine/internal/repo"
)

type userTaskRepo struct {
	db *sqlx.DB
}

type userTaskRow struct {
	ID               string     `db:"id"`
	InstanceID       string     `db:"instance_id"`
	StepID           string     `db:"step_id"`
	Name             string     `db:"name"`
	Description      string     `db:"description"`
	FormKey          string     `db:"form_key"`
	FormDataJSON     string     `db:"form_data_json"`
	Assignee         string     `db:"assignee"`
	CandidateUsers   string     `db:"candidate_users"`
	CandidateGroups  string     `db:"candidate_groups"`
	Priority         int        `db:"priority"`
	Status           string     `db:"status"`
	DueDate          *time.Time `db:"due_date"`
	CreateTime       time.Time  `db:"create_time"`
	UpdateTime       time.Time  `db:"update_time"`
	CreatedBy        string     `db:"created_by"`
	CompletedBy      string     `db:"completed_by"`
	CompletedTime    *time.Time `db:"completed_time"`
	DelegatedBy      string     `db:"delegated_by"`
	DelegatedTime    *time.Time `db:"delegated_time"`
	DelegationReason string     `db:"delegation_reason"`
	ReclaimedBy      string     `db:"reclaimed_by"`
	ReclaimedTime    *time.Time `db:"reclaimed_time"`
}

func rowToUserTask(row userTaskRow) (*domain.UserTask, error) {
	form, err := decodeValueMap(row.FormDataJSON)
	if err != nil {
		return nil, err
	}
	return &domain.UserTask{
		ID: row.ID, InstanceID: row.InstanceID, StepID: row.StepID, Name: row.Name, Description: row.Description,
		FormKey: row.FormKey, FormData: form, Assignee: row.Assignee,
		CandidateUsers: splitTags(row.CandidateUsers), CandidateGroups: splitTags(row.CandidateGroups),
		Priority: row.Priority, Status: domain.UserTaskStatus(row.Status), DueDate: row.DueDate,
		CreateTime: row.CreateTime, UpdateTime: row.UpdateTime, CreatedBy: row.CreatedBy,
		CompletedBy: row.CompletedBy, CompletedTime: row.CompletedTime, DelegatedBy: row.DelegatedBy,
		DelegatedTime: row.DelegatedTime, DelegationReason: row.DelegationReason,
		ReclaimedBy: row.ReclaimedBy, ReclaimedTime: row.ReclaimedTime,
	}, nil
}

func userTaskToRow(t *domain.UserTask) (userTaskRow, error) {
	form, err := encodeValueMap(t.FormData)
	if err != nil {
		return userTaskRow{}, err
	}
	return userTaskRow{
		ID: t.ID, InstanceID: t.InstanceID, StepID: t.StepID, Name: t.Name, Description: t.Description,
		FormKey: t.FormKey, FormDataJSON: form, Assignee: t.Assignee,
		CandidateUsers: joinTags(t.CandidateUsers), CandidateGroups: joinTags(t.CandidateGroups),
		Priority: t.Priority, Status: string(t.Status), DueDate: t.DueDate,
		CreateTime: t.CreateTime, UpdateTime: t.UpdateTime, CreatedBy: t.CreatedBy,
		CompletedBy: t.CompletedBy, CompletedTime: t.CompletedTime, DelegatedBy: t.DelegatedBy,
		DelegatedTime: t.DelegatedTime, DelegationReason: t.DelegationReason,
		ReclaimedBy: t.ReclaimedBy, ReclaimedTime: t.ReclaimedTime,
	}, nil
}

func (r *userTaskRepo) Save(ctx context.Context, t *domain.UserTask) error {
	row, err := userTaskToRow(t)
	if err != nil {
		return err
	}
	_, err = r.db.NamedExecContext(ctx, `
		INSERT INTO user_tasks (
			id, instance_id, step_id, name, description, form_key, form_data_json, assignee,
			candidate_users, candidate_groups, priority, status, due_date, create_time, update_time,
			created_by, completed_by, completed_time, delegated_by, delegated_time, delegation_reason,
			reclaimed_by, reclaimed_time
		) VALUES (
			:id, :instance_id, :step_id, :name, :description, :form_key, :form_data_json, :assignee,
			:candidate_users, :candidate_groups, :priority, :status, :due_date, :create_time, :update_time,
			:created_by, :completed_by, :completed_time, :delegated_by, :delegated_time, :delegation_reason,
			:reclaimed_by, :reclaimed_time
		)
	`, row)
	return err
}

func (r *userTaskRepo) Get(ctx context.Context, id string) (*domain.UserTask, error) {
	var row userTaskRow
	if err := r.db.GetContext(ctx, &row, `SELECT * FROM user_tasks WHERE id = $1`, id); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return rowToUserTask(row)
}

func (r *userTaskRepo) ListByInstance(ctx context.Context, instanceID string) ([]*domain.UserTask, error) {
	var rows []userTaskRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT * FROM user_tasks WHERE instance_id = $1 ORDER BY create_time ASC`, instanceID); err != nil {
		return nil, err
	}
	return rowsToUserTasks(rows)
}

func (r *userTaskRepo) ListPendingForUser(ctx context.Context, user string, lookup repo.GroupLookup, page, size int) ([]*domain.UserTask, error) {
	var rows []userTaskRow
	query := `SELECT * FROM user_tasks WHERE status IN ('CREATED','ASSIGNED','IN_PROGRESS') AND (assignee = $1 OR candidate_users LIKE $2) ORDER BY priority DESC, create_time ASC`
	if err := r.db.SelectContext(ctx, &rows, query, user, "%"+user+"%"); err != nil {
		return nil, err
	}
	tasks, err := rowsToUserTasks(rows)
	if err != nil {
		return nil, err
	}

	filtered := tasks[:0]
	for _, t := range tasks {
		if t.Assignee == user {
			filtered = append(filtered, t)
			continue
		}
		if lookup != nil && len(t.CandidateGroups) > 0 {
			ok, err := lookup(ctx, user, t.CandidateGroups)
			if err != nil {
				return nil, err
			}
			if ok {
				filtered = append(filtered, t)
				continue
			}
		}
		for _, c := range t.CandidateUsers {
			if c == user {
				filtered = append(filtered, t)
				break
			}
		}
	}

	if size <= 0 {
		return filtered, nil
	}
	start := page * size
	if start >= len(filtered) {
		return []*domain.UserTask{}, nil
	}
	end := start + size
	if end > len(filtered) {
		end = len(filtered)
	}
	return filtered[start:end], nil
}

func rowsToUserTasks(rows []userTaskRow) ([]*domain.UserTask, error) {
	out := make([]*domain.UserTask, len(rows))
	for i, row := range rows {
		t, err := rowToUserTask(row)
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}

func (r *userTaskRepo) Update(ctx context.Context, t *domain.UserTask) error {
	row, err := userTaskToRow(t)
	if err != nil {
		return err
	}
	_, err = r.db.NamedExecContext(ctx, `
		UPDATE user_tasks SET
			assignee = :assignee, status = :status, update_time = :update_time,
			completed_by = :completed_by, completed_time = :completed_time,
			delegated_by = :delegated_by, delegated_time = :delegated_time, delegation_reason = :delegation_reason,
			reclaimed_by = :reclaimed_by, reclaimed_time = :reclaimed_time, form_data_json = :form_data_json
		WHERE id = :id
	`, row)
	return err
}

func (r *userTaskRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM user_tasks WHERE id = $1`, id)
	return err
}

func (r *userTaskRepo) DeleteByInstance(ctx context.Context, instanceID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM user_tasks WHERE instance_id = $1`, instanceID)
	return err
}

func (r *userTaskRepo) DeleteNotForStep(ctx context.Context, instanceID, keepStepID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM user_tasks WHERE instance_id = $1 AND step_id != $2`, instanceID, keepStepID)
	return err
}
