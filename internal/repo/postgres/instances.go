package postgres

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/orcheo-io/workflow-engine/internal/domain"
	"github.com/orcheo-io/workflow-engine/internal/repo"
)

type instanceRepo struct {
	db *sqlx.DB
}

type instanceRow struct {
	ID               string     `db:"id"`
	WorkflowID       string     `db:"workflow_id"`
	BusinessKey      string     `db:"business_key"`
	Priority         int        `db:"priority"`
	Name             string     `db:"name"`
	Status           string     `db:"status"`
	CurrentStepID    string     `db:"current_step_id"`
	CurrentStepOrder int        `db:"current_step_order"`
	StartUserID      string     `db:"start_user_id"`
	CurrentUserID    string     `db:"current_user_id"`
	ContextJSON      string     `db:"context_json"`
	ConfigJSON       string     `db:"config_json"`
	CreateTime       time.Time  `db:"create_time"`
	StartTime        *time.Time `db:"start_time"`
	EndTime          *time.Time `db:"end_time"`
	UpdateTime       time.Time  `db:"update_time"`
	ErrorMessage     string     `db:"error_message"`
	ErrorStack       string     `db:"error_stack"`
	Tags             string     `db:"tags"`
}

func rowToInstance(row instanceRow) (*domain.Instance, error) {
	ctxVars, err := decodeValueMap(row.ContextJSON)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeValueMap(row.ConfigJSON)
	if err != nil {
		return nil, err
	}
	return &domain.Instance{
		ID: row.ID, WorkflowID: row.WorkflowID, BusinessKey: row.BusinessKey, Priority: row.Priority,
		Name: row.Name, Status: domain.InstanceStatus(row.Status), CurrentStepID: row.CurrentStepID,
		CurrentStepOrder: row.CurrentStepOrder, StartUserID: row.StartUserID, CurrentUserID: row.CurrentUserID,
		Context: ctxVars, Config: cfg, CreateTime: row.CreateTime, StartTime: row.StartTime, EndTime: row.EndTime,
		UpdateTime: row.UpdateTime, ErrorMessage: row.ErrorMessage, ErrorStack: row.ErrorStack, Tags: splitTags(row.Tags),
	}, nil
}

func instanceToRow(inst *domain.Instance) (instanceRow, error) {
	ctxJSON, err := encodeValueMap(inst.Context)
	if err != nil {
		return instanceRow{}, err
	}
	cfgJSON, err := encodeValueMap(inst.Config)
	if err != nil {
		return instanceRow{}, err
	}
	return instanceRow{
		ID: inst.ID, WorkflowID: inst.WorkflowID, BusinessKey: inst.BusinessKey, Priority: inst.Priority,
		Name: inst.Name, Status: string(inst.Status), CurrentStepID: inst.CurrentStepID,
		CurrentStepOrder: inst.CurrentStepOrder, StartUserID: inst.StartUserID, CurrentUserID: inst.CurrentUserID,
		ContextJSON: ctxJSON, ConfigJSON: cfgJSON, CreateTime: inst.CreateTime, StartTime: inst.StartTime,
		EndTime: inst.EndTime, UpdateTime: inst.UpdateTime, ErrorMessage: inst.ErrorMessage,
		ErrorStack: inst.ErrorStack, Tags: joinTags(inst.Tags),
	}, nil
}

func (r *instanceRepo) Get(ctx context.Context, id string) (*domain.Instance, error) {
	var row instanceRow
	if err := r.db.GetContext(ctx, &row, `SELECT * FROM instances WHERE id = $1`, id); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return rowToInstance(row)
}

func (r *instanceRepo) ListByBusinessKey(ctx context.Context, businessKey string) ([]*domain.Instance, error) {
	var rows []instanceRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT * FROM instances WHERE business_key = $1 ORDER BY create_time DESC`, businessKey); err != nil {
		return nil, err
	}
	return rowsToInstances(rows)
}

func (r *instanceRepo) ListWithFilter(ctx context.Context, filter repo.InstanceFilter) ([]*domain.Instance, error) {
	query := strings.Builder{}
	query.WriteString(`SELECT * FROM instances WHERE 1=1`)
	args := []interface{}{}
	idx := 1
	add := func(clause string, val interface{}) {
		query.WriteString(" AND " + strings.Replace(clause, "?", "$"+strconv.Itoa(idx), 1))
		args = append(args, val)
		idx++
	}
	if filter.WorkflowID != "" {
		add("workflow_id = ?", filter.WorkflowID)
	}
	if filter.Status != "" {
		add("status = ?", string(filter.Status))
	}
	if filter.BusinessKey != "" {
		add("business_key = ?", filter.BusinessKey)
	}
	if filter.Tag != "" {
		add("tags LIKE ?", "%"+filter.Tag+"%")
	}
	query.WriteString(" ORDER BY create_time DESC")
	if filter.Size > 0 {
		query.WriteString(" LIMIT $" + strconv.Itoa(idx))
		args = append(args, filter.Size)
		idx++
		if filter.Page > 0 {
			query.WriteString(" OFFSET $" + strconv.Itoa(idx))
			args = append(args, filter.Page*filter.Size)
		}
	}

	var rows []instanceRow
	if err := r.db.SelectContext(ctx, &rows, query.String(), args...); err != nil {
		return nil, err
	}
	return rowsToInstances(rows)
}

func rowsToInstances(rows []instanceRow) ([]*domain.Instance, error) {
	out := make([]*domain.Instance, len(rows))
	for i, row := range rows {
		inst, err := rowToInstance(row)
		if err != nil {
			return nil, err
		}
		out[i] = inst
	}
	return out, nil
}

func (r *instanceRepo) Save(ctx context.Context, inst *domain.Instance) error {
	row, err := instanceToRow(inst)
	if err != nil {
		return err
	}
	_, err = r.db.NamedExecContext(ctx, `
		INSERT INTO instances (
			id, workflow_id, business_key, priority, name, status, current_step_id, current_step_order,
			start_user_id, current_user_id, context_json, config_json, create_time, start_time, end_time,
			update_time, error_message, error_stack, tags
		) VALUES (
			:id, :workflow_id, :business_key, :priority, :name, :status, :current_step_id, :current_step_order,
			:start_user_id, :current_user_id, :context_json, :config_json, :create_time, :start_time, :end_time,
			:update_time, :error_message, :error_stack, :tags
		)
	`, row)
	return err
}

func (r *instanceRepo) Update(ctx context.Context, inst *domain.Instance) error {
	row, err := instanceToRow(inst)
	if err != nil {
		return err
	}
	_, err = r.db.NamedExecContext(ctx, `
		UPDATE instances SET
			status = :status, current_step_id = :current_step_id, current_step_order = :current_step_order,
			current_user_id = :current_user_id, context_json = :context_json, config_json = :config_json,
			start_time = :start_time, end_time = :end_time, update_time = :update_time,
			error_message = :error_message, error_stack = :error_stack, tags = :tags
		WHERE id = :id
	`, row)
	return err
}

func (r *instanceRepo) DeleteCascade(ctx context.Context, id string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"variables", "user_tasks", "execution_history"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE instance_id = $1", id); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM instances WHERE id = $1`, id); err != nil {
		return err
	}
	return tx.Commit()
}
