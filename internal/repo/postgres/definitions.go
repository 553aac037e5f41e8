package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/orcheo-io/workflow-engine/internal/domain"
)

type definitionRepo struct {
	db *sqlx.DB
}

// stepRow is the flat, func-free DTO persisted for one domain.Step; a
// Step's Precondition is a Go closure and is never persisted — the engine
// re-attaches preconditions at load time from a host-registered predicate
// keyed by PreconditionKey (see internal/executor/task's named-predicate
// pattern). Config is stored pre-encoded as the same canonical JSON
// internal/variables produces, so it round-trips through decodeValueMap.
type stepRow struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Description     string `json:"description"`
	Order           int    `json:"order"`
	Type            string `json:"type"`
	ExecutorKey     string `json:"executorKey"`
	ConfigJSON      string `json:"configJson"`
	PreconditionKey string `json:"preconditionKey,omitempty"`
	NextStepID      string `json:"nextStepId"`
	ErrorStepID     string `json:"errorStepId"`
	Optional        bool   `json:"optional"`
	TimeoutSeconds  int    `json:"timeoutSeconds"`
	RetryCount      int    `json:"retryCount"`
	Rollbackable    bool   `json:"rollbackable"`
}

type workflowRow struct {
	ID          string    `db:"id"`
	Name        string    `db:"name"`
	Version     int       `db:"version"`
	Description string    `db:"description"`
	Status      string    `db:"status"`
	StepsJSON   string    `db:"steps_json"`
	ConfigJSON  string    `db:"config_json"`
	CreateTime  time.Time `db:"create_time"`
	UpdateTime  time.Time `db:"update_time"`
}

func encodeSteps(steps []*domain.Step) (string, error) {
	rows := make([]stepRow, len(steps))
	for i, s := range steps {
		cfg, err := encodeValueMap(s.Config)
		if err != nil {
			return "", domain.Wrap(domain.KindData, err, "encode config for step %s", s.ID)
		}
		rows[i] = stepRow{
			ID: s.ID, Name: s.Name, Description: s.Description, Order: s.Order,
			Type: string(s.Type), ExecutorKey: s.ExecutorKey, ConfigJSON: cfg,
			PreconditionKey: s.PreconditionKey,
			NextStepID: s.NextStepID, ErrorStepID: s.ErrorStepID, Optional: s.Optional,
			TimeoutSeconds: s.TimeoutSeconds, RetryCount: s.RetryCount, Rollbackable: s.Rollbackable,
		}
	}
	b, err := json.Marshal(rows)
	if err != nil {
		return "", domain.Wrap(domain.KindData, err, "marshal workflow steps")
	}
	return string(b), nil
}

// decodeSteps never populates Precondition; callers that need it look it
// up in their own predicate registry by PreconditionKey.
func decodeSteps(s string) ([]*domain.Step, error) {
	var rows []stepRow
	if err := json.Unmarshal([]byte(s), &rows); err != nil {
		return nil, domain.Wrap(domain.KindData, err, "unmarshal workflow steps")
	}
	steps := make([]*domain.Step, len(rows))
	for i, r := range rows {
		cfg, err := decodeValueMap(r.ConfigJSON)
		if err != nil {
			return nil, domain.Wrap(domain.KindData, err, "decode config for step %s", r.ID)
		}
		steps[i] = &domain.Step{
			ID: r.ID, Name: r.Name, Description: r.Description, Order: r.Order,
			Type: domain.StepType(r.Type), ExecutorKey: r.ExecutorKey, Config: cfg,
			PreconditionKey: r.PreconditionKey,
			NextStepID: r.NextStepID, ErrorStepID: r.ErrorStepID, Optional: r.Optional,
			TimeoutSeconds: r.TimeoutSeconds, RetryCount: r.RetryCount, Rollbackable: r.Rollbackable,
		}
	}
	return steps, nil
}

func rowToWorkflow(row workflowRow) (*domain.Workflow, error) {
	steps, err := decodeSteps(row.StepsJSON)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeValueMap(row.ConfigJSON)
	if err != nil {
		return nil, err
	}
	return &domain.Workflow{
		ID: row.ID, Name: row.Name, Version: row.Version, Description: row.Description,
		Status: domain.WorkflowStatus(row.Status), Steps: steps, Config: cfg,
		CreateTime: row.CreateTime, UpdateTime: row.UpdateTime,
	}, nil
}

func (r *definitionRepo) Get(ctx context.Context, id string) (*domain.Workflow, error) {
	var row workflowRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM workflows WHERE id = $1`, id)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return rowToWorkflow(row)
}

func (r *definitionRepo) ListByName(ctx context.Context, name string) ([]*domain.Workflow, error) {
	var rows []workflowRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT * FROM workflows WHERE name = $1 ORDER BY version DESC`, name); err != nil {
		return nil, err
	}
	out := make([]*domain.Workflow, len(rows))
	for i, row := range rows {
		wf, err := rowToWorkflow(row)
		if err != nil {
			return nil, err
		}
		out[i] = wf
	}
	return out, nil
}

func (r *definitionRepo) Save(ctx context.Context, wf *domain.Workflow) error {
	stepsJSON, err := encodeSteps(wf.Steps)
	if err != nil {
		return err
	}
	cfgJSON, err := encodeValueMap(wf.Config)
	if err != nil {
		return err
	}
	row := workflowRow{
		ID: wf.ID, Name: wf.Name, Version: wf.Version, Description: wf.Description,
		Status: string(wf.Status), StepsJSON: stepsJSON, ConfigJSON: cfgJSON,
		CreateTime: wf.CreateTime, UpdateTime: wf.UpdateTime,
	}
	_, err = r.db.NamedExecContext(ctx, `
		INSERT INTO workflows (id, name, version, description, status, steps_json, config_json, create_time, update_time)
		VALUES (:id, :name, :version, :description, :status, :steps_json, :config_json, :create_time, :update_time)
		ON CONFLICT (id) DO UPDATE SET
			name = :name, version = :version, description = :description, status = :status,
			steps_json = :steps_json, config_json = :config_json, update_time = :update_time
	`, row)
	return err
}

func (r *definitionRepo) UpdateStatus(ctx context.Context, id string, status domain.WorkflowStatus) error {
	_, err := r.db.ExecContext(ctx, `UPDATE workflows SET status = $1, update_time = $2 WHERE id = $3`, status, time.Now().UTC(), id)
	return err
}
