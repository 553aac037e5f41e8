package postgres

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/orcheo-io/workflow-engine/internal/domain"
)

type variableRepo struct {
	db *sqlx.DB
}

type variableRow struct {
	InstanceID string `db:"instance_id"`
	Scope      string `db:"scope"`
	Name       string `db:"name"`
	StepID     string `db:"step_id"`
	Type       string `db:"type"`
	Value      string `db:"value"`
}

func rowToVariable(row variableRow) *domain.Variable {
	return &domain.Variable{
		ID:         row.InstanceID + ":" + row.Scope + ":" + row.Name + ":" + row.StepID,
		InstanceID: row.InstanceID, Name: row.Name, Type: domain.VariableType(row.Type),
		Value: row.Value, Scope: domain.VariableScope(row.Scope), StepID: row.StepID,
	}
}

// Upsert persists v keyed by its (instanceId, scope, name, stepId) tuple
// (spec §3's uniqueness invariant); the id column does not exist on this
// table, the tuple itself is the primary key.
func (r *variableRepo) Upsert(ctx context.Context, v *domain.Variable) error {
	row := variableRow{
		InstanceID: v.InstanceID, Scope: string(v.Scope), Name: v.Name, StepID: v.StepID,
		Type: string(v.Type), Value: v.Value,
	}
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO variables (instance_id, scope, name, step_id, type, value)
		VALUES (:instance_id, :scope, :name, :step_id, :type, :value)
		ON CONFLICT (instance_id, scope, name, step_id) DO UPDATE SET type = :type, value = :value
	`, row)
	return err
}

func (r *variableRepo) Lookup(ctx context.Context, instanceID string, scope domain.VariableScope, name, stepID string) (*domain.Variable, error) {
	var row variableRow
	err := r.db.GetContext(ctx, &row, `
		SELECT * FROM variables WHERE instance_id = $1 AND scope = $2 AND name = $3 AND step_id = $4
	`, instanceID, string(scope), name, stepID)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return rowToVariable(row), nil
}

func (r *variableRepo) Delete(ctx context.Context, instanceID string, scope domain.VariableScope, name, stepID string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM variables WHERE instance_id = $1 AND scope = $2 AND name = $3 AND step_id = $4
	`, instanceID, string(scope), name, stepID)
	return err
}

func (r *variableRepo) ListByInstance(ctx context.Context, instanceID string) ([]*domain.Variable, error) {
	var rows []variableRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT * FROM variables WHERE instance_id = $1`, instanceID); err != nil {
		return nil, err
	}
	out := make([]*domain.Variable, len(rows))
	for i, row := range rows {
		out[i] = rowToVariable(row)
	}
	return out, nil
}
