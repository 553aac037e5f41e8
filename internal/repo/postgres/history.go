package postgres

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/orcheo-io/workflow-engine/internal/domain"
)

type historyRepo struct {
	db *sqlx.DB
}

type historyRow struct {
	ID              string     `db:"id"`
	InstanceID      string     `db:"instance_id"`
	StepID          string     `db:"step_id"`
	StepName        string     `db:"step_name"`
	StepType        string     `db:"step_type"`
	Status          string     `db:"status"`
	ExecutorName    string     `db:"executor_name"`
	InputDataJSON   string     `db:"input_data_json"`
	OutputDataJSON  string     `db:"output_data_json"`
	ErrorMessage    string     `db:"error_message"`
	StartedTime     time.Time  `db:"started_time"`
	CompletedTime   *time.Time `db:"completed_time"`
	ExecutionTimeMs int64      `db:"execution_time_ms"`
	RetryCount      int        `db:"retry_count"`
}

func rowToHistory(row historyRow) (*domain.ExecutionHistory, error) {
	in, err := decodeValueMap(row.InputDataJSON)
	if err != nil {
		return nil, err
	}
	out, err := decodeValueMap(row.OutputDataJSON)
	if err != nil {
		return nil, err
	}
	completed := row.StartedTime
	if row.CompletedTime != nil {
		completed = *row.CompletedTime
	}
	return &domain.ExecutionHistory{
		ID: row.ID, InstanceID: row.InstanceID, StepID: row.StepID, StepName: row.StepName,
		StepType: domain.StepType(row.StepType), Status: domain.HistoryStatus(row.Status),
		ExecutorName: row.ExecutorName, InputData: in, OutputData: out, ErrorMessage: row.ErrorMessage,
		StartedTime: row.StartedTime, CompletedTime: completed, ExecutionTimeMs: row.ExecutionTimeMs,
		RetryCount: row.RetryCount,
	}, nil
}

func (r *historyRepo) AppendEntry(ctx context.Context, instanceID string, entry *domain.ExecutionHistory) error {
	inJSON, err := encodeValueMap(entry.InputData)
	if err != nil {
		return err
	}
	outJSON, err := encodeValueMap(entry.OutputData)
	if err != nil {
		return err
	}
	var completed *time.Time
	if !entry.CompletedTime.IsZero() {
		completed = &entry.CompletedTime
	}
	row := historyRow{
		ID: entry.ID, InstanceID: instanceID, StepID: entry.StepID, StepName: entry.StepName,
		StepType: string(entry.StepType), Status: string(entry.Status), ExecutorName: entry.ExecutorName,
		InputDataJSON: inJSON, OutputDataJSON: outJSON, ErrorMessage: entry.ErrorMessage,
		StartedTime: entry.StartedTime, CompletedTime: completed, ExecutionTimeMs: entry.ExecutionTimeMs,
		RetryCount: entry.RetryCount,
	}
	_, err = r.db.NamedExecContext(ctx, `
		INSERT INTO execution_history (
			id, instance_id, step_id, step_name, step_type, status, executor_name,
			input_data_json, output_data_json, error_message, started_time, completed_time,
			execution_time_ms, retry_count
		) VALUES (
			:id, :instance_id, :step_id, :step_name, :step_type, :status, :executor_name,
			:input_data_json, :output_data_json, :error_message, :started_time, :completed_time,
			:execution_time_ms, :retry_count
		)
	`, row)
	return err
}

func (r *historyRepo) ListByInstance(ctx context.Context, instanceID string) ([]*domain.ExecutionHistory, error) {
	var rows []historyRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT * FROM execution_history WHERE instance_id = $1 ORDER BY started_time ASC`, instanceID); err != nil {
		return nil, err
	}
	out := make([]*domain.ExecutionHistory, len(rows))
	for i, row := range rows {
		h, err := rowToHistory(row)
		if err != nil {
			return nil, err
		}
		out[i] = h
	}
	return out, nil
}

func (r *historyRepo) DeleteByInstance(ctx context.Context, instanceID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM execution_history WHERE instance_id = $1`, instanceID)
	return err
}

func (r *historyRepo) DeleteAfter(ctx context.Context, instanceID string, cutoff time.Time) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM execution_history WHERE instance_id = $1 AND started_time > $2`, instanceID, cutoff)
	return err
}
