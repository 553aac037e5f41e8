// Package postgres is the concrete Repository adapter (C8) backing
// internal/repo's ports with PostgreSQL via sqlx, grounded on the
// teacher's `internal/repo/repository.go` (sqlx.Connect, NamedExec/Select
// conventions, connection-pool defaults), expanded from its two tables
// (workflow_executions, step_executions) to the full schema this engine
// needs: workflows, instances, execution_history, user_tasks, variables.
package postgres

import (
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/orcheo-io/workflow-engine/internal/repo"
)

// Repository aggregates the five sub-repositories over one *sqlx.DB pool.
type Repository struct {
	db     *sqlx.DB
	logger *zap.Logger

	definitions *definitionRepo
	instances   *instanceRepo
	history     *historyRepo
	userTasks   *userTaskRepo
	variables   *variableRepo
}

// New opens the connection pool and wires every sub-repository over it.
func New(databaseURL string, logger *zap.Logger) (*Repository, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	r := &Repository{db: db, logger: logger.With(zap.String("component", "postgres-repo"))}
	r.definitions = &definitionRepo{db: db}
	r.instances = &instanceRepo{db: db}
	r.history = &historyRepo{db: db}
	r.userTasks = &userTaskRepo{db: db}
	r.variables = &variableRepo{db: db}
	return r, nil
}

// DB exposes the underlying connection pool for collaborators that need
// raw SQL access outside the repository ports (the "database" task
// handler executes operator-supplied statements against this same pool).
func (r *Repository) DB() *sqlx.DB { return r.db }

// Close closes the underlying connection pool.
func (r *Repository) Close() error { return r.db.Close() }

// Ping checks database connectivity, used by the health checker.
func (r *Repository) Ping() error { return r.db.Ping() }

// Stats returns database connection pool statistics for metrics export.
func (r *Repository) Stats() sql.DBStats { return r.db.Stats() }

func (r *Repository) Definitions() repo.DefinitionRepository { return r.definitions }
func (r *Repository) Instances() repo.InstanceRepository     { return r.instances }
func (r *Repository) History() repo.HistoryRepository        { return r.history }
func (r *Repository) UserTasks() repo.UserTaskRepository     { return r.userTasks }
func (r *Repository) Variables() repo.VariableRepository     { return r.variables }

// Schema is the DDL this adapter expects; migrations apply it (see
// cmd/engine's migrate subcommand). Kept here as the single source of
// truth for column/table naming used by the query strings below.
const Schema = `
CREATE TABLE IF NOT EXISTS workflows (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	version     INT NOT NULL,
	description TEXT,
	status      TEXT NOT NULL,
	steps_json  TEXT NOT NULL,
	config_json TEXT NOT NULL DEFAULT '{}',
	create_time TIMESTAMPTZ NOT NULL,
	update_time TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS instances (
	id                  TEXT PRIMARY KEY,
	workflow_id         TEXT NOT NULL REFERENCES workflows(id),
	business_key        TEXT,
	priority            INT NOT NULL DEFAULT 0,
	name                TEXT,
	status              TEXT NOT NULL,
	current_step_id     TEXT NOT NULL,
	current_step_order  INT NOT NULL DEFAULT 0,
	start_user_id       TEXT,
	current_user_id     TEXT,
	context_json        TEXT NOT NULL DEFAULT '{}',
	config_json         TEXT NOT NULL DEFAULT '{}',
	create_time         TIMESTAMPTZ NOT NULL,
	start_time          TIMESTAMPTZ,
	end_time            TIMESTAMPTZ,
	update_time         TIMESTAMPTZ NOT NULL,
	error_message       TEXT,
	error_stack         TEXT,
	tags                TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_instances_business_key ON instances(business_key);
CREATE INDEX IF NOT EXISTS idx_instances_workflow_status ON instances(workflow_id, status);

CREATE TABLE IF NOT EXISTS execution_history (
	id               TEXT PRIMARY KEY,
	instance_id      TEXT NOT NULL REFERENCES instances(id),
	step_id          TEXT NOT NULL,
	step_name        TEXT,
	step_type        TEXT NOT NULL,
	status           TEXT NOT NULL,
	executor_name    TEXT,
	input_data_json  TEXT NOT NULL DEFAULT '{}',
	output_data_json TEXT NOT NULL DEFAULT '{}',
	error_message    TEXT,
	started_time     TIMESTAMPTZ NOT NULL,
	completed_time   TIMESTAMPTZ,
	execution_time_ms BIGINT NOT NULL DEFAULT 0,
	retry_count      INT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_history_instance ON execution_history(instance_id, started_time);

CREATE TABLE IF NOT EXISTS user_tasks (
	id                TEXT PRIMARY KEY,
	instance_id       TEXT NOT NULL REFERENCES instances(id),
	step_id           TEXT NOT NULL,
	name              TEXT,
	description       TEXT,
	form_key          TEXT,
	form_data_json    TEXT NOT NULL DEFAULT '{}',
	assignee          TEXT,
	candidate_users   TEXT NOT NULL DEFAULT '',
	candidate_groups  TEXT NOT NULL DEFAULT '',
	priority          INT NOT NULL DEFAULT 0,
	status            TEXT NOT NULL,
	due_date          TIMESTAMPTZ,
	create_time       TIMESTAMPTZ NOT NULL,
	update_time       TIMESTAMPTZ NOT NULL,
	created_by        TEXT,
	completed_by      TEXT,
	completed_time    TIMESTAMPTZ,
	delegated_by      TEXT,
	delegated_time    TIMESTAMPTZ,
	delegation_reason TEXT,
	reclaimed_by      TEXT,
	reclaimed_time    TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_user_tasks_instance ON user_tasks(instance_id);
CREATE INDEX IF NOT EXISTS idx_user_tasks_assignee ON user_tasks(assignee) WHERE status IN ('CREATED', 'ASSIGNED', 'IN_PROGRESS');

CREATE TABLE IF NOT EXISTS variables (
	instance_id TEXT NOT NULL REFERENCES instances(id),
	scope       TEXT NOT NULL,
	name        TEXT NOT NULL,
	step_id     TEXT NOT NULL DEFAULT '',
	type        TEXT NOT NULL,
	value       TEXT NOT NULL,
	PRIMARY KEY (instance_id, scope, name, step_id)
);
`
