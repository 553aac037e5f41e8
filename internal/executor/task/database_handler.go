package task

import (
	"context"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/orcheo-io/workflow-engine/internal/domain"
)

// DatabaseHandler runs a parameterized SQL query (grounded on the
// teacher's "database" node-type branch) against an injected *sqlx.DB —
// the same connection pool the repository package uses, so a database
// task shares the engine's pool rather than opening its own.
type DatabaseHandler struct {
	db *sqlx.DB
}

// NewDatabaseHandler builds a DatabaseHandler over db.
func NewDatabaseHandler(db *sqlx.DB) *DatabaseHandler {
	return &DatabaseHandler{db: db}
}

func (h *DatabaseHandler) Name() string { return "database" }

func (h *DatabaseHandler) ValidateConfig(cfg map[string]domain.Value) error {
	if _, err := requireString(cfg, "sql"); err != nil {
		return err
	}
	return nil
}

func (h *DatabaseHandler) Run(ctx context.Context, execCtx *domain.StepExecutionContext, cfg map[string]domain.Value) (map[string]domain.Value, error) {
	query, err := requireString(cfg, "sql")
	if err != nil {
		return nil, err
	}

	params := namedParams(execCtx.InputParameters)
	rows, err := h.db.NamedQueryContext(ctx, query, params)
	if err != nil {
		return nil, domain.Wrap(domain.KindResource, err, "database task query failed")
	}
	defer rows.Close()

	var results []map[string]domain.Value
	for rows.Next() {
		raw := map[string]interface{}{}
		if err := rows.MapScan(raw); err != nil {
			return nil, domain.Wrap(domain.KindData, err, "database task scan row")
		}
		row := make(map[string]domain.Value, len(raw))
		for k, v := range raw {
			row[k] = interfaceToValue(v)
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Wrap(domain.KindResource, err, "database task row iteration")
	}

	items := make([]domain.Value, len(results))
	for i, r := range results {
		items[i] = domain.NewObject(r)
	}
	return map[string]domain.Value{
		"rows":      domain.NewArray(items),
		"rowCount":  domain.NewInt(int64(len(results))),
	}, nil
}

func namedParams(params map[string]domain.Value) map[string]interface{} {
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		out[k] = valueToInterface(v)
	}
	return out
}

func interfaceToValue(v interface{}) domain.Value {
	switch t := v.(type) {
	case nil:
		return domain.Null
	case bool:
		return domain.NewBool(t)
	case int64:
		return domain.NewLong(t)
	case float64:
		return domain.NewDouble(t)
	case string:
		return domain.NewString(t)
	case []byte:
		return domain.NewString(string(t))
	default:
		return domain.NewString("")
	}
}
