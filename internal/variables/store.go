package variables

import (
	"context"

	"github.com/orcheo-io/workflow-engine/internal/domain"
	"github.com/orcheo-io/workflow-engine/internal/repo"
)

// Store is the scoped variable/context store (C2): typed get/set over the
// Repository's canonical-string Variable rows, sharded by instance id as
// required by spec §5 (one Store wraps one repo.VariableRepository; the
// engine shards instances across Stores only if it chooses to run more
// than one — in-process this is a stateless wrapper, all state lives in
// the repository).
type Store struct {
	repo repo.VariableRepository
}

// NewStore builds a Store over the given repository port.
func NewStore(r repo.VariableRepository) *Store {
	return &Store{repo: r}
}

// Get resolves a variable by (instanceID, scope, name, stepID); stepID is
// ignored unless scope == ScopeStep. Returns domain.Null if unset.
func (s *Store) Get(ctx context.Context, instanceID string, scope domain.VariableScope, name, stepID string) (domain.Value, error) {
	if scope != domain.ScopeStep {
		stepID = ""
	}
	row, err := s.repo.Lookup(ctx, instanceID, scope, name, stepID)
	if err != nil {
		return domain.Null, err
	}
	if row == nil {
		return domain.Null, nil
	}
	return Decode(row.Value, row.Type)
}

// Set upserts a variable's value, encoding it canonically.
func (s *Store) Set(ctx context.Context, instanceID string, scope domain.VariableScope, name, stepID string, v domain.Value) error {
	if scope != domain.ScopeStep {
		stepID = ""
	}
	encoded, err := Encode(v)
	if err != nil {
		return err
	}
	row := &domain.Variable{
		InstanceID: instanceID,
		Name:       name,
		Type:       KindToVariableType(v.Kind),
		Value:      encoded,
		Scope:      scope,
		StepID:     stepID,
	}
	if err := row.Validate(); err != nil {
		return err
	}
	return s.repo.Upsert(ctx, row)
}

// Delete removes a variable.
func (s *Store) Delete(ctx context.Context, instanceID string, scope domain.VariableScope, name, stepID string) error {
	if scope != domain.ScopeStep {
		stepID = ""
	}
	return s.repo.Delete(ctx, instanceID, scope, name, stepID)
}

// LoadContext loads every INSTANCE- and GLOBAL-scoped variable for an
// instance into a single context map, the shape the engine keeps as
// Instance.Context.
func (s *Store) LoadContext(ctx context.Context, instanceID string) (map[string]domain.Value, error) {
	rows, err := s.repo.ListByInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]domain.Value, len(rows))
	for _, row := range rows {
		if row.Scope == domain.ScopeStep {
			continue
		}
		v, err := Decode(row.Value, row.Type)
		if err != nil {
			return nil, err
		}
		out[row.Name] = v
	}
	return out, nil
}

// SaveContext persists every entry of ctxVars as INSTANCE-scoped variables,
// used after merging a step's outputData into the instance context.
func (s *Store) SaveContext(ctx context.Context, instanceID string, ctxVars map[string]domain.Value) error {
	for name, v := range ctxVars {
		if err := s.Set(ctx, instanceID, domain.ScopeInstance, name, "", v); err != nil {
			return err
		}
	}
	return nil
}
