package domain

// VariableType is the declared type of a persisted Variable, distinct from
// ValueKind: it is the wire/storage vocabulary from spec §3.
type VariableType string

const (
	VarString   VariableType = "string"
	VarInt      VariableType = "int"
	VarLong     VariableType = "long"
	VarDouble   VariableType = "double"
	VarBool     VariableType = "bool"
	VarDate     VariableType = "date"
	VarDateTime VariableType = "datetime"
	VarJSON     VariableType = "json"
	VarArray    VariableType = "array"
	VarObject   VariableType = "object"
)

// VariableScope controls visibility of a Variable (spec §3).
type VariableScope string

const (
	ScopeInstance VariableScope = "INSTANCE"
	ScopeStep     VariableScope = "STEP"
	ScopeGlobal   VariableScope = "GLOBAL"
)

// Variable is the persisted row shape: value is always the canonical
// string encoding, typed accessors live in internal/variables.
type Variable struct {
	ID         string
	InstanceID string
	Name       string
	Type       VariableType
	Value      string
	Scope      VariableScope
	StepID     string // required iff Scope == ScopeStep
}

// Key returns the uniqueness tuple used by the Repository: (instanceId,
// scope, name, stepId?) per spec §3's invariant.
func (v *Variable) Key() (instanceID string, scope VariableScope, name string, stepID string) {
	return v.InstanceID, v.Scope, v.Name, v.StepID
}

// Validate enforces the stepId-required-iff-scope=STEP invariant.
func (v *Variable) Validate() error {
	if v.Scope == ScopeStep && v.StepID == "" {
		return NewError(KindData, "variable %q has scope STEP but no stepId", v.Name)
	}
	if v.Scope != ScopeStep && v.StepID != "" {
		return NewError(KindData, "variable %q has stepId but scope %s", v.Name, v.Scope)
	}
	return nil
}
