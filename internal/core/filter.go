package core

// Filter is a declarative WHERE specification: field name to filter
// value. A value is one of:
//
//   - a literal scalar (equality),
//   - a slice of scalars (OR-chain / IN),
//   - a Clause value,
//   - a map[string]any with "operator"/"value" keys, or "type" set to
//     "sql" or "custom" for the raw escape hatches (the shape schema
//     documents produce when decoded from JSON).
type Filter map[string]any

// Clause is the decoded form of an object filter value.
type Clause struct {
	// Operator is a comparison operator: =, !=, <, <=, >, >=, in,
	// %LIKE%, LIKE%, %LIKE. Empty means equality.
	Operator string

	// Raw marks a trusted SQL fragment compared against the field
	// without parameter binding. Caller's responsibility.
	Raw bool

	// Custom marks a prebuilt boolean expression spliced into the
	// WHERE text as-is, combined with Join.
	Custom bool

	// Join is the boolean operator for Custom clauses ("AND"/"OR").
	Join string

	Value any
}

// ParamType classifies a bound parameter for the connection adapter.
type ParamType string

const (
	ParamInteger ParamType = "integer"
	ParamFloat   ParamType = "float"
	ParamString  ParamType = "string"
)

// Param is one bound query parameter.
type Param struct {
	Type  ParamType
	Value any
}

// Where is a compiled filter: predicate text with ? placeholders plus
// the bound parameters, in order. An empty Clause means no WHERE at
// all.
type Where struct {
	Clause string
	Params []Param
}

// Empty reports whether the compiled filter contains no predicate.
func (w Where) Empty() bool { return w.Clause == "" }

// Args returns the parameter values in driver-ready order.
func (w Where) Args() []any {
	args := make([]any, len(w.Params))
	for i, p := range w.Params {
		args[i] = p.Value
	}
	return args
}
