package filter

import (
	"fmt"
	"sort"
	"strings"

	"github.com/skothari-dev/loom/internal/core"
)

// Compiler turns a declarative filter into a parameter-bound WHERE
// clause. Every literal value is emitted as a bound parameter; the
// explicitly typed "sql" and "custom" shapes are the only escape
// hatches, spliced in as-is and never parameterized.
//
// Filter keys must resolve to a declared field of the schema or to a
// schema-level static filter key. Unknown keys are rejected; they are
// never passed through as bare column names.
type Compiler struct {
	values    *Values
	languages []string
}

// NewCompiler creates a filter compiler sharing the given value
// processor with the write path. languages is the set of configured
// languages, used to resolve :lang filter keys and their concrete
// per-language forms against the schema.
func NewCompiler(values *Values, languages []string) *Compiler {
	return &Compiler{values: values, languages: languages}
}

// Values returns the shared value processor.
func (c *Compiler) Values() *Values { return c.values }

// Compile builds the WHERE clause for an explicit filter merged with
// the schema's static filters. The explicit filter wins when both
// target the same key, including when the static key only matches
// after :lang resolution. An empty merged filter yields an empty
// Where; empty array values drop their predicate rather than emitting
// an empty group.
func (c *Compiler) Compile(s *core.Schema, f core.Filter, sess *core.Session) (core.Where, error) {
	lang := ""
	if sess != nil {
		lang = sess.Language
	}

	type entry struct {
		key        string
		value      any
		fromStatic bool
	}
	var entries []entry

	explicit := make(map[string]bool, len(f))
	for key := range f {
		explicit[key] = true
	}
	for _, key := range sortedKeys(s.Filters) {
		// Explicit filters win; the :lang-swapped duplicate of an
		// explicit key is dropped entirely.
		if explicit[key] || explicit[resolveLang(key, lang)] {
			continue
		}
		entries = append(entries, entry{key: key, value: s.Filters[key], fromStatic: true})
	}
	for _, key := range sortedKeys(f) {
		entries = append(entries, entry{key: key, value: f[key]})
	}

	var (
		clause string
		params []core.Param
	)
	for _, e := range entries {
		key := resolveLang(e.key, lang)
		field, _, ok := s.ResolveField(key, c.languages)
		if !ok && !e.fromStatic {
			return core.Where{}, fmt.Errorf("filter key %q does not resolve to a field of schema %s", e.key, s.Name)
		}

		pred, join, p, err := c.compileEntry(key, field, e.value)
		if err != nil {
			return core.Where{}, err
		}
		if pred == "" {
			continue
		}
		if clause == "" {
			clause = pred
		} else {
			clause += " " + join + " " + pred
		}
		params = append(params, p...)
	}

	if clause == "" {
		return core.Where{}, nil
	}
	return core.Where{Clause: clause, Params: params}, nil
}

// sortedKeys returns map keys in a stable order so compiled clauses
// are deterministic.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// compileEntry builds the predicate for a single filter entry plus the
// boolean operator joining it to the clause so far. An empty predicate
// string means the entry is omitted (empty arrays in particular).
func (c *Compiler) compileEntry(key string, field *core.Field, value any) (string, string, []core.Param, error) {
	col := quote(key)

	clause, isClause := decodeClause(value)
	if isClause {
		switch {
		case clause.Custom:
			expr, err := toString(clause.Value)
			if err != nil || expr == "" {
				return "", "", nil, fmt.Errorf("custom filter on %q has no expression", key)
			}
			return "(" + expr + ")", clause.Join, nil, nil
		case clause.Raw:
			frag, err := toString(clause.Value)
			if err != nil || frag == "" {
				return "", "", nil, fmt.Errorf("sql filter on %q has no fragment", key)
			}
			return col + " " + frag, "AND", nil, nil
		}
		pred, params, err := c.compileOperator(col, field, clause.Operator, clause.Value)
		return pred, "AND", params, err
	}

	if items := plainSlice(value); items != nil {
		pred, params, err := c.compileArray(col, field, "=", items)
		return pred, "AND", params, err
	}
	pred, params, err := c.compileOperator(col, field, "=", value)
	return pred, "AND", params, err
}

func (c *Compiler) compileOperator(col string, field *core.Field, op string, value any) (string, []core.Param, error) {
	if op == "" {
		op = "="
	}

	if items := plainSlice(value); items != nil {
		switch op {
		case "in":
			// The "in" operator is an inclusive two-value range.
			if len(items) != 2 {
				return "", nil, fmt.Errorf("range filter on %s needs exactly two values", col)
			}
			lo, err := c.values.Param(field, items[0])
			if err != nil {
				return "", nil, err
			}
			hi, err := c.values.Param(field, items[1])
			if err != nil {
				return "", nil, err
			}
			return col + " BETWEEN ? AND ?", []core.Param{lo, hi}, nil
		default:
			return c.compileArray(col, field, op, items)
		}
	}

	switch op {
	case "=", "!=", "<", "<=", ">", ">=":
		p, err := c.values.Param(field, value)
		if err != nil {
			return "", nil, err
		}
		return col + " " + sqlOperator(op) + " ?", []core.Param{p}, nil
	case "%LIKE%", "LIKE%", "%LIKE":
		p, err := likeParam(op, value)
		if err != nil {
			return "", nil, err
		}
		return col + " LIKE ?", []core.Param{p}, nil
	default:
		return "", nil, fmt.Errorf("unsupported filter operator %q on %s", op, col)
	}
}

// compileArray expands an array value into an operator chain: equality
// becomes an OR-chain, negation an AND-chain of <>, LIKE variants join
// with the field's configured multi-filter operator. An empty array
// yields no predicate at all.
func (c *Compiler) compileArray(col string, field *core.Field, op string, items []any) (string, []core.Param, error) {
	if len(items) == 0 {
		return "", nil, nil
	}

	join := " OR "
	var each func(any) (string, core.Param, error)
	switch op {
	case "=":
		each = func(v any) (string, core.Param, error) {
			p, err := c.values.Param(field, v)
			return col + " = ?", p, err
		}
	case "!=":
		join = " AND "
		each = func(v any) (string, core.Param, error) {
			p, err := c.values.Param(field, v)
			return col + " <> ?", p, err
		}
	case "%LIKE%", "LIKE%", "%LIKE":
		if field != nil && strings.EqualFold(field.Settings.MultipleFilters, "AND") {
			join = " AND "
		}
		each = func(v any) (string, core.Param, error) {
			p, err := likeParam(op, v)
			return col + " LIKE ?", p, err
		}
	default:
		return "", nil, fmt.Errorf("operator %q cannot take an array on %s", op, col)
	}

	parts := make([]string, 0, len(items))
	params := make([]core.Param, 0, len(items))
	for _, item := range items {
		expr, p, err := each(item)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, expr)
		params = append(params, p)
	}
	if len(parts) == 1 {
		return parts[0], params, nil
	}
	return "(" + strings.Join(parts, join) + ")", params, nil
}

// decodeClause recognizes the object filter shapes: operator/value
// maps, the typed sql/custom escapes, and already-decoded core.Clause
// values.
func decodeClause(value any) (core.Clause, bool) {
	switch v := value.(type) {
	case core.Clause:
		return v, true
	case map[string]any:
		if t, ok := v["type"].(string); ok {
			switch t {
			case "sql":
				return core.Clause{Raw: true, Value: v["value"]}, true
			case "custom":
				join, _ := v["join"].(string)
				if join == "" {
					join = "AND"
				}
				return core.Clause{Custom: true, Join: join, Value: v["value"]}, true
			}
		}
		if op, ok := v["operator"].(string); ok {
			return core.Clause{Operator: op, Value: v["value"]}, true
		}
		return core.Clause{}, false
	default:
		return core.Clause{}, false
	}
}

// plainSlice returns the value as a slice when it is one, nil
// otherwise. Unlike asSlice it never wraps scalars.
func plainSlice(value any) []any {
	switch value.(type) {
	case []any, []int, []int64, []string:
		return asSlice(value)
	}
	return nil
}

func likeParam(op string, value any) (core.Param, error) {
	s, err := toString(value)
	if err != nil {
		return core.Param{}, err
	}
	switch op {
	case "LIKE%":
		s += "%"
	case "%LIKE":
		s = "%" + s
	default:
		s = "%" + s + "%"
	}
	return core.Param{Type: core.ParamString, Value: s}, nil
}

func sqlOperator(op string) string {
	if op == "!=" {
		return "<>"
	}
	return op
}

// resolveLang swaps the :lang marker in a filter key for the active
// language.
func resolveLang(key, lang string) string {
	if lang == "" || !strings.Contains(key, core.LangMarker) {
		return key
	}
	return core.LangField(key, lang)
}

// quote wraps an identifier in MySQL backticks.
func quote(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "") + "`"
}
