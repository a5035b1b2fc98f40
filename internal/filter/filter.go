// Package filter compiles CEL expressions into change-event predicates.
//
// An expression sees one committed change through these variables:
//
//	dictionary  string  dictionary name
//	kind        string  "add", "update" or "remove"
//	key         string  encoded key
//	seq         int     change sequence number
//	has_old     bool    whether an old value is present
//	has_new     bool    whether a new value is present
//	old, new    dyn     the values in their JSON form, or null
//
// Example: dictionary == "people" && kind != "remove" && new.age >= 18.0
package filter

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/cel-go/cel"

	"github.com/roach88/txdict/internal/txdict"
)

// Filter is a compiled change predicate. It is safe for concurrent use.
type Filter struct {
	Expression string
	program    cel.Program
}

// Compile parses and type-checks expr. The expression must produce a bool.
func Compile(expr string) (*Filter, error) {
	if expr == "" {
		return nil, fmt.Errorf("filter: expression can't be empty")
	}

	env, err := cel.NewEnv(
		cel.Variable("dictionary", cel.StringType),
		cel.Variable("kind", cel.StringType),
		cel.Variable("key", cel.StringType),
		cel.Variable("seq", cel.IntType),
		cel.Variable("has_old", cel.BoolType),
		cel.Variable("has_new", cel.BoolType),
		cel.Variable("old", cel.DynType),
		cel.Variable("new", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("filter: create CEL environment: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("filter: compile %q: %w", expr, issues.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("filter: %q produces %s, want bool", expr, out)
	}

	p, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("filter: create program: %w", err)
	}
	return &Filter{Expression: expr, program: p}, nil
}

// Match evaluates the filter against c.
func (f *Filter) Match(c txdict.Change) (bool, error) {
	vars, err := activation(c)
	if err != nil {
		return false, err
	}
	out, _, err := f.program.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("filter: evaluate %q: %w", f.Expression, err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("filter: %q produced %v, want bool", f.Expression, out.Value())
	}
	return b, nil
}

// Predicate adapts f to txdict.WithFilter. Changes the filter cannot
// evaluate are dropped and logged.
func (f *Filter) Predicate(logger *slog.Logger) func(txdict.Change) bool {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c txdict.Change) bool {
		ok, err := f.Match(c)
		if err != nil {
			logger.Warn("change filter failed",
				"dictionary", c.Dictionary,
				"key", c.EncodedKey,
				"seq", c.Seq,
				"error", err)
			return false
		}
		return ok
	}
}

func activation(c txdict.Change) (map[string]any, error) {
	oldV, err := jsonValue(c.Old)
	if err != nil {
		return nil, fmt.Errorf("filter: old value of %s/%s: %w", c.Dictionary, c.EncodedKey, err)
	}
	newV, err := jsonValue(c.New)
	if err != nil {
		return nil, fmt.Errorf("filter: new value of %s/%s: %w", c.Dictionary, c.EncodedKey, err)
	}
	return map[string]any{
		"dictionary": c.Dictionary,
		"kind":       c.Kind.String(),
		"key":        c.EncodedKey,
		"seq":        c.Seq,
		"has_old":    c.Old.IsSome(),
		"has_new":    c.New.IsSome(),
		"old":        oldV,
		"new":        newV,
	}, nil
}

// jsonValue converts a value to the maps, slices and scalars CEL
// understands by way of its JSON encoding.
func jsonValue(o txdict.Optional[any]) (any, error) {
	v, ok := o.Get()
	if !ok {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
