// Package expressions provides the cached expression engines behind the
// admin listing filter and the result inspector.
package expressions

import (
	"context"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/lumenclass/agentrun/pkg/schema"
)

// FilterEngine evaluates boolean expr-lang predicates against execution
// rows for admin list filtering. Supports comparisons, array operations
// (any, all, filter, count), nil coalescing (??) and optional chaining
// (?.).
// Thread-safe: compiled *vm.Program objects are cached and reused
// across goroutines.
type FilterEngine struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewFilterEngine creates a new filter engine.
func NewFilterEngine() *FilterEngine {
	return &FilterEngine{
		cache: make(map[string]*vm.Program),
	}
}

// Match compiles (or retrieves from cache) the predicate and evaluates
// it against the given row. The row map is injected as the expression
// environment, making all keys available as top-level variables.
func (e *FilterEngine) Match(ctx context.Context, expression string, row map[string]any) (bool, error) {
	if expression == "" {
		return false, schema.NewError(schema.ErrCodeValidation, "empty filter expression")
	}

	prg, err := e.getOrCompile(expression)
	if err != nil {
		return false, err
	}

	env := row
	if env == nil {
		env = map[string]any{}
	}

	out, err := vm.Run(prg, env)
	if err != nil {
		return false, schema.NewErrorf(schema.ErrCodeExecution,
			"filter evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	matched, ok := out.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeValidation,
			"filter %q did not evaluate to a boolean", expression)
	}
	return matched, nil
}

// getOrCompile returns a cached compiled program or compiles and caches
// a new one.
func (e *FilterEngine) getOrCompile(expression string) (*vm.Program, error) {
	e.mu.RLock()
	if prg, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return prg, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Double-check after acquiring write lock.
	if prg, ok := e.cache[expression]; ok {
		return prg, nil
	}

	prg, err := expr.Compile(expression,
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"filter compile error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	e.cache[expression] = prg
	return prg, nil
}
