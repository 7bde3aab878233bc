package expressions

import (
	"context"
	"sync"

	"github.com/itchyny/gojq"

	"github.com/lumenclass/agentrun/pkg/schema"
)

// InspectEngine evaluates jq expressions against stored execution
// results, letting operators reshape and aggregate them without pulling
// the full payload.
// Thread-safe: compiled *Code objects are cached and reused across
// goroutines.
type InspectEngine struct {
	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

// NewInspectEngine creates a new result inspector.
func NewInspectEngine() *InspectEngine {
	return &InspectEngine{
		cache: make(map[string]*gojq.Code),
	}
}

// Query compiles (or retrieves from cache) a jq expression and runs it
// against the given document.
//
// jq expressions can produce multiple outputs. When there is exactly
// one output, it is returned directly. When there are multiple outputs,
// they are collected into a slice and returned as []any.
func (e *InspectEngine) Query(ctx context.Context, expression string, doc any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty jq expression")
	}

	code, err := e.getOrCompile(expression)
	if err != nil {
		return nil, err
	}

	iter := code.RunWithContext(ctx, doc)

	var results []any
	for {
		val, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := val.(error); isErr {
			return nil, schema.NewErrorf(schema.ErrCodeExecution,
				"jq evaluation failed for %q: %s", expression, err.Error()).
				WithCause(err).
				WithDetails(map[string]any{"expression": expression})
		}
		results = append(results, val)
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

// getOrCompile returns a cached compiled code or compiles and caches a
// new one.
func (e *InspectEngine) getOrCompile(expression string) (*gojq.Code, error) {
	e.mu.RLock()
	if code, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return code, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Double-check after acquiring write lock.
	if code, ok := e.cache[expression]; ok {
		return code, nil
	}

	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"jq parse error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	code, err := gojq.Compile(query,
		// Sandbox: return empty env to block $ENV and env access.
		gojq.WithEnvironLoader(func() []string { return nil }),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"jq compile error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	e.cache[expression] = code
	return code, nil
}
