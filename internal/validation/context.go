package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// ContextValidator validates a workflow's input context against a JSON
// Schema compiled once at construction. It is safe for concurrent use.
type ContextValidator struct {
	schema *jsonschema.Schema
}

// MustContextValidator compiles the given schema JSON or panics. Agents
// call this from their constructors with embedded schema constants, so a
// bad schema is a programming error caught at startup.
func MustContextValidator(name, schemaJSON string) *ContextValidator {
	v, err := NewContextValidator(name, schemaJSON)
	if err != nil {
		panic(fmt.Sprintf("compile context schema for %s: %v", name, err))
	}
	return v
}

// NewContextValidator compiles the given schema JSON under a synthetic
// resource URL derived from name.
func NewContextValidator(name, schemaJSON string) (*ContextValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal context schema: %w", err)
	}

	url := "agentrun://context-schema/" + name
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add context schema resource: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile context schema: %w", err)
	}

	return &ContextValidator{schema: compiled}, nil
}

// Validate checks the input map and returns field-keyed violation
// messages; an empty map means the context is valid. Violations without
// an instance path are keyed under "context".
func (v *ContextValidator) Validate(input map[string]any) map[string][]string {
	doc, err := toJSONValue(input)
	if err != nil {
		return map[string][]string{"context": {"context is not JSON-serializable"}}
	}

	err = v.schema.Validate(doc)
	if err == nil {
		return map[string][]string{}
	}

	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return map[string][]string{"context": {err.Error()}}
	}

	fields := make(map[string][]string)
	collectViolations(verr, fields)
	if len(fields) == 0 {
		fields["context"] = []string{verr.Error()}
	}
	return fields
}

// collectViolations walks a ValidationError tree and collects leaf
// messages keyed by the first segment of their instance location.
func collectViolations(verr *jsonschema.ValidationError, fields map[string][]string) {
	if len(verr.Causes) == 0 {
		field := "context"
		if len(verr.InstanceLocation) > 0 {
			field = verr.InstanceLocation[0]
		}
		fields[field] = append(fields[field], violationMessage(verr))
		return
	}
	for _, cause := range verr.Causes {
		collectViolations(cause, fields)
	}
}

func violationMessage(verr *jsonschema.ValidationError) string {
	loc := "/"
	if len(verr.InstanceLocation) > 0 {
		loc = "/" + strings.Join(verr.InstanceLocation, "/")
	}
	return fmt.Sprintf("%s: %s", loc, verr.Error())
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so
// that numeric values become json.Number (required by the jsonschema
// library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}
