package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/kaptinlin/jsonrepair"
)

// Validator is an optional semantic check run after schema validation.
type Validator[T any] func(v *T) error

// SchemaTool is a Tool whose input schema is generated from T. Execute
// repairs and validates the model's arguments and returns them re-encoded
// from T, so callers always decode well-formed JSON.
type SchemaTool[T any] struct {
	name        string
	description string
	schema      *jsonschema.Schema
	resolved    *jsonschema.Resolved
	raw         json.RawMessage
	validate    Validator[T]
}

// NewSchemaTool derives the schema for T, applies patch (enums, ranges) and
// resolves it for validation.
func NewSchemaTool[T any](name, description string, patch func(*jsonschema.Schema), validate Validator[T]) (*SchemaTool[T], error) {
	s, err := jsonschema.For[T](&jsonschema.ForOptions{})
	if err != nil {
		return nil, fmt.Errorf("schema for %s: %w", name, err)
	}
	if patch != nil {
		patch(s)
	}
	resolved, err := s.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolve schema for %s: %w", name, err)
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal schema for %s: %w", name, err)
	}
	return &SchemaTool[T]{
		name:        name,
		description: description,
		schema:      s,
		resolved:    resolved,
		raw:         raw,
		validate:    validate,
	}, nil
}

// MustSchemaTool is NewSchemaTool for package-level tool definitions.
func MustSchemaTool[T any](name, description string, patch func(*jsonschema.Schema), validate Validator[T]) *SchemaTool[T] {
	t, err := NewSchemaTool[T](name, description, patch, validate)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *SchemaTool[T]) Name() string                { return t.name }
func (t *SchemaTool[T]) Description() string         { return t.description }
func (t *SchemaTool[T]) Parameters() json.RawMessage { return t.raw }

// Schema returns the generated schema.
func (t *SchemaTool[T]) Schema() *jsonschema.Schema { return t.schema }

// Execute implements Tool.
func (t *SchemaTool[T]) Execute(_ context.Context, params json.RawMessage) (json.RawMessage, error) {
	v, err := t.Decode(params)
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

// Decode repairs params if needed, validates them against the schema and
// the semantic validator, and decodes them into T.
func (t *SchemaTool[T]) Decode(params json.RawMessage) (*T, error) {
	data, err := repair(params)
	if err != nil {
		return nil, &ValidationError{Tool: t.name, Problems: []string{"arguments are not valid JSON: " + err.Error()}}
	}

	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return nil, &ValidationError{Tool: t.name, Problems: []string{"arguments are not valid JSON: " + err.Error()}}
	}
	if err := t.resolved.Validate(instance); err != nil {
		return nil, &ValidationError{Tool: t.name, Problems: []string{err.Error()}}
	}

	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, &ValidationError{Tool: t.name, Problems: []string{err.Error()}}
	}
	if t.validate != nil {
		if err := t.validate(&v); err != nil {
			return nil, &ValidationError{Tool: t.name, Problems: problems(err)}
		}
	}
	return &v, nil
}

// repair returns data unchanged when it parses, otherwise the jsonrepair'd form.
func repair(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("empty arguments")
	}
	var probe any
	err := json.Unmarshal(data, &probe)
	if err == nil {
		return data, nil
	}
	var syn *json.SyntaxError
	if !errors.As(err, &syn) {
		return nil, err
	}
	fixed, rerr := jsonrepair.JSONRepair(string(data))
	if rerr != nil {
		return nil, rerr
	}
	return []byte(fixed), nil
}

func problems(err error) []string {
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		var out []string
		for _, e := range joined.Unwrap() {
			out = append(out, e.Error())
		}
		return out
	}
	return []string{err.Error()}
}

// ValidationError lists why a tool call's arguments were rejected. Its
// message is fed back to the model as a corrective tool_result.
type ValidationError struct {
	Tool     string
	Problems []string
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("%s arguments rejected:", e.Tool)
	for _, p := range e.Problems {
		msg += "\n- " + p
	}
	return msg
}
