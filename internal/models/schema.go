package models

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed exercise_log.schema.json
var exerciseLogSchemaJSON []byte

const exerciseLogSchemaURL = "exercise_log.schema.json"

var (
	exerciseLogSchemaOnce sync.Once
	exerciseLogSchema     *jsonschema.Schema
	exerciseLogSchemaErr  error
)

func compiledExerciseLogSchema() (*jsonschema.Schema, error) {
	exerciseLogSchemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource(exerciseLogSchemaURL, bytes.NewReader(exerciseLogSchemaJSON)); err != nil {
			exerciseLogSchemaErr = fmt.Errorf("adding exercise log schema: %w", err)
			return
		}
		exerciseLogSchema, exerciseLogSchemaErr = c.Compile(exerciseLogSchemaURL)
	})
	return exerciseLogSchema, exerciseLogSchemaErr
}

// DecodeExerciseLog validates raw against the exercise log schema and
// decodes it. Validation errors are returned unwrapped so callers can show
// them to the client.
func DecodeExerciseLog(raw []byte) (ExerciseLogInput, error) {
	var in ExerciseLogInput
	schema, err := compiledExerciseLogSchema()
	if err != nil {
		return in, err
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return in, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return in, err
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return in, fmt.Errorf("invalid JSON: %w", err)
	}
	return in, nil
}

// DecodeExerciseLogs validates and decodes a JSON array of exercise logs.
func DecodeExerciseLogs(raw []byte) ([]ExerciseLogInput, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	out := make([]ExerciseLogInput, 0, len(items))
	for i, item := range items {
		in, err := DecodeExerciseLog(item)
		if err != nil {
			return nil, fmt.Errorf("log %d: %w", i, err)
		}
		out = append(out, in)
	}
	return out, nil
}
