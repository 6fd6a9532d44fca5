// Package validator implements the strict JSON-Schema validator from
// spec.md §4.4: a pure function over a versioned, compiled schema with a
// bounded, sanitized failure report. Schemas are compiled once per
// version and cached rather than re-parsed per call.
package validator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/brightloom/transcriptor/internal/interfaces"
	"github.com/brightloom/transcriptor/internal/taxonomy"
)

// ActiveReportSchemaVersion is the schema version constant from spec.md
// §4.4.
const ActiveReportSchemaVersion = "v1"

// MaxValidationErrors bounds the errors[] list spec.md §4.4 requires,
// so a pathological payload can never produce an unbounded report.
const MaxValidationErrors = 20

// reportSchemaV1 is the active report schema: a summary string and a
// list of structured findings, each with a bounded severity enum.
const reportSchemaV1 = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["summary", "items"],
	"additionalProperties": false,
	"properties": {
		"summary": {"type": "string", "minLength": 1},
		"items": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["title", "severity"],
				"additionalProperties": false,
				"properties": {
					"title": {"type": "string", "minLength": 1},
					"detail": {"type": "string"},
					"severity": {"type": "string", "enum": ["info", "low", "medium", "high"]}
				}
			}
		}
	}
}`

// Validator implements interfaces.SchemaValidator against a fixed set of
// compiled schema versions.
type Validator struct {
	mu      sync.RWMutex
	schemas map[string]*jsonschema.Schema
}

// New compiles the known schema versions and returns a ready Validator.
func New() (*Validator, error) {
	v := &Validator{schemas: make(map[string]*jsonschema.Schema)}
	if err := v.register(ActiveReportSchemaVersion, reportSchemaV1); err != nil {
		return nil, err
	}
	return v, nil
}

func (v *Validator) register(version, schemaJSON string) error {
	compiler := jsonschema.NewCompiler()
	name := version + ".json"
	if err := compiler.AddResource(name, bytes.NewReader([]byte(schemaJSON))); err != nil {
		return fmt.Errorf("failed to add schema resource %s: %w", version, err)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", version, err)
	}
	v.mu.Lock()
	v.schemas[version] = schema
	v.mu.Unlock()
	return nil
}

var _ interfaces.SchemaValidator = (*Validator)(nil)

// Validate checks payload against schemaVersion's compiled schema. An
// unknown schemaVersion is reported as a failed result with only a
// Summary (no Errors entries) rather than a panic, since it reflects a caller bug (processor requesting a
// version the validator was never built with), not a transient failure.
func (v *Validator) Validate(schemaVersion string, payload []byte) interfaces.ValidationResult {
	v.mu.RLock()
	schema, ok := v.schemas[schemaVersion]
	v.mu.RUnlock()
	if !ok {
		return interfaces.ValidationResult{
			OK:      false,
			Summary: taxonomy.Sanitize(fmt.Sprintf("unknown schema version %s", schemaVersion)),
		}
	}

	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return interfaces.ValidationResult{
			OK:      false,
			Summary: taxonomy.Sanitize("payload is not valid JSON: " + err.Error()),
		}
	}

	if err := schema.Validate(doc); err != nil {
		valErr, ok := err.(*jsonschema.ValidationError)
		if !ok {
			return interfaces.ValidationResult{OK: false, Summary: taxonomy.Sanitize(err.Error())}
		}
		return toResult(valErr)
	}

	return interfaces.ValidationResult{OK: true}
}

// toResult flattens a jsonschema.ValidationError tree into the bounded,
// sanitized shape spec.md §4.4 requires.
func toResult(top *jsonschema.ValidationError) interfaces.ValidationResult {
	var errs []interfaces.ValidationError
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(errs) >= MaxValidationErrors {
			return
		}
		if len(e.Causes) == 0 {
			errs = append(errs, interfaces.ValidationError{
				InstancePath: e.InstanceLocation,
				Keyword:      e.KeywordLocation,
				Message:      taxonomy.Sanitize(e.Message),
			})
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(top)

	return interfaces.ValidationResult{
		OK:      false,
		Summary: taxonomy.Sanitize(top.Error()),
		Errors:  errs,
	}
}
