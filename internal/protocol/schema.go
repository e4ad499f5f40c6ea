package protocol

import (
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema/*.json
var schemaFS embed.FS

// Schema names for Validate.
const (
	SchemaPlugin   = "plugin"
	SchemaInstance = "instance"
	SchemaRecord   = "record"
	SchemaResult   = "result"
)

var (
	schemasOnce sync.Once
	schemas     map[string]*gojsonschema.Schema
	schemasErr  error
)

func loadSchemas() {
	schemas = make(map[string]*gojsonschema.Schema)
	for _, name := range []string{SchemaPlugin, SchemaInstance, SchemaRecord, SchemaResult} {
		b, err := schemaFS.ReadFile("schema/" + name + ".json")
		if err != nil {
			schemasErr = fmt.Errorf("read %s schema: %w", name, err)
			return
		}
		s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(b))
		if err != nil {
			schemasErr = fmt.Errorf("compile %s schema: %w", name, err)
			return
		}
		schemas[name] = s
	}
}

// SchemaError lists every violation found in one document.
type SchemaError struct {
	Schema  string
	Details []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s does not match schema:\n  - %s", e.Schema, strings.Join(e.Details, "\n  - "))
}

// Validate checks v against the named schema.
func Validate(schema string, v any) error {
	schemasOnce.Do(loadSchemas)
	if schemasErr != nil {
		return schemasErr
	}
	s, ok := schemas[schema]
	if !ok {
		return fmt.Errorf("unknown schema %q", schema)
	}

	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s for validation: %w", schema, err)
	}
	result, err := s.Validate(gojsonschema.NewBytesLoader(b))
	if err != nil {
		return fmt.Errorf("validate %s: %w", schema, err)
	}
	if result.Valid() {
		return nil
	}
	details := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		details = append(details, desc.String())
	}
	return &SchemaError{Schema: schema, Details: details}
}

// ValidateResult checks a result and everything nested in it.
func ValidateResult(r Result) error {
	if err := Validate(SchemaResult, r); err != nil {
		return err
	}
	if err := Validate(SchemaPlugin, r.Plugin); err != nil {
		return err
	}
	if r.Instance != nil {
		if err := Validate(SchemaInstance, r.Instance); err != nil {
			return err
		}
	}
	for _, rec := range r.Records {
		if err := Validate(SchemaRecord, rec); err != nil {
			return err
		}
	}
	return nil
}
