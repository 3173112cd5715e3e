package scenario

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const (
	scenarioSchemaPath = "schemas/scenario.schema.json"
	rulesSchemaPath    = "schemas/rules.schema.json"
	schemaBaseURL      = "https://intersection-signal-sim.local/"
)

var (
	compileOnce      sync.Once
	scenarioSchema   *jsonschema.Schema
	rulesSchema      *jsonschema.Schema
	errSchemaCompile error
)

func compiledSchemas() (*jsonschema.Schema, *jsonschema.Schema, error) {
	compileOnce.Do(func() {
		scenarioSchema, errSchemaCompile = compileSchema(scenarioSchemaPath)
		if errSchemaCompile != nil {
			return
		}
		rulesSchema, errSchemaCompile = compileSchema(rulesSchemaPath)
	})
	return scenarioSchema, rulesSchema, errSchemaCompile
}

func compileSchema(path string) (*jsonschema.Schema, error) {
	raw, err := schemaFS.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read embedded schema %s: %w", path, err)
	}
	url := schemaBaseURL + path
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

func validateAgainstSchema(schema *jsonschema.Schema, raw []byte) error {
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}
	return schema.Validate(payload)
}

func strictUnmarshal(data []byte, target any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return err
	}
	var extra any
	if err := dec.Decode(&extra); err != io.EOF {
		return fmt.Errorf("unexpected trailing JSON payload")
	}
	return nil
}
