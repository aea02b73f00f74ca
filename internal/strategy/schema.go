package strategy

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"stratlab/internal/pkg/errs"
)

//go:embed assets/strategy.schema.json assets/prebuilt.yaml
var assets embed.FS

const schemaURL = "strategy.schema.json"

var (
	schemaOnce     sync.Once
	schemaCompiled *jsonschema.Schema
	schemaErr      error
)

func documentSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		raw, err := assets.ReadFile("assets/strategy.schema.json")
		if err != nil {
			schemaErr = err
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, bytes.NewReader(raw)); err != nil {
			schemaErr = err
			return
		}
		schemaCompiled, schemaErr = compiler.Compile(schemaURL)
	})
	return schemaCompiled, schemaErr
}

// ValidateSchema 用内置 JSON Schema 校验完整的策略文档。
func ValidateSchema(doc []byte) error {
	schema, err := documentSchema()
	if err != nil {
		return fmt.Errorf("compile strategy schema: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return errs.InvalidStrategy("malformed JSON: "+err.Error(), "")
	}
	if err := schema.Validate(v); err != nil {
		if ve, ok := err.(*jsonschema.ValidationError); ok {
			leaf := ve
			for len(leaf.Causes) > 0 {
				leaf = leaf.Causes[0]
			}
			return errs.InvalidStrategy(leaf.Message, leaf.InstanceLocation)
		}
		return errs.InvalidStrategy(err.Error(), "")
	}
	return nil
}
