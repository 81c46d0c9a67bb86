package extract

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// PriceCardSchema returns the JSON schema a model answer must satisfy.
func PriceCardSchema() map[string]any {
	nullableNumber := map[string]any{"type": []any{"number", "null"}}

	entry := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"embarque":   map[string]any{"type": "string", "minLength": 1},
			"pagamento":  map[string]any{"type": "string"},
			"precoBrl":   nullableNumber,
			"precoUsd":   nullableNumber,
			"quantidade": map[string]any{"type": []any{"integer", "null"}, "minimum": 0},
		},
		"required": []any{"embarque"},
	}

	product := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"nome":       map[string]any{"type": "string", "minLength": 1},
			"modalidade": map[string]any{"type": "string"},
			"local":      map[string]any{"type": "string"},
			"precos":     map[string]any{"type": "array", "items": entry},
		},
		"required": []any{"nome", "precos"},
	}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"titulo":       map[string]any{"type": "string"},
			"data":         map[string]any{"type": "string"},
			"cotacaoDolar": nullableNumber,
			"produtos":     map[string]any{"type": "array", "minItems": 1, "items": product},
		},
		"required": []any{"produtos"},
	}
}

// Validator checks model output against a compiled schema.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles schemaMap once.
func NewValidator(schemaMap map[string]any) (*Validator, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("price_card.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("price_card.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// Validate reports whether data matches the schema.
func (v *Validator) Validate(data []byte) error {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
