package change

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed batch.schema.json
var batchSchemaJSON []byte

const batchSchemaURL = "https://wallandshadow.io/schemas/batch.schema.json"

var batchSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(batchSchemaURL, bytes.NewReader(batchSchemaJSON)); err != nil {
		return nil, err
	}
	return c.Compile(batchSchemaURL)
})

// Validate checks a raw batch record against the batch schema.
func Validate(data []byte) error {
	s, err := batchSchema()
	if err != nil {
		return fmt.Errorf("compile batch schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("parse batch: %w", err)
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}
	return nil
}
