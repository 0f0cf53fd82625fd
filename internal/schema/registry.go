// Package schema manages the JSON Schemas for extraction payloads.
// Schemas are embedded at build time and compiled once; new extraction
// kinds require a new schema file here, which keeps the kind set closed.
package schema

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/skeinlabs/skein/internal/story"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// ContextKey identifies the synthesis output schema, which is not an
// extraction kind but is validated the same way.
const ContextKey = "context"

var (
	mu       sync.Mutex
	compiled = map[string]*jsonschema.Schema{}
)

// Raw returns the embedded schema document for a kind, suitable for
// passing to the language service as a structured-output format.
func Raw(key string) (json.RawMessage, error) {
	data, err := schemaFS.ReadFile(fmt.Sprintf("schemas/%s.json", key))
	if err != nil {
		return nil, fmt.Errorf("no schema for %q: %w", key, err)
	}
	return data, nil
}

// RawForKind is Raw keyed by extraction kind.
func RawForKind(kind story.Kind) (json.RawMessage, error) {
	return Raw(string(kind))
}

// compile returns the compiled schema for a key, caching the result.
func compile(key string) (*jsonschema.Schema, error) {
	mu.Lock()
	defer mu.Unlock()

	if s, ok := compiled[key]; ok {
		return s, nil
	}

	raw, err := Raw(key)
	if err != nil {
		return nil, err
	}

	compiler := jsonschema.NewCompiler()
	resource := key + ".json"
	if err := compiler.AddResource(resource, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("failed to load schema %s: %w", key, err)
	}
	s, err := compiler.Compile(resource)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema %s: %w", key, err)
	}

	compiled[key] = s
	return s, nil
}

// Validate checks a payload against the schema for key.
// A validation error means the payload must not be committed.
func Validate(key string, payload json.RawMessage) error {
	s, err := compile(key)
	if err != nil {
		return err
	}

	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return fmt.Errorf("payload is not valid JSON: %w", err)
	}

	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("payload does not match %s schema: %w", key, err)
	}
	return nil
}

// ValidateKind is Validate keyed by extraction kind.
func ValidateKind(kind story.Kind, payload json.RawMessage) error {
	return Validate(string(kind), payload)
}
