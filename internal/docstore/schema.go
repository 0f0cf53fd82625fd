package docstore

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

//go:embed schemas/*.graphql
var schemaFS embed.FS

// Collection names.
const (
	CollectionExtraction     = "Extraction"
	CollectionChapterContext = "ChapterContext"
	CollectionLLMCall        = "LLMCall"
	CollectionMetric         = "Metric"
	CollectionJob            = "Job"
)

// Schema represents a document collection schema.
type Schema struct {
	Name  string // Collection name (e.g., "Extraction")
	SDL   string // GraphQL SDL definition
	Order int    // Initialization order (lower = first)
}

// registry holds all schemas in initialization order.
var registry = []Schema{
	{Name: CollectionJob, Order: 1},
	{Name: CollectionExtraction, Order: 2},
	{Name: CollectionChapterContext, Order: 3},
	{Name: CollectionLLMCall, Order: 4},
	{Name: CollectionMetric, Order: 5},
}

// AllSchemas returns all schemas in initialization order, loaded from
// embedded .graphql files.
func AllSchemas() ([]Schema, error) {
	schemas := make([]Schema, len(registry))
	copy(schemas, registry)

	for i := range schemas {
		filename := fmt.Sprintf("schemas/%s.graphql", strings.ToLower(schemas[i].Name))
		content, err := schemaFS.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to read schema %s: %w", schemas[i].Name, err)
		}
		schemas[i].SDL = string(content)
	}

	sort.Slice(schemas, func(i, j int) bool {
		return schemas[i].Order < schemas[j].Order
	})
	return schemas, nil
}

// Initialize applies all schemas to the store. It is safe to call multiple
// times; existing collections are skipped.
func Initialize(ctx context.Context, client *Client, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	schemas, err := AllSchemas()
	if err != nil {
		return fmt.Errorf("failed to load schemas: %w", err)
	}

	for _, s := range schemas {
		if err := client.AddSchema(ctx, s.SDL); err != nil {
			if isAlreadyExistsError(err) {
				logger.Debug("collection already exists", "name", s.Name)
				continue
			}
			return fmt.Errorf("failed to add schema %s: %w", s.Name, err)
		}
		logger.Info("collection created", "name", s.Name)
	}
	return nil
}

// isAlreadyExistsError checks if the error indicates the collection already
// exists. DefraDB is accessed over HTTP, so errors are parsed from response
// bodies and string matching is unavoidable here.
func isAlreadyExistsError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "already exists")
}
