package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"
)

const MockClientName = "mock"

// MockClient is an LLMClient for testing.
type MockClient struct {
	// Configurable behavior
	Latency      time.Duration
	FailTimes    int   // Fail the first N requests with Err
	Err          error // Error returned while failing (defaults to a retryable error)
	ResponseText string
	ResponseJSON json.RawMessage

	// ResponseFor, when set, picks the response by the schema name of the
	// request's ResponseFormat. Falls back to ResponseJSON when absent.
	ResponseFor map[string]json.RawMessage

	// LatencyFor and FailFor override Latency and the FailTimes error for
	// requests whose ResponseFormat schema name matches, so tests can give
	// each extraction kind its own behavior.
	LatencyFor map[string]time.Duration
	FailFor    map[string]error

	// State
	requestCount atomic.Int64
}

// NewMockClient creates a new mock client with sensible defaults.
func NewMockClient() *MockClient {
	return &MockClient{
		ResponseText: "mock response",
	}
}

// Name returns the client identifier.
func (c *MockClient) Name() string {
	return MockClientName
}

// Requests returns the number of Complete calls made so far.
func (c *MockClient) Requests() int {
	return int(c.requestCount.Load())
}

// Complete sends a mock completion request.
func (c *MockClient) Complete(ctx context.Context, req *Request) (*Result, error) {
	count := c.requestCount.Add(1)
	start := time.Now()

	schemaName := ""
	if req.ResponseFormat != nil {
		schemaName = req.ResponseFormat.Name
	}

	latency := c.Latency
	if d, ok := c.LatencyFor[schemaName]; ok {
		latency = d
	}
	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err, ok := c.FailFor[schemaName]; ok && err != nil {
		return nil, err
	}

	if int(count) <= c.FailTimes {
		if c.Err != nil {
			return nil, c.Err
		}
		return nil, fmt.Errorf("mock failure %d", count)
	}

	result := &Result{
		Content:          c.ResponseText,
		PromptTokens:     promptTokenEstimate(req),
		CompletionTokens: len(c.ResponseText) / 4,
		ExecutionTime:    time.Since(start),
		Provider:         MockClientName,
		ModelUsed:        req.Model,
		RequestID:        fmt.Sprintf("mock-%d", count),
	}
	result.TotalTokens = result.PromptTokens + result.CompletionTokens

	if req.ResponseFormat != nil {
		payload := c.ResponseJSON
		if c.ResponseFor != nil {
			if p, ok := c.ResponseFor[req.ResponseFormat.Name]; ok {
				payload = p
			}
		}
		if payload == nil {
			payload = json.RawMessage(`{}`)
		}
		result.ParsedJSON = payload
		result.Content = string(payload)
	}

	return result, nil
}

func promptTokenEstimate(req *Request) int {
	n := 0
	for _, m := range req.Messages {
		n += len(m.Content) / 4
	}
	return n
}
