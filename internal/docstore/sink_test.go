package docstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// newCountingServer returns a fake store that counts create mutations.
func newCountingServer(t *testing.T) (*httptest.Server, func() int) {
	t.Helper()
	var mu sync.Mutex
	count := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req GQLRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		mu.Lock()
		count++
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"create_Metric":[{"_docID":"m-1"}]}}`))
	}))
	return srv, func() int {
		mu.Lock()
		defer mu.Unlock()
		return count
	}
}

func TestSinkFlushOnBatchSize(t *testing.T) {
	srv, writeCount := newCountingServer(t)
	defer srv.Close()

	sink := NewSink(SinkConfig{
		Client:        NewClient(srv.URL),
		BatchSize:     2,
		FlushInterval: time.Hour, // size trigger only
	})
	sink.Start(context.Background())
	defer sink.Stop()

	sink.Send(WriteOp{Collection: CollectionMetric, Op: OpCreate, Document: map[string]any{"stage": "extraction"}})
	sink.Send(WriteOp{Collection: CollectionMetric, Op: OpCreate, Document: map[string]any{"stage": "synthesis"}})

	deadline := time.After(2 * time.Second)
	for writeCount() < 2 {
		select {
		case <-deadline:
			t.Fatalf("writes = %d, want 2", writeCount())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestSinkSendSync(t *testing.T) {
	srv, _ := newCountingServer(t)
	defer srv.Close()

	sink := NewSink(SinkConfig{
		Client:        NewClient(srv.URL),
		BatchSize:     1,
		FlushInterval: 10 * time.Millisecond,
	})
	sink.Start(context.Background())
	defer sink.Stop()

	result, err := sink.SendSync(context.Background(), WriteOp{
		Collection: CollectionMetric,
		Op:         OpCreate,
		Document:   map[string]any{"stage": "checkpoint"},
	})
	if err != nil {
		t.Fatalf("SendSync() error = %v", err)
	}
	if result.DocID != "m-1" {
		t.Errorf("DocID = %s, want m-1", result.DocID)
	}
}

func TestSinkStopFlushesRemaining(t *testing.T) {
	srv, writeCount := newCountingServer(t)
	defer srv.Close()

	sink := NewSink(SinkConfig{
		Client:        NewClient(srv.URL),
		BatchSize:     100,
		FlushInterval: time.Hour,
	})
	sink.Start(context.Background())

	sink.Send(WriteOp{Collection: CollectionMetric, Op: OpCreate, Document: map[string]any{"stage": "extraction"}})
	sink.Stop()

	if writeCount() != 1 {
		t.Errorf("writes after Stop = %d, want 1", writeCount())
	}
}

func TestSinkDropsAfterStop(t *testing.T) {
	srv, _ := newCountingServer(t)
	defer srv.Close()

	sink := NewSink(SinkConfig{Client: NewClient(srv.URL)})
	sink.Start(context.Background())
	sink.Stop()

	// Must not panic.
	sink.Send(WriteOp{Collection: CollectionMetric, Op: OpCreate, Document: map[string]any{}})
}
