package collector

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsekit/telemetry-go/internal/delivery"
	"github.com/pulsekit/telemetry-go/internal/event"
)

func newTestServer(t *testing.T) (*MemorySink, *httptest.Server) {
	t.Helper()
	sink := NewMemorySink()
	srv := &Server{
		Cfg:  Config{APIKey: "dev", MaxBodyBytes: 1 << 20},
		Sink: sink,
		Log:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:  time.Now,
	}
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return sink, ts
}

func makeEvent(id, name, userID string, at time.Time) event.Event {
	return event.Event{
		ID:            id,
		Name:          name,
		UserID:        userID,
		SessionID:     "sess-1",
		Timestamp:     at,
		Source:        event.Source,
		SchemaVersion: event.SchemaVersion,
	}
}

func postBatch(t *testing.T, ts *httptest.Server, apiKey string, batch delivery.Batch) *http.Response {
	t.Helper()
	body, err := json.Marshal(batch)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/"+apiKey+"/events/batch", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", "req-42")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeEnvelope[T any](t *testing.T, resp *http.Response) delivery.Envelope[T] {
	t.Helper()
	defer resp.Body.Close()
	var env delivery.Envelope[T]
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return env
}

func TestHealthz(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestBatchIntakeSuccess(t *testing.T) {
	sink, ts := newTestServer(t)
	now := time.Now().UTC()

	resp := postBatch(t, ts, "dev", delivery.Batch{
		ID: "b1",
		Events: []event.Event{
			makeEvent("e1", "signup", "u1", now),
			makeEvent("e2", "checkout", "u2", now),
		},
		Timestamp: now,
		Size:      2,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	env := decodeEnvelope[delivery.BatchResult](t, resp)
	require.True(t, env.Success)
	require.NotNil(t, env.Data)
	assert.Equal(t, "success", env.Data.Status)
	assert.Equal(t, 2, env.Data.ProcessedCount)
	assert.Equal(t, 0, env.Data.FailedCount)

	// The client's correlation id is echoed back.
	assert.Equal(t, "req-42", env.Metadata.RequestID)
	assert.Equal(t, Version, env.Metadata.Version)
	assert.Equal(t, 2, sink.Len())
}

func TestBatchIntakeRejectsBadJSON(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/dev/events/batch", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	env := decodeEnvelope[struct{}](t, resp)
	assert.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Equal(t, "INVALID_JSON", env.Error.Code)
}

func TestBatchIntakeRejectsEmptyBatch(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postBatch(t, ts, "dev", delivery.Batch{ID: "b1"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	env := decodeEnvelope[struct{}](t, resp)
	require.NotNil(t, env.Error)
	assert.Equal(t, "EMPTY_BATCH", env.Error.Code)
}

func TestBatchIntakeRejectsWrongAPIKey(t *testing.T) {
	sink, ts := newTestServer(t)

	resp := postBatch(t, ts, "wrong", delivery.Batch{
		ID:     "b1",
		Events: []event.Event{makeEvent("e1", "signup", "u1", time.Now().UTC())},
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	env := decodeEnvelope[struct{}](t, resp)
	require.NotNil(t, env.Error)
	assert.Equal(t, "UNAUTHORIZED", env.Error.Code)
	assert.Equal(t, 0, sink.Len())
}

func TestBatchIntakeRequiresJSONContentType(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/dev/events/batch", "text/plain", strings.NewReader("hello"))
	require.NoError(t, err)
	require.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)

	env := decodeEnvelope[struct{}](t, resp)
	require.NotNil(t, env.Error)
	assert.Equal(t, "UNSUPPORTED_MEDIA_TYPE", env.Error.Code)
}

func TestBatchIntakePartialOnInvalidEvents(t *testing.T) {
	sink, ts := newTestServer(t)
	now := time.Now().UTC()

	bad := makeEvent("e2", "bad name!", "u1", now)
	missing := makeEvent("", "signup", "u1", now)

	resp := postBatch(t, ts, "dev", delivery.Batch{
		ID:     "b1",
		Events: []event.Event{makeEvent("e1", "signup", "u1", now), bad, missing},
		Size:   3,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	env := decodeEnvelope[delivery.BatchResult](t, resp)
	require.NotNil(t, env.Data)
	assert.Equal(t, "partial", env.Data.Status)
	assert.Equal(t, 1, env.Data.ProcessedCount)
	assert.Equal(t, 2, env.Data.FailedCount)
	assert.Len(t, env.Data.Errors, 2)
	assert.Equal(t, 1, sink.Len())
}

func TestBatchIntakeFailedWhenNothingStored(t *testing.T) {
	sink, ts := newTestServer(t)

	resp := postBatch(t, ts, "dev", delivery.Batch{
		ID:     "b1",
		Events: []event.Event{makeEvent("", "signup", "u1", time.Now().UTC())},
		Size:   1,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	env := decodeEnvelope[delivery.BatchResult](t, resp)
	require.NotNil(t, env.Data)
	assert.Equal(t, "failed", env.Data.Status)
	assert.Equal(t, 0, sink.Len())
}

func TestBatchIntakeDeduplicatesByEventID(t *testing.T) {
	sink, ts := newTestServer(t)
	now := time.Now().UTC()
	ev := makeEvent("e1", "signup", "u1", now)

	resp := postBatch(t, ts, "dev", delivery.Batch{ID: "b1", Events: []event.Event{ev}, Size: 1})
	_ = resp.Body.Close()

	// A redelivered batch stores nothing new.
	resp = postBatch(t, ts, "dev", delivery.Batch{ID: "b2", Events: []event.Event{ev}, Size: 1})
	env := decodeEnvelope[delivery.BatchResult](t, resp)
	require.NotNil(t, env.Data)
	assert.Equal(t, 0, env.Data.ProcessedCount)
	assert.Equal(t, 1, sink.Len())
}

func TestAnalyticsAggregates(t *testing.T) {
	_, ts := newTestServer(t)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	resp := postBatch(t, ts, "dev", delivery.Batch{
		ID: "b1",
		Events: []event.Event{
			makeEvent("e1", "signup", "u1", base),
			makeEvent("e2", "signup", "u2", base.Add(time.Minute)),
			makeEvent("e3", "checkout", "u1", base.Add(2*time.Minute)),
			makeEvent("e4", "signup", "u3", base.Add(48*time.Hour)), // outside window
		},
		Size: 4,
	})
	_ = resp.Body.Close()

	url := ts.URL + "/api/dev/analytics?start=" + base.Add(-time.Hour).Format(time.RFC3339) +
		"&end=" + base.Add(time.Hour).Format(time.RFC3339)
	getResp, err := http.Get(url)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, getResp.StatusCode)

	env := decodeEnvelope[delivery.AnalyticsReport](t, getResp)
	require.True(t, env.Success)
	require.NotNil(t, env.Data)
	assert.Equal(t, int64(3), env.Data.TotalEvents)
	assert.Equal(t, int64(2), env.Data.UniqueUsers)
	assert.Equal(t, int64(2), env.Data.EventsByName["signup"])
	assert.Equal(t, int64(1), env.Data.EventsByName["checkout"])
	require.NotNil(t, env.Data.Start)
	require.NotNil(t, env.Data.End)
}

func TestAnalyticsRejectsBadTimestamp(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/dev/analytics?start=yesterday")
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	env := decodeEnvelope[struct{}](t, resp)
	require.NotNil(t, env.Error)
	assert.Equal(t, "INVALID_PARAMETER", env.Error.Code)
}

func TestBodyLimit(t *testing.T) {
	sink := NewMemorySink()
	srv := &Server{
		Cfg:  Config{APIKey: "dev", MaxBodyBytes: 128},
		Sink: sink,
		Log:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:  time.Now,
	}
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	big := delivery.Batch{ID: "b1", Events: []event.Event{makeEvent("e1", strings.Repeat("x", 200), "u1", time.Now().UTC())}}
	resp := postBatch(t, ts, "dev", big)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 0, sink.Len())
}
