package delivery

import (
	"time"

	"github.com/pulsekit/telemetry-go/internal/event"
)

// Batch is one delivery attempt's payload. It exists only for the
// duration of the attempt and is never persisted.
type Batch struct {
	ID        string        `json:"id"`
	Events    []event.Event `json:"events"`
	Timestamp time.Time     `json:"timestamp"`
	Size      int           `json:"size"`
}

// BatchResult is the collector's verdict on a submitted batch.
type BatchResult struct {
	Status         string   `json:"status"` // success | partial | failed
	ProcessedCount int      `json:"processedCount"`
	FailedCount    int      `json:"failedCount"`
	Errors         []string `json:"errors,omitempty"`
}

// AnalyticsReport is the externally computed aggregate returned by the
// analytics read endpoint.
type AnalyticsReport struct {
	TotalEvents  int64            `json:"totalEvents"`
	UniqueUsers  int64            `json:"uniqueUsers"`
	EventsByName map[string]int64 `json:"eventsByName,omitempty"`
	Start        *time.Time       `json:"start,omitempty"`
	End          *time.Time       `json:"end,omitempty"`
}

// Envelope is the generic response wrapper every collector endpoint uses.
type Envelope[T any] struct {
	Success  bool       `json:"success"`
	Data     *T         `json:"data,omitempty"`
	Error    *WireError `json:"error,omitempty"`
	Metadata Metadata   `json:"metadata"`
}

// WireError is the error half of the envelope.
type WireError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Metadata correlates a response with its request.
type Metadata struct {
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"requestId,omitempty"`
	Version   string    `json:"version,omitempty"`
}
