package collector

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/pulsekit/telemetry-go/internal/delivery"
	"github.com/pulsekit/telemetry-go/internal/event"
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleBatch accepts a batch, stores the valid events, and reports a
// per-batch verdict: success, partial or failed.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	defer drainBody(r)

	var batch delivery.Batch
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&batch); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}
	if len(batch.Events) == 0 {
		writeError(w, r, http.StatusBadRequest, "EMPTY_BATCH", "batch contains no events")
		return
	}

	accepted := make([]event.Event, 0, len(batch.Events))
	var rejects []string
	for i, ev := range batch.Events {
		if msg := checkEvent(&ev); msg != "" {
			rejects = append(rejects, "events["+strconv.Itoa(i)+"]: "+msg)
			continue
		}
		accepted = append(accepted, ev)
	}

	stored := 0
	if len(accepted) > 0 {
		var err error
		stored, err = s.Sink.Store(r.Context(), accepted)
		if err != nil {
			s.Log.Error("sink store failed", "error", err, "batch", batch.ID)
			writeError(w, r, http.StatusInternalServerError, "STORE_FAILED", "failed to store events")
			return
		}
	}

	res := &delivery.BatchResult{
		ProcessedCount: stored,
		FailedCount:    len(batch.Events) - stored,
		Errors:         rejects,
	}
	switch {
	case res.FailedCount == 0:
		res.Status = "success"
	case res.ProcessedCount == 0:
		res.Status = "failed"
	default:
		res.Status = "partial"
	}
	s.Log.Info("batch received",
		"batch", batch.ID, "size", batch.Size,
		"processed", res.ProcessedCount, "failed", res.FailedCount)
	writeData(w, r, http.StatusOK, res)
}

// handleAnalytics returns aggregates over the optional [start, end]
// window, both bounds ISO 8601.
func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	now := s.Now()
	start := now.Add(-24 * time.Hour)
	end := now

	if v := q.Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_PARAMETER", "start must be ISO 8601")
			return
		}
		start = t
	}
	if v := q.Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_PARAMETER", "end must be ISO 8601")
			return
		}
		end = t
	}

	report, err := s.Sink.Aggregate(r.Context(), start, end)
	if err != nil {
		s.Log.Error("aggregate failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, "QUERY_FAILED", "failed to compute aggregates")
		return
	}
	report.Start = &start
	report.End = &end
	writeData(w, r, http.StatusOK, report)
}

// checkEvent applies the intake-side subset of event validation.
func checkEvent(ev *event.Event) string {
	if ev.ID == "" {
		return "id: required"
	}
	if errs := event.ValidateName(ev.Name); len(errs) > 0 {
		return errs[0].Error()
	}
	if ev.Timestamp.IsZero() {
		return "timestamp: required"
	}
	if errs := event.ValidateProperties(ev.Properties, event.MaxEventProperties); len(errs) > 0 {
		return errs[0].Error()
	}
	return ""
}
