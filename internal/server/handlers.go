package server

import (
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"iothook/internal/audit"
	"iothook/internal/events"
	"iothook/internal/security"

	"github.com/go-chi/chi/v5/middleware"
)

const (
	MaxPayloadBytes       = 1_000_000 // 1 MB
	DefaultDeliveryLimit  = 20        // Deliveries returned when no limit is given
	loggedSignaturePrefix = 20        // Characters of a rejected signature written to the log
)

// Response messages returned by the webhook endpoint.
const (
	msgInvalidSignature = "invalid signature"
	msgPayloadTooLarge  = "payload too large"
	msgDuplicateEvent   = "duplicate event"
)

// HandleWebhook handles signed event deliveries from the IoT platform
func (s *Server) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		s.metrics.ingestLatency.Observe(time.Since(start).Seconds())
	}()

	// Check payload size (ContentLength can be -1 if not set, so the read below
	// enforces the limit as well)
	if r.ContentLength > MaxPayloadBytes {
		s.recordDelivery(r, audit.OutcomeTooLarge, events.Event{}, msgPayloadTooLarge)
		s.respondJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": msgPayloadTooLarge})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxPayloadBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.recordDelivery(r, audit.OutcomeTooLarge, events.Event{}, msgPayloadTooLarge)
			s.respondJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": msgPayloadTooLarge})
			return
		}
		s.Logger.Error("Failed to read request body", "error", err)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to read payload"})
		return
	}

	// Verify signature against the exact bytes received
	signature := r.Header.Get(security.HeaderSignature)
	timestamp := r.Header.Get(security.HeaderTimestamp)
	nonce := r.Header.Get(security.HeaderNonce)

	result := s.Verifier.Check(security.SignedRequest{
		Method:    r.Method,
		Path:      r.URL.Path,
		Timestamp: timestamp,
		Nonce:     nonce,
		Signature: signature,
		Body:      body,
	})
	s.metrics.verifications.WithLabelValues(result.String()).Inc()

	if result == security.Rejected {
		s.Logger.Warn("Signature verification failed",
			"signature", truncate(signature, loggedSignaturePrefix),
			"timestamp", timestamp,
			"nonce", nonce,
			"remote_addr", r.RemoteAddr)
		s.recordDelivery(r, audit.OutcomeRejected, events.Event{}, msgInvalidSignature)
		s.respondJSON(w, http.StatusUnauthorized, map[string]string{"error": msgInvalidSignature})
		return
	}

	// Parse event
	event, err := events.ParseEvent(body)
	if err != nil {
		msg := events.ErrParse.Error()
		if errors.Is(err, events.ErrInvalid) {
			msg = events.ErrInvalid.Error()
		}
		s.Logger.Warn("Rejected webhook payload", "error", err)
		s.recordDelivery(r, audit.OutcomeInvalid, events.Event{}, err.Error())
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
		return
	}

	stored, outcome := s.Store.Ingest(event)
	if outcome == events.DuplicateIgnored {
		s.Logger.Info("Duplicate event ignored",
			"event_id", event.EventID,
			"event_type", event.EventType,
			"device_phy_id", event.DevicePhyID)
		s.recordDelivery(r, audit.OutcomeDuplicate, event, "")
		s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "message": msgDuplicateEvent})
		return
	}

	s.metrics.historySize.Set(float64(s.Store.Len()))
	s.logEvent(stored)
	s.recordDelivery(r, audit.OutcomeAccepted, stored, "")

	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// logEvent writes the type-specific fields of an accepted event.
func (s *Server) logEvent(e events.Event) {
	summary := events.Describe(e)

	fields := make([]any, 0, 2*len(summary.Fields))
	for _, f := range summary.Fields {
		fields = append(fields, f.Name, f.Value)
	}

	args := []any{
		"event_id", e.EventID,
		"event_type", e.EventType,
		"device_phy_id", e.DevicePhyID,
	}
	if len(fields) > 0 {
		args = append(args, slog.Group("data", fields...))
	}

	if summary.Alarm {
		s.Logger.Warn(summary.Title, args...)
		return
	}
	s.Logger.Info(summary.Title, args...)
}

// recordDelivery counts a delivery and appends it to the audit log, if any.
// Audit failures are logged and never change the response.
func (s *Server) recordDelivery(r *http.Request, outcome audit.Outcome, e events.Event, detail string) {
	s.metrics.deliveries.WithLabelValues(string(outcome), events.ParseType(e.EventType).Label()).Inc()

	if s.Audit == nil {
		return
	}

	record := &audit.DeliveryRecord{
		EventID:     e.EventID,
		EventType:   e.EventType,
		DevicePhyID: e.DevicePhyID,
		Outcome:     outcome,
		RemoteAddr:  r.RemoteAddr,
		RequestID:   middleware.GetReqID(r.Context()),
		ReceivedAt:  e.ReceivedAt,
	}
	if detail != "" {
		record.Detail = &detail
	}

	if _, err := s.Audit.RecordDelivery(r.Context(), record); err != nil {
		s.Logger.Error("Failed to record delivery", "error", err, "event_id", e.EventID, "outcome", outcome)
	}
}

// HandleEvents returns the most recent events
func (s *Server) HandleEvents(w http.ResponseWriter, r *http.Request) {
	recent := s.Store.ListRecent()

	response := map[string]interface{}{
		"total":  s.Store.Len(),
		"events": recent,
	}

	s.respondJSON(w, http.StatusOK, response)
}

// HandleStats returns store statistics
func (s *Server) HandleStats(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.Store.Stats())
}

// HandleClear empties the event store
func (s *Server) HandleClear(w http.ResponseWriter, r *http.Request) {
	s.Store.Clear()
	s.metrics.historySize.Set(0)
	s.Logger.Info("Event history cleared", "remote_addr", r.RemoteAddr)

	s.respondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// HandleHealth handles health check requests
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status":       "ok",
		"verification": s.verificationMode(),
	})
}

// HandleDeliveries returns recent entries of the delivery audit log.
// ?limit= caps the result (default 20, max 100); ?event_id= lists every
// delivery of one event instead.
func (s *Server) HandleDeliveries(w http.ResponseWriter, r *http.Request) {
	if s.Audit == nil {
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "audit log not enabled"})
		return
	}

	var (
		records []audit.DeliveryRecord
		err     error
	)

	if eventID := r.URL.Query().Get("event_id"); eventID != "" {
		records, err = s.Audit.DeliveriesForEvent(r.Context(), eventID)
	} else {
		limit := DefaultDeliveryLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			limit, err = strconv.Atoi(raw)
			if err != nil || limit < 1 {
				s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
				return
			}
		}
		records, err = s.Audit.RecentDeliveries(r.Context(), limit)
	}
	if err != nil {
		s.Logger.Error("Failed to fetch deliveries", "error", err)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to fetch deliveries"})
		return
	}

	counts, err := s.Audit.CountByOutcome(r.Context())
	if err != nil {
		s.Logger.Error("Failed to count deliveries", "error", err)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to fetch deliveries"})
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"deliveries": records,
		"counts":     counts,
	})
}

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head><title>IoT Webhook Receiver</title></head>
<body>
	<h1>IoT Webhook Receiver</h1>
	<p>Webhook endpoint: <code>POST /webhook</code></p>
	<p>Signature verification: {{.Verification}}</p>
	<p>Received events: {{.Received}}</p>
	<p>Unique event IDs: {{.Unique}}</p>
	<hr>
	<h2>API endpoints</h2>
	<ul>
		<li><a href="/events">GET /events</a> - recent events</li>
		<li><a href="/stats">GET /stats</a> - statistics</li>
		<li><a href="/deliveries">GET /deliveries</a> - delivery audit log</li>
		<li><a href="/metrics">GET /metrics</a> - Prometheus metrics</li>
		<li>POST /clear - clear event history</li>
	</ul>
</body>
</html>
`))

// HandleIndex serves a small HTML overview
func (s *Server) HandleIndex(w http.ResponseWriter, r *http.Request) {
	stats := s.Store.Stats()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	err := indexTemplate.Execute(w, map[string]interface{}{
		"Received":     stats.TotalEvents,
		"Unique":       stats.UniqueEventIDs,
		"Verification": s.verificationMode(),
	})
	if err != nil {
		s.Logger.Error("Failed to render index page", "error", err)
	}
}

// respondJSON sends a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.Logger.Error("Failed to encode JSON response", "error", err)
	}
}

func (s *Server) verificationMode() string {
	if s.Verifier.Enabled() {
		return "enabled"
	}
	return "disabled"
}

// truncate shortens s to n bytes, marking the cut with "...".
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
