package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"aegismind-siem/internal/metrics"
	"aegismind-siem/pkg/events"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// handleIngest implements spec.md §6's ingest contract: parse the raw JSON
// array, verify the HMAC signature, and hand the batch down the
// normalize/cluster/correlate pipeline. The response never distinguishes
// normalized-then-dropped items from accepted ones — {accepted, rejected:0}
// per spec.md §7's acknowledged imprecision.
func (a *App) handleIngest(w http.ResponseWriter, r *http.Request) {
	if !a.ingestLim.Allow() {
		http.Error(w, "ingest rate limit exceeded", http.StatusTooManyRequests)
		return
	}
	ingestStart := time.Now()
	defer func() { a.ingestLim.RecordLatency(time.Since(ingestStart)) }()

	body, err := io.ReadAll(io.LimitReader(r.Body, int64(a.config.Gateway.IngestMaxBodyKB*1024)+1))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if err := a.verifier.CheckBodySize(len(body)); err != nil {
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
		return
	}

	if a.config.Gateway.IngestSecret != "" {
		signature := r.Header.Get("X-Signature")
		if !a.verifier.VerifySignature(body, signature) {
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	var raw []map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		http.Error(w, "malformed ingest body", http.StatusBadRequest)
		return
	}

	accepted := a.processBatch(r.Context(), raw)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"accepted": accepted, "rejected": 0})
}

// processBatch runs raw through the normalizer, clusterer, and correlator,
// persists the resulting events and affected incidents, and returns the
// number of events that survived normalization (spec.md §7's "accepted").
func (a *App) processBatch(ctx context.Context, raw []map[string]interface{}) int {
	start := time.Now()
	stageCtx, normSpan := a.tracing.StartStage(ctx, "normalize", len(raw))
	normalized := a.normalizer.NormalizeBatch(raw)
	normSpan.End()
	metrics.PipelineStageDuration.WithLabelValues("normalize").Observe(time.Since(start).Seconds())

	for _, source := range sourceTally(raw) {
		metrics.EventsIngestedTotal.WithLabelValues(source).Inc()
	}
	if dropped := len(raw) - len(normalized); dropped > 0 {
		metrics.EventsRejectedTotal.WithLabelValues("malformed").Add(float64(dropped))
	}

	if len(normalized) == 0 {
		return 0
	}

	clusterStart := time.Now()
	_, clusterSpan := a.tracing.StartStage(stageCtx, "cluster", len(normalized))
	a.clusterer.AssignClusters(normalized)
	clusterSpan.End()
	metrics.PipelineStageDuration.WithLabelValues("cluster").Observe(time.Since(clusterStart).Seconds())
	metrics.ActiveClusters.Set(float64(a.clusterer.Stats().ActiveClusters))

	correlateStart := time.Now()
	a.incidentsMu.Lock()
	_, correlateSpan := a.tracing.StartStage(stageCtx, "correlate", len(normalized))
	affected := a.correlator.CorrelateEvents(normalized, a.incidents)
	correlateSpan.End()
	metrics.PipelineStageDuration.WithLabelValues("correlate").Observe(time.Since(correlateStart).Seconds())

	touched := make([]*events.Incident, 0, len(affected))
	for _, id := range affected {
		if inc, ok := a.incidents[id]; ok {
			touched = append(touched, inc)
		}
	}
	a.incidentsMu.Unlock()

	if err := a.store.InsertEvents(ctx, normalized); err != nil {
		a.logger.WithError(err).Warn("insert_events_failed")
	}
	for _, inc := range touched {
		if err := a.store.UpsertIncident(ctx, inc); err != nil {
			a.logger.WithError(err).Warn("upsert_incident_failed")
			continue
		}
		metrics.IncidentsBySeverityTotal.WithLabelValues(string(inc.Severity)).Inc()
	}
	metrics.OpenIncidents.Set(float64(a.countOpenLocked()))

	return len(normalized)
}

func (a *App) countOpenLocked() int {
	a.incidentsMu.Lock()
	defer a.incidentsMu.Unlock()
	count := 0
	for _, inc := range a.incidents {
		if inc.Status == events.StatusOpen {
			count++
		}
	}
	return count
}

func sourceTally(raw []map[string]interface{}) []string {
	seen := make(map[string]bool)
	out := make([]string, 0, 4)
	for _, item := range raw {
		source, _ := item["source"].(string)
		if source == "" {
			source = "unknown"
		}
		if !seen[source] {
			seen[source] = true
			out = append(out, source)
		}
	}
	return out
}

// handleListIncidents implements GET /incidents?status=&limit=&after_id=.
func (a *App) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	var status *events.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		parsed := events.ParseStatus(raw)
		status = &parsed
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	afterID := r.URL.Query().Get("after_id")

	incidents, err := a.store.QueryIncidents(r.Context(), status, limit, afterID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, incidents)
}

// handleGetIncident implements GET /incidents/{id}.
func (a *App) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	incident, err := a.store.GetIncident(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if incident == nil {
		http.Error(w, "incident not found", http.StatusNotFound)
		return
	}
	writeJSON(w, incident)
}

// handleListEvents implements GET /events?limit=N, the query-side
// completion named in SPEC_FULL.md §7.
func (a *App) handleListEvents(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	recent, err := a.store.QueryRecentEvents(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, recent)
}

type statusUpdateRequest struct {
	Status string `json:"status"`
	Actor  string `json:"actor"`
}

// statusForward enforces the open -> ack -> closed DAG (spec.md §3):
// transitions never go backwards, and a no-op (same status) is rejected as
// it carries no auditable change.
var statusForward = map[events.Status]events.Status{
	events.StatusOpen: events.StatusAck,
	events.StatusAck:  events.StatusClosed,
}

// handleUpdateStatus implements the operator-surface status transition
// spec.md §3 describes as "audited externally": this is that boundary. The
// core pipeline itself never writes status beyond the initial "open".
func (a *App) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req statusUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	if req.Actor == "" {
		http.Error(w, "actor is required", http.StatusBadRequest)
		return
	}

	incident, err := a.store.GetIncident(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if incident == nil {
		http.Error(w, "incident not found", http.StatusNotFound)
		return
	}

	next := events.ParseStatus(req.Status)
	if !isForwardTransition(incident.Status, next) {
		http.Error(w, fmt.Sprintf("invalid status transition %s -> %s", incident.Status, next), http.StatusConflict)
		return
	}

	before := incident.Status
	incident.Status = next
	incident.UpdatedAt = time.Now()

	if err := a.store.UpsertIncident(r.Context(), incident); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := a.audit.LogStateChange(r.Context(), req.Actor, id, before, next); err != nil {
		a.logger.WithError(err).Warn("audit_log_failed")
	}

	a.incidentsMu.Lock()
	if cached, ok := a.incidents[id]; ok {
		cached.Status = next
		cached.UpdatedAt = incident.UpdatedAt
	}
	a.incidentsMu.Unlock()

	writeJSON(w, incident)
}

func isForwardTransition(from, to events.Status) bool {
	return statusForward[from] == to
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// ingestSeedFile replays a single JSON document or array through the same
// pipeline path as HTTP ingest, the successor to original_source's
// file_ingestor.cpp (SPEC_FULL.md §7).
func (a *App) ingestSeedFile(ctx context.Context, path string) error {
	if err := a.validator.ValidatePath(path); err != nil {
		return fmt.Errorf("seed file path rejected: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}

	var raw []map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		var single map[string]interface{}
		if err := json.Unmarshal(data, &single); err != nil {
			return fmt.Errorf("parse seed file: %w", err)
		}
		raw = []map[string]interface{}{single}
	}

	accepted := a.processBatch(ctx, raw)
	a.logger.WithFields(logrus.Fields{
		"component": "app",
		"path":      path,
		"accepted":  accepted,
	}).Info("seed_file_ingested")
	return nil
}
