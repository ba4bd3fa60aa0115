// Package handlers implements the HTTP handlers for the Sentinel API. Reads
// come straight from the orchestrator, the bus and the agents' read APIs;
// writes are published onto the bus like any other agent message.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/adithya-n05/ICHack26-sub001/internal/agents"
	"github.com/adithya-n05/ICHack26-sub001/internal/auth"
	"github.com/adithya-n05/ICHack26-sub001/internal/bus"
	"github.com/adithya-n05/ICHack26-sub001/internal/catalog"
	"github.com/adithya-n05/ICHack26-sub001/internal/orchestrator"
	"github.com/adithya-n05/ICHack26-sub001/internal/store"
	"github.com/adithya-n05/ICHack26-sub001/pkg/contracts"
	"github.com/adithya-n05/ICHack26-sub001/pkg/models"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// Sender is the bus address used for messages injected over HTTP.
const Sender = "api"

// DefaultRecordLimit caps GET /records when no limit is given.
const DefaultRecordLimit = 100

// Handlers holds all handler dependencies. Agent fields may be nil when the
// agent is not running in this process; their endpoints return empty lists.
type Handlers struct {
	Version      string
	Bus          *bus.Bus
	Orchestrator *orchestrator.Orchestrator
	Store        store.Store
	Catalog      *catalog.Catalog
	Scorer       contracts.RiskScorer

	Ingestion  *agents.Ingestion
	Risk       *agents.Risk
	Mitigation *agents.Mitigation
	Alerts     *agents.Alert
}

// ══════════════════════════════════════════════════════════════
// ── System ──────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// Health reports liveness. The response is 503 when the record store is
// unreachable.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":  "healthy",
		"service": "sentinel",
		"version": h.Version,
	}
	status := http.StatusOK
	if h.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.Store.Ping(ctx); err != nil {
			resp["status"] = "degraded"
			resp["store"] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			resp["store"] = "ok"
		}
	}
	if h.Orchestrator != nil {
		resp["running"] = h.Orchestrator.Running()
	}
	respondJSON(w, status, resp)
}

func (h *Handlers) GetVersion(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"version": h.Version,
		"service": "sentinel",
	})
}

func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Orchestrator.Status())
}

func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, nonNil(h.Orchestrator.Agents()))
}

// ══════════════════════════════════════════════════════════════
// ── Messages ────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// ListMessages queries bus history. Supported query parameters: from, to,
// type, correlation_id, since (RFC 3339) and limit.
func (h *Handlers) ListMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := bus.HistoryFilter{
		From:          q.Get("from"),
		To:            q.Get("to"),
		CorrelationID: q.Get("correlation_id"),
	}
	if t := q.Get("type"); t != "" {
		f.Type = models.MessageType(t)
		if !f.Type.Valid() {
			respondError(w, http.StatusBadRequest, "unknown message type: "+t)
			return
		}
	}
	if s := q.Get("since"); s != "" {
		since, err := time.Parse(time.RFC3339, s)
		if err != nil {
			respondError(w, http.StatusBadRequest, "since must be RFC 3339")
			return
		}
		f.Since = since
	}
	limit, ok := parseLimit(w, q.Get("limit"))
	if !ok {
		return
	}
	f.Limit = limit

	respondJSON(w, http.StatusOK, nonNil(h.Bus.History(f)))
}

// PublishMessage injects a message onto the bus. The body is a message
// envelope whose payload is decoded by its type; the sender defaults to
// "api".
func (h *Handlers) PublishMessage(w http.ResponseWriter, r *http.Request) {
	var msg models.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if msg.From == "" {
		msg.From = Sender
	}

	published, err := h.Bus.Publish(r.Context(), msg)
	if err != nil {
		respondPublishError(w, err)
		return
	}

	event := log.Info().
		Str("msg_id", published.ID).
		Str("type", string(published.Type)).
		Str("to", published.To)
	if id := auth.IdentityFrom(r.Context()); id != nil {
		event = event.Str("caller", id.Subject)
	}
	event.Msg("📨 Message injected over HTTP")
	respondJSON(w, http.StatusAccepted, published)
}

func (h *Handlers) GetConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "correlationID")
	conv := h.Bus.Conversation(id)
	if len(conv) == 0 {
		respondError(w, http.StatusNotFound, "conversation not found")
		return
	}
	respondJSON(w, http.StatusOK, conv)
}

// ══════════════════════════════════════════════════════════════
// ── Alerts ──────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// ListAlerts returns the alert history, or only unacknowledged alerts with
// ?pending=true.
func (h *Handlers) ListAlerts(w http.ResponseWriter, r *http.Request) {
	if h.Alerts == nil {
		respondJSON(w, http.StatusOK, []models.Alert{})
		return
	}
	if pending, _ := strconv.ParseBool(r.URL.Query().Get("pending")); pending {
		respondJSON(w, http.StatusOK, nonNil(h.Alerts.Pending()))
		return
	}
	respondJSON(w, http.StatusOK, nonNil(h.Alerts.History()))
}

type ackRequest struct {
	UserID string `json:"user_id"`
}

// AcknowledgeAlert publishes a user acknowledgment for one pending alert.
// The user defaults to the authenticated caller. The alert agent applies it
// asynchronously, so the response is 202.
func (h *Handlers) AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	alertID := chi.URLParam(r, "alertID")

	var req ackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.UserID == "" {
		req.UserID = Sender
		if id := auth.IdentityFrom(r.Context()); id != nil {
			req.UserID = id.Name()
		}
	}

	if h.Alerts != nil && !containsAlert(h.Alerts.Pending(), alertID) {
		respondError(w, http.StatusNotFound, "no pending alert "+alertID)
		return
	}

	msg, err := h.Bus.Publish(r.Context(), models.Message{
		From:    Sender,
		To:      models.AlertAgent,
		Payload: models.UserAcknowledgment{AlertID: alertID, UserID: req.UserID},
	})
	if err != nil {
		respondPublishError(w, err)
		return
	}

	log.Info().Str("alert_id", alertID).Str("user", req.UserID).Msg("Alert acknowledgment submitted")
	respondJSON(w, http.StatusAccepted, msg)
}

func containsAlert(alerts []models.Alert, id string) bool {
	for _, a := range alerts {
		if a.ID == id {
			return true
		}
	}
	return false
}

// ══════════════════════════════════════════════════════════════
// ── Agent State ─────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) ListSources(w http.ResponseWriter, r *http.Request) {
	var out []models.SourceStatus
	if h.Ingestion != nil {
		out = h.Ingestion.Sources()
	}
	respondJSON(w, http.StatusOK, nonNil(out))
}

func (h *Handlers) ListRisks(w http.ResponseWriter, r *http.Request) {
	var out []agents.TrackedRisk
	if h.Risk != nil {
		out = h.Risk.Tracked()
	}
	respondJSON(w, http.StatusOK, nonNil(out))
}

func (h *Handlers) ListMitigations(w http.ResponseWriter, r *http.Request) {
	var out []agents.ActiveMitigation
	if h.Mitigation != nil {
		out = h.Mitigation.Active()
	}
	respondJSON(w, http.StatusOK, nonNil(out))
}

// ══════════════════════════════════════════════════════════════
// ── Records & Catalog ───────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) ListRecords(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r.URL.Query().Get("limit"))
	if !ok {
		return
	}
	if limit == 0 {
		limit = DefaultRecordLimit
	}
	records, err := h.Store.RecentRecords(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, nonNil(records))
}

func (h *Handlers) ListEntities(w http.ResponseWriter, r *http.Request) {
	var out []models.Entity
	if h.Catalog != nil {
		out = h.Catalog.Entities()
	}
	respondJSON(w, http.StatusOK, nonNil(out))
}

// ScoreEntity computes a fresh risk score for one catalog entity.
func (h *Handlers) ScoreEntity(w http.ResponseWriter, r *http.Request) {
	if h.Scorer == nil {
		respondError(w, http.StatusNotImplemented, "risk scoring not configured")
		return
	}
	e, ok := h.entity(w, r)
	if !ok {
		return
	}
	score, err := h.Scorer.Score(r.Context(), e.ID, e.Type)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, score)
}

// EntityAlternatives ranks replacement suppliers for one catalog entity.
// Optional query parameters: product, exclude (repeatable region) and limit.
func (h *Handlers) EntityAlternatives(w http.ResponseWriter, r *http.Request) {
	e, ok := h.entity(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	limit, ok := parseLimit(w, q.Get("limit"))
	if !ok {
		return
	}
	alts, err := h.Catalog.FindAlternatives(r.Context(), models.AlternativeQuery{
		EntityID:       e.ID,
		Product:        q.Get("product"),
		ExcludeRegions: q["exclude"],
		Limit:          limit,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, nonNil(alts))
}

func (h *Handlers) entity(w http.ResponseWriter, r *http.Request) (models.Entity, bool) {
	id := chi.URLParam(r, "entityID")
	if h.Catalog == nil {
		respondError(w, http.StatusNotFound, "catalog not loaded")
		return models.Entity{}, false
	}
	e, ok := h.Catalog.Entity(id)
	if !ok {
		respondError(w, http.StatusNotFound, "entity not found: "+id)
		return models.Entity{}, false
	}
	return e, true
}

// ══════════════════════════════════════════════════════════════
// ── Helpers ─────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func respondPublishError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, bus.ErrClosed):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, bus.ErrNoPayload), errors.Is(err, bus.ErrTypeMismatch), errors.Is(err, bus.ErrNoSender):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

// parseLimit reads a non-negative limit. It writes a 400 and returns false
// on bad input.
func parseLimit(w http.ResponseWriter, s string) (int, bool) {
	if s == "" {
		return 0, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return 0, false
	}
	return n, true
}

// nonNil keeps empty lists encoding as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
