package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/expertloop/expertloop/internal/domain"
	"github.com/expertloop/expertloop/internal/domain/expert"
	"github.com/expertloop/expertloop/internal/middleware"
	"github.com/expertloop/expertloop/internal/service"
)

const maxBodySize = 64 << 10

// Handlers bundles the services exposed over HTTP.
type Handlers struct {
	Verifier  *service.VerificationService
	Feedback  *service.FeedbackService
	Auth      *service.AuthService
	Scheduler *service.Scheduler
	Channel   string // default provider for inbound messages
}

type submitRequest struct {
	Channel        string `json:"channel,omitempty"`
	UserExternalID string `json:"user_external_id"`
	Text           string `json:"text"`
	Locale         string `json:"locale,omitempty"`
}

// SubmitQuery handles POST /api/v1/queries: one inbound user message.
func (h *Handlers) SubmitQuery(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[submitRequest](w, r, maxBodySize)
	if !ok {
		return
	}
	if !requireField(w, req.UserExternalID, "user_external_id") || !requireField(w, req.Text, "text") {
		return
	}
	channelName := req.Channel
	if channelName == "" {
		channelName = h.Channel
	}

	q, err := h.Verifier.Submit(r.Context(), channelName, req.UserExternalID, req.Text, req.Locale)
	if err != nil {
		writeDomainError(w, err, "submit query")
		return
	}
	writeJSON(w, http.StatusAccepted, q)
}

type decisionRequest struct {
	Decision   service.Decision `json:"decision"`
	EditedText string           `json:"edited_text,omitempty"`
}

// RecordDecision handles POST /api/v1/queries/{id}/decision. The acting
// expert comes from the API key, never the body.
func (h *Handlers) RecordDecision(w http.ResponseWriter, r *http.Request) {
	queryID := urlParam(r, "id")
	exp := middleware.ExpertFromContext(r.Context())
	if exp == nil {
		writeError(w, http.StatusUnauthorized, "expert authentication required")
		return
	}

	req, ok := readJSON[decisionRequest](w, r, maxBodySize)
	if !ok {
		return
	}
	if req.Decision == service.DecisionEdit && req.EditedText == "" {
		writeError(w, http.StatusBadRequest, "edited_text is required for edit decisions")
		return
	}

	err := h.Verifier.RecordExpertDecision(r.Context(), queryID, exp.ID, req.Decision, req.EditedText)
	if err != nil {
		if errors.Is(err, domain.ErrStaleReviewAction) {
			// The review moved on; tell the expert their action was a no-op.
			writeJSON(w, http.StatusConflict, map[string]string{
				"status": "stale",
				"detail": "the review was already resolved by another action",
			})
			return
		}
		writeDomainError(w, err, "record decision")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

// GetConversationStatus handles GET /api/v1/conversations/{id}/status.
func (h *Handlers) GetConversationStatus(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	proj, err := h.Verifier.GetConversationStatus(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, proj)
}

// ListCorrections handles GET /api/v1/corrections?since=RFC3339&limit=N,
// the pull surface for knowledge-base ingestion.
func (h *Handlers) ListCorrections(w http.ResponseWriter, r *http.Request) {
	since := time.Time{}
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		since = t
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be 1-1000")
			return
		}
		limit = n
	}

	records, err := h.Feedback.List(r.Context(), since, limit)
	if err != nil {
		writeDomainError(w, err, "list corrections")
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// CreateExpert handles POST /api/v1/experts. The response carries the
// plaintext API key exactly once.
func (h *Handlers) CreateExpert(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[expert.CreateRequest](w, r, maxBodySize)
	if !ok {
		return
	}

	exp, key, err := h.Auth.CreateExpert(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "create expert")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"expert":  exp,
		"api_key": key,
	})
}

// ListExperts handles GET /api/v1/experts.
func (h *Handlers) ListExperts(w http.ResponseWriter, r *http.Request) {
	experts, err := h.Auth.ListExperts(r.Context())
	if err != nil {
		writeDomainError(w, err, "list experts")
		return
	}
	if experts == nil {
		experts = []expert.Expert{}
	}
	writeJSON(w, http.StatusOK, experts)
}

// Tick handles POST /internal/tick: one scheduler pass on demand, used
// by ops tooling and external cron triggers.
func (h *Handlers) Tick(w http.ResponseWriter, r *http.Request) {
	report := h.Scheduler.Tick(r.Context())
	writeJSON(w, http.StatusOK, report)
}

// Health handles GET /health.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
