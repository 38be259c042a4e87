package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/propfin/loanagent/internal/messaging"
	"github.com/propfin/loanagent/internal/models"
)

// DefaultConversationLimit caps utterance listings when no limit is given.
const DefaultConversationLimit = 50

// messageRequest is the body for POST /v1/messages.
type messageRequest struct {
	Phone string `json:"phone"`
	Text  string `json:"text"`
}

// messageResult is the reply envelope for a processed turn.
type messageResult struct {
	Phone        string `json:"phone"`
	Reply        string `json:"reply,omitempty"`
	DoNotContact bool   `json:"do_not_contact,omitempty"`
}

// healthHandler handles GET /v1/health.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{
		"service": "loanagent",
		"time":    time.Now().UTC().Format(time.RFC3339),
	}))
}

// messagesHandler handles POST /v1/messages: run one customer turn through
// the dialogue engine and return the reply.
func (s *Server) messagesHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.messagesHandler: processing message turn")

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON body"))
		return
	}
	if req.Text == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: text"))
		return
	}
	phone, err := messaging.CanonicalizeRecipient(req.Phone)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid phone number"))
		return
	}

	reply, err := s.orch.HandleTurn(r.Context(), phone, req.Text)
	switch {
	case errors.Is(err, models.ErrDoNotContact):
		writeJSONResponse(w, http.StatusOK, models.Success(messageResult{Phone: phone, DoNotContact: true}))
		return
	case errors.Is(err, models.ErrTurnInProgress):
		writeJSONResponse(w, http.StatusConflict, models.Error("Another turn is in progress for this customer"))
		return
	case err != nil:
		slog.Error("Server.messagesHandler: turn failed", "phone", phone, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process message"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(messageResult{Phone: phone, Reply: reply}))
}

// getProfileHandler handles GET /v1/profiles/{phone}.
func (s *Server) getProfileHandler(w http.ResponseWriter, r *http.Request) {
	phone, err := messaging.CanonicalizeRecipient(r.PathValue("phone"))
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid phone number"))
		return
	}
	profile, err := s.st.GetProfile(phone)
	if err != nil {
		slog.Error("Server.getProfileHandler: store lookup failed", "phone", phone, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load profile"))
		return
	}
	if profile == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Profile not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(profile))
}

// doNotContactHandler handles PUT /v1/profiles/{phone}/do-not-contact: flag
// the customer as opted out and cancel their pending follow-ups.
func (s *Server) doNotContactHandler(w http.ResponseWriter, r *http.Request) {
	phone, err := messaging.CanonicalizeRecipient(r.PathValue("phone"))
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid phone number"))
		return
	}
	if err := s.orch.OptOut(phone); err != nil {
		slog.Error("Server.doNotContactHandler: opt-out failed", "phone", phone, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to record opt-out"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"phone": phone, "status": "do_not_contact"}))
}

// listConversationHandler handles GET /v1/conversations/{phone}. It supports
// cursor pagination via ?after=<utterance-id>&limit=<n>.
func (s *Server) listConversationHandler(w http.ResponseWriter, r *http.Request) {
	phone, err := messaging.CanonicalizeRecipient(r.PathValue("phone"))
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid phone number"))
		return
	}

	limit := DefaultConversationLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid limit parameter"))
			return
		}
		limit = n
	}

	utterances, err := s.st.ListUtterances(phone, r.URL.Query().Get("after"), limit)
	if err != nil {
		slog.Error("Server.listConversationHandler: listing failed", "phone", phone, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list conversation"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(utterances))
}

// resetConversationHandler handles POST /v1/conversations/{phone}/reset.
func (s *Server) resetConversationHandler(w http.ResponseWriter, r *http.Request) {
	phone, err := messaging.CanonicalizeRecipient(r.PathValue("phone"))
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid phone number"))
		return
	}
	if err := s.orch.Reset(phone); err != nil {
		if errors.Is(err, models.ErrProfileNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Profile not found"))
			return
		}
		slog.Error("Server.resetConversationHandler: reset failed", "phone", phone, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to reset conversation"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"phone": phone, "state": string(models.StateInitial)}))
}

// processFollowUpsHandler handles POST /v1/followups/process: run one sweep
// of the due follow-up queue immediately instead of waiting for the cron
// schedule.
func (s *Server) processFollowUpsHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.processFollowUpsHandler: manual follow-up sweep requested")
	sent, err := s.proc.ProcessDueFollowUps(r.Context())
	if err != nil {
		slog.Error("Server.processFollowUpsHandler: sweep failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process follow-ups"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]int{"sent": sent}))
}

// reloadPromptsHandler handles POST /v1/prompts/reload: re-read the prompt
// overlay directory without restarting the server.
func (s *Server) reloadPromptsHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.catalog.Reload(); err != nil {
		slog.Error("Server.reloadPromptsHandler: reload failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to reload prompts"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]any{"languages": s.catalog.Languages()}))
}
