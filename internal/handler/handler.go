// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Shivanand-hulikatti/event-waitlist/internal/model"
	"github.com/Shivanand-hulikatti/event-waitlist/internal/notify"
	"github.com/Shivanand-hulikatti/event-waitlist/internal/repository"
	"github.com/Shivanand-hulikatti/event-waitlist/internal/service"
)

// EventHandler holds all HTTP handlers for the waitlist API.
type EventHandler struct {
	events    *service.EventService
	admission *service.AdmissionService
	draws     service.Drawer
	hub       *notify.Hub
}

// NewEventHandler constructs an EventHandler. hub may be nil, in which case
// the websocket route answers 404.
func NewEventHandler(events *service.EventService, admission *service.AdmissionService, draws service.Drawer, hub *notify.Hub) *EventHandler {
	return &EventHandler{events: events, admission: admission, draws: draws, hub: hub}
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg})
}

func decodeJSON(r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// writeServiceError maps every error kind to its own status and message so
// clients can tell "waiting list is full" from "already on the list".
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "event not found")
	case errors.Is(err, repository.ErrAlreadyMember):
		writeError(w, http.StatusConflict, "you are already on this event's list")
	case errors.Is(err, repository.ErrFull):
		writeError(w, http.StatusConflict, "the waiting list is full")
	case errors.Is(err, repository.ErrNotMember):
		writeError(w, http.StatusConflict, "you are not on this event's list")
	case errors.Is(err, repository.ErrInvalidState):
		writeError(w, http.StatusConflict, "this action is not available in your current status")
	case errors.Is(err, service.ErrRegistrationClosed):
		writeError(w, http.StatusConflict, "registration for this event is closed")
	case errors.Is(err, service.ErrRegistrationOpen):
		writeError(w, http.StatusConflict, "registration for this event is still open")
	case errors.Is(err, repository.ErrConflict), errors.Is(err, repository.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "the service is busy, please try again")
	case errors.Is(err, repository.ErrInvalidRecord):
		log.Error().Err(err).Msg("invalid record")
		writeError(w, http.StatusInternalServerError, "stored event is invalid")
	default:
		log.Error().Err(err).Msg("unhandled service error")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// ─── Event handlers ───────────────────────────────────────────────────────────

// CreateEvent handles POST /events
func (h *EventHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req model.CreateEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	event, err := h.events.CreateEvent(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, event)
}

// ListEvents handles GET /events
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.events.ListEvents(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	// Return an empty array rather than null for better client compatibility.
	if events == nil {
		events = []model.Event{}
	}

	writeJSON(w, http.StatusOK, events)
}

// GetEvent handles GET /events/{id}
func (h *EventHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	event, err := h.events.GetEvent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, event)
}

// UpdateEvent handles PATCH /events/{id}
func (h *EventHandler) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	var req model.UpdateEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	event, err := h.events.UpdateEvent(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, event)
}

// DeleteEvent handles DELETE /events/{id}
func (h *EventHandler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	if err := h.events.DeleteEvent(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Draw handles POST /events/{id}/draw, the organizer's manual trigger.
func (h *EventHandler) Draw(w http.ResponseWriter, r *http.Request) {
	res, err := h.draws.Draw(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// ─── Entrant handlers ─────────────────────────────────────────────────────────

// entrantAction adapts an admission operation to a POST /events/{id}/<action> route.
// The response carries only the caller's own status.
func (h *EventHandler) entrantAction(action func(ctx context.Context, eventID, entrantID string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req model.EntrantRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}

		eventID := chi.URLParam(r, "id")
		entrantID := strings.TrimSpace(req.EntrantID)
		if err := action(r.Context(), eventID, entrantID); err != nil {
			writeServiceError(w, err)
			return
		}

		event, err := h.events.GetEvent(r.Context(), eventID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		status, _ := event.StatusOf(entrantID)
		writeJSON(w, http.StatusOK, model.MembershipResponse{
			EventID:   event.ID,
			EntrantID: entrantID,
			Status:    status,
		})
	}
}

// JoinedEvents handles GET /entrants/{id}/events
func (h *EventHandler) JoinedEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.events.JoinedEvents(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, events)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// StatusFeed handles GET /ws/entrants/{id}, streaming the entrant's status changes.
func (h *EventHandler) StatusFeed(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		writeError(w, http.StatusNotFound, "status feed is disabled")
		return
	}
	entrantID := chi.URLParam(r, "id")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade error")
		return
	}

	h.hub.AddConnection(entrantID, conn)
	defer h.hub.RemoveConnection(entrantID, conn)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
