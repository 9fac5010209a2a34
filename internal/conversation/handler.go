package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/restaurant-chatbot/internal/catalog"
	"github.com/wolfman30/restaurant-chatbot/internal/support"
	"github.com/wolfman30/restaurant-chatbot/pkg/logging"
)

// Chatbot is the service surface exposed over HTTP.
type Chatbot interface {
	ProcessMessage(ctx context.Context, req MessageRequest) (*Response, error)
	RecordFeedback(ctx context.Context, req FeedbackRequest) (*FeedbackResult, error)
	CloseRoom(ctx context.Context, roomID string) error
	EscalationStats(ctx context.Context, restaurantID string, days int) (*support.EscalationStats, error)
	PendingEscalations(ctx context.Context, restaurantID string) ([]*support.Escalation, error)
	ResolveEscalation(ctx context.Context, req ResolveRequest) error
	SimilarDishes(ctx context.Context, restaurantID, dishID string, limit int) ([]catalog.Dish, error)
}

// Handler wires HTTP requests to the chatbot service.
type Handler struct {
	service Chatbot
	logger  *logging.Logger
}

func NewHandler(service Chatbot, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, logger: logger}
}

// Message handles POST /v1/chat/messages.
func (h *Handler) Message(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("failed to decode message request", "error", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	resp, err := h.service.ProcessMessage(r.Context(), req)
	if err != nil {
		if errors.Is(err, ErrInvalidRequest) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("failed to process message", "error", err)
		http.Error(w, "Failed to process message", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// Feedback handles POST /v1/chat/feedback.
func (h *Handler) Feedback(w http.ResponseWriter, r *http.Request) {
	var req FeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("failed to decode feedback request", "error", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	resp, err := h.service.RecordFeedback(r.Context(), req)
	if err != nil {
		if errors.Is(err, ErrInvalidRequest) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("failed to record feedback", "error", err)
		http.Error(w, "Failed to record feedback", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusCreated, resp)
}

// CloseRoom handles POST /v1/chat/rooms/{roomID}/close.
func (h *Handler) CloseRoom(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	err := h.service.CloseRoom(r.Context(), roomID)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, ErrInvalidRequest):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, support.ErrRoomNotFound):
		http.Error(w, "Room not found", http.StatusNotFound)
	default:
		h.logger.Error("failed to close room", "room_id", roomID, "error", err)
		http.Error(w, "Failed to close room", http.StatusInternalServerError)
	}
}

// EscalationStats handles GET /v1/restaurants/{restaurantID}/escalations/stats?days=N.
func (h *Handler) EscalationStats(w http.ResponseWriter, r *http.Request) {
	restaurantID := chi.URLParam(r, "restaurantID")
	days := 7
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 365 {
			http.Error(w, "days must be between 1 and 365", http.StatusBadRequest)
			return
		}
		days = n
	}

	stats, err := h.service.EscalationStats(r.Context(), restaurantID, days)
	if err != nil {
		h.logger.Error("failed to load escalation stats", "restaurant_id", restaurantID, "error", err)
		http.Error(w, "Failed to load escalation stats", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// PendingEscalations handles GET /v1/restaurants/{restaurantID}/escalations/pending.
func (h *Handler) PendingEscalations(w http.ResponseWriter, r *http.Request) {
	restaurantID := chi.URLParam(r, "restaurantID")
	pending, err := h.service.PendingEscalations(r.Context(), restaurantID)
	if err != nil {
		if errors.Is(err, ErrInvalidRequest) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("failed to list pending escalations", "restaurant_id", restaurantID, "error", err)
		http.Error(w, "Failed to list escalations", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"escalations": pending})
}

// ResolveEscalation handles POST /v1/escalations/{escalationID}/resolve.
func (h *Handler) ResolveEscalation(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "escalationID"))
	if err != nil {
		http.Error(w, "Invalid escalation id", http.StatusBadRequest)
		return
	}
	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("failed to decode resolve request", "error", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	req.EscalationID = id

	err = h.service.ResolveEscalation(r.Context(), req)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, ErrInvalidRequest):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, support.ErrEscalationNotFound):
		http.Error(w, "Escalation not found or already resolved", http.StatusNotFound)
	default:
		h.logger.Error("failed to resolve escalation", "escalation_id", id, "error", err)
		http.Error(w, "Failed to resolve escalation", http.StatusInternalServerError)
	}
}

// SimilarDishes handles GET /v1/restaurants/{restaurantID}/dishes/{dishID}/similar?limit=N.
func (h *Handler) SimilarDishes(w http.ResponseWriter, r *http.Request) {
	restaurantID := chi.URLParam(r, "restaurantID")
	dishID := chi.URLParam(r, "dishID")
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 20 {
			http.Error(w, "limit must be between 1 and 20", http.StatusBadRequest)
			return
		}
		limit = n
	}

	dishes, err := h.service.SimilarDishes(r.Context(), restaurantID, dishID, limit)
	switch {
	case err == nil:
		h.writeJSON(w, http.StatusOK, map[string]any{"dishes": dishes})
	case errors.Is(err, ErrInvalidRequest):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, catalog.ErrNotFound):
		http.Error(w, "Dish not found", http.StatusNotFound)
	default:
		h.logger.Error("failed to find similar dishes", "restaurant_id", restaurantID, "dish_id", dishID, "error", err)
		http.Error(w, "Failed to find similar dishes", http.StatusInternalServerError)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}
