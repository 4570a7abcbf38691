package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/oskarw/simtrader/internal/domain"
)

// SessionController is the slice of the session runtime the HTTP surface
// needs: a status snapshot and the operator-driven step advance.
type SessionController interface {
	Status() domain.SessionStatus
	AdvanceStep() error
	CancelOrder(orderID string) error
}

// SessionHandler serves session status and manual step advancement.
type SessionHandler struct {
	session SessionController
	logger  *slog.Logger
}

// NewSessionHandler creates a SessionHandler backed by the given controller.
func NewSessionHandler(session SessionController, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{session: session, logger: logger}
}

// GetStatus responds with a point-in-time session snapshot.
// GET /api/status
func (h *SessionHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.session.Status())
}

// Advance sends one DONE to the exchange, advancing the replay by one step.
// It backs manual pacing when auto-advance is disabled.
// POST /api/advance
func (h *SessionHandler) Advance(w http.ResponseWriter, r *http.Request) {
	if err := h.session.AdvanceStep(); err != nil {
		h.logger.Warn("manual advance failed", slog.String("error", err.Error()))
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "advanced"})
}

// cancelRequest is the body of a manual cancellation.
type cancelRequest struct {
	OrderID string `json:"order_id"`
}

// Cancel forwards an order cancellation to the exchange. The exchange is
// authoritative about whether the order can still be cancelled.
// POST /api/cancel
func (h *SessionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrderID == "" {
		writeError(w, http.StatusBadRequest, "order_id is required")
		return
	}

	if err := h.session.CancelOrder(req.OrderID); err != nil {
		h.logger.Warn("manual cancel failed",
			slog.String("order_id", req.OrderID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":   "cancel_requested",
		"order_id": req.OrderID,
	})
}
