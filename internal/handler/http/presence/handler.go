package presence

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/bzaromedia/securi-comm-network-sub001/internal/middleware"
	"github.com/bzaromedia/securi-comm-network-sub001/pkg/response"
)

// Store tracks user online status
type Store interface {
	SetUserOnline(ctx context.Context, userID uuid.UUID) error
	SetUserOffline(ctx context.Context, userID uuid.UUID) error
	RefreshPresence(ctx context.Context, userID uuid.UUID) error
}

// Handler handles presence HTTP requests
type Handler struct {
	store Store
}

// NewHandler creates a new presence handler
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// UpdateRequest represents a presence update
type UpdateRequest struct {
	Status string `json:"status" binding:"required,oneof=online offline heartbeat"`
}

// Update sets or refreshes the caller's presence
// POST /v1/presence
func (h *Handler) Update(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	var err error
	switch req.Status {
	case "online":
		err = h.store.SetUserOnline(c.Request.Context(), userID)
	case "offline":
		err = h.store.SetUserOffline(c.Request.Context(), userID)
	case "heartbeat":
		err = h.store.RefreshPresence(c.Request.Context(), userID)
	}
	if err != nil {
		response.InternalError(c, "Failed to update presence")
		return
	}

	response.Success(c, http.StatusOK, gin.H{"status": req.Status})
}
