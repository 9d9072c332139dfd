package conversation

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/bzaromedia/securi-comm-network-sub001/internal/middleware"
	"github.com/bzaromedia/securi-comm-network-sub001/internal/service/conversation"
	"github.com/bzaromedia/securi-comm-network-sub001/pkg/response"
)

// Handler handles conversation HTTP requests
type Handler struct {
	conversationService *conversation.Service
}

// NewHandler creates a new conversation handler
func NewHandler(conversationService *conversation.Service) *Handler {
	return &Handler{
		conversationService: conversationService,
	}
}

// CreateDirectRequest represents a direct conversation request
type CreateDirectRequest struct {
	ParticipantID string `json:"participant_id" binding:"required,uuid"`
}

// CreateDirect finds or creates the direct conversation with another user
// POST /v1/conversations/direct
func (h *Handler) CreateDirect(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	var req CreateDirectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	participantID, err := uuid.Parse(req.ParticipantID)
	if err != nil {
		response.ValidationError(c, "Invalid participant ID")
		return
	}

	conv, err := h.conversationService.FindOrCreateDirect(c.Request.Context(), userID, participantID)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, conv)
}

// CreateGroupRequest represents a group conversation request
type CreateGroupRequest struct {
	Name           string   `json:"name" binding:"required"`
	ParticipantIDs []string `json:"participant_ids" binding:"required,min=1"`
	GroupKey       string   `json:"group_key"`
	SecurityLevel  string   `json:"security_level" binding:"omitempty,oneof=high medium low"`
}

// CreateGroup creates a group conversation with the caller as admin
// POST /v1/conversations/group
func (h *Handler) CreateGroup(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	var req CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	participantIDs := make([]uuid.UUID, len(req.ParticipantIDs))
	for i, idStr := range req.ParticipantIDs {
		id, err := uuid.Parse(idStr)
		if err != nil {
			response.ValidationError(c, "Invalid participant ID: "+idStr)
			return
		}
		participantIDs[i] = id
	}

	var opts *conversation.GroupOptions
	if req.SecurityLevel != "" {
		opts = &conversation.GroupOptions{SecurityLevel: req.SecurityLevel}
	}

	conv, err := h.conversationService.CreateGroup(c.Request.Context(), userID, req.Name, participantIDs, req.GroupKey, opts)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, conv)
}

// List retrieves the caller's conversations
// GET /v1/conversations?limit=20&offset=0
func (h *Handler) List(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	limit := intQuery(c, "limit", 20)
	offset := intQuery(c, "offset", 0)

	conversations, err := h.conversationService.ListForUser(c.Request.Context(), userID, limit, offset)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"conversations": conversations,
		"limit":         limit,
		"offset":        offset,
	})
}

// Get retrieves a conversation the caller participates in
// GET /v1/conversations/:id
func (h *Handler) Get(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid conversation ID")
		return
	}

	conv, err := h.conversationService.Get(c.Request.Context(), conversationID, userID)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, conv)
}

// UpdateRequest represents a partial conversation update
type UpdateRequest struct {
	Name                 *string `json:"name"`
	Icon                 *string `json:"icon"`
	Color                *string `json:"color"`
	Description          *string `json:"description"`
	IsArchived           *bool   `json:"is_archived"`
	IsPinned             *bool   `json:"is_pinned"`
	SecurityLevel        *string `json:"security_level"`
	MessageRetentionDays *int    `json:"message_retention_days"`
	EncryptionEnabled    *bool   `json:"encryption_enabled"`
	ScreenshotAllowed    *bool   `json:"screenshot_allowed"`
	ForwardingAllowed    *bool   `json:"forwarding_allowed"`
}

// Update applies metadata and settings changes
// PATCH /v1/conversations/:id
func (h *Handler) Update(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid conversation ID")
		return
	}

	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	conv, err := h.conversationService.Update(c.Request.Context(), conversationID, userID, &conversation.UpdatePatch{
		Name:                 req.Name,
		Icon:                 req.Icon,
		Color:                req.Color,
		Description:          req.Description,
		IsArchived:           req.IsArchived,
		IsPinned:             req.IsPinned,
		SecurityLevel:        req.SecurityLevel,
		MessageRetentionDays: req.MessageRetentionDays,
		EncryptionEnabled:    req.EncryptionEnabled,
		ScreenshotAllowed:    req.ScreenshotAllowed,
		ForwardingAllowed:    req.ForwardingAllowed,
	})
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, conv)
}

// AddParticipantRequest represents an add-participant request
type AddParticipantRequest struct {
	UserID string `json:"user_id" binding:"required,uuid"`
}

// AddParticipant adds a user to a group conversation
// POST /v1/conversations/:id/participants
func (h *Handler) AddParticipant(c *gin.Context) {
	actorID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid conversation ID")
		return
	}

	var req AddParticipantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	newUserID, err := uuid.Parse(req.UserID)
	if err != nil {
		response.ValidationError(c, "Invalid user ID")
		return
	}

	conv, err := h.conversationService.AddParticipant(c.Request.Context(), conversationID, actorID, newUserID)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, conv)
}

// RemoveParticipant removes a user from a group conversation
// DELETE /v1/conversations/:id/participants/:uid
func (h *Handler) RemoveParticipant(c *gin.Context) {
	actorID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid conversation ID")
		return
	}

	targetID, err := uuid.Parse(c.Param("uid"))
	if err != nil {
		response.ValidationError(c, "Invalid user ID")
		return
	}

	conv, err := h.conversationService.RemoveParticipant(c.Request.Context(), conversationID, actorID, targetID)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, conv)
}

// RotateKeyRequest represents a key rotation request
type RotateKeyRequest struct {
	GroupKey string `json:"group_key" binding:"required"`
}

// RotateKey replaces the conversation's key material
// POST /v1/conversations/:id/key-rotation
func (h *Handler) RotateKey(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid conversation ID")
		return
	}

	var req RotateKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	// Participation is the only gate; any member may rotate the shared key
	if _, err := h.conversationService.Get(c.Request.Context(), conversationID, userID); err != nil {
		response.AppError(c, err)
		return
	}

	conv, err := h.conversationService.RotateKey(c.Request.Context(), conversationID, req.GroupKey)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, conv)
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
