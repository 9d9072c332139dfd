package message

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/bzaromedia/securi-comm-network-sub001/internal/domain"
	"github.com/bzaromedia/securi-comm-network-sub001/internal/middleware"
	"github.com/bzaromedia/securi-comm-network-sub001/internal/service/message"
	"github.com/bzaromedia/securi-comm-network-sub001/pkg/response"
)

// Handler handles message HTTP requests
type Handler struct {
	messageService *message.Service
}

// NewHandler creates a new message handler
func NewHandler(messageService *message.Service) *Handler {
	return &Handler{
		messageService: messageService,
	}
}

// SendRequest represents a send-message request. Content arrives already
// encrypted; the server never sees plaintext.
type SendRequest struct {
	Content struct {
		Data      string `json:"data" binding:"required"`
		Nonce     string `json:"nonce" binding:"required"`
		Algorithm string `json:"algorithm" binding:"required"`
	} `json:"content" binding:"required"`
	Attachments []struct {
		EncryptedData string `json:"encrypted_data" binding:"required"`
		Nonce         string `json:"nonce" binding:"required"`
		MimeType      string `json:"mime_type"`
		Filename      string `json:"filename"`
		Size          int64  `json:"size"`
	} `json:"attachments"`
	IntegrityHash string     `json:"integrity_hash"`
	ExpiresAt     *time.Time `json:"expires_at"`
	IsEphemeral   bool       `json:"is_ephemeral"`
}

// Send creates a message in a conversation
// POST /v1/conversations/:id/messages
func (h *Handler) Send(c *gin.Context) {
	senderID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid conversation ID")
		return
	}

	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	attachments := make([]domain.Attachment, len(req.Attachments))
	for i, a := range req.Attachments {
		attachments[i] = domain.Attachment{
			EncryptedData: a.EncryptedData,
			Nonce:         a.Nonce,
			MimeType:      a.MimeType,
			Filename:      a.Filename,
			Size:          a.Size,
		}
	}

	msg, err := h.messageService.Send(c.Request.Context(), &message.SendInput{
		ConversationID: conversationID,
		SenderID:       senderID,
		Content: domain.EncryptedContent{
			Data:      req.Content.Data,
			Nonce:     req.Content.Nonce,
			Algorithm: req.Content.Algorithm,
		},
		Attachments:   attachments,
		IntegrityHash: req.IntegrityHash,
		ExpiresAt:     req.ExpiresAt,
		IsEphemeral:   req.IsEphemeral,
	})
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, msg)
}

// List retrieves a page of conversation messages, oldest first
// GET /v1/conversations/:id/messages?limit=50&before=RFC3339
func (h *Handler) List(c *gin.Context) {
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

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}

	var before *time.Time
	if raw := c.Query("before"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			response.ValidationError(c, "Invalid before timestamp")
			return
		}
		before = &parsed
	}

	page, err := h.messageService.List(c.Request.Context(), conversationID, userID, limit, before)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"messages": page.Messages,
		"has_more": page.HasMore,
	})
}

// MarkRead records the caller's read receipt on a message
// POST /v1/messages/:id/read
func (h *Handler) MarkRead(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	messageID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid message ID")
		return
	}

	msg, err := h.messageService.MarkRead(c.Request.Context(), messageID, userID)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, msg)
}

// Delete removes the caller's own message
// DELETE /v1/messages/:id
func (h *Handler) Delete(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	messageID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid message ID")
		return
	}

	if err := h.messageService.Delete(c.Request.Context(), messageID, userID); err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}
