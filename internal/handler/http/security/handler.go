package security

import (
	"math/rand"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bzaromedia/securi-comm-network-sub001/pkg/response"
)

// Handler serves the device security scan endpoint. The scan itself runs on
// the client; this endpoint only supplies indicative numbers for the UI.
type Handler struct{}

// NewHandler creates a new security handler
func NewHandler() *Handler {
	return &Handler{}
}

// Scan returns a synthetic security scan summary
// GET /v1/security/scan
func (h *Handler) Scan(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{
		"scanned_at":       time.Now().UTC(),
		"threats_detected": rand.Intn(3),
		"apps_scanned":     50 + rand.Intn(150),
		"network_secure":   rand.Intn(10) > 1,
		"score":            70 + rand.Intn(30),
	})
}
