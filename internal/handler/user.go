package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type SessionSource interface {
	Raw() (string, error)
}

type UserHandler struct {
	Secrets SessionSource
}

// Get reports signed-in state to the UI: the stored payload, or 400.
func (h *UserHandler) Get(c *gin.Context) {
	raw, err := h.Secrets.Raw()
	if err != nil || strings.TrimSpace(raw) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "not signed in"})
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(raw))
}
