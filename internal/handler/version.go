package handler

import (
	"errors"
	"io"
	"net/http"
	"runtime"

	"github.com/gin-gonic/gin"
)

type VersionHandler struct {
	Name    string
	Version string
	Commit  string
}

func (h *VersionHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *VersionHandler) Get(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":    h.Name,
		"version": h.Version,
		"commit":  h.Commit,
		"go":      runtime.Version(),
	})
}

const maxEchoBody = 8 << 20

// Echo returns the request body unchanged. Bodies over maxEchoBody are
// refused rather than truncated.
func (h *VersionHandler) Echo(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxEchoBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to read body"})
		return
	}
	contentType := c.ContentType()
	if contentType == "" {
		contentType = "application/octet-stream"
	} else {
		contentType = c.GetHeader("Content-Type")
	}
	c.Data(http.StatusOK, contentType, body)
}
