package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"projdocs-desktop/internal/auth"
	"projdocs-desktop/internal/model"
)

const sessionContextKey = "session"

func SessionFromContext(c *gin.Context) (*model.Session, bool) {
	value, ok := c.Get(sessionContextKey)
	if !ok {
		return nil, false
	}
	session, ok := value.(*model.Session)
	return session, ok && session != nil
}

// RequireSession snapshots the live session for the request, failing with
// 500 while signed out.
func RequireSession(sessions *auth.Sessions) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Current()
		if session == nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "unable to access authentication"})
			c.Abort()
			return
		}
		c.Set(sessionContextKey, session)
		c.Next()
	}
}
