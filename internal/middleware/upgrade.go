package middleware

import (
	"github.com/gin-gonic/gin"

	"projdocs-desktop/internal/proxy"
)

// RejectUpgrades drops protocol upgrade requests unless allow accepts the
// request path.
func RejectUpgrades(allow func(path string) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if proxy.IsUpgrade(c.Request) && !allow(c.Request.URL.Path) {
			proxy.Drop(c.Writer)
			c.Abort()
			return
		}
		c.Next()
	}
}
