package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"projdocs-desktop/internal/auth"
	"projdocs-desktop/internal/cache"
	"projdocs-desktop/internal/config"
	"projdocs-desktop/internal/handler"
	"projdocs-desktop/internal/hub"
	"projdocs-desktop/internal/logging"
	"projdocs-desktop/internal/middleware"
	"projdocs-desktop/internal/proxy"
	"projdocs-desktop/internal/shell"
)

type Deps struct {
	Config   config.Config
	Sessions *auth.Sessions
	Secrets  handler.SessionSource
	Hub      *hub.Hub
	Backends handler.BackendFactory
	Cache    *cache.Cache
	Opener   shell.Opener
	Version  handler.VersionHandler
	Log      *zap.Logger
}

func NewRouter(deps Deps) *gin.Engine {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	prefix := deps.Config.ProxyPrefix

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logging.GinLogger(log.Named("http")))
	r.Use(middleware.CORS())
	r.Use(middleware.RejectUpgrades(func(path string) bool {
		return strings.HasPrefix(path, prefix+"/")
	}))

	versionHandler := deps.Version
	r.GET("/healthz", versionHandler.Health)
	r.GET("/version", versionHandler.Get)
	r.POST("/echo", versionHandler.Echo)

	userHandler := &handler.UserHandler{Secrets: deps.Secrets}
	r.GET("/user", userHandler.Get)

	documentHandler := &handler.DocumentHandler{
		Backends:        deps.Backends,
		Cache:           deps.Cache,
		Opener:          deps.Opener,
		OfficeScheme:    deps.Config.OfficeScheme,
		BaseURL:         deps.Config.BaseURL(),
		StripQuarantine: shell.StripQuarantine,
		Log:             log.Named("documents"),
	}
	r.GET("/word/open/:display", documentHandler.Open)

	authed := r.Group("/")
	authed.Use(middleware.RequireSession(deps.Sessions))
	documents := authed.Group("/")
	if n := deps.Config.DocumentCallsPerMinute; n > 0 {
		documents.Use(middleware.Throttle(middleware.NewRateLimiter(n, time.Minute), middleware.DocumentKey))
	}
	documents.GET("/checkout", documentHandler.Checkout)
	documents.GET("/checkin", documentHandler.Checkin)

	fwd := proxy.New(deps.Sessions, deps.Hub, proxy.Options{
		Prefix:             prefix,
		RealtimePath:       deps.Config.RealtimePath,
		InsecureSkipVerify: deps.Config.InsecureUpstream,
		Log:                log,
	})
	r.Any(prefix+"/*path", gin.WrapH(fwd))

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	return r
}
