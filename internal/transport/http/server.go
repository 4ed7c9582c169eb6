package http

import (
	stdhttp "net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-relay/internal/auth"
	"github.com/vovakirdan/wirechat-relay/internal/config"
	"github.com/vovakirdan/wirechat-relay/internal/core"
	"github.com/vovakirdan/wirechat-relay/internal/store"
)

var ginModeOnce sync.Once

// NewServer builds the HTTP server. The WebSocket endpoint sits on the plain
// mux so the hijacked connection never passes through gin's response writer;
// everything else goes to the gin router.
func NewServer(hub *core.Hub, authService *auth.Service, st store.Store, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	mux := stdhttp.NewServeMux()
	mux.Handle("/ws", NewWSHandler(hub, WSConfigFrom(cfg), logger))
	mux.Handle("/", NewRouter(authService, st, cfg, logger))

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// NewRouter registers the health check and the REST API on a gin engine.
func NewRouter(authService *auth.Service, st store.Store, cfg *config.Config, logger *zerolog.Logger) *gin.Engine {
	ginModeOnce.Do(func() { gin.SetMode(gin.ReleaseMode) })

	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	router.GET("/health", func(c *gin.Context) {
		c.String(stdhttp.StatusOK, "ok")
	})

	api := NewAPIHandlers(authService, logger)
	rooms := NewRoomHandlers(st, cfg.HistoryLimit, logger)

	group := router.Group("/api")
	group.POST("/register", api.Register)
	group.POST("/login", api.Login)
	group.POST("/guest", api.GuestLogin)

	authed := group.Group("/rooms", AuthMiddleware(authService, logger))
	authed.GET("", rooms.ListRooms)
	authed.POST("", rooms.CreateRoom)
	authed.POST("/:id/members", rooms.AddMember)
	authed.GET("/:id/messages", rooms.History)

	return router
}
