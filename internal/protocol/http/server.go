// Package http implements the HTTP protocol adapter: a gin-routed REST
// surface over zones and clients, plus a server-sent-events stream of
// status changes.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sumire-audio/zonehub/internal/auth"
	"github.com/sumire-audio/zonehub/internal/coordinator"
	"github.com/sumire-audio/zonehub/internal/statestore"
)

// Server wraps the gin engine and the underlying net/http.Server, keeping
// route construction separate from process lifecycle.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	hub        *SSEHub
	log        *slog.Logger
}

// securityHeaders adds a baseline set of response headers to every
// response.
func securityHeaders(c *gin.Context) {
	c.Header("X-Content-Type-Options", "nosniff")
	c.Header("X-Frame-Options", "DENY")
	c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
	c.Next()
}

// NewServer builds the HTTP adapter, registers it as the coordinator's SSE
// egress, and returns a Server ready to Start. Login and read-only GET
// endpoints are unauthenticated; mutating endpoints require a bearer token.
func NewServer(addr string, store *statestore.Store, coord *coordinator.Coordinator, a *auth.Auth, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), securityHeaders)

	h := NewHandler(store, coord, log)
	hub := NewSSEHub(log)
	coord.RegisterEgress(hub)

	engine.POST("/auth/login", loginHandler(a, log))

	engine.GET("/zones/:id", h.GetZone)
	engine.GET("/clients/:id", h.GetClient)
	engine.GET("/events", hub.ServeEvents)

	protected := engine.Group("/")
	protected.Use(a.Middleware())
	protected.PUT("/zones/:id", h.PutZone)
	protected.PUT("/clients/:id", h.PutClient)
	protected.POST("/zones/:id/commands/:verb", h.PostZoneCommand)

	return &Server{
		engine: engine,
		hub:    hub,
		log:    log,
		httpServer: &http.Server{
			Addr:           addr,
			Handler:        engine,
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   0, // long-lived for /events
			IdleTimeout:    60 * time.Second,
			MaxHeaderBytes: 1 << 20,
		},
	}
}

// Start runs the HTTP server until ctx is cancelled, then shuts it down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http adapter listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func loginHandler(a *auth.Auth, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "invalid request body"})
			return
		}
		token, err := a.Authenticate(body.Username, body.Password, c.ClientIP())
		if err != nil {
			if err == auth.ErrRateLimited {
				remaining := a.RemainingLockout(c.ClientIP())
				c.Header("Retry-After", remaining.String())
				c.JSON(http.StatusTooManyRequests, gin.H{"status": "error", "error": "too many login attempts"})
				return
			}
			log.Warn("login failed", "remote", c.ClientIP())
			c.JSON(http.StatusUnauthorized, gin.H{"status": "error", "error": "invalid credentials"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "token": token})
	}
}
