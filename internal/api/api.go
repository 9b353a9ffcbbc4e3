// Package api provides the HTTP adapter for graphqueue: a thin gin layer
// translating the documented HTTP contract onto the core jobsvc/worker/
// queue-store packages. No business logic lives here.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	v1 "graphqueue/internal/api/v1"
	internalconfig "graphqueue/internal/config"
	"graphqueue/internal/db/repositories"
	"graphqueue/internal/graphqueue/jobsvc"
	"graphqueue/internal/graphqueue/upstream"
)

// RequestIDHeader is the header carrying the per-request correlation id, set
// by requestIDMiddleware and echoed back on every response.
const RequestIDHeader = "X-Request-Id"

// requestIDContextKey is the gin.Context key requestIDMiddleware stores the
// id under, for handlers/log lines that want to correlate with a request.
const requestIDContextKey = "request_id"

// requestIDMiddleware assigns a uuid to every request that doesn't already
// carry one upstream, and echoes it back on the response.
func requestIDMiddleware(c *gin.Context) {
	id := c.GetHeader(RequestIDHeader)
	if id == "" {
		id = uuid.NewString()
	}
	c.Set(requestIDContextKey, id)
	c.Header(RequestIDHeader, id)
	c.Next()
}

type Server struct {
	cfg        *internalconfig.Config
	repos      *repositories.Repositories
	jobs       *jobsvc.Service
	upstream   *upstream.Client
	httpServer *http.Server
}

func New(cfg *internalconfig.Config, repos *repositories.Repositories, jobs *jobsvc.Service, upstreamClient *upstream.Client) *Server {
	return &Server{
		cfg:      cfg,
		repos:    repos,
		jobs:     jobs,
		upstream: upstreamClient,
	}
}

func (s *Server) Start(ctx context.Context) error {
	if !s.cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware)

	router.Use(func(c *gin.Context) {
		if !strings.HasPrefix(c.Request.URL.Path, "/ui") {
			c.Header("Access-Control-Allow-Origin", "*")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")
			if c.Request.Method == http.MethodOptions {
				c.AbortWithStatus(http.StatusNoContent)
				return
			}
		}
		c.Next()
	})

	v1Group := router.Group("/api/v1")
	handlers := v1.NewAPIHandlers(s.repos, s.jobs, s.upstream)
	handlers.RegisterRoutes(v1Group)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.APIPort),
		Handler: router,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("API server error: %v\n", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}
