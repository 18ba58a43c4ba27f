// Package server exposes the catalog, the lending ledger and cover
// identification over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/lepinkainen/librarian/internal/catalog"
	"github.com/lepinkainen/librarian/internal/fileutil"
	"github.com/lepinkainen/librarian/internal/lending"
	"github.com/lepinkainen/librarian/internal/metadata"
	"github.com/lepinkainen/librarian/internal/recognition"
)

// Identifier turns a cover image into a recognition outcome.
type Identifier interface {
	Identify(ctx context.Context, imagePath string) recognition.Outcome
}

// Deps are the collaborators the handlers call. Identifier, Source and
// Searcher may be nil; the routes that need them then report the feature as
// unavailable.
type Deps struct {
	Store      *catalog.Store
	Ledger     *lending.Ledger
	Identifier Identifier
	Source     metadata.Source
	Searcher   metadata.Searcher
}

// Options configures the HTTP surface.
type Options struct {
	UploadDir      string
	MaxUploadBytes int64
	// Mode "dev" enables CORS for AllowedOrigins
	Mode           string
	AllowedOrigins []string
}

type Server struct {
	deps Deps
	opts Options
}

func New(deps Deps, opts Options) *Server {
	if opts.UploadDir == "" {
		opts.UploadDir = "./uploads"
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = fileutil.DefaultMaxUploadBytes
	}
	return &Server{deps: deps, opts: opts}
}

// Handler builds the gin engine with every route registered.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(requestLogger(), gin.Recovery())
	_ = r.SetTrustedProxies(nil)
	r.MaxMultipartMemory = 8 << 20

	if s.opts.Mode == "dev" {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     s.opts.AllowedOrigins,
			AllowHeaders:     []string{"Origin", "Content-Type", "X-User-ID"},
			ExposeHeaders:    []string{"Content-Length"},
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowCredentials: true,
		}))
	}

	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.Static("/uploads", s.opts.UploadDir)

	api := r.Group("/api", s.actingUser())
	s.registerBookRoutes(api)
	s.registerLoanRoutes(api)
	s.registerUserRoutes(api)

	admin := api.Group("/admin", requireAdmin())
	admin.POST("/books/:id/force-return", s.forceReturn)
	admin.POST("/books/:id/force-borrow", s.forceBorrow)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, failure(codeNotFound, "route not found"))
	})
	return r
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		slog.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed", time.Since(start),
			"client", c.ClientIP())
	}
}
