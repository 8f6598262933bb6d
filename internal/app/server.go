package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/ace-mcp-api/internal/api"
	"github.com/sha1n/ace-mcp-api/internal/auth"
	"github.com/sha1n/ace-mcp-api/internal/codeindex"
	"github.com/sha1n/ace-mcp-api/internal/config"
	mcputil "github.com/sha1n/ace-mcp-api/internal/mcp"
	"golang.org/x/sync/errgroup"
)

// ShutdownTimeout bounds how long in-flight requests may run after shutdown starts
const ShutdownTimeout = 10 * time.Second

// ServerName is the MCP implementation name
const ServerName = "ace-mcp-api"

// StartServer serves until ctx is cancelled, then shuts down gracefully.
// A listener failure is returned as is; a clean shutdown returns nil.
func StartServer(ctx context.Context, srv *http.Server) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down server", "addr", srv.Addr)
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// NewHTTPServer creates the HTTP server with the API routes, the optional
// MCP SSE endpoint and the middleware chain.
func NewHTTPServer(svc *codeindex.Service, settings *config.Settings, version string, logger *slog.Logger) (*http.Server, error) {
	mux := http.NewServeMux()
	api.RegisterRoutes(mux, api.NewHandlers(svc, version), settings.MaxBodyBytes)

	if settings.MCP.Enabled {
		mcpServer := mcputil.CreateServer(mcputil.ServerConfig{
			Name:      ServerName,
			Version:   version,
			CodeIndex: svc,
		})
		// Factory function returns the server instance for each request
		sseHandler := mcp.NewSSEHandler(func(r *http.Request) *mcp.Server {
			return mcpServer
		}, nil)
		mux.Handle("/sse", sseHandler)
	}

	authMiddleware, err := auth.NewMiddleware(settings.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth middleware: %w", err)
	}

	middlewares := []api.Middleware{
		api.RequestID,
		api.AccessLog(logger),
		api.Recover(logger),
		api.CORS,
	}
	if settings.RateLimit.RequestsPerSecond > 0 {
		limiter, err := api.NewRateLimiter(settings.RateLimit.RequestsPerSecond, settings.RateLimit.Burst, settings.RateLimit.TrustProxy)
		if err != nil {
			return nil, err
		}
		middlewares = append(middlewares, limiter.Middleware)
	}
	middlewares = append(middlewares, authMiddleware)

	addr := net.JoinHostPort(settings.Host, strconv.Itoa(settings.Port))

	return &http.Server{
		Addr:              addr,
		Handler:           api.Chain(mux, middlewares...),
		ReadHeaderTimeout: 10 * time.Second,
	}, nil
}
