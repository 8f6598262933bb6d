package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/sha1n/ace-mcp-api/internal/codeindex"
	"github.com/sha1n/ace-mcp-api/internal/config"
	"github.com/spf13/pflag"
)

// RunParams contains dependencies for the run function
type RunParams struct {
	LoadSettings  func(*pflag.FlagSet) (*config.Settings, error)
	ValidSettings func(*config.Settings) error
	CreateService func(*config.Settings, *slog.Logger) (*codeindex.Service, func(), error)
	StartServer   func(context.Context, *http.Server) error
	LogOutput     io.Writer // Optional: defaults to stderr
}

// DefaultRunParams returns production dependencies
func DefaultRunParams() RunParams {
	return RunParams{
		LoadSettings:  config.LoadSettingsWithFlags,
		ValidSettings: config.ValidateSettings,
		CreateService: CreateService,
		StartServer:   StartServer,
	}
}

// RunWithDeps executes the server with the provided dependencies
func RunWithDeps(ctx context.Context, params RunParams, flags *pflag.FlagSet, version string) error {
	// Load settings
	settings, err := params.LoadSettings(flags)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	// Validate settings for conflicting configurations
	if err := params.ValidSettings(settings); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Configure logging - always use stderr to avoid buffering issues
	out := params.LogOutput
	if out == nil {
		out = os.Stderr
	}
	logger := config.NewLogger(settings.Log, out)
	slog.SetDefault(logger)

	logger.Info("Starting Ace MCP API server", "version", version)
	config.LogWithLogger(settings, logger)

	svc, cleanup, err := params.CreateService(settings, logger)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}

	srv, err := NewHTTPServer(svc, settings, version, logger)
	if err != nil {
		return err
	}

	logger.Info("Server listening (HTTP)", "addr", srv.Addr, "auth_type", settings.Auth.Type, "mcp", settings.MCP.Enabled)
	return params.StartServer(ctx, srv)
}

// CreateService creates the code index shared by the HTTP and MCP handlers
func CreateService(settings *config.Settings, logger *slog.Logger) (*codeindex.Service, func(), error) {
	svc, err := codeindex.NewService(&settings.Search, codeindex.WithLogger(logger))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create code index service: %w", err)
	}
	return svc, svc.Close, nil
}
