package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	_ "time/tzdata"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"bitrix24-mcp-server/internal/application"
	"bitrix24-mcp-server/internal/domain"
	"bitrix24-mcp-server/internal/infrastructure"
)

func main() {
	// Parse command-line flags
	configPath := pflag.StringP("config", "c", "config.yaml", "Path to configuration file")
	logLevel := pflag.String("log-level", "", "Override server.log_level (debug, info, warn, error)")
	pflag.Parse()

	// Load configuration
	config, err := domain.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := overrideLogLevel(config, *logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid --log-level: %v\n", err)
		os.Exit(1)
	}

	// Logs go to stderr under stdio so stdout carries only protocol frames
	logger, err := application.BuildLogger(config.Server.LogLevel, config.Transport.Type == "stdio")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("configuration loaded",
		zap.String("path", *configPath),
		zap.String("transport", config.Transport.Type),
		zap.String("bitrix_base_url", domain.RedactedBaseURL(config.Bitrix.BaseURL)),
	)

	app, err := newApp(config, logger)
	if err != nil {
		logger.Fatal("failed to initialise server", zap.Error(err))
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	if err := app.server.Start(ctx); err != nil {
		logger.Error("server failed to start", zap.Error(err))
		os.Exit(1)
	}

	// Wait for a shutdown signal or, under stdio, for stdin to close
	select {
	case sig := <-sigChan:
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	case <-app.done:
		logger.Info("input closed, shutting down")
	}
	cancel()

	if err := app.server.Close(); err != nil {
		logger.Error("error during server shutdown", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("server shutdown complete")
}

// app is the wired server plus the channel that ends it without a signal.
type app struct {
	server *application.Server
	done   <-chan struct{}
}

// newApp wires the Bitrix24 client, caches, registries and transport.
func newApp(config *domain.Config, logger *zap.Logger) (*app, error) {
	location, err := domain.ResolveTimezone(config.Server.Timezone)
	if err != nil {
		return nil, err
	}
	dates := domain.NewDateRangeBuilder(location)

	docs, err := infrastructure.LoadDocsBundle(config.Docs.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load docs bundle: %w", err)
	}

	structured := application.NewStructuredLogger(logger)
	client := infrastructure.NewBitrixClient(config.Bitrix, logger)

	cache, err := application.NewQueryCache(config.Cache.CacheTTL(), config.Cache.MaxEntries, structured)
	if err != nil {
		return nil, err
	}
	users, err := application.NewUserDirectory(client, config.Cache.MaxUsers, structured)
	if err != nil {
		return nil, err
	}
	releases := infrastructure.NewGitHubReleaseSource(config.GitHub, application.NewStaticReleaseSource(), logger)

	resources := application.NewResourceRegistry(application.ResourceDeps{
		Gateway:      client,
		Cache:        cache,
		Users:        users,
		Docs:         docs,
		Dates:        dates,
		Releases:     releases,
		InstanceName: config.Bitrix.InstanceName,
		Logger:       structured,
	})
	tools, err := application.NewToolRegistry(application.ToolDeps{
		Gateway:      client,
		Resources:    resources,
		Warnings:     application.NewWarningEvaluator(docs, dates, structured),
		Dates:        dates,
		Docs:         docs,
		InstanceName: config.Bitrix.InstanceName,
		Logger:       structured,
	})
	if err != nil {
		return nil, err
	}

	router := application.NewRequestRouter(
		[]domain.ToolHandler{tools},
		[]domain.ResourceHandler{resources},
	)
	logger.Info("registries initialised",
		zap.Int("resources", len(router.ListAllResources())),
		zap.Int("tools", len(router.ListAllTools())),
	)

	// Create transport based on configuration
	switch config.Transport.Type {
	case "stdio":
		transport := domain.NewStdioTransport(logger)
		server := application.NewServer(transport, router, config, docs, structured)
		return &app{server: server, done: transport.Done()}, nil
	case "http":
		transport := domain.NewHTTPTransport(config.Transport.HTTP.Host, config.Transport.HTTP.Port, logger)
		server := application.NewServer(transport, router, config, docs, structured)
		application.NewRESTHandler(server, router, structured).Mount(transport)
		return &app{server: server}, nil
	default:
		return nil, fmt.Errorf("invalid transport type: %s", config.Transport.Type)
	}
}

// overrideLogLevel applies the --log-level flag on top of the loaded config.
func overrideLogLevel(config *domain.Config, level string) error {
	if level == "" {
		return nil
	}
	config.Server.LogLevel = strings.ToLower(level)
	return config.Validate()
}
