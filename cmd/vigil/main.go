package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/vigil/internal/app"
	"github.com/ternarybob/vigil/internal/common"
	"github.com/ternarybob/vigil/internal/server"
)

var (
	// Command-line flags
	configFiles    = pflag.StringArrayP("config", "c", nil, "Configuration file path (repeatable, later files override earlier ones)")
	serverPort     = pflag.IntP("port", "p", 0, "Server port (overrides config)")
	serverHost     = pflag.String("host", "", "Server host (overrides config)")
	mcpURL         = pflag.String("mcp-url", "", "Tool-call endpoint URL (overrides config)")
	refreshTimeout = pflag.Duration("timeout", 15*time.Minute, "Deadline for the refresh command")
	showVersion    = pflag.BoolP("version", "v", false, "Print version information")
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: vigil [flags] [serve|refresh|version]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  serve     Start the dashboard API server (default)\n")
	fmt.Fprintf(os.Stderr, "  refresh   Build one snapshot and exit\n")
	fmt.Fprintf(os.Stderr, "  version   Print version information\n\n")
	fmt.Fprintf(os.Stderr, "Flags:\n")
	pflag.PrintDefaults()
}

func main() {
	pflag.Usage = usage
	pflag.Parse()

	command := "serve"
	if pflag.NArg() > 0 {
		command = pflag.Arg(0)
	}

	if *showVersion || command == "version" {
		fmt.Printf("Vigil %s\n", common.GetVersionInfo())
		os.Exit(0)
	}

	if command != "serve" && command != "refresh" {
		usage()
		os.Exit(2)
	}

	// Startup sequence (REQUIRED ORDER):
	// 1. Load config (defaults -> file1 -> file2 -> ... -> env)
	// 2. Apply CLI overrides (highest priority)
	// 3. Initialize logger
	// 4. Print banner
	paths := *configFiles
	if len(paths) == 0 {
		if _, err := os.Stat("vigil.toml"); err == nil {
			paths = append(paths, "vigil.toml")
		} else if _, err := os.Stat("deployments/local/vigil.toml"); err == nil {
			paths = append(paths, "deployments/local/vigil.toml")
		}
	}

	config, err := common.LoadFromFiles(paths...)
	if err != nil {
		tempLogger := arbor.NewLogger()
		tempLogger.Fatal().Strs("paths", paths).Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}

	common.ApplyFlagOverrides(config, *serverPort, *serverHost, *mcpURL)

	logger := common.InitLogger(config)

	if command == "refresh" {
		os.Exit(runRefresh(config, logger))
	}

	common.PrintBanner(config, logger)

	logger.Info().
		Strs("config_files", paths).
		Int("port", config.Server.Port).
		Str("host", config.Server.Host).
		Str("mcp_url", config.MCP.URL).
		Msg("Application configuration loaded")

	os.Exit(runServe(config, logger))
}

func runServe(config *common.Config, logger arbor.ILogger) int {
	application, err := app.New(config, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize application")
		return 1
	}
	defer application.Close()

	srv := server.New(application)

	serverErr := make(chan error, 1)
	go func() {
		defer common.RecoverAndLog(logger, "http-server")
		serverErr <- srv.Start()
	}()

	if err := application.StartScheduler(); err != nil {
		logger.Error().Err(err).Msg("Failed to start scheduler")
		return 1
	}

	logger.Info().Msg("Server ready - Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info().Msg("Interrupt signal received")
	case err := <-serverErr:
		if err != nil {
			logger.Error().Err(err).Msg("Server failed")
			return 1
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown failed")
	}

	logger.Info().Msg("Server stopped")
	return 0
}

func runRefresh(config *common.Config, logger arbor.ILogger) int {
	application, err := app.New(config, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize application")
		return 1
	}
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.RefreshOnce(ctx, *refreshTimeout); err != nil {
		logger.Error().Err(err).Msg("Refresh failed")
		return 1
	}
	return 0
}
