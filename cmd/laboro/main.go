// -----------------------------------------------------------------------
// laboro - job board scraping engine entry point
// -----------------------------------------------------------------------

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/laboro/internal/app"
	"github.com/ternarybob/laboro/internal/common"
	"github.com/ternarybob/laboro/internal/server"
)

// configPaths allows repeated -config flags; later files override earlier
// ones.
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	configFiles  configPaths
	serverPort   = flag.Int("port", 0, "Server port (overrides config)")
	serverPortP  = flag.Int("p", 0, "Server port (shorthand, overrides config)")
	serverHost   = flag.String("host", "", "Server host (overrides config)")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("Laboro version %s\n", common.GetFullVersion())
		os.Exit(0)
	}

	port := *serverPort
	if *serverPortP != 0 {
		port = *serverPortP
	}

	// Startup order: config (defaults -> files -> env -> flags), logger,
	// banner, crash handler, app, server.
	if len(configFiles) == 0 {
		if _, err := os.Stat("laboro.toml"); err == nil {
			configFiles = append(configFiles, "laboro.toml")
		} else if _, err := os.Stat("deployments/local/laboro.toml"); err == nil {
			configFiles = append(configFiles, "deployments/local/laboro.toml")
		}
	}

	config, err := common.LoadFromFiles(configFiles...)
	if err != nil {
		arbor.NewLogger().Fatal().Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}
	common.ApplyFlagOverrides(config, port, *serverHost)

	logger := common.InitLogger(config)
	common.PrintBanner(common.GetVersion())
	common.InstallCrashHandler("./logs")

	logger.Info().
		Int("port", config.Server.Port).
		Str("host", config.Server.Host).
		Str("environment", config.Environment).
		Msg("Configuration loaded")

	application, err := app.New(config, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize application")
		os.Exit(1)
	}
	defer application.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := application.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start engine")
		os.Exit(1)
	}

	srv := server.New(application)
	go func() {
		defer common.RecoverWithCrashFile()
		if err := srv.Start(); err != nil {
			logger.Fatal().Err(err).Msg("Server failed")
			os.Exit(1)
		}
	}()

	logger.Info().
		Str("url", fmt.Sprintf("http://%s:%d", config.Server.Host, config.Server.Port)).
		Msg("Server ready - Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info().Msg("Shutdown signal received")

	// Stop intake first, then drain HTTP within the graceful window.
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		common.Duration(config.Engine.GracefulTimeout, 30*time.Second))
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown failed")
	}

	logger.Info().Msg("Server stopped")
}
