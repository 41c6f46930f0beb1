package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	otelapi "go.opentelemetry.io/otel"

	"github.com/augmentedstartups/visioncraft-mcp/bridge"
	"github.com/augmentedstartups/visioncraft-mcp/config"
	"github.com/augmentedstartups/visioncraft-mcp/logging"
	"github.com/augmentedstartups/visioncraft-mcp/mcp"
	vcotel "github.com/augmentedstartups/visioncraft-mcp/otel"
	"github.com/augmentedstartups/visioncraft-mcp/tool"
)

const serverName = "visioncraft"

// runServe serves MCP on the command's stdin and stdout until the input
// closes or the process is signalled. Logs go to the command's stderr.
func runServe(cmd *cobra.Command, version string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	quiet, _ := cmd.Flags().GetBool("quiet")
	configPath, _ := cmd.Flags().GetString("config")

	logger := logging.New(cmd.ErrOrStderr(), logging.Level(verbose, quiet))

	cfg, err := config.Load(config.Options{
		Flags:      cmd.Flags(),
		ConfigPath: configPath,
	})
	if err != nil {
		logger.Error("loading configuration failed", "error", err)
		return exitError(exitConfig, "loading configuration: %v", err)
	}
	if cfg.Source != "" {
		logger.Info("loaded configuration", "path", cfg.Source)
	}
	logger.Debug("resolved configuration", "config", cfg)
	if cfg.APIKey == "" {
		logger.Warn("no API key configured; set --api-key or VISIONCRAFT_API_KEY")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := vcotel.Setup(ctx, vcotel.SetupConfig{
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		ServiceName:  cfg.Telemetry.ServiceName,
	})
	if err != nil {
		return exitError(exitConfig, "initializing telemetry: %v", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("flushing telemetry failed", "error", err)
		}
	}()

	toolObserver, err := vcotel.NewToolObserver(
		otelapi.GetMeterProvider().Meter("visioncraft/tool"),
		otelapi.GetTracerProvider().Tracer("visioncraft/tool"),
	)
	if err != nil {
		return fmt.Errorf("initializing tool observability: %w", err)
	}

	kb := bridge.New(bridge.Config{
		Endpoint: cfg.Endpoint,
		APIKey:   cfg.APIKey,
		TopK:     cfg.TopK,
		Logger:   logger,
	})

	server := mcp.NewServer(mcp.ServerConfig{
		Info:         mcp.ServerInfo{Name: serverName, Version: version},
		Instructions: tool.Instructions,
		Logger:       logger,
	})
	if err := tool.RegisterVisionQuery(server, tool.VisionQueryConfig{
		Resolver: kb,
		Observer: toolObserver,
		Logger:   logger,
	}); err != nil {
		return fmt.Errorf("registering vision-query: %w", err)
	}

	logger.Info("Starting VisionCraft MCP Server...", "endpoint", kb.Endpoint())

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
	}()
	logger.Info("VisionCraft MCP Server running on stdio")

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		return nil
	case err := <-errCh:
		if err != nil {
			logger.Error("server stopped", "error", err)
			return exitError(exitRuntime, "server error: %v", err)
		}
		logger.Info("stdin closed; exiting")
		return nil
	}
}
