package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillgate/pkg/api"
	"github.com/jingkaihe/skillgate/pkg/logger"
	"github.com/jingkaihe/skillgate/pkg/presenter"
)

// ServeConfig holds configuration for the serve command
type ServeConfig struct {
	Host string
	Port int
}

// NewServeConfig creates a new ServeConfig with default values
func NewServeConfig() *ServeConfig {
	return &ServeConfig{
		Host: "localhost",
		Port: 8080,
	}
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the governance REST API server",
	Long: `Start a local server that exposes the governance REST API: skill
ingestion, security scan recording, the review queue, audit log queries,
and dashboard statistics.

The server will be available at http://localhost:8080 by default.`,
	Run: func(cmd *cobra.Command, _ []string) {
		runServeCommand(cmd, getServeConfigFromFlags(cmd))
	},
}

func init() {
	defaults := NewServeConfig()
	serveCmd.Flags().String("host", defaults.Host, "Host to bind the API server to")
	serveCmd.Flags().Int("port", defaults.Port, "Port to bind the API server to")
}

// getServeConfigFromFlags extracts serve configuration from command flags
func getServeConfigFromFlags(cmd *cobra.Command) *ServeConfig {
	config := NewServeConfig()

	if host, err := cmd.Flags().GetString("host"); err == nil {
		config.Host = host
	}
	if port, err := cmd.Flags().GetInt("port"); err == nil {
		config.Port = port
	}

	return config
}

// validateServeConfig validates the serve configuration
func validateServeConfig(config *ServeConfig) error {
	if config.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}

	if config.Host != "localhost" && config.Host != "0.0.0.0" {
		if ip := net.ParseIP(config.Host); ip == nil {
			if strings.Contains(config.Host, " ") || strings.Contains(config.Host, ":") {
				return fmt.Errorf("invalid host: %s", config.Host)
			}
		}
	}

	if config.Port < 1 || config.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", config.Port)
	}

	if config.Port < 1024 {
		logger.G(context.Background()).WithField("port", config.Port).Warn("using privileged port (< 1024) may require elevated permissions")
	}

	return nil
}

// runServeCommand starts the governance API server
func runServeCommand(cmd *cobra.Command, config *ServeConfig) {
	ctx := cmd.Context()

	if err := validateServeConfig(config); err != nil {
		presenter.Error(err, "invalid server configuration")
		os.Exit(1)
	}

	service, closeService, err := openService(cmd)
	if err != nil {
		presenter.Error(err, "failed to open governance database")
		os.Exit(1)
	}
	defer closeService()

	server, err := api.NewServer(service, api.Config{
		Host: config.Host,
		Port: config.Port,
	})
	if err != nil {
		presenter.Error(err, "failed to create API server")
		os.Exit(1)
	}

	logger.G(ctx).WithFields(map[string]interface{}{
		"host": config.Host,
		"port": config.Port,
	}).Info("Starting governance API server")

	// Create a context that cancels on interrupt signals
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	presenter.Success(fmt.Sprintf("Governance API starting on http://%s:%d", config.Host, config.Port))
	presenter.Info("Press Ctrl+C to stop the server")

	if err := server.Start(ctx); err != nil {
		logger.G(ctx).WithError(err).Error("API server error")
		presenter.Error(err, "API server failed")
		os.Exit(1)
	}

	presenter.Info("API server stopped")
}
