// SPDX-License-Identifier: Apache-2.0

// Command mcp-gatewayd runs the aggregating MCP proxy: it loads a config
// file, connects to every configured backend, and serves the meta-tool
// surface over HTTP until a shutdown signal arrives.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	gwcapability "github.com/MikkoParkkola/mcp-gateway/pkg/gateway/capability"
	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway/config"
	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway/dispatcher"
	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway/server"
	"github.com/MikkoParkkola/mcp-gateway/pkg/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	var devLogging bool

	cmd := &cobra.Command{
		Use:   "mcp-gatewayd",
		Short: "Aggregating MCP proxy: on-demand tool discovery across many backends",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, devLogging)
		},
	}

	flags := pflag.NewFlagSet("mcp-gatewayd", pflag.ContinueOnError)
	flags.StringVar(&configPath, "config", "config.yaml", "path to the gateway config file")
	flags.BoolVar(&devLogging, "dev", false, "use human-readable development logging instead of JSON")
	cmd.Flags().AddFlagSet(flags)

	cmd.AddCommand(newGenCapabilitiesCmd())
	return cmd
}

// newGenCapabilitiesCmd converts an OpenAPI 3.0/3.1 document into one
// capability YAML file per operation, so operators can bootstrap a REST
// backend's capability directory instead of hand-writing every endpoint.
func newGenCapabilitiesCmd() *cobra.Command {
	var specPath, outDir, prefix string

	cmd := &cobra.Command{
		Use:   "gen-capabilities",
		Short: "Generate capability YAML files from an OpenAPI spec",
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := os.ReadFile(specPath)
			if err != nil {
				return fmt.Errorf("read OpenAPI spec: %w", err)
			}

			converter := gwcapability.NewOpenAPIConverter()
			if prefix != "" {
				converter = converter.WithPrefix(prefix)
			}
			defs, err := converter.Convert(spec)
			if err != nil {
				return fmt.Errorf("convert OpenAPI spec: %w", err)
			}

			for _, def := range defs {
				path, err := gwcapability.WriteFile(def, outDir)
				if err != nil {
					return fmt.Errorf("write capability: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), path)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&specPath, "spec", "", "path to the OpenAPI spec (YAML or JSON)")
	cmd.Flags().StringVar(&outDir, "out", "capabilities", "directory to write generated capability files into")
	cmd.Flags().StringVar(&prefix, "prefix", "", "name prefix applied to every generated capability")
	_ = cmd.MarkFlagRequired("spec")
	return cmd
}

func run(configPath string, devLogging bool) error {
	log, err := buildLogger(devLogging)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()
	logger.Initialize(log)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	application, err := buildApp(cfg, log)
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	application.registry.WarmStart(ctx, cfg.MetaMCP.WarmStart, dispatcher.ListToolsFetcher())
	go application.registry.PingLoop(ctx, 0)

	srv := server.New(application.dispatcher, application.registry, log)
	httpServer := &http.Server{
		Addr:         cfg.Server.BindAddress,
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout.AsDuration(),
		WriteTimeout: cfg.Server.WriteTimeout.AsDuration(),
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	case <-sigCh:
		log.Info("shutdown signal received")
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout.AsDuration()
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server did not shut down cleanly", zap.Error(err))
	}

	cancel() // stop the warm-start/ping-loop context

	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		log.Warn("failed to create state dir", zap.Error(err))
	} else {
		if err := application.usage.Save(filepath.Join(cfg.StateDir, "usage.json")); err != nil {
			log.Warn("failed to persist usage state", zap.Error(err))
		}
		if err := application.sessions.Save(filepath.Join(cfg.StateDir, "transitions.json")); err != nil {
			log.Warn("failed to persist transition state", zap.Error(err))
		}
	}

	application.registry.StopAll(shutdownCtx)
	return nil
}

func buildLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
