package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/convoke-ai/convoke/config"
	"github.com/convoke-ai/convoke/engine"
	"github.com/convoke-ai/convoke/server"
)

var (
	version    = "0.1.0"
	configPath string
)

func main() {
	root := &cobra.Command{
		Use:     "convoke",
		Short:   "Convoke: multi-agent chat orchestration server",
		Long:    "Convoke serves configured agents and teams over an HTTP streaming API, with tool execution and document retrieval.",
		Version: version,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "convoke.yaml", "path to the deployment config")

	root.AddCommand(serveCmd())
	root.AddCommand(checkCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger := cfg.BuildLogger()

			sessions, err := cfg.BuildSessionStore()
			if err != nil {
				return err
			}
			registry, err := cfg.BuildRegistry()
			if err != nil {
				return err
			}

			eng := engine.New(func(o *engine.Options) {
				o.Sessions = sessions
				o.Logger = logger
			})
			srv := server.New(eng, registry, func(o *server.Options) {
				o.Addr = cfg.Server.Addr
				o.AllowedOrigins = cfg.Server.AllowedOrigins
				o.Logger = logger
			})

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
				logger.Info("Shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			}
		},
	}
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the deployment config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			registry, err := cfg.BuildRegistry()
			if err != nil {
				return err
			}
			fmt.Printf("config ok: %d agents\n", len(registry.Agents()))
			return nil
		},
	}
}
