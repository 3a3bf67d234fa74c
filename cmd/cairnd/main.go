// Command cairnd is the Cairn server daemon. It serves the REST API, SSE
// events, metrics and MCP over HTTP, or MCP alone over stdio.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/cairn/config"
	"github.com/GoCodeAlone/cairn/depgraph"
	"github.com/GoCodeAlone/cairn/internal/logging"
	"github.com/GoCodeAlone/cairn/internal/metrics"
	"github.com/GoCodeAlone/cairn/internal/service"
	"github.com/GoCodeAlone/cairn/internal/version"
	"github.com/GoCodeAlone/cairn/mcptools"
	"github.com/GoCodeAlone/cairn/server"
	"github.com/GoCodeAlone/cairn/server/events"
	"github.com/GoCodeAlone/cairn/task"
)

var flagConfig string

func main() {
	rootCmd := &cobra.Command{
		Use:           "cairnd",
		Short:         "Cairn task and dependency server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", os.Getenv("CAIRN_CONFIG"), "path to YAML config file")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(mcpCmd())
	rootCmd.AddCommand(hashPasswordCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// app holds the components shared by serve and mcp.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *task.SQLiteStore
	metrics *metrics.Metrics
	hub     *events.Hub
	svc     *service.Service
}

// bootstrap loads config, opens the store and wires the service. Logs go
// to logOut so the stdio MCP transport keeps stdout clean.
func bootstrap(logOut io.Writer) (*app, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logOut, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}

	if dir := filepath.Dir(cfg.Database.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	store, err := task.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	hub := events.NewHub(logger)
	hub.SetObserver(m)
	orch := depgraph.New(depgraph.NewStoreRepository(store),
		depgraph.WithLogger(logger),
		depgraph.WithObserver(m),
	)

	return &app{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		metrics: m,
		hub:     hub,
		svc:     service.New(store, orch, hub, logger),
	}, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(os.Stdout)
			if err != nil {
				return err
			}
			defer a.store.Close() //nolint:errcheck

			a.logger.Info("starting cairnd",
				slog.String("version", version.Version),
				slog.String("commit", version.Commit),
				slog.String("db", a.cfg.Database.Path),
			)
			if a.cfg.Auth.AdminPassHash == "" {
				a.logger.Warn("auth.admin_pass_hash is empty, logins will fail; see `cairnd hash-password`")
			}

			srv := server.New(*a.cfg, version.Version, a.logger)
			srv.SetService(a.svc)
			srv.SetHub(a.hub)
			srv.SetMetrics(a.metrics)
			if a.cfg.MCP.Enabled {
				srv.SetMCPHandler(mcpserver.NewStreamableHTTPServer(mcptools.NewServer(a.svc, version.Version)))
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			a.logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Stop(shutdownCtx); err != nil {
				a.logger.Error("shutdown", slog.Any("err", err))
			}
			a.logger.Info("shutdown complete")
			return nil
		},
	}
}

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve MCP over stdio",
		RunE: func(_ *cobra.Command, _ []string) error {
			a, err := bootstrap(os.Stderr)
			if err != nil {
				return err
			}
			defer a.store.Close() //nolint:errcheck

			a.logger.Info("serving mcp over stdio", slog.String("db", a.cfg.Database.Path))
			return mcpserver.ServeStdio(mcptools.NewServer(a.svc, version.Version))
		},
	}
}

func hashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Print the bcrypt hash for auth.admin_pass_hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := server.HashPassword(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String("cairnd"))
		},
	}
}
