// Package main provides the CLI entry point for the JustIRC server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/larry-lines/justIRC/internal/authstore"
	"github.com/larry-lines/justIRC/internal/config"
	"github.com/larry-lines/justIRC/internal/logging"
	"github.com/larry-lines/justIRC/internal/metrics"
	"github.com/larry-lines/justIRC/internal/router"
	"github.com/larry-lines/justIRC/internal/transport"
	"github.com/larry-lines/justIRC/internal/wizard"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "justircd",
		Short: "JustIRC - end-to-end encrypted chat server",
		Long: `justircd is the server half of JustIRC, an end-to-end encrypted
chat protocol. The server relays newline-delimited JSON frames between
clients and never sees plaintext: message bodies, channel keys, and file
transfer payloads all pass through as opaque ciphertext.`,
		Version: Version,
	}

	rootCmd.AddGroup(&cobra.Group{ID: "start", Title: "Getting Started:"})
	rootCmd.AddGroup(&cobra.Group{ID: "admin", Title: "Administration:"})

	initC := initCmd()
	initC.GroupID = "start"
	rootCmd.AddCommand(initC)

	serve := serveCmd()
	serve.GroupID = "start"
	rootCmd.AddCommand(serve)

	genAccount := genAccountCmd()
	genAccount.GroupID = "admin"
	rootCmd.AddCommand(genAccount)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Interactive setup wizard",
		Long: `Run an interactive setup wizard to generate config.yaml and an
empty data directory (accounts.json, channels.json, ip_rules.json).

Re-running init against an existing config file seeds the form with its
current values instead of resetting everything to defaults.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := wizard.New()
			if err := w.LoadExisting(configPath); err != nil {
				return fmt.Errorf("load existing config: %w", err)
			}

			result, err := w.Run()
			if err != nil {
				return fmt.Errorf("setup wizard failed: %w", err)
			}
			if err := result.Write(configPath); err != nil {
				return fmt.Errorf("write config: %w", err)
			}

			fmt.Printf("Wrote %s\n", configPath)
			fmt.Printf("Data directory: %s\n", result.DataDir)
			fmt.Printf("Start the server with: justircd serve -c %s\n", configPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "./config.yaml", "Path to config file to write")

	return cmd
}

func serveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat server",
		Long:  "Start the JustIRC server with the specified configuration.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			logger := logging.NewLogger(cfg.Server.LogLevel, cfg.Server.LogFormat)
			m := metrics.Default()

			if err := os.MkdirAll(cfg.Data.DataDir, 0o755); err != nil {
				return fmt.Errorf("create data dir: %w", err)
			}

			srv, err := router.New(cfg, logger, m)
			if err != nil {
				return fmt.Errorf("create server: %w", err)
			}

			ln, err := transport.ListenTCP(cfg.Addr())
			if err != nil {
				return fmt.Errorf("listen: %w", err)
			}

			metricsAddr := ":9090"
			metricsSrv := &http.Server{Addr: metricsAddr, Handler: promhttp.Handler()}
			go func() {
				if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("metrics server failed", "error", err)
				}
			}()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			fmt.Printf("JustIRC server listening on %s\n", cfg.Addr())
			fmt.Printf("Metrics:              http://localhost%s/metrics\n", metricsAddr)

			serveErr := make(chan error, 1)
			go func() {
				serveErr <- srv.Serve(ctx, ln)
			}()

			select {
			case <-ctx.Done():
				fmt.Println("\nShutting down...")
			case err := <-serveErr:
				if err != nil {
					logger.Error("server stopped", "error", err)
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			metricsSrv.Shutdown(shutdownCtx)
			ln.Close()

			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "./config.yaml", "Path to configuration file")

	return cmd
}

func genAccountCmd() *cobra.Command {
	var configPath, username, password, email string

	cmd := &cobra.Command{
		Use:   "genaccount",
		Short: "Create an account without starting the server",
		Long:  "Create an account in the configured accounts store, for bootstrapping an admin user before the server is ever started.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			if err := os.MkdirAll(cfg.Data.DataDir, 0o755); err != nil {
				return fmt.Errorf("create data dir: %w", err)
			}

			path := cfg.Data.AccountsPath()
			store, err := authstore.Load(path)
			if err != nil {
				return fmt.Errorf("load account store: %w", err)
			}

			if err := store.CreateAccount(username, password, email); err != nil {
				return fmt.Errorf("create account: %w", err)
			}

			fmt.Printf("Account %q created in %s\n", username, path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "./config.yaml", "Path to configuration file")
	cmd.Flags().StringVar(&username, "username", "", "Account username (required)")
	cmd.Flags().StringVar(&password, "password", "", "Account password (required)")
	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.MarkFlagRequired("username")
	cmd.MarkFlagRequired("password")

	return cmd
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return config.Default(), nil
		}
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
