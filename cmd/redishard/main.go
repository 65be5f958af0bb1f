// Command redishard runs the sharding proxy server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/compozy/redishard/internal/config"
	"github.com/compozy/redishard/internal/logger"
	"github.com/compozy/redishard/internal/proxy"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string
	var logLevel string

	root := &cobra.Command{
		Use:   "redishard",
		Short: "A sharding proxy for Redis",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "redishard.toml", "path to the TOML config file")
	root.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "log level: debug, info, warn, error, disabled")

	root.AddCommand(serveCmd(&configPath, &logLevel))
	root.AddCommand(validateCmd(&configPath))
	return root
}

func validateCmd(configPath *string) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Parse and validate a config file without starting the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateOnce(*configPath); err != nil {
				return err
			}
			if !watch {
				return nil
			}
			return watchAndRevalidate(*configPath)
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep running and re-validate on every write to the config file")
	return cmd
}

func validateOnce(configPath string) error {
	if _, err := config.Load(configPath); err != nil {
		return fmt.Errorf("config %q is invalid: %w", configPath, err)
	}
	fmt.Printf("%s: ok\n", configPath)
	return nil
}

// watchAndRevalidate re-runs validateOnce on every write to configPath,
// for iterating on a config file without restarting the proxy to check it.
func watchAndRevalidate(configPath string) error {
	w, err := config.NewWatcher()
	if err != nil {
		return fmt.Errorf("starting config watcher: %w", err)
	}
	defer w.Close()
	if err := w.Watch(configPath); err != nil {
		return fmt.Errorf("watching %q: %w", configPath, err)
	}
	w.OnChange(func() {
		if err := validateOnce(configPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	})
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	return nil
}

func serveCmd(configPath, logLevel *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the proxy server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(*configPath, *logLevel)
		},
	}
}

func runServe(configPath, logLevel string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	level := logger.LogLevel(logLevel)
	if cfg.LogLevel != "" && logLevel == "info" {
		level = logger.LogLevel(cfg.LogLevel)
	}
	log := logger.NewLogger(logger.Config{Level: level, ReportTime: true})

	rt, err := proxy.New(cfg, log)
	if err != nil {
		return fmt.Errorf("building runtime: %w", err)
	}
	rt.Start()
	log.Info("redishard started", "config", configPath, "pools", len(cfg.Pools), "admin_port", cfg.AdminPort)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		log.Info("shutting down", "grace", cfg.ShutdownGrace())
	case <-rt.Done():
		log.Info("shutdown requested via admin SHUTDOWN", "grace", cfg.ShutdownGrace())
	}

	shutdownCtx := logger.ContextWithLogger(context.Background(), log)
	shutdownCtx = config.ContextWithConfig(shutdownCtx, cfg)
	ctx, cancel := context.WithTimeout(shutdownCtx, cfg.ShutdownGrace()+2*time.Second)
	defer cancel()
	rt.Shutdown(ctx, cfg.ShutdownGrace())
	log.Info("shutdown complete")
	return nil
}
