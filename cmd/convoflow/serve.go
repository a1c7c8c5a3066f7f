package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	httpadapter "github.com/convoflow/convoflow/internal/adapters/http"
	redisadapter "github.com/convoflow/convoflow/internal/adapters/redis"
	"github.com/convoflow/convoflow/internal/classify"
	"github.com/convoflow/convoflow/internal/config"
	"github.com/convoflow/convoflow/internal/fanout"
	"github.com/convoflow/convoflow/internal/logging"
	"github.com/convoflow/convoflow/internal/orchestrator"
	"github.com/convoflow/convoflow/internal/tools"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the convoflow HTTP server",
	Long:  `Starts the engine with its HTTP API: session lifecycle, user input, live event streaming (SSE) and the flow repository.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.FromEnv()
		if cmd.Flags().Changed("port") {
			cfg.Port, _ = cmd.Flags().GetInt("port")
		}
		if cmd.Flags().Changed("redis") {
			cfg.RedisURL, _ = cmd.Flags().GetString("redis")
		}
		if cmd.Flags().Changed("log-level") {
			cfg.LogLevel, _ = cmd.Flags().GetString("log-level")
		}

		if err := runServe(cfg); err != nil {
			fmt.Printf("Server error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntP("port", "p", 3000, "Port to listen on")
	serveCmd.Flags().String("redis", "", "Redis connection URL")
	serveCmd.Flags().String("log-level", "", "Log level (debug, info, warn, error)")
}

func runServe(cfg config.Config) error {
	logger := logging.New(logging.ParseLevel(cfg.LogLevel))

	store, err := redisadapter.Open(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer store.Close()

	registry := tools.NewRegistry()
	registerDemoWorkers(registry)

	executor := tools.NewExecutor(store, registry, logger)
	classifier := classify.FromConfig(cfg.ClassifierURL, cfg.ClassifierKey, logger)
	engine := orchestrator.New(store, classifier, executor, logger)
	hub := fanout.New(store, logger)
	flows := redisadapter.NewFlowRepository(store.Client(), "")

	var opts []httpadapter.Option
	if cfg.CORSOrigin != "" {
		opts = append(opts, httpadapter.WithCORS(cfg.CORSOrigin))
	}
	handler := httpadapter.NewHandler(engine, store, flows, hub, logger, opts...)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: handler,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("starting convoflow server", "addr", srv.Addr, "redis", cfg.RedisURL)
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return err
	case sig := <-shutdown:
		logger.Info("shutting down", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("graceful shutdown did not complete", "err", err)
			if err := srv.Close(); err != nil {
				return err
			}
		}
		logger.Info("convoflow server stopped")
	}
	return nil
}
