package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler and the HTTP API",
	Long: `Start the HTTP API and, when scheduler.enabled is set, run ingestion
periodically until interrupted.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Set up context with signal handling.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return err
	}

	srv := api.NewServer(log, &cfg.Server, api.Deps{
		Orchestrator: a.orchestrator,
		Store:        a.store,
		Registry:     a.registry,
		Publisher:    a.publisher,
		EventBuffer:  cfg.Global.EventBuffer,
	})

	if err := srv.Start(ctx); err != nil {
		_ = a.Close()

		return fmt.Errorf("starting api server: %w", err)
	}

	// Wait for shutdown signal.
	sig := <-sigCh
	log.WithField("signal", sig).Info("Shutting down")
	cancel()

	if err := srv.Stop(); err != nil {
		log.WithError(err).Warn("Failed to stop api server")
	}

	return a.Close()
}
