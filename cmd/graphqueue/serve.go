package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"graphqueue/internal/api"
	"graphqueue/internal/config"
	"graphqueue/internal/db"
	"graphqueue/internal/db/repositories"
	"graphqueue/internal/events"
	"graphqueue/internal/graphqueue/jobsvc"
	"graphqueue/internal/graphqueue/upstream"
	"graphqueue/internal/graphqueue/worker"
	"graphqueue/internal/logging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the background worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logging.Initialize(cfg.Debug)

	database, err := db.New(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer database.Close()

	if err := database.Migrate(); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	repos := repositories.New(database)

	jobs := jobsvc.New(repos, cfg.UploadRoot(), cfg.UpstreamInputRoot)
	if err := jobs.LoadDefinitions(cfg.WorkflowDefsDir); err != nil {
		return fmt.Errorf("loading workflow definitions: %w", err)
	}

	upstreamClient := upstream.NewClient(cfg.UpstreamBaseURL)

	eventsOpts := events.DefaultOptions()
	eventsOpts.Enabled = cfg.EventsEnabled
	eventsEngine, err := events.NewEngine(eventsOpts)
	if err != nil {
		return fmt.Errorf("starting events engine: %w", err)
	}
	defer eventsEngine.Close()

	queueWorker := worker.New(repos, upstreamClient, eventsEngine, cfg.LogDir())
	if err := queueWorker.Start(); err != nil {
		return fmt.Errorf("starting worker: %w", err)
	}

	apiServer := api.New(cfg, repos, jobs, upstreamClient)

	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := apiServer.Start(ctx); err != nil {
			logging.Error("API server stopped: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logging.Info("shutting down...")

	cancel()
	queueWorker.Stop(10 * time.Second)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		logging.Error("graceful shutdown timed out")
	}

	return nil
}
