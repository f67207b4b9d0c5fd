package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/sdata/internal/archive"
	"github.com/alfredjeanlab/sdata/internal/config"
	"github.com/alfredjeanlab/sdata/internal/events"
	"github.com/alfredjeanlab/sdata/internal/mutation"
	"github.com/alfredjeanlab/sdata/internal/reaper"
	"github.com/alfredjeanlab/sdata/internal/server"
	"github.com/alfredjeanlab/sdata/internal/service"
	"github.com/alfredjeanlab/sdata/internal/store"
	"github.com/alfredjeanlab/sdata/internal/store/memory"
	"github.com/alfredjeanlab/sdata/internal/store/postgres"
)

var serveCmd = &cobra.Command{
	Use:               "serve",
	Short:             "Start the sdata HTTP server",
	GroupID:           "system",
	PersistentPreRunE: noClient,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadDotEnv(); err != nil {
			return err
		}
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()}))

		// Store.
		var st store.Store
		if cfg.UsesMemoryStore() {
			st = memory.New()
			logger.Warn("using in-memory store; records are lost on exit")
		} else {
			pg, err := postgres.New(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			st = pg
		}

		// Events: NATS when configured, always the SSE stream.
		hub := server.NewStreamHub()
		publisher := events.Fanout{hub}
		if cfg.NATSURL != "" {
			pub, err := events.NewNATSPublisher(cfg.NATSURL)
			if err != nil {
				st.Close()
				return err
			}
			publisher = append(publisher, pub)
			logger.Info("events enabled", "nats_url", cfg.NATSURL)
		} else {
			logger.Info("NATS events disabled (SDATA_NATS_URL not set)")
		}

		// Archive destination for evicted versions.
		var dest archive.Destination
		if cfg.ArchiveS3Bucket != "" {
			s3Dest, err := archive.NewS3Destination(context.Background(),
				cfg.ArchiveS3Bucket, cfg.ArchiveS3Region, cfg.ArchiveS3Endpoint)
			if err != nil {
				publisher.Close()
				st.Close()
				return fmt.Errorf("creating S3 archive: %w", err)
			}
			dest = s3Dest
			logger.Info("archive S3 destination enabled", "bucket", cfg.ArchiveS3Bucket, "prefix", cfg.ArchivePrefix)
		} else {
			dest = archive.NewMemoryDestination()
			logger.Warn("archive S3 bucket not set; evicted versions are kept in memory only")
		}
		archiver := archive.New(dest, archive.Options{
			Prefix:    cfg.ArchivePrefix,
			QueueSize: cfg.ArchiveQueueSize,
			Publisher: publisher,
			Logger:    logger,
		})
		archiver.Start()

		svc := service.New(st, service.Options{
			Clock:         mutation.SystemClock{},
			Archive:       archiver,
			Publisher:     publisher,
			Logger:        logger,
			MaxRecordSize: cfg.MaxRecordSize,
			VerifyWorkers: cfg.VerifyWorkers,
		})

		var sched *reaper.Scheduler
		if cfg.ReaperInterval > 0 {
			sched = reaper.NewScheduler(svc, cfg.ReaperInterval, cfg.ReaperBatch, svc.Now, logger)
			sched.Start()
			logger.Info("expiry reaper started", "interval", cfg.ReaperInterval)
		}

		srv := server.New(svc, server.Options{Hub: hub, Logger: logger, ReapBatch: cfg.ReaperBatch})
		httpServer := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           srv.NewHTTPHandler(cfg.AuthToken),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server error", "err", err)
			}
		}()

		// Wait for SIGINT or SIGTERM.
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "err", err)
		}
		logger.Info("HTTP server stopped")

		if sched != nil {
			sched.Stop()
			logger.Info("expiry reaper stopped")
		}
		if err := archiver.Stop(shutdownCtx); err != nil {
			logger.Error("archive drain incomplete", "err", err)
		}
		stats := archiver.Stats()
		logger.Info("archiver stopped", "archived", stats.Archived, "failed", stats.Failed, "dropped", stats.Dropped)

		if err := publisher.Close(); err != nil {
			logger.Error("error closing publisher", "err", err)
		}
		if err := st.Close(); err != nil {
			logger.Error("error closing store", "err", err)
		}

		logger.Info("shutdown complete")
		return nil
	},
}
