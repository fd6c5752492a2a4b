package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"formpredict/config"
	"formpredict/handlers"
	"formpredict/manifest"
	"formpredict/services"
	"formpredict/store"

	log "github.com/sirupsen/logrus"
)

func setupLogging(cfg config.Config) {
	if cfg.LogFormat == "json" || config.IsProduction() {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warnf("Unknown LOG_LEVEL %q, using info", cfg.LogLevel)
		level = log.InfoLevel
	}
	log.SetLevel(level)
}

func main() {
	cfg := config.Load()
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m, err := manifest.Load(cfg.ManifestPath, cfg.ModelDir)
	if err != nil {
		log.Fatal("Failed to load model manifest: ", err)
	}

	registry := services.LoadRegistry(ctx, m, services.NewDataService(cfg.AWSRegion))
	if failed := registry.Failed(); len(failed) > 0 {
		if cfg.StrictModels {
			log.Fatalf("%d of %d models failed to load", len(failed), len(m.Models))
		}
		log.Warnf("%d of %d models unavailable", len(failed), len(m.Models))
	}

	var cache services.Cache
	if cfg.RedisURL != "" {
		rc, err := store.NewRedisCache(ctx, cfg.RedisURL, cfg.RedisPassword, cfg.CacheTTL)
		if err != nil {
			log.WithError(err).Warn("Prediction cache disabled")
		} else {
			defer rc.Close()
			cache = rc
			log.Println("Prediction cache enabled (Redis)")
		}
	}

	history, err := store.OpenRecorder(ctx, cfg)
	if err != nil {
		log.Fatal("Failed to open prediction history: ", err)
	}
	defer history.Close()
	log.Printf("Prediction history: %s", cfg.HistoryBackend)

	renderer, err := handlers.NewRenderer(cfg.TemplateDir, m.Models)
	if err != nil {
		log.Fatal("Failed to load templates: ", err)
	}

	handlers.Init(cfg, services.NewPredictionService(registry, cache, history), renderer)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handlers.NewRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Println("Prediction server running on http://localhost:" + cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Graceful shutdown failed")
	}
}
