package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/phuslu/log"

	"github.com/badgeratu/nupkgd/internal/config"
	"github.com/badgeratu/nupkgd/internal/logger"
	"github.com/badgeratu/nupkgd/internal/server"
)

func main() {
	cfg := config.Load()

	logger.Init(logger.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Color:  cfg.LogColor,
	})

	log.Info().
		Str("data_dir", cfg.DataDir).
		Str("search_pattern", cfg.SearchPattern).
		Bool("check_count", cfg.CheckCount).
		Bool("check_modified_date", cfg.CheckModifiedDate).
		Bool("cache_enabled", cfg.CacheEnabled).
		Msg("🚀 Starting nupkgd")

	if cfg.MirrorEnabled() {
		log.Info().
			Str("endpoint", cfg.S3Endpoint).
			Str("bucket", cfg.S3Bucket).
			Str("prefix", cfg.S3Prefix).
			Msg("☁️  S3 mirror configured")
	}

	srv := server.New(cfg)
	httpSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: srv.Router(),
	}

	go func() {
		log.Info().Str("address", httpSrv.Addr).Msg("🌐 HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info().Msg("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}
}
