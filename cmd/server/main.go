package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cshum/vipsgen/vips"
	"github.com/dustin/go-humanize"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"kanimedia/internal/assets"
	"kanimedia/internal/cache"
	"kanimedia/internal/codec"
	"kanimedia/internal/config"
	"kanimedia/internal/gate"
	httphandlers "kanimedia/internal/http"
	"kanimedia/internal/logger"
	"kanimedia/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogEncoding)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	vipsConfig := &vips.Config{
		ConcurrencyLevel: cfg.VipsConcurrency,
		MaxCacheMem:      cfg.VipsMaxCacheMB * 1024 * 1024, // Convert MB to bytes
		MaxCacheFiles:    0,                                // Disable disk cache
		MaxCacheSize:     0,                                // Disable disk cache
		ReportLeaks:      false,
		CacheTrace:       false,
		VectorEnabled:    true,
	}

	// Set up logging
	vips.SetLogging(func(domain string, level vips.LogLevel, message string) {
		// Map vips log levels to zap levels
		if level >= vips.LogLevelError {
			log.Error("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		} else if level >= vips.LogLevelWarning {
			log.Warn("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		}
		// Ignore info/debug messages to keep logs clean
	}, vips.LogLevelError)

	vips.Startup(vipsConfig)
	defer vips.Shutdown()

	log.Info("VIPS initialized",
		zap.Int("max_cache_mb", cfg.VipsMaxCacheMB),
		zap.Int("concurrency", cfg.VipsConcurrency),
	)

	log.Info("Starting kanimedia server",
		zap.Int("port", cfg.Port),
		zap.String("store_mode", cfg.StoreMode()),
		zap.String("cache_budget", humanize.IBytes(uint64(cfg.CacheBytes))),
		zap.Int("max_concurrent_transcodes", cfg.MaxConcurrentTranscodes),
	)

	vipsCodec := codec.NewVips(cfg.DefaultQuality)

	var (
		store    assets.Store
		index    *assets.Index
		ingestor *assets.Ingestor
	)

	switch cfg.StoreMode() {
	case "s3":
		s3Store, err := newS3Store(cfg)
		if err != nil {
			log.Fatal("Failed to initialize s3 store", zap.Error(err))
		}
		store = s3Store
		log.Info("Using s3 asset store", zap.String("bucket", cfg.S3Bucket))
	case "origin":
		originStore, err := assets.NewOrigin(cfg.AssetOrigin, cfg.OriginTimeout)
		if err != nil {
			log.Fatal("Failed to initialize origin store", zap.Error(err))
		}
		store = originStore
		log.Info("Using origin asset store", zap.String("origin", cfg.AssetOrigin))
	default:
		index = assets.NewIndex(cfg.AssetRoot, vipsCodec, log)
		if err := index.Scan(); err != nil {
			log.Warn("Initial scan failed", zap.Error(err))
		}
		store = assets.NewDir(index)
		ingestor = assets.NewIngestor(index, vipsCodec, log)
		log.Info("Using local asset store", zap.String("root", cfg.AssetRoot), zap.Int("assets", index.Len()))
	}

	transformCache := cache.New(cfg.CacheBytes)
	transcoderGate := gate.New(int64(cfg.MaxConcurrentTranscodes), cfg.GateWaitTimeout)

	renderPipeline := pipeline.New(store, transformCache, vipsCodec, transcoderGate, log)

	handlers := httphandlers.New(cfg, log, renderPipeline, index, ingestor)

	mux := http.NewServeMux()

	mux.HandleFunc("/assets", handlers.HandleAssets)
	mux.HandleFunc("/asset/", handlers.HandleAssetRoutes)
	mux.HandleFunc("/healthz", handlers.HandleHealthz)
	mux.HandleFunc("/version", handlers.HandleVersion)

	handler := handlers.CORSMiddleware(handlers.RequestLoggingMiddleware(mux))

	presets, err := pipeline.ParsePresets(cfg.WarmupPresets)
	if err != nil {
		log.Fatal("Invalid warmup presets", zap.Error(err))
	}

	if len(presets) > 0 && index != nil {
		ids := lo.Map(index.List(), func(meta assets.Meta, _ int) string {
			return meta.ID
		})
		go renderPipeline.Warm(ids, presets, cfg.WarmupWorkers)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: handler,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	log.Info("Server started", zap.Int("port", cfg.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server stopped")
}

func newS3Store(cfg *config.Config) (*assets.S3, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if cfg.S3Endpoint != "" {
		return assets.NewS3FromConfig(ctx, &assets.S3Config{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKeyID,
			AccessKeySecret: cfg.S3AccessKeySecret,
			Bucket:          cfg.S3Bucket,
		})
	}

	return assets.NewS3(ctx, cfg.S3Bucket)
}
