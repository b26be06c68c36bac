package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/orb/orblink/internal/api"
	"github.com/orb/orblink/internal/auth"
	"github.com/orb/orblink/internal/engine"
	"github.com/orb/orblink/internal/lifecycle"
	"github.com/orb/orblink/internal/metrics"
	"github.com/orb/orblink/internal/scene"
	"github.com/orb/orblink/internal/stream"
	"github.com/orb/orblink/internal/visibility"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	addr := os.Getenv("ORBLINK_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	authCfg, err := loadAuthConfig(logger)
	if err != nil {
		logger.Error("invalid auth configuration", "error", err)
		os.Exit(1)
	}

	visCfg := loadVisibilityConfig(logger)
	lifeCfg := loadLifecycleConfig(logger)

	// A failed engine start disables the visibility feature for the session;
	// the server still comes up so probes and diagnostics answer.
	eng, err := engine.New(visCfg, lifeCfg, logger)
	if err != nil {
		logger.Error("visibility engine unavailable, feature disabled", "error", err)
		eng = nil
	}

	scenes := scene.NewStore()

	var streamHandler *stream.Handler
	if eng != nil {
		streamCfg := loadStreamConfig(logger)
		streamHandler = stream.NewHandler(eng, eng, scenes, streamCfg, logger)
	}

	srv := api.NewServer(addr, eng, scenes, streamHandler, logger, authCfg)

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Background goroutine to update the scene age gauge.
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if age := scenes.AgeSeconds(); age >= 0 {
					metrics.SetSceneAge(age)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		logger.Info("starting server", "addr", addr, "auth_enabled", authCfg.Enabled, "engine_enabled", eng != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server listen error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.HTTPServer().Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
		os.Exit(1)
	}

	if eng != nil {
		eng.Close()
	}

	logger.Info("server stopped")
}

func loadAuthConfig(logger *slog.Logger) (auth.Config, error) {
	cfg := auth.Config{}

	enabledStr := os.Getenv("ORBLINK_AUTH_ENABLED")
	if enabledStr != "" {
		enabled, err := strconv.ParseBool(enabledStr)
		if err != nil {
			return cfg, errors.New("ORBLINK_AUTH_ENABLED must be a boolean value (true/false/1/0)")
		}
		cfg.Enabled = enabled
	}

	if cfg.Enabled {
		cfg.Token = os.Getenv("ORBLINK_AUTH_TOKEN")
		if cfg.Token == "" {
			return cfg, errors.New("ORBLINK_AUTH_TOKEN is required when auth is enabled")
		}
		logger.Info("auth enabled")
	}

	return cfg, nil
}

func loadVisibilityConfig(logger *slog.Logger) visibility.Config {
	cfg := visibility.Config{
		MinElevationDeg: visibility.DefaultMinElevationDeg,
		UpdateInterval:  visibility.DefaultUpdateInterval,
		MaxRangeKm:      visibility.DefaultMaxRangeKm,
		Workers:         runtime.NumCPU(),
	}

	if v := os.Getenv("ORBLINK_VIS_MIN_ELEVATION"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < -90 || f > 90 {
			logger.Warn("invalid ORBLINK_VIS_MIN_ELEVATION value, using default", "value", v, "default", cfg.MinElevationDeg)
		} else {
			cfg.MinElevationDeg = f
		}
	}

	if v := os.Getenv("ORBLINK_VIS_REFRACTION"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			logger.Warn("invalid ORBLINK_VIS_REFRACTION value, using default", "value", v, "default", false)
		} else {
			cfg.AtmosphericRefraction = b
		}
	}

	if v := os.Getenv("ORBLINK_VIS_UPDATE_INTERVAL_MS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid ORBLINK_VIS_UPDATE_INTERVAL_MS value, using default", "value", v, "default", cfg.UpdateInterval.Milliseconds())
		} else {
			cfg.UpdateInterval = time.Duration(n) * time.Millisecond
		}
	}

	if v := os.Getenv("ORBLINK_VIS_MAX_RANGE_KM"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			logger.Warn("invalid ORBLINK_VIS_MAX_RANGE_KM value, using default", "value", v, "default", cfg.MaxRangeKm)
		} else {
			cfg.MaxRangeKm = f
		}
	}

	if v := os.Getenv("ORBLINK_VIS_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid ORBLINK_VIS_WORKERS value, using default", "value", v, "default", cfg.Workers)
		} else {
			cfg.Workers = n
		}
	}

	logger.Info("visibility config",
		"min_elevation_deg", cfg.MinElevationDeg,
		"atmospheric_refraction", cfg.AtmosphericRefraction,
		"update_interval_ms", cfg.UpdateInterval.Milliseconds(),
		"max_range_km", cfg.MaxRangeKm,
		"workers", cfg.Workers,
	)

	return cfg
}

func loadLifecycleConfig(logger *slog.Logger) lifecycle.Config {
	cfg := lifecycle.Config{
		PersistenceWindow: lifecycle.DefaultPersistenceWindow,
		FadeWindow:        lifecycle.DefaultFadeWindow,
		OpacityFloor:      lifecycle.DefaultOpacityFloor,
	}

	if v := os.Getenv("ORBLINK_LIFECYCLE_PERSISTENCE_MS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid ORBLINK_LIFECYCLE_PERSISTENCE_MS value, using default", "value", v, "default", cfg.PersistenceWindow.Milliseconds())
		} else {
			cfg.PersistenceWindow = time.Duration(n) * time.Millisecond
		}
	}

	if v := os.Getenv("ORBLINK_LIFECYCLE_FADE_MS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid ORBLINK_LIFECYCLE_FADE_MS value, using default", "value", v, "default", cfg.FadeWindow.Milliseconds())
		} else {
			cfg.FadeWindow = time.Duration(n) * time.Millisecond
		}
	}

	if v := os.Getenv("ORBLINK_LIFECYCLE_OPACITY_FLOOR"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 1 {
			logger.Warn("invalid ORBLINK_LIFECYCLE_OPACITY_FLOOR value, using default", "value", v, "default", cfg.OpacityFloor)
		} else {
			cfg.OpacityFloor = f
		}
	}

	logger.Info("lifecycle config",
		"persistence_ms", cfg.PersistenceWindow.Milliseconds(),
		"fade_ms", cfg.FadeWindow.Milliseconds(),
		"opacity_floor", cfg.OpacityFloor,
	)

	return cfg
}

func loadStreamConfig(logger *slog.Logger) stream.Config {
	cfg := stream.Config{
		MaxConcurrentPerIP: 10,
		MaxConcurrent:      1000,
		KeepaliveInterval:  30 * time.Second,
		DefaultIntervalMs:  500,
	}

	if v := os.Getenv("ORBLINK_STREAM_MAX_CONCURRENT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid ORBLINK_STREAM_MAX_CONCURRENT value, using default", "value", v, "default", 10)
		} else {
			cfg.MaxConcurrentPerIP = n
		}
	}

	if v := os.Getenv("ORBLINK_STREAM_KEEPALIVE_INTERVAL"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid ORBLINK_STREAM_KEEPALIVE_INTERVAL value, using default", "value", v, "default", 30)
		} else {
			cfg.KeepaliveInterval = time.Duration(n) * time.Second
		}
	}

	if v := os.Getenv("ORBLINK_STREAM_DEFAULT_INTERVAL_MS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 100 {
			logger.Warn("invalid ORBLINK_STREAM_DEFAULT_INTERVAL_MS value, using default", "value", v, "default", 500)
		} else {
			cfg.DefaultIntervalMs = n
		}
	}

	if v := os.Getenv("ORBLINK_STREAM_TRUST_PROXY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			logger.Warn("invalid ORBLINK_STREAM_TRUST_PROXY value, using default", "value", v, "default", false)
		} else {
			cfg.TrustProxy = b
		}
	}

	logger.Info("stream config",
		"max_concurrent_per_ip", cfg.MaxConcurrentPerIP,
		"keepalive_interval_seconds", cfg.KeepaliveInterval.Seconds(),
		"default_interval_ms", cfg.DefaultIntervalMs,
	)

	return cfg
}
