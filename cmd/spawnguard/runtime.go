package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/basket/spawnguard/internal/audit"
	"github.com/basket/spawnguard/internal/config"
	otelPkg "github.com/basket/spawnguard/internal/otel"
	"github.com/basket/spawnguard/internal/shared"
	"github.com/basket/spawnguard/internal/statestore"
	"github.com/basket/spawnguard/internal/telemetry"
)

// checkRuntime is the shared bootstrap every subcommand performs:
// config, audit trail, logger, telemetry, and the state store.
type checkRuntime struct {
	cfg       config.Config
	logger    *slog.Logger
	logCloser io.Closer
	store     *statestore.Store
	otel      *otelPkg.Provider
	metrics   *otelPkg.Metrics
}

func initRuntime(ctx context.Context) (*checkRuntime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	// Audit before the logger so logger failures are still audited.
	if err := audit.Init(cfg.HomeDir); err != nil {
		return nil, fmt.Errorf("init audit: %w", err)
	}

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, cfg.Debug, shared.TraceID(ctx))
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	slog.SetDefault(logger)
	logEnvOverrides(logger)

	provider, err := otelPkg.Init(ctx, cfg.OTel)
	if err != nil {
		closer.Close()
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	metrics, err := otelPkg.NewMetrics(provider.Meter)
	if err != nil {
		closer.Close()
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	store := statestore.New(filepath.Join(cfg.HomeDir, "state"),
		statestore.WithLockTimeout(cfg.LockTimeout()),
		statestore.WithCacheTTL(cfg.CacheTTL()),
		statestore.WithLogger(logger),
		statestore.WithLockObserver(
			func(wait time.Duration) { metrics.LockWaitDuration.Record(ctx, wait.Seconds()) },
			func() { metrics.LockTimeouts.Add(ctx, 1) },
		),
	)

	return &checkRuntime{
		cfg:       cfg,
		logger:    logger,
		logCloser: closer,
		store:     store,
		otel:      provider,
		metrics:   metrics,
	}, nil
}

// shutdown flushes telemetry and closes the log and audit files. Each
// check is a short-lived process, so this runs once per invocation.
func (rt *checkRuntime) shutdown() {
	flushCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = rt.otel.Shutdown(flushCtx)
	_ = rt.logCloser.Close()
	_ = audit.Close()
}

// logEnvOverrides records which environment overrides are active.
// Values pass through redaction in case a secret landed in one.
func logEnvOverrides(logger *slog.Logger) {
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, "SPAWNGUARD_") {
			continue
		}
		key, val, _ := strings.Cut(kv, "=")
		logger.Debug("env override active", "key", key, "value", shared.RedactEnvValue(key, val))
	}
}

// failOpenRequested reports the fail-open override when the runtime
// itself could not be constructed and config is unavailable.
func failOpenRequested() bool {
	switch os.Getenv("SPAWNGUARD_FAIL_OPEN") {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
