package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/searchktools/fast-dispatch/config"
	"github.com/searchktools/fast-dispatch/core"
	"github.com/searchktools/fast-dispatch/core/logging"
	"github.com/searchktools/fast-dispatch/core/observability"
	"github.com/searchktools/fast-dispatch/core/pools"
)

// ShutdownTimeout bounds graceful shutdown
const ShutdownTimeout = 10 * time.Second

// monitorInterval is how often the monitor looks for bottlenecks
const monitorInterval = 10 * time.Second

// App wires configuration, logging and the engine together
type App struct {
	cfg     *config.Config
	log     *zap.Logger
	engine  *core.Engine
	monitor *observability.PerformanceMonitor
}

// New creates an application instance. opts are applied to the engine
// after the ones derived from cfg.
func New(cfg *config.Config, opts ...core.Option) (*App, error) {
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}

	access, err := logging.ForName(cfg.AccessLog, log)
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, log: log}
	if cfg.Monitor {
		a.monitor = observability.NewPerformanceMonitor(log.Named("monitor"), monitorInterval)
		access = &observability.MonitoringLogger{Monitor: a.monitor, Next: access}
	}

	if cfg.GCPercent > 0 {
		prev := pools.ApplyGCConfig(pools.GCConfig{GOGC: cfg.GCPercent})
		log.Info("gc tuned", zap.Int("gogc", cfg.GCPercent), zap.Int("previous", prev))
	}

	base := []core.Option{
		core.WithLogger(log),
		core.WithRequestLogger(access),
	}
	a.engine = core.NewEngine(cfg, append(base, opts...)...)
	return a, nil
}

// Engine returns the underlying engine for route registration
func (a *App) Engine() *core.Engine {
	return a.engine
}

// Logger returns the runtime logger
func (a *App) Logger() *zap.Logger {
	return a.log
}

// Monitor returns the performance monitor, nil unless enabled
func (a *App) Monitor() *observability.PerformanceMonitor {
	return a.monitor
}

// Run serves until SIGINT/SIGTERM or Shutdown, then shuts down gracefully
func (a *App) Run() error {
	a.log.Info("server starting",
		zap.Int("port", a.cfg.Port),
		zap.String("env", a.cfg.Env),
		zap.Strings("routes", a.engine.Routes()))

	served := make(chan error, 1)
	go func() { served <- a.engine.Run(a.cfg.Addr()) }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-served:
		a.stop()
		if errors.Is(err, core.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case sig := <-quit:
		a.log.Info("signal received, shutting down", zap.Stringer("signal", sig))
	}

	err := a.Shutdown()
	<-served
	return err
}

// Shutdown stops the engine, waiting at most ShutdownTimeout
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	err := a.engine.Shutdown(ctx)
	a.stop()
	return err
}

func (a *App) stop() {
	if a.monitor != nil {
		a.monitor.Stop()
	}
	a.log.Sync()
}
