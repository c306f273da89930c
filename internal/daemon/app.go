// Package daemon implements the resident foreground app loop.
package daemon

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/quietloop/shieldd/internal/domain"
	"github.com/quietloop/shieldd/internal/infra"
	"github.com/quietloop/shieldd/internal/usecase"
)

// AppConfig holds foreground loop configuration.
type AppConfig struct {
	ReconcileInterval time.Duration // periodic reconcile + bonus expiry check
	EnforceInterval   time.Duration // re-enforcement of active shields
	WatchWakeSignals  bool          // subscribe to the cross-process wake signal
}

// DefaultAppConfig returns default foreground configuration.
func DefaultAppConfig() AppConfig {
	return AppConfig{
		ReconcileInterval: 30 * time.Second,
		EnforceInterval:   10 * time.Second,
		WatchWakeSignals:  true,
	}
}

// App is the foreground process loop. On start it runs the resume sweep
// (reconcile) and starts monitoring; afterwards it re-arms periodic
// tickers and listens for wake signals. Timers are simply re-armed each
// cycle, never cancelled mid-flight.
type App struct {
	config         AppConfig
	coordinator    *usecase.Coordinator
	state          domain.SharedState
	processManager domain.ProcessManager
	logger         *zap.Logger
}

// NewApp creates the foreground loop.
func NewApp(
	config AppConfig,
	coordinator *usecase.Coordinator,
	state domain.SharedState,
	pm domain.ProcessManager,
	logger *zap.Logger,
) *App {
	return &App{
		config:         config,
		coordinator:    coordinator,
		state:          state,
		processManager: pm,
		logger:         logger,
	}
}

// Run blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	if err := a.state.SetInt(domain.KeyAppProcessPID, a.processManager.GetCurrentPID()); err != nil {
		a.logger.Warn("failed to record app pid", zap.Error(err))
	}

	// Resume sweep first: background-only changes become visible here,
	// not via the unreliable wake signal.
	a.reconcile(ctx)

	if err := a.coordinator.StartMonitoring(ctx); err != nil {
		a.logger.Error("failed to start monitoring", zap.Error(err))
		return err
	}

	wake := make(chan string, 8)
	if a.config.WatchWakeSignals {
		go func() {
			err := infra.WatchWake(ctx, a.logger, func(event string) {
				select {
				case wake <- event:
				default: // a dropped hint is recovered by the next sweep
				}
			})
			if err != nil && ctx.Err() == nil {
				a.logger.Warn("wake signal watcher stopped", zap.Error(err))
			}
		}()
	}

	reconcileTicker := time.NewTicker(a.config.ReconcileInterval)
	enforceTicker := time.NewTicker(a.config.EnforceInterval)
	defer func() {
		reconcileTicker.Stop()
		enforceTicker.Stop()
	}()

	a.logger.Info("foreground app loop started",
		zap.Duration("reconcile_interval", a.config.ReconcileInterval),
		zap.Duration("enforce_interval", a.config.EnforceInterval))

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("foreground app loop stopping")
			return ctx.Err()

		case event := <-wake:
			a.logger.Debug("woken by signal", zap.String("event", event))
			a.reconcile(ctx)

		case <-reconcileTicker.C:
			a.reconcile(ctx)

		case <-enforceTicker.C:
			a.coordinator.ReenforceShields()
		}
	}
}

func (a *App) reconcile(ctx context.Context) {
	ui, err := a.coordinator.Reconcile(ctx)
	if err != nil {
		a.logger.Warn("reconcile failed", zap.Error(err))
		return
	}
	a.logger.Debug("reconciled",
		zap.Int("active_limits", ui.ActiveLimitsCount),
		zap.Int("blocked_apps", ui.BlockedAppsCount),
		zap.Int("blocked_categories", ui.BlockedCategoriesCount),
		zap.Int("bonus_minutes", ui.BonusMinutes),
		zap.Bool("shields_active", ui.ShieldsActive))
}
