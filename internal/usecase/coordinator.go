package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/quietloop/shieldd/internal/domain"
)

// Coordinator runs in the foreground app process: it starts and stops
// monitoring, credits bonus minutes and reconciles the UI model on
// resume. None of its operations run on the interactive path.
type Coordinator struct {
	state     domain.SharedState
	limits    domain.LimitRepository
	scheduler domain.MonitorScheduler
	shield    *ShieldController
	bonus     *BonusPool
	logger    *zap.Logger
	now       func() time.Time
}

// NewCoordinator creates a foreground coordinator.
func NewCoordinator(
	state domain.SharedState,
	limits domain.LimitRepository,
	scheduler domain.MonitorScheduler,
	shield *ShieldController,
	bonus *BonusPool,
	logger *zap.Logger,
) *Coordinator {
	return &Coordinator{
		state:     state,
		limits:    limits,
		scheduler: scheduler,
		shield:    shield,
		bonus:     bonus,
		logger:    logger,
		now:       time.Now,
	}
}

// StartMonitoring projects every active limit into shared state and
// registers its usage thresholds. It is called every time the app becomes
// active, so recomputation from the same inputs must produce identical
// writes; the token-set serialization is canonical and the threshold plan
// is sorted, making repeats no-ops with respect to observable state.
func (c *Coordinator) StartMonitoring(ctx context.Context) error {
	limits, err := c.limits.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active limits: %w", err)
	}

	for i := range limits {
		limit := &limits[i]
		eventID := limit.EventID()

		apps := limit.AppTokens
		if apps == nil {
			apps = domain.NewTokenSet()
		}
		cats := limit.CategoryTokens
		if cats == nil {
			cats = domain.NewTokenSet()
		}

		// The background handler reads these when the threshold fires;
		// they must be written before the registration exists.
		if err := c.state.SetTokenSet(domain.BlockedTokensKey(eventID), apps); err != nil {
			return fmt.Errorf("failed to project app tokens for %s: %w", eventID, err)
		}
		if err := c.state.SetTokenSet(domain.BlockedCategoriesKey(eventID), cats); err != nil {
			return fmt.Errorf("failed to project category tokens for %s: %w", eventID, err)
		}
	}

	events := ThresholdPlan(limits, c.bonus.Minutes())
	if err := c.register(domain.ActivityDailyUsage, events); err != nil {
		return err
	}

	c.logger.Info("monitoring started", zap.Int("active_limits", len(events)))
	return nil
}

// register registers an activity, recovering once from the
// over-registration cap by clearing all registrations and retrying.
func (c *Coordinator) register(activity string, events []domain.ThresholdEvent) error {
	err := c.scheduler.Register(activity, events)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrTooManyActivities) {
		return fmt.Errorf("failed to register %s: %w", activity, err)
	}

	c.logger.Warn("monitored-activity cap reached, clearing registrations and retrying")
	if clearErr := c.scheduler.ClearAll(); clearErr != nil {
		return fmt.Errorf("failed to clear registrations: %w", clearErr)
	}
	if err := c.scheduler.Register(activity, events); err != nil {
		return fmt.Errorf("failed to register %s after clearing: %w", activity, err)
	}
	return nil
}

// StopMonitoring drops all threshold registrations. Shields and shared
// state are left untouched; only the watch requests go away.
func (c *Coordinator) StopMonitoring() error {
	if err := c.scheduler.ClearAll(); err != nil {
		return fmt.Errorf("failed to stop monitoring: %w", err)
	}
	c.logger.Info("monitoring stopped")
	return nil
}

// CreditBonus adds earned minutes to the pool against the current active
// limits.
func (c *Coordinator) CreditBonus(ctx context.Context, minutes int) error {
	limits, err := c.limits.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active limits: %w", err)
	}
	return c.bonus.Add(minutes, limits)
}

// Reconcile is the authoritative recovery path run whenever the app
// becomes active: the wake signal is unreliable, so this sweep is the
// only mechanism guaranteed to surface changes made entirely inside the
// background process. It consumes the collapse sentinel, enforces
// clock-based bonus expiry and rebuilds the UI snapshot from shared
// state.
func (c *Coordinator) Reconcile(ctx context.Context) (domain.UIState, error) {
	collapsed, ok, err := c.state.GetBool(domain.KeyBonusCollapsed)
	if err != nil {
		c.logger.Warn("failed to read collapse sentinel", zap.Error(err))
	} else if ok && collapsed {
		if err := c.state.Delete(domain.KeyBonusCollapsed); err != nil {
			c.logger.Warn("failed to clear collapse sentinel", zap.Error(err))
		} else {
			c.logger.Info("bonus collapse observed by foreground")
		}
	}

	limits, err := c.limits.ListActive(ctx)
	if err != nil {
		return domain.UIState{}, fmt.Errorf("failed to list active limits: %w", err)
	}

	c.bonus.CheckExpiry(c.now(), limits)

	apps, cats := c.shield.CurrentlyBlocked()
	ui := domain.UIState{
		ActiveLimitsCount:      len(limits),
		BlockedAppsCount:       len(apps),
		BlockedCategoriesCount: len(cats),
		BonusMinutes:           c.bonus.Minutes(),
		ShieldsActive:          !apps.IsEmpty() || !cats.IsEmpty(),
	}
	return ui, nil
}

// ReenforceShields re-applies the mirrored blocked sets. The process-kill
// shield backend does not outlive relaunched processes, so the foreground
// loop calls this periodically while shields are active.
func (c *Coordinator) ReenforceShields() {
	apps, cats := c.shield.CurrentlyBlocked()
	if apps.IsEmpty() && cats.IsEmpty() {
		return
	}
	if err := c.shield.Apply(apps, cats); err != nil {
		c.logger.Warn("failed to re-enforce shields", zap.Error(err))
	}
}
