package usecase

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/quietloop/shieldd/internal/domain"
)

// BonusPool manages the shared counter of earned bonus minutes and its
// expiry. The pool is consumed entirely the next time any monitored
// threshold fires; the pre-bonus shield snapshot makes that reversible.
type BonusPool struct {
	state     domain.SharedState
	scheduler domain.MonitorScheduler
	shield    *ShieldController
	logger    *zap.Logger
	now       func() time.Time
}

// NewBonusPool creates a bonus pool.
func NewBonusPool(state domain.SharedState, scheduler domain.MonitorScheduler, shield *ShieldController, logger *zap.Logger) *BonusPool {
	return &BonusPool{
		state:     state,
		scheduler: scheduler,
		shield:    shield,
		logger:    logger,
		now:       time.Now,
	}
}

// Minutes returns the current pool size. Store failures read as zero.
func (b *BonusPool) Minutes() int {
	v, ok, err := b.state.GetInt(domain.KeyBonusMinutes)
	if err != nil {
		b.logger.Warn("failed to read bonus minutes", zap.Error(err))
		return 0
	}
	if !ok {
		return 0
	}
	return v
}

// Add credits earned minutes, computes a new expiry and re-registers the
// extended thresholds. The current blocked sets are snapshotted into the
// bonusSession_* keys BEFORE re-registering: extending thresholds changes
// what the per-event token keys mean going forward, and the pre-bonus
// picture would otherwise be lost.
func (b *BonusPool) Add(minutes int, limits []domain.TimeLimit) error {
	if minutes < 1 {
		return fmt.Errorf("bonus minutes must be >= 1, got %d", minutes)
	}

	apps, cats := b.shield.CurrentlyBlocked()
	if err := b.state.SetTokenSet(domain.KeyBonusSessionApps, apps); err != nil {
		return fmt.Errorf("failed to snapshot blocked apps: %w", err)
	}
	if err := b.state.SetTokenSet(domain.KeyBonusSessionCategories, cats); err != nil {
		return fmt.Errorf("failed to snapshot blocked categories: %w", err)
	}

	total := b.Minutes() + minutes
	if err := b.state.SetInt(domain.KeyBonusMinutes, total); err != nil {
		return fmt.Errorf("failed to write bonus minutes: %w", err)
	}

	expiry := b.now().Add(time.Duration(total) * time.Minute)
	if err := b.state.SetTime(domain.KeyBonusExpiry, expiry); err != nil {
		return fmt.Errorf("failed to write bonus expiry: %w", err)
	}

	// Lift the shield for the bonus window; the snapshot holds the
	// pre-bonus sets for the eventual restore.
	if err := b.shield.Clear(); err != nil {
		b.logger.Warn("failed to lift shield for bonus window", zap.Error(err))
	}

	if err := b.scheduler.Register(domain.ActivityDailyUsage, ThresholdPlan(limits, total)); err != nil {
		return fmt.Errorf("failed to re-register extended thresholds: %w", err)
	}
	if err := b.scheduler.Register(domain.ActivityBonusSession, []domain.ThresholdEvent{
		{ID: domain.EventIDBonusReached, Minutes: total},
	}); err != nil {
		return fmt.Errorf("failed to register bonus session: %w", err)
	}

	b.logger.Info("bonus credited",
		zap.Int("minutes", minutes),
		zap.Int("total", total),
		zap.Time("expiry", expiry))
	return nil
}

// Collapse sets the pool to zero, clears the expiry and sets the collapse
// sentinel. Collapsing an already-zero pool changes nothing except the
// sentinel, which is set on every collapse so the UI reacts exactly once
// per collapse rather than once per pool value.
func (b *BonusPool) Collapse() {
	cur, ok, err := b.state.GetInt(domain.KeyBonusMinutes)
	if err != nil {
		b.logger.Warn("failed to read bonus minutes during collapse", zap.Error(err))
	}
	if ok && cur != 0 {
		if err := b.state.SetInt(domain.KeyBonusMinutes, 0); err != nil {
			b.logger.Warn("failed to zero bonus minutes", zap.Error(err))
			return
		}
		b.logger.Info("bonus collapsed", zap.Int("forfeited_minutes", cur))
	}

	if err := b.state.Delete(domain.KeyBonusExpiry); err != nil {
		b.logger.Warn("failed to clear bonus expiry", zap.Error(err))
	}
	if err := b.state.SetBool(domain.KeyBonusCollapsed, true); err != nil {
		b.logger.Warn("failed to set collapse sentinel", zap.Error(err))
	}
}

// RestoreSnapshot re-applies the pre-bonus shield sets and consumes the
// snapshot, so it is available for exactly one restore. A missing
// snapshot is a logged no-op: the user ends up unblocked-from-bonus
// rather than the caller crashing.
func (b *BonusPool) RestoreSnapshot() bool {
	apps, okApps, errApps := b.state.GetTokenSet(domain.KeyBonusSessionApps)
	cats, okCats, errCats := b.state.GetTokenSet(domain.KeyBonusSessionCategories)
	if errApps != nil {
		b.logger.Warn("failed to read app snapshot, treating as empty", zap.Error(errApps))
	}
	if errCats != nil {
		b.logger.Warn("failed to read category snapshot, treating as empty", zap.Error(errCats))
	}

	if !okApps && !okCats {
		b.logger.Warn("no pre-bonus snapshot to restore")
		return false
	}

	if apps == nil {
		apps = domain.NewTokenSet()
	}
	if cats == nil {
		cats = domain.NewTokenSet()
	}

	if err := b.shield.Apply(apps, cats); err != nil {
		// Leave the snapshot in place so the next relevant event can
		// retry the restore from scratch.
		b.logger.Error("failed to re-apply pre-bonus shield", zap.Error(err))
		return false
	}

	if err := b.state.Delete(domain.KeyBonusSessionApps); err != nil {
		b.logger.Warn("failed to consume app snapshot", zap.Error(err))
	}
	if err := b.state.Delete(domain.KeyBonusSessionCategories); err != nil {
		b.logger.Warn("failed to consume category snapshot", zap.Error(err))
	}

	b.logger.Info("pre-bonus shield restored",
		zap.Int("apps", len(apps)),
		zap.Int("categories", len(cats)))
	return true
}

// CheckExpiry is the foreground wall-clock fallback. OS threshold
// callbacks are usage-based, so a bonus window can lapse by clock alone
// without any threshold firing; the foreground process runs this check
// whenever it becomes active. On expiry it restores the pre-bonus
// shields, collapses the pool and re-registers the base thresholds.
func (b *BonusPool) CheckExpiry(now time.Time, limits []domain.TimeLimit) {
	expiry, ok, err := b.state.GetTime(domain.KeyBonusExpiry)
	if err != nil {
		b.logger.Warn("failed to read bonus expiry", zap.Error(err))
		return
	}
	if !ok || now.Before(expiry) {
		return
	}

	b.logger.Info("bonus window expired by clock", zap.Time("expiry", expiry))

	b.RestoreSnapshot()
	b.Collapse()

	if err := b.scheduler.Register(domain.ActivityDailyUsage, ThresholdPlan(limits, 0)); err != nil {
		b.logger.Warn("failed to re-register base thresholds", zap.Error(err))
	}
	if err := b.scheduler.Unregister(domain.ActivityBonusSession); err != nil {
		b.logger.Warn("failed to unregister bonus session", zap.Error(err))
	}
}
