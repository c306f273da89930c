// Package usecase contains application business logic.
package usecase

import (
	"time"

	"go.uber.org/zap"

	"github.com/quietloop/shieldd/internal/domain"
)

// ShieldController applies and clears the OS-level block for a set of
// opaque tokens and mirrors the applied state into shared state for UI
// consumption. The mirror keys are best-effort telemetry: the OS-side
// shield remains authoritative when a mirror write fails.
type ShieldController struct {
	shield domain.ShieldAPI
	state  domain.SharedState
	logger *zap.Logger
	now    func() time.Time
}

// NewShieldController creates a shield controller.
func NewShieldController(shield domain.ShieldAPI, state domain.SharedState, logger *zap.Logger) *ShieldController {
	return &ShieldController{
		shield: shield,
		state:  state,
		logger: logger,
		now:    time.Now,
	}
}

// Apply replaces the full shielded set (not additive) and updates the
// currentlyBlocked_* mirrors. Applying identical sets twice leaves shared
// state byte-identical to a single call: the mirror writes, including the
// timestamp, are skipped when nothing changed.
func (c *ShieldController) Apply(appTokens, categoryTokens domain.TokenSet) error {
	if appTokens == nil {
		appTokens = domain.NewTokenSet()
	}
	if categoryTokens == nil {
		categoryTokens = domain.NewTokenSet()
	}

	if err := c.shield.SetShielded(appTokens, categoryTokens); err != nil {
		return err
	}

	if appTokens.IsEmpty() && categoryTokens.IsEmpty() {
		c.deleteMirrors()
		return nil
	}

	curApps, curCats := c.CurrentlyBlocked()
	if curApps.Equal(appTokens) && curCats.Equal(categoryTokens) {
		return nil
	}

	// Mirror failures are logged, not returned: the shield call above
	// already succeeded and the mirror is UI telemetry only.
	if err := c.state.SetTokenSet(domain.KeyCurrentlyBlockedApps, appTokens); err != nil {
		c.logger.Warn("failed to mirror blocked apps", zap.Error(err))
	}
	if err := c.state.SetTokenSet(domain.KeyCurrentlyBlockedCategories, categoryTokens); err != nil {
		c.logger.Warn("failed to mirror blocked categories", zap.Error(err))
	}
	if err := c.state.SetTime(domain.KeyCurrentlyBlockedTimestamp, c.now()); err != nil {
		c.logger.Warn("failed to mirror block timestamp", zap.Error(err))
	}

	c.logger.Info("shield applied",
		zap.Int("apps", len(appTokens)),
		zap.Int("categories", len(categoryTokens)))
	return nil
}

// Clear removes all shielding and the mirror keys. Used on day rollover
// and explicit unblock.
func (c *ShieldController) Clear() error {
	if err := c.shield.SetShielded(domain.NewTokenSet(), domain.NewTokenSet()); err != nil {
		return err
	}
	c.deleteMirrors()
	c.logger.Info("shield cleared")
	return nil
}

func (c *ShieldController) deleteMirrors() {
	for _, key := range []string{
		domain.KeyCurrentlyBlockedApps,
		domain.KeyCurrentlyBlockedCategories,
		domain.KeyCurrentlyBlockedTimestamp,
	} {
		if err := c.state.Delete(key); err != nil {
			c.logger.Warn("failed to delete mirror key",
				zap.String("key", key),
				zap.Error(err))
		}
	}
}

// CurrentlyBlocked returns the mirrored blocked sets. Absent or
// undecodable mirrors read as empty sets; the blocked state is derived
// from these keys, never stored separately.
func (c *ShieldController) CurrentlyBlocked() (apps, categories domain.TokenSet) {
	apps = c.readMirror(domain.KeyCurrentlyBlockedApps)
	categories = c.readMirror(domain.KeyCurrentlyBlockedCategories)
	return apps, categories
}

func (c *ShieldController) readMirror(key string) domain.TokenSet {
	ts, ok, err := c.state.GetTokenSet(key)
	if err != nil {
		c.logger.Warn("failed to read mirror key, treating as empty",
			zap.String("key", key),
			zap.Error(err))
		return domain.NewTokenSet()
	}
	if !ok {
		return domain.NewTokenSet()
	}
	return ts
}
