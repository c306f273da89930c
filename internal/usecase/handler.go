package usecase

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/quietloop/shieldd/internal/domain"
)

// dayFormat is the stored form of lastIntervalStartDay: the device's
// local calendar date, so a rollover is a change of printed date, not a
// 24h distance between instants.
const dayFormat = "2006-01-02"

// CallbackHandler is the stateless entry point the OS invokes in the
// background process. Each invocation runs in a short-lived process with
// no continuity from previous ones, so every transition is a pure
// function of (event, shared state) and is safe to re-run from scratch
// on the next relevant event.
//
// Nothing here may crash the callback path: platforms suspend future
// callbacks for crashing handlers, so every failure degrades to a logged
// no-op.
type CallbackHandler struct {
	state    domain.SharedState
	shield   *ShieldController
	bonus    *BonusPool
	notifier domain.Notifier
	logger   *zap.Logger
	now      func() time.Time
}

// NewCallbackHandler creates a handler for one invocation.
func NewCallbackHandler(
	state domain.SharedState,
	shield *ShieldController,
	bonus *BonusPool,
	notifier domain.Notifier,
	logger *zap.Logger,
) *CallbackHandler {
	return &CallbackHandler{
		state:    state,
		shield:   shield,
		bonus:    bonus,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// Handle dispatches a single OS-delivered monitoring event.
func (h *CallbackHandler) Handle(ev domain.MonitorEvent) {
	h.logger.Debug("monitor event",
		zap.String("kind", string(ev.Kind)),
		zap.String("event_id", ev.EventID),
		zap.String("activity", ev.Activity))

	switch ev.Kind {
	case domain.EventIntervalStart:
		h.handleIntervalStart(ev.Activity)
	case domain.EventIntervalEnd:
		h.handleIntervalEnd(ev.Activity)
	case domain.EventThresholdReached:
		h.handleThresholdReached(ev.EventID)
	case domain.EventThresholdWarning:
		// Advisory only, no mutation.
		h.logger.Debug("threshold warning", zap.String("event_id", ev.EventID))
	default:
		h.logger.Warn("unknown event kind", zap.String("kind", string(ev.Kind)))
	}
}

// handleIntervalStart distinguishes a genuine midnight rollover from the
// frequent monitoring restarts the app performs, using the stored local
// calendar date of the last observed interval start.
func (h *CallbackHandler) handleIntervalStart(activity string) {
	if activity != domain.ActivityDailyUsage {
		h.logger.Debug("interval start for non-daily activity", zap.String("activity", activity))
		return
	}

	today := h.now().Format(dayFormat)
	last, ok, err := h.state.GetString(domain.KeyLastIntervalStartDay)
	if err != nil {
		h.logger.Error("failed to read last interval day, skipping", zap.Error(err))
		return
	}

	if !ok {
		// First run or cleared data. Record today but keep any existing
		// shields: a bare app restart must not spuriously unblock.
		if err := h.state.SetString(domain.KeyLastIntervalStartDay, today); err != nil {
			h.logger.Error("failed to record interval day", zap.Error(err))
		}
		h.logger.Info("first interval start observed", zap.String("day", today))
		return
	}

	if last == today {
		// Monitoring restart within the same day, not a day change.
		h.logger.Debug("same-day interval restart", zap.String("day", today))
		return
	}

	// Genuine rollover. Clear shields first: if we die before recording
	// the new day, the next interval start repeats the (idempotent)
	// clear instead of losing it.
	if err := h.shield.Clear(); err != nil {
		h.logger.Error("failed to clear shields on rollover", zap.Error(err))
		return
	}
	if err := h.state.SetString(domain.KeyLastIntervalStartDay, today); err != nil {
		h.logger.Error("failed to record new interval day", zap.Error(err))
	}
	h.notifier.Notify(domain.SignalDayRollover)
	h.logger.Info("day rollover", zap.String("from", last), zap.String("to", today))
}

// handleIntervalEnd fires when the bonus window elapsed without the
// usage threshold being reached.
func (h *CallbackHandler) handleIntervalEnd(activity string) {
	if activity != domain.ActivityBonusSession {
		h.logger.Debug("interval end for non-bonus activity", zap.String("activity", activity))
		return
	}
	h.endBonus()
}

// handleThresholdReached is the blocking transition: either the bonus
// pool was consumed, or an ordinary per-limit threshold crossed.
func (h *CallbackHandler) handleThresholdReached(eventID string) {
	if isBonusEvent(eventID) {
		h.endBonus()
		return
	}

	apps := h.readTokenSet(domain.BlockedTokensKey(eventID))
	cats := h.readTokenSet(domain.BlockedCategoriesKey(eventID))
	if apps.IsEmpty() && cats.IsEmpty() {
		h.logger.Warn("threshold fired with no tokens to block", zap.String("event_id", eventID))
	}

	// Accumulate onto whatever is already blocked: one limit firing must
	// not lift another limit's shield from earlier the same day.
	curApps, curCats := h.shield.CurrentlyBlocked()
	if err := h.shield.Apply(curApps.Union(apps), curCats.Union(cats)); err != nil {
		h.logger.Error("failed to apply shield", zap.String("event_id", eventID), zap.Error(err))
		return
	}

	// Shield application is confirmed before the bonus is collapsed, so
	// a crash in between leaves the user blocked with an intact pool
	// rather than unblocked with a lost one. An ordinary block firing
	// always invalidates a stale bonus.
	h.bonus.Collapse()
	h.notifier.Notify(eventID)
}

// endBonus restores the pre-bonus shields (when the snapshot exists) and
// collapses the pool. Re-running it is harmless: the restore consumes
// the snapshot and collapsing an empty pool is a no-op.
func (h *CallbackHandler) endBonus() {
	h.bonus.RestoreSnapshot()
	h.bonus.Collapse()
	h.notifier.Notify(domain.SignalBonusEnded)
}

// readTokenSet decodes a stored token set, degrading to an empty set on
// any failure.
func (h *CallbackHandler) readTokenSet(key string) domain.TokenSet {
	ts, ok, err := h.state.GetTokenSet(key)
	if err != nil {
		h.logger.Warn("failed to decode token set, treating as empty",
			zap.String("key", key),
			zap.Error(err))
		return domain.NewTokenSet()
	}
	if !ok {
		return domain.NewTokenSet()
	}
	return ts
}

func isBonusEvent(eventID string) bool {
	return eventID == domain.EventIDBonusReached || strings.HasPrefix(eventID, domain.BonusEventPrefix)
}
