package domain

// Shared-state key names. These form the cross-process contract between
// the foreground app and the background monitor callback; both processes
// treat the store as the single source of truth and never assume the
// other holds matching in-memory state.
const (
	// Per-event token sets written by the foreground process before
	// registering thresholds, read by the background handler when the
	// matching threshold fires.
	KeyBlockedTokensPrefix     = "blockedTokens_"
	KeyBlockedCategoriesPrefix = "blockedCategories_"

	// Pre-bonus shield snapshot, written before extending thresholds and
	// consumed by exactly one restore on bonus expiry or consumption.
	KeyBonusSessionApps       = "bonusSession_blockedApps"
	KeyBonusSessionCategories = "bonusSession_blockedCategories"

	KeyBonusMinutes   = "bonusMinutes"
	KeyBonusExpiry    = "bonusExpiryTimestamp"
	KeyBonusCollapsed = "bonusWasCollapsedFlag"

	// Mirror of the applied shield, maintained by the shield controller
	// for UI consumption. The blocked state is derived from these keys,
	// never stored as an enum.
	KeyCurrentlyBlockedApps       = "currentlyBlocked_apps"
	KeyCurrentlyBlockedCategories = "currentlyBlocked_categories"
	KeyCurrentlyBlockedTimestamp  = "currentlyBlocked_timestamp"

	// Local calendar date of the last observed interval start, used to
	// tell a genuine midnight rollover from a monitoring restart.
	KeyLastIntervalStartDay = "lastIntervalStartDay"

	// PID of the running foreground app process, for status reporting.
	KeyAppProcessPID = "appProcessPID"
)

// Monitored activity names.
const (
	ActivityDailyUsage   = "dailyUsage"
	ActivityBonusSession = "bonusSession"
)

// Bonus threshold event identifiers. Event ids carrying the bonus prefix
// are reserved for bonus consumption and never used for ordinary limits.
const (
	EventIDBonusReached = "bonusReached"
	BonusEventPrefix    = "bonus"
)

// Wake-signal event names sent over the unreliable cross-process channel.
// Threshold transitions signal their own event id instead. The receiver
// may not rely on any payload; the UI re-reads shared state after any
// wake signal.
const (
	SignalDayRollover = "dayRollover"
	SignalBonusEnded  = "bonusEnded"
)

// BlockedTokensKey returns the app token-set key for a threshold event.
func BlockedTokensKey(eventID string) string {
	return KeyBlockedTokensPrefix + eventID
}

// BlockedCategoriesKey returns the category token-set key for a threshold event.
func BlockedCategoriesKey(eventID string) string {
	return KeyBlockedCategoriesPrefix + eventID
}
