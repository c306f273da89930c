// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import (
	"encoding/json"
	"sort"
	"time"
)

// Token is a platform-issued identifier for an app or category.
// Tokens are stored and compared by value but never decoded by this system.
type Token string

// TokenSet is an unordered set of opaque tokens.
type TokenSet map[Token]struct{}

// NewTokenSet builds a set from the given tokens.
func NewTokenSet(tokens ...Token) TokenSet {
	s := make(TokenSet, len(tokens))
	for _, t := range tokens {
		s[t] = struct{}{}
	}
	return s
}

// Add inserts a token into the set.
func (s TokenSet) Add(t Token) {
	s[t] = struct{}{}
}

// Contains reports whether the token is in the set.
func (s TokenSet) Contains(t Token) bool {
	_, ok := s[t]
	return ok
}

// IsEmpty reports whether the set has no tokens.
func (s TokenSet) IsEmpty() bool {
	return len(s) == 0
}

// Equal reports whether both sets hold exactly the same tokens.
func (s TokenSet) Equal(other TokenSet) bool {
	if len(s) != len(other) {
		return false
	}
	for t := range s {
		if !other.Contains(t) {
			return false
		}
	}
	return true
}

// Union returns a new set containing tokens from both sets.
func (s TokenSet) Union(other TokenSet) TokenSet {
	out := make(TokenSet, len(s)+len(other))
	for t := range s {
		out[t] = struct{}{}
	}
	for t := range other {
		out[t] = struct{}{}
	}
	return out
}

// Sorted returns the tokens as a sorted string slice.
// Sorting keeps the serialized form stable so identical sets
// always produce identical store writes.
func (s TokenSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for t := range s {
		out = append(out, string(t))
	}
	sort.Strings(out)
	return out
}

// MarshalJSON encodes the set as a sorted JSON array.
func (s TokenSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON decodes a JSON array into the set.
func (s *TokenSet) UnmarshalJSON(data []byte) error {
	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(TokenSet, len(raw))
	for _, t := range raw {
		out[Token(t)] = struct{}{}
	}
	*s = out
	return nil
}

// LimitKind distinguishes all-day budgets from scheduled windows.
type LimitKind string

const (
	LimitDaily     LimitKind = "daily"
	LimitScheduled LimitKind = "scheduled"
)

// ScheduleWindow bounds a scheduled limit to a time-of-day range on
// selected weekdays. Start and End are minutes since local midnight.
type ScheduleWindow struct {
	StartMinute int            `json:"start_minute"`
	EndMinute   int            `json:"end_minute"`
	DaysOfWeek  []time.Weekday `json:"days_of_week"`
}

// TimeLimit is a per-app/category blocking rule owned by the policy store.
// Created, edited and deleted only by the foreground process.
type TimeLimit struct {
	ID                 string
	DisplayName        string
	Kind               LimitKind
	DailyBudgetMinutes int
	Schedule           *ScheduleWindow // nil for daily limits
	IsActive           bool
	AppTokens          TokenSet
	CategoryTokens     TokenSet
	CreatedAt          time.Time
}

// EventID returns the threshold event identifier registered for this limit.
// The background handler uses it to look up the limit's token sets.
func (l *TimeLimit) EventID() string {
	return "limit_" + l.ID
}

// EventKind identifies which monitor callback entry point fired.
type EventKind string

const (
	EventIntervalStart    EventKind = "intervalStart"
	EventIntervalEnd      EventKind = "intervalEnd"
	EventThresholdReached EventKind = "thresholdReached"
	EventThresholdWarning EventKind = "thresholdWarning"
)

// MonitorEvent is a single OS-delivered monitoring callback.
type MonitorEvent struct {
	Kind     EventKind
	EventID  string // set for threshold events
	Activity string // set for interval events
}

// ThresholdEvent is one usage threshold to watch within a monitored activity.
type ThresholdEvent struct {
	ID      string `json:"id"`
	Minutes int    `json:"minutes"`
}

// Registration records a threshold-watch request handed to the OS.
type Registration struct {
	Activity     string
	Events       []ThresholdEvent
	RegisteredAt time.Time
}

// UIState is the read-only snapshot the UI layer renders.
// Rebuilt from shared-state mirrors on every reconcile.
type UIState struct {
	ActiveLimitsCount      int
	BlockedAppsCount       int
	BlockedCategoriesCount int
	BonusMinutes           int
	ShieldsActive          bool
}
