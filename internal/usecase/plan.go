package usecase

import (
	"sort"

	"github.com/quietloop/shieldd/internal/domain"
)

// ThresholdPlan computes the threshold events to register for the daily
// activity: one event per active limit at its budget extended by any
// bonus minutes. Output is sorted by event id so identical inputs always
// produce identical registrations.
func ThresholdPlan(limits []domain.TimeLimit, bonusMinutes int) []domain.ThresholdEvent {
	events := make([]domain.ThresholdEvent, 0, len(limits))
	for i := range limits {
		limit := &limits[i]
		if !limit.IsActive {
			continue
		}
		events = append(events, domain.ThresholdEvent{
			ID:      limit.EventID(),
			Minutes: limit.DailyBudgetMinutes + bonusMinutes,
		})
	}
	sort.Slice(events, func(i, j int) bool { return events[i].ID < events[j].ID })
	return events
}
