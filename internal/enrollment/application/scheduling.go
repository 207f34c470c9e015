package application

import (
	"github.com/gridwise/enrollflow/internal/enrollment/domain"
)

// ApplySchedulingPolicy filters upstream availability through the instance's
// scheduling settings:
//   - blocked dates are removed entirely, regardless of upstream availability;
//   - per-bucket capacity is clamped to the lesser of the upstream-reported
//     capacity and the configured limit;
//   - dates left with zero available slots across all buckets are dropped.
func ApplySchedulingPolicy(slots []domain.ScheduleSlot, settings domain.InstanceSettings) []domain.ScheduleSlot {
	blocked := make(map[string]bool, len(settings.BlockedDates))
	for _, d := range settings.BlockedDates {
		blocked[d] = true
	}

	out := make([]domain.ScheduleSlot, 0, len(slots))
	for _, slot := range slots {
		if blocked[slot.Date] {
			continue
		}

		filtered := domain.ScheduleSlot{
			Date:  slot.Date,
			Times: make(map[string]domain.SlotAvailability, len(slot.Times)),
		}
		remaining := 0
		for bucket, avail := range slot.Times {
			if limit, ok := settings.CapacityLimits[bucket]; ok && limit < avail.Capacity {
				avail.Capacity = limit
			}
			if avail.Available > avail.Capacity {
				avail.Available = avail.Capacity
			}
			filtered.Times[bucket] = avail
			remaining += avail.Available
		}

		if remaining == 0 {
			continue
		}
		out = append(out, filtered)
	}
	return out
}
