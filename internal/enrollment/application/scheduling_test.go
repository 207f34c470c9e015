package application

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridwise/enrollflow/internal/enrollment/domain"
)

func testSlots() []domain.ScheduleSlot {
	return []domain.ScheduleSlot{
		{
			Date: "2026-09-10",
			Times: map[string]domain.SlotAvailability{
				"am": {Available: 3, Capacity: 4},
				"pm": {Available: 2, Capacity: 4},
			},
		},
		{
			Date: "2026-09-11",
			Times: map[string]domain.SlotAvailability{
				"am": {Available: 4, Capacity: 4},
			},
		},
		{
			Date: "2026-09-12",
			Times: map[string]domain.SlotAvailability{
				"am": {Available: 0, Capacity: 4},
				"ev": {Available: 0, Capacity: 4},
			},
		},
	}
}

func TestApplySchedulingPolicyPassThrough(t *testing.T) {
	out := ApplySchedulingPolicy(testSlots(), domain.InstanceSettings{})

	// The zero-availability date drops even without any configured policy.
	require.Len(t, out, 2)
	assert.Equal(t, "2026-09-10", out[0].Date)
	assert.Equal(t, "2026-09-11", out[1].Date)
	assert.Equal(t, domain.SlotAvailability{Available: 3, Capacity: 4}, out[0].Times["am"])
}

func TestApplySchedulingPolicyBlockedDates(t *testing.T) {
	settings := domain.InstanceSettings{BlockedDates: []string{"2026-09-10"}}

	out := ApplySchedulingPolicy(testSlots(), settings)
	require.Len(t, out, 1)
	assert.Equal(t, "2026-09-11", out[0].Date)
}

func TestApplySchedulingPolicyCapacityClamp(t *testing.T) {
	settings := domain.InstanceSettings{CapacityLimits: map[string]int{"am": 2}}

	out := ApplySchedulingPolicy(testSlots(), settings)
	require.Len(t, out, 2)

	// Capacity clamps to the configured limit and availability follows.
	assert.Equal(t, domain.SlotAvailability{Available: 2, Capacity: 2}, out[0].Times["am"])
	// Unconfigured buckets keep upstream numbers.
	assert.Equal(t, domain.SlotAvailability{Available: 2, Capacity: 4}, out[0].Times["pm"])
	assert.Equal(t, domain.SlotAvailability{Available: 2, Capacity: 2}, out[1].Times["am"])
}

func TestApplySchedulingPolicyConfiguredLimitAboveUpstream(t *testing.T) {
	settings := domain.InstanceSettings{CapacityLimits: map[string]int{"am": 10}}

	out := ApplySchedulingPolicy(testSlots(), settings)
	require.Len(t, out, 2)
	// The clamp is min(upstream, configured), never an increase.
	assert.Equal(t, domain.SlotAvailability{Available: 3, Capacity: 4}, out[0].Times["am"])
}

func TestApplySchedulingPolicyClampToZeroDropsDate(t *testing.T) {
	settings := domain.InstanceSettings{CapacityLimits: map[string]int{"am": 0}}

	out := ApplySchedulingPolicy(testSlots(), settings)
	// 2026-09-11 only had an am bucket; clamping it to zero empties the date.
	require.Len(t, out, 1)
	assert.Equal(t, "2026-09-10", out[0].Date)
}

func TestApplySchedulingPolicyDoesNotMutateInput(t *testing.T) {
	slots := testSlots()
	ApplySchedulingPolicy(slots, domain.InstanceSettings{CapacityLimits: map[string]int{"am": 1}})
	assert.Equal(t, domain.SlotAvailability{Available: 3, Capacity: 4}, slots[0].Times["am"])
}
