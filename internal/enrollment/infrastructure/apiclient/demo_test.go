package apiclient

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridwise/enrollflow/internal/enrollment/domain"
)

func TestDemoClientIsDemo(t *testing.T) {
	assert.True(t, NewDemoClient().IsDemo())
}

func TestDemoValidateAccount(t *testing.T) {
	c := NewDemoClient()
	ctx := context.Background()

	t.Run("valid account", func(t *testing.T) {
		result, err := c.ValidateAccount(ctx, "1234567890", "08601")
		require.NoError(t, err)
		assert.True(t, result.IsValid())
		assert.Equal(t, "Jordan", result.FirstName())
		assert.Equal(t, "Sample", result.LastName())
		assert.Equal(t, "08601", result.GetAddress().Zip)
		assert.True(t, strings.HasPrefix(result.CaNo(), DemoCaPrefix))
		assert.False(t, result.RequiresMedicalAcknowledgment())
	})

	t.Run("suffix 00 is invalid", func(t *testing.T) {
		result, err := c.ValidateAccount(ctx, "1234567800", "08601")
		require.NoError(t, err)
		assert.False(t, result.IsValid())
		assert.NotEmpty(t, result.ErrorMessage())
	})

	t.Run("suffix 99 requires medical acknowledgment", func(t *testing.T) {
		result, err := c.ValidateAccount(ctx, "1234567899", "08601")
		require.NoError(t, err)
		assert.True(t, result.IsValid())
		assert.True(t, result.RequiresMedicalAcknowledgment())
	})

	t.Run("identifiers are deterministic", func(t *testing.T) {
		a, err := c.ValidateAccount(ctx, "5551112222", "08601")
		require.NoError(t, err)
		b, err := c.ValidateAccount(ctx, "5551112222", "08601")
		require.NoError(t, err)
		assert.Equal(t, a.CaNo(), b.CaNo())
		assert.Equal(t, a.ComvergeNo(), b.ComvergeNo())

		other, err := c.ValidateAccount(ctx, "5551113333", "08601")
		require.NoError(t, err)
		assert.NotEqual(t, a.CaNo(), other.CaNo())
	})
}

func TestDemoEnrollMatchesValidation(t *testing.T) {
	c := NewDemoClient()
	ctx := context.Background()

	validation, err := c.ValidateAccount(ctx, "1234567890", "08601")
	require.NoError(t, err)

	raw, err := c.Enroll(ctx, domain.FormData{"utilityAccountNo": "1234567890"})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(domain.ExtractFsrNo(raw), DemoFsrPrefix))
	assert.Equal(t, validation.CaNo(), domain.ExtractCaNo(raw))
	assert.Equal(t, validation.ComvergeNo(), domain.ExtractComvergeNo(raw))
}

func TestDemoGetScheduleSlots(t *testing.T) {
	c := NewDemoClient()
	c.now = func() time.Time { return time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC) }

	equipment := map[string]domain.EquipmentItem{
		"TSTAT": {Count: 2, Location: "inside"},
	}
	result, err := c.GetScheduleSlots(context.Background(), "1234567890", "2026-09-10", equipment)
	require.NoError(t, err)

	assert.False(t, result.IsScheduled())
	assert.Equal(t, 2, result.TotalEquipmentCount())

	slots := result.Slots()
	require.Len(t, slots, 14)
	assert.Equal(t, "2026-09-11", slots[0].Date)
	assert.Equal(t, "2026-09-24", slots[13].Date)
	for _, slot := range slots {
		require.Len(t, slot.Times, len(domain.TimeBuckets))
		for _, bucket := range domain.TimeBuckets {
			avail := slot.Times[bucket]
			assert.Positive(t, avail.Available)
			assert.Equal(t, 4, avail.Capacity)
		}
	}
}

func TestDemoGetScheduleSlotsBadDateFallsBackToNow(t *testing.T) {
	c := NewDemoClient()
	c.now = func() time.Time { return time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC) }

	result, err := c.GetScheduleSlots(context.Background(), "1234567890", "not-a-date", nil)
	require.NoError(t, err)
	require.NotEmpty(t, result.Slots())
	assert.Equal(t, "2026-09-02", result.Slots()[0].Date)
}

func TestDemoBookAppointment(t *testing.T) {
	c := NewDemoClient()
	ctx := context.Background()

	code, err := c.BookAppointment(ctx, "DEMO-FSR-AA", "DEMO-CA-BB", "2026-09-11", "am", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingCodeSuccess, code)

	code, err = c.BookAppointment(ctx, "DEMO-FSR-AA", "DEMO-CA-BB", "2026-09-11", "ev", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingCodeUnavailable, code)

	_, err = c.BookAppointment(ctx, "", "", "2026-09-11", "am", nil)
	assert.Error(t, err)
}

func TestDemoGetPromoCodes(t *testing.T) {
	codes, err := NewDemoClient().GetPromoCodes(context.Background())
	require.NoError(t, err)
	assert.Contains(t, codes, "SPRING25")
}
