package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractStringKeyVariants(t *testing.T) {
	assert.Equal(t, "CA-1", ExtractCaNo(map[string]any{"ca_no": "CA-1"}))
	assert.Equal(t, "CA-2", ExtractCaNo(map[string]any{"caNo": "CA-2"}))
	assert.Equal(t, "CA-3", ExtractCaNo(map[string]any{"accountNumber": "CA-3"}))
	assert.Equal(t, "FSR-1", ExtractFsrNo(map[string]any{"serviceOrderNo": "FSR-1"}))
	assert.Equal(t, "", ExtractFsrNo(map[string]any{"unrelated": "x"}))
	assert.Equal(t, "", ExtractFsrNo(nil))
}

func TestExtractStringNestedResponse(t *testing.T) {
	raw := map[string]any{
		"response": map[string]any{
			"fsr_no": "FSR-9",
			"ca_no":  "CA-9",
		},
	}
	assert.Equal(t, "FSR-9", ExtractFsrNo(raw))
	assert.Equal(t, "CA-9", ExtractCaNo(raw))

	// A top-level value wins over the nested one.
	raw["fsr_no"] = "FSR-TOP"
	assert.Equal(t, "FSR-TOP", ExtractFsrNo(raw))
}

func TestExtractStringNumericValues(t *testing.T) {
	// JSON decoding yields float64 for numbers.
	assert.Equal(t, "12345", ExtractCaNo(map[string]any{"ca_no": float64(12345)}))
	assert.Equal(t, "1.5", ExtractCaNo(map[string]any{"ca_no": 1.5}))
}

func TestAccountValidationResult(t *testing.T) {
	r := NewAccountValidationResult(map[string]any{
		"isValid":     true,
		"firstName":   "Pat",
		"last_name":   "Smith",
		"email":       "pat@example.com",
		"address":     "1 Main St",
		"city":        "Trenton",
		"state":       "NJ",
		"zip":         "08601",
		"medicalFlag": "1",
	})
	assert.True(t, r.IsValid())
	assert.Equal(t, "Pat", r.FirstName())
	assert.Equal(t, "Smith", r.LastName())
	assert.Equal(t, "pat@example.com", r.Email())
	assert.Equal(t, Address{Street: "1 Main St", City: "Trenton", State: "NJ", Zip: "08601"}, r.GetAddress())
	assert.True(t, r.RequiresMedicalAcknowledgment())
}

func TestAccountValidationResultRejection(t *testing.T) {
	r := NewAccountValidationResult(map[string]any{
		"is_valid":      false,
		"error_message": "Account not found.",
	})
	assert.False(t, r.IsValid())
	assert.Equal(t, "Account not found.", r.ErrorMessage())
}

func TestSchedulingResultEquipmentAndSlots(t *testing.T) {
	slots := []ScheduleSlot{
		{Date: "2026-09-11", Times: map[string]SlotAvailability{
			"am": {Available: 5, Capacity: 6},
			"pm": {Available: 1, Capacity: 6},
		}},
	}
	r := NewSchedulingResult(map[string]any{"is_scheduled": false}, slots, map[string]EquipmentItem{
		"TSTAT":  {Count: 2, Location: "inside"},
		"SWITCH": {Count: 1, Location: "outside"},
	})

	assert.Equal(t, slots, r.Slots())
	assert.Equal(t, 3, r.TotalEquipmentCount())
	assert.False(t, r.IsScheduled())
}

func TestSchedulingResultExistingAppointment(t *testing.T) {
	r := NewSchedulingResult(map[string]any{
		"isScheduled":  true,
		"scheduleDate": "2026-09-15",
		"scheduleTime": "pm",
	}, nil, nil)
	assert.True(t, r.IsScheduled())
	assert.Equal(t, "2026-09-15", r.ScheduleDate())
	assert.Equal(t, "pm", r.ScheduleTime())
}

func TestFormDataMergeMutatesReceiver(t *testing.T) {
	base := FormData{"a": "1", "keep": "yes"}
	merged := base.Merge(FormData{"a": "2", "b": "3"})

	assert.Equal(t, "2", base.String("a"))
	assert.Equal(t, "yes", merged.String("keep"))
	assert.Equal(t, "3", merged.String("b"))

	var empty FormData
	assert.Equal(t, "x", empty.Merge(FormData{"k": "x"}).String("k"))
}

func TestFormDataAccessors(t *testing.T) {
	d := FormData{
		"flag_bool":    true,
		"flag_str":     "1",
		"flag_no":      "0",
		"count_num":    float64(3),
		"count_str":    "12",
		"count_junk":   "12a",
		"name":         "Pat",
		"not_a_string": 7,
	}
	assert.True(t, d.Bool("flag_bool"))
	assert.True(t, d.Bool("flag_str"))
	assert.False(t, d.Bool("flag_no"))
	assert.False(t, d.Bool("missing"))
	assert.Equal(t, 3, d.Int("count_num"))
	assert.Equal(t, 12, d.Int("count_str"))
	assert.Equal(t, 0, d.Int("count_junk"))
	assert.Equal(t, "Pat", d.String("name"))
	assert.Equal(t, "", d.String("not_a_string"))
}
