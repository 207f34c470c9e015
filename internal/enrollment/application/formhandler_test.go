package application

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridwise/enrollflow/internal/enrollment/domain"
)

func fixedClockHandler(t *testing.T) *FormHandler {
	t.Helper()
	h := NewFormHandler()
	h.now = func() time.Time {
		return time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	}
	return h
}

func TestValidateStep1(t *testing.T) {
	h := NewFormHandler()

	assert.True(t, h.ValidateStep1(domain.FormData{"account_number": "123456", "zip": "08601"}))

	assert.False(t, h.ValidateStep1(domain.FormData{"zip": "08601"}))
	assert.Contains(t, h.Errors(), "account_number")

	assert.False(t, h.ValidateStep1(domain.FormData{"account_number": "123456", "zip": "8601"}))
	assert.Equal(t, "ZIP code must be 5 digits.", h.Errors()["zip"])
}

func TestValidateStep2(t *testing.T) {
	base := func() domain.FormData {
		return domain.FormData{
			"first_name": "Pat",
			"last_name":  "Smith",
			"email":      "pat@example.com",
			"phone":      "609-555-1234",
			"address":    "1 Main St",
			"city":       "Trenton",
			"state":      "NJ",
			"zip":        "08601",
		}
	}

	h := NewFormHandler()
	assert.True(t, h.ValidateStep2(base()))

	t.Run("bad email", func(t *testing.T) {
		data := base().Merge(domain.FormData{"email": "not-an-email"})
		assert.False(t, h.ValidateStep2(data))
		assert.Equal(t, "Enter a valid email address.", h.Errors()["email"])
	})

	t.Run("email confirm mismatch", func(t *testing.T) {
		data := base().Merge(domain.FormData{"email_confirm": "other@example.com"})
		assert.False(t, h.ValidateStep2(data))
		assert.Contains(t, h.Errors(), "email_confirm")
	})

	t.Run("email confirm case insensitive", func(t *testing.T) {
		data := base().Merge(domain.FormData{"email_confirm": "PAT@Example.COM"})
		assert.True(t, h.ValidateStep2(data))
	})

	t.Run("short phone", func(t *testing.T) {
		data := base().Merge(domain.FormData{"phone": "555-1234"})
		assert.False(t, h.ValidateStep2(data))
		assert.Equal(t, "Phone number must be 10 digits.", h.Errors()["phone"])
	})

	t.Run("out of territory state", func(t *testing.T) {
		data := base().Merge(domain.FormData{"state": "CA"})
		assert.False(t, h.ValidateStep2(data))
		assert.Contains(t, h.Errors(), "state")
	})
}

func TestValidateStep3(t *testing.T) {
	h := NewFormHandler()

	assert.True(t, h.ValidateStep3(domain.FormData{"device_type": "tstat", "thermostat_count": 1}))

	assert.False(t, h.ValidateStep3(domain.FormData{"device_type": "tstat"}))
	assert.Contains(t, h.Errors(), "device_type")

	t.Run("medical acknowledgment required", func(t *testing.T) {
		data := domain.FormData{"device_type": "tstat", "thermostat_count": 1, "medical_flag": true}
		assert.False(t, h.ValidateStep3(data))
		assert.Contains(t, h.Errors(), "medical_acknowledged")

		data["medical_acknowledged"] = true
		assert.True(t, h.ValidateStep3(data))
	})
}

func TestValidateStep4(t *testing.T) {
	h := fixedClockHandler(t)

	assert.True(t, h.ValidateStep4(domain.FormData{"schedule_date": "2026-09-15", "schedule_time": "am"}))

	t.Run("past date", func(t *testing.T) {
		assert.False(t, h.ValidateStep4(domain.FormData{"schedule_date": "2026-08-31", "schedule_time": "am"}))
		assert.Contains(t, h.Errors(), "schedule_date")
	})

	t.Run("unparseable date", func(t *testing.T) {
		assert.False(t, h.ValidateStep4(domain.FormData{"schedule_date": "09/15/2026", "schedule_time": "am"}))
		assert.Equal(t, "Enter a valid date.", h.Errors()["schedule_date"])
	})

	t.Run("bad time bucket", func(t *testing.T) {
		assert.False(t, h.ValidateStep4(domain.FormData{"schedule_date": "2026-09-15", "schedule_time": "noonish"}))
		assert.Contains(t, h.Errors(), "schedule_time")
	})

	t.Run("today accepted in local evening", func(t *testing.T) {
		eastern := time.FixedZone("EDT", -4*60*60)
		h := NewFormHandler()
		h.now = func() time.Time {
			return time.Date(2026, 8, 31, 20, 0, 0, 0, eastern)
		}

		assert.True(t, h.ValidateStep4(domain.FormData{"schedule_date": "2026-08-31", "schedule_time": "am"}))
		assert.False(t, h.ValidateStep4(domain.FormData{"schedule_date": "2026-08-30", "schedule_time": "am"}))
	})
}

func TestValidateStep5(t *testing.T) {
	h := NewFormHandler()
	assert.False(t, h.ValidateStep5(domain.FormData{}))
	assert.True(t, h.ValidateStep5(domain.FormData{"terms_accepted": true}))
	assert.True(t, h.ValidateStep5(domain.FormData{"terms_accepted": "1"}))
}

func TestValidateAllCombinesSteps(t *testing.T) {
	h := fixedClockHandler(t)

	data := completeEnrollmentData().Merge(domain.FormData{
		"thermostat_count": 1,
		"schedule_date":    "2026-09-15",
		"schedule_time":    "am",
		"terms_accepted":   true,
	})
	assert.True(t, h.ValidateAll(data))

	delete(data, "email")
	delete(data, "terms_accepted")
	assert.False(t, h.ValidateAll(data))
	assert.Contains(t, h.Errors(), "email")
	assert.Contains(t, h.Errors(), "terms_accepted")
	assert.Equal(t, "This field is required.", h.FirstError())
}

func TestSanitizeStep(t *testing.T) {
	h := NewFormHandler()

	t.Run("whitelist drops unknown fields", func(t *testing.T) {
		out := h.SanitizeStep(1, domain.FormData{
			"account_number": " 12-34 ",
			"zip":            "08601",
			"injected":       "<script>",
		})
		assert.Equal(t, "1234", out["account_number"])
		assert.NotContains(t, out, "injected")
	})

	t.Run("field specific cleaning", func(t *testing.T) {
		out := h.SanitizeStep(2, domain.FormData{
			"email":   " Pat@Example.COM ",
			"phone":   "(609) 555-1234",
			"state":   "nj",
			"address": "1 <b>Main</b> St",
		})
		assert.Equal(t, "pat@example.com", out["email"])
		assert.Equal(t, "6095551234", out["phone"])
		assert.Equal(t, "NJ", out["state"])
		assert.Equal(t, "1 bMain/b St", out["address"])
	})

	t.Run("unknown step yields empty map", func(t *testing.T) {
		assert.Empty(t, h.SanitizeStep(99, domain.FormData{"x": "y"}))
	})
}

func TestPrepareForAPI(t *testing.T) {
	h := NewFormHandler()

	out := h.PrepareForAPI(domain.FormData{
		"phone":      "(609) 555-1234",
		"phone_type": "mobile",
		"first_name": "Pat",
	})
	assert.Equal(t, "6095551234", out["phone"])
	assert.Equal(t, "C", out["phone_type"])
	assert.Equal(t, "Pat", out["first_name"])

	t.Run("unknown phone type defaults to home", func(t *testing.T) {
		out := h.PrepareForAPI(domain.FormData{"phone_type": "carrier pigeon"})
		assert.Equal(t, "H", out["phone_type"])
	})

	t.Run("input map untouched", func(t *testing.T) {
		in := domain.FormData{"phone_type": "work"}
		h.PrepareForAPI(in)
		assert.Equal(t, "work", in["phone_type"])
	})
}

func TestGenerateConfirmationNumber(t *testing.T) {
	h := fixedClockHandler(t)

	pattern := regexp.MustCompile(`^EWR-\d{8}-[A-F0-9]{6}$`)
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		code := h.GenerateConfirmationNumber()
		require.Regexp(t, pattern, code)
		assert.Contains(t, code, "EWR-20260901-")
		seen[code] = true
	}
	// 3 random bytes across 50 draws should never collide in practice.
	assert.Greater(t, len(seen), 45)
}
