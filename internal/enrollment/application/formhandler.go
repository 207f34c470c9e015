package application

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/gridwise/enrollflow/internal/enrollment/domain"
)

// States the program operates in; step 2 rejects anything else.
var allowedStates = map[string]bool{
	"NJ": true, "NY": true, "PA": true, "CT": true, "DE": true, "MD": true,
}

// phoneTypeCodes maps the form's phone-type enum onto the API's single-letter
// codes. Anything unrecognized defaults to home.
var phoneTypeCodes = map[string]string{
	"mobile": "C",
	"home":   "H",
	"work":   "W",
}

// FormHandler applies per-step validation and sanitization rules. Errors
// accumulate on the instance and are read back after validation, so one
// handler serves exactly one request.
type FormHandler struct {
	errors domain.ValidationErrors
	// errorOrder preserves first-error semantics for single-line display.
	errorOrder []string
	now        func() time.Time
}

// NewFormHandler creates a FormHandler.
func NewFormHandler() *FormHandler {
	return &FormHandler{errors: domain.ValidationErrors{}, now: time.Now}
}

// Errors returns the accumulated field-to-message map.
func (h *FormHandler) Errors() domain.ValidationErrors {
	return h.errors
}

// FirstError returns the first recorded error message, for single-line display.
func (h *FormHandler) FirstError() string {
	if len(h.errorOrder) == 0 {
		return ""
	}
	return h.errors[h.errorOrder[0]]
}

func (h *FormHandler) reset() {
	h.errors = domain.ValidationErrors{}
	h.errorOrder = nil
}

func (h *FormHandler) addError(field, message string) {
	if _, exists := h.errors[field]; !exists {
		h.errorOrder = append(h.errorOrder, field)
	}
	h.errors[field] = message
}

func (h *FormHandler) requireFields(data domain.FormData, fields ...string) {
	for _, f := range fields {
		if strings.TrimSpace(data.String(f)) == "" {
			h.addError(f, "This field is required.")
		}
	}
}

// ValidateStep1 checks the account lookup fields.
func (h *FormHandler) ValidateStep1(data domain.FormData) bool {
	h.reset()
	h.requireFields(data, "account_number", "zip")

	if zip := data.String("zip"); zip != "" && !isDigits(zip, 5) {
		h.addError("zip", "ZIP code must be 5 digits.")
	}
	return len(h.errors) == 0
}

// ValidateStep2 checks customer contact details.
func (h *FormHandler) ValidateStep2(data domain.FormData) bool {
	h.reset()
	h.requireFields(data, "first_name", "last_name", "email", "phone", "address", "city", "state", "zip")

	if email := data.String("email"); email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			h.addError("email", "Enter a valid email address.")
		} else if confirm := data.String("email_confirm"); confirm != "" && !strings.EqualFold(email, confirm) {
			h.addError("email_confirm", "Email addresses do not match.")
		}
	}

	if phone := data.String("phone"); phone != "" {
		if !isDigits(stripNonDigits(phone), 10) {
			h.addError("phone", "Phone number must be 10 digits.")
		}
	}

	if state := strings.ToUpper(data.String("state")); state != "" && !allowedStates[state] {
		h.addError("state", "Service is not offered in that state.")
	}

	if zip := data.String("zip"); zip != "" && !isDigits(zip, 5) {
		h.addError("zip", "ZIP code must be 5 digits.")
	}
	return len(h.errors) == 0
}

// ValidateStep3 checks program/device selection.
func (h *FormHandler) ValidateStep3(data domain.FormData) bool {
	h.reset()
	h.requireFields(data, "device_type")

	if data.String("device_type") != "" && data.Int("thermostat_count")+data.Int("switch_count") == 0 {
		h.addError("device_type", "Select at least one device to install.")
	}

	if data.Bool("medical_flag") && !data.Bool("medical_acknowledged") {
		h.addError("medical_acknowledged", "Please acknowledge the medical equipment notice to continue.")
	}
	return len(h.errors) == 0
}

// ValidateStep4 checks the appointment selection. The date must parse and be
// today or later. Customers may defer scheduling entirely with the
// schedule_later flag, which skips the slot requirements.
func (h *FormHandler) ValidateStep4(data domain.FormData) bool {
	h.reset()
	if data.Bool("schedule_later") {
		return true
	}
	h.requireFields(data, "schedule_date", "schedule_time")

	if raw := data.String("schedule_date"); raw != "" {
		now := h.now()
		parsed, err := time.ParseInLocation("2006-01-02", raw, now.Location())
		if err != nil {
			h.addError("schedule_date", "Enter a valid date.")
		} else {
			today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
			if parsed.Before(today) {
				h.addError("schedule_date", "The appointment date must be today or later.")
			}
		}
	}

	if bucket := data.String("schedule_time"); bucket != "" {
		valid := false
		for _, b := range domain.TimeBuckets {
			if b == bucket {
				valid = true
				break
			}
		}
		if !valid {
			h.addError("schedule_time", "Select a valid appointment time.")
		}
	}
	return len(h.errors) == 0
}

// ValidateStep5 checks the review/confirm step.
func (h *FormHandler) ValidateStep5(data domain.FormData) bool {
	h.reset()
	if !data.Bool("terms_accepted") {
		h.addError("terms_accepted", "You must accept the terms of participation.")
	}
	return len(h.errors) == 0
}

// ValidateAll re-runs every step validator server-side, collecting errors
// across steps. The orchestrator calls it at final submission to defend
// against tampered client state.
func (h *FormHandler) ValidateAll(data domain.FormData) bool {
	combined := domain.ValidationErrors{}
	var order []string

	validators := []func(domain.FormData) bool{
		h.ValidateStep1, h.ValidateStep2, h.ValidateStep3, h.ValidateStep4, h.ValidateStep5,
	}
	for _, validate := range validators {
		validate(data)
		for _, field := range h.errorOrder {
			if _, exists := combined[field]; !exists {
				order = append(order, field)
			}
			combined[field] = h.errors[field]
		}
	}

	h.errors = combined
	h.errorOrder = order
	return len(combined) == 0
}

// Per-step field whitelists for sanitization. Only these survive into the
// stored form data.
var stepFields = map[int][]string{
	1: {"account_number", "zip", "utility_no"},
	2: {"first_name", "last_name", "email", "email_confirm", "phone", "phone_type", "address", "address2", "city", "state", "zip"},
	3: {"device_type", "thermostat_count", "switch_count", "cycling_level", "promo_code", "medical_flag", "medical_acknowledged"},
	4: {"schedule_date", "schedule_time", "schedule_later", "install_notes"},
	5: {"terms_accepted", "marketing_opt_in"},
}

// SanitizeStep produces the cleaned field subset for a step from raw input.
func (h *FormHandler) SanitizeStep(step int, raw domain.FormData) domain.FormData {
	fields, ok := stepFields[step]
	if !ok {
		return domain.FormData{}
	}

	out := domain.FormData{}
	for _, field := range fields {
		v, present := raw[field]
		if !present {
			continue
		}
		out[field] = sanitizeField(field, v)
	}
	return out
}

func sanitizeField(field string, v any) any {
	s, isString := v.(string)
	if !isString {
		return v
	}
	s = strings.TrimSpace(s)

	switch field {
	case "email", "email_confirm":
		return strings.ToLower(s)
	case "phone":
		return stripNonDigits(s)
	case "zip", "account_number", "thermostat_count", "switch_count":
		return stripNonDigits(s)
	case "state":
		return strings.ToUpper(s)
	default:
		// Strip angle brackets so stored values can never smuggle markup into
		// admin views.
		s = strings.ReplaceAll(s, "<", "")
		return strings.ReplaceAll(s, ">", "")
	}
}

// PrepareForAPI performs the final structural transform before submission:
// phone down to bare digits and phone type onto the API's single-letter
// codes. It complements, and does not replace, the FieldMapper.
func (h *FormHandler) PrepareForAPI(data domain.FormData) domain.FormData {
	out := domain.FormData{}
	for k, v := range data {
		out[k] = v
	}

	if phone := out.String("phone"); phone != "" {
		out["phone"] = stripNonDigits(phone)
	}

	code, ok := phoneTypeCodes[strings.ToLower(out.String("phone_type"))]
	if !ok {
		code = "H"
	}
	out["phone_type"] = code

	return out
}

// GenerateConfirmationNumber produces a human-presentable code of the shape
// EWR-YYYYMMDD-XXXXXX. Uniqueness is probabilistic; collisions are accepted
// at this volume.
func (h *FormHandler) GenerateConfirmationNumber() string {
	suffix := make([]byte, 3)
	if _, err := rand.Read(suffix); err != nil {
		// Fall back to a time-derived suffix; the code is presentational, not
		// a credential.
		return fmt.Sprintf("EWR-%s-%06X", h.now().Format("20060102"), h.now().UnixNano()&0xFFFFFF)
	}
	return fmt.Sprintf("EWR-%s-%s", h.now().Format("20060102"), strings.ToUpper(hex.EncodeToString(suffix)))
}

func stripNonDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isDigits(s string, exactLen int) bool {
	if len(s) != exactLen {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
