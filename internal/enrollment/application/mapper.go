// Package application contains the enrollment workflow services: field
// mapping, per-step validation and the step state machine.
package application

import (
	"github.com/gridwise/enrollflow/internal/enrollment/domain"
)

// Operations with distinct required-field sets.
const (
	OperationEnrollment = "enrollment"
	OperationBooking    = "booking"
	OperationScheduler  = "scheduler"
)

// requiredFields is the explicit per-operation required-field table. The set
// is configuration-like data; keeping it in one place makes it testable and
// reviewable instead of inferred ad hoc at call sites.
var requiredFields = map[string][]string{
	OperationEnrollment: {
		"account_number",
		"first_name",
		"last_name",
		"email",
		"phone",
		"address",
		"city",
		"state",
		"zip",
		"device_type",
	},
	OperationBooking: {
		"fsr_no",
		"ca_no",
		"schedule_date",
		"schedule_time",
	},
	OperationScheduler: {
		"account_number",
		"zip",
		"schedule_date",
		"schedule_time",
	},
}

// apiFieldNames translates internal field names to the parameter names the
// program API expects.
var apiFieldNames = map[string]string{
	"account_number":   "utilityAccountNo",
	"first_name":       "firstName",
	"last_name":        "lastName",
	"email":            "emailAddress",
	"phone":            "phoneNo",
	"phone_type":       "phoneType",
	"address":          "addr1",
	"city":             "city",
	"state":            "state",
	"zip":              "zipCode",
	"device_type":      "deviceType",
	"thermostat_count": "tstatCount",
	"switch_count":     "switchCount",
	"cycling_level":    "cyclingLevel",
	"promo_code":       "promoCode",
	"schedule_date":    "scheduleDate",
	"schedule_time":    "scheduleTime",
	"ca_no":            "caNo",
	"fsr_no":           "fsrNo",
	"comverge_no":      "comvergeNo",
}

// fieldLabels renders raw field keys as user-facing labels for missing-field
// messages.
var fieldLabels = map[string]string{
	"account_number":   "Utility account number",
	"first_name":       "First name",
	"last_name":        "Last name",
	"email":            "Email address",
	"email_confirm":    "Email confirmation",
	"phone":            "Phone number",
	"phone_type":       "Phone type",
	"address":          "Street address",
	"city":             "City",
	"state":            "State",
	"zip":              "ZIP code",
	"device_type":      "Device type",
	"thermostat_count": "Number of thermostats",
	"switch_count":     "Number of outdoor switches",
	"cycling_level":    "Cycling level",
	"promo_code":       "Promo code",
	"schedule_date":    "Appointment date",
	"schedule_time":    "Appointment time",
	"fsr_no":           "Service order number",
	"ca_no":            "Customer account number",
	"terms_accepted":   "Terms of participation",
}

// FieldMapper translates internal field names to API parameter names and
// checks required-field completeness per operation.
type FieldMapper struct{}

// NewFieldMapper creates a FieldMapper.
func NewFieldMapper() *FieldMapper {
	return &FieldMapper{}
}

// ValidateRequiredFields returns the missing field keys for an operation, in
// table order. An empty result means the operation can proceed.
func (m *FieldMapper) ValidateRequiredFields(formData domain.FormData, operation string) []string {
	var missing []string
	for _, field := range requiredFields[operation] {
		if formData.String(field) == "" {
			missing = append(missing, field)
		}
	}
	return missing
}

// RequireFields is ValidateRequiredFields returning a typed error when fields
// are missing, so callers can render field-specific guidance.
func (m *FieldMapper) RequireFields(formData domain.FormData, operation string) error {
	if missing := m.ValidateRequiredFields(formData, operation); len(missing) > 0 {
		return &domain.FieldMappingError{Operation: operation, MissingFields: missing}
	}
	return nil
}

// MapEnrollmentData produces the API-shaped parameter map. Pure
// transformation, no side effects; it serves both the real submission and the
// demo-mode "what would be sent" logging.
func (m *FieldMapper) MapEnrollmentData(formData domain.FormData) map[string]any {
	out := make(map[string]any, len(formData))
	for internal, value := range formData {
		if apiName, ok := apiFieldNames[internal]; ok {
			out[apiName] = value
		}
	}
	return out
}

// FieldLabel renders a raw field key as its user-facing label. Unknown keys
// come back unchanged so the message is never empty.
func (m *FieldMapper) FieldLabel(field string) string {
	if label, ok := fieldLabels[field]; ok {
		return label
	}
	return field
}

// FieldLabels maps a field key list through FieldLabel.
func (m *FieldMapper) FieldLabels(fields []string) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = m.FieldLabel(f)
	}
	return out
}
