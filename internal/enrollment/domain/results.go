package domain

import (
	"strconv"
	"strings"
)

// The upstream enrollment API is not consistent about field naming across
// program deployments. Each normalized field is extracted by walking an
// explicit, ordered candidate-key list; the lists below are exhaustive by
// design rather than open-ended.
var (
	caNoKeys         = []string{"ca_no", "caNo", "CaNo", "CANo", "account_no", "accountNumber"}
	comvergeNoKeys   = []string{"comverge_no", "comvergeNo", "ComvergeNo", "cv_no"}
	fsrNoKeys        = []string{"fsr", "fsr_no", "fsrNo", "FsrNo", "serviceOrderNo"}
	confirmationKeys = []string{"confirmation_number", "confirmationNumber", "confirmation", "confNo"}
	firstNameKeys    = []string{"first_name", "firstName", "FirstName", "fname"}
	lastNameKeys     = []string{"last_name", "lastName", "LastName", "lname"}
	emailKeys        = []string{"email", "Email", "emailAddress", "email_address"}
	addressKeys      = []string{"address", "Address", "service_address", "serviceAddress", "addr1"}
	cityKeys         = []string{"city", "City"}
	stateKeys        = []string{"state", "State"}
	zipKeys          = []string{"zip", "Zip", "zip_code", "zipCode", "postalCode"}
	validKeys        = []string{"is_valid", "isValid", "valid", "success"}
	errorMessageKeys = []string{"error_message", "errorMessage", "message", "error"}
	medicalKeys      = []string{"medical_acknowledgment", "medicalAcknowledgment", "requires_medical_ack", "medicalFlag"}
	scheduledKeys    = []string{"is_scheduled", "isScheduled", "scheduled"}
	scheduleDateKeys = []string{"schedule_date", "scheduleDate", "appointmentDate"}
	scheduleTimeKeys = []string{"schedule_time", "scheduleTime", "appointmentTime"}
)

// ExtractString walks candidate keys (including one-level "response.*" paths)
// and returns the first present value rendered as a string.
func ExtractString(raw map[string]any, candidates []string) string {
	if raw == nil {
		return ""
	}
	for _, key := range candidates {
		if v, ok := raw[key]; ok {
			if s := stringify(v); s != "" {
				return s
			}
		}
	}
	// Upstream sometimes nests the payload under "response".
	if nested, ok := raw["response"].(map[string]any); ok {
		for _, key := range candidates {
			if v, ok := nested[key]; ok {
				if s := stringify(v); s != "" {
					return s
				}
			}
		}
	}
	return ""
}

// ExtractBool walks candidate keys and interprets the first present value as
// a boolean.
func ExtractBool(raw map[string]any, candidates []string) bool {
	if raw == nil {
		return false
	}
	for _, key := range candidates {
		if v, ok := raw[key]; ok {
			return truthy(v)
		}
	}
	if nested, ok := raw["response"].(map[string]any); ok {
		for _, key := range candidates {
			if v, ok := nested[key]; ok {
				return truthy(v)
			}
		}
	}
	return false
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		if t {
			return "true"
		}
		return "false"
	}
	return ""
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		s := strings.ToLower(strings.TrimSpace(t))
		return s == "true" || s == "1" || s == "y" || s == "yes"
	case float64:
		return t != 0
	}
	return false
}

// Address is the normalized service address from account validation.
type Address struct {
	Street string `json:"street"`
	City   string `json:"city"`
	State  string `json:"state"`
	Zip    string `json:"zip"`
}

// AccountValidationResult normalizes the upstream account-validation response.
// It is ephemeral; derived fields are folded into Submission.FormData.
type AccountValidationResult struct {
	raw map[string]any
}

// NewAccountValidationResult wraps a raw upstream response.
func NewAccountValidationResult(raw map[string]any) *AccountValidationResult {
	return &AccountValidationResult{raw: raw}
}

// IsValid reports a business-valid account.
func (r *AccountValidationResult) IsValid() bool {
	return ExtractBool(r.raw, validKeys)
}

// ErrorMessage returns the upstream rejection message, if any.
func (r *AccountValidationResult) ErrorMessage() string {
	return ExtractString(r.raw, errorMessageKeys)
}

// CaNo returns the customer account identifier.
func (r *AccountValidationResult) CaNo() string {
	return ExtractString(r.raw, caNoKeys)
}

// ComvergeNo returns the demand-response platform identifier.
func (r *AccountValidationResult) ComvergeNo() string {
	return ExtractString(r.raw, comvergeNoKeys)
}

// FirstName returns the customer first name on file.
func (r *AccountValidationResult) FirstName() string {
	return ExtractString(r.raw, firstNameKeys)
}

// LastName returns the customer last name on file.
func (r *AccountValidationResult) LastName() string {
	return ExtractString(r.raw, lastNameKeys)
}

// Email returns the customer email on file.
func (r *AccountValidationResult) Email() string {
	return ExtractString(r.raw, emailKeys)
}

// GetAddress returns the normalized service address.
func (r *AccountValidationResult) GetAddress() Address {
	return Address{
		Street: ExtractString(r.raw, addressKeys),
		City:   ExtractString(r.raw, cityKeys),
		State:  ExtractString(r.raw, stateKeys),
		Zip:    ExtractString(r.raw, zipKeys),
	}
}

// RequiresMedicalAcknowledgment reports whether the account carries a medical
// flag that the customer must acknowledge before enrolling.
func (r *AccountValidationResult) RequiresMedicalAcknowledgment() bool {
	return ExtractBool(r.raw, medicalKeys)
}

// Raw exposes the untouched upstream response for logging.
func (r *AccountValidationResult) Raw() map[string]any {
	return r.raw
}

// Time buckets offered by the scheduling system, in display order.
var TimeBuckets = []string{"am", "md", "pm", "ev"}

// SlotAvailability is one time bucket's availability on a date.
type SlotAvailability struct {
	Available int `json:"available"`
	Capacity  int `json:"capacity"`
}

// ScheduleSlot is one date's availability across time buckets.
type ScheduleSlot struct {
	Date  string                      `json:"date"`
	Times map[string]SlotAvailability `json:"times"`
}

// EquipmentItem describes one device type's count and install location.
type EquipmentItem struct {
	Count    int    `json:"count"`
	Location string `json:"location"`
}

// SchedulingResult normalizes the upstream slot-query response.
type SchedulingResult struct {
	raw       map[string]any
	slots     []ScheduleSlot
	equipment map[string]EquipmentItem
}

// NewSchedulingResult wraps a raw slot response together with the equipment
// map the query was made for.
func NewSchedulingResult(raw map[string]any, slots []ScheduleSlot, equipment map[string]EquipmentItem) *SchedulingResult {
	return &SchedulingResult{raw: raw, slots: slots, equipment: equipment}
}

// TotalEquipmentCount sums device counts across equipment types.
func (r *SchedulingResult) TotalEquipmentCount() int {
	total := 0
	for _, item := range r.equipment {
		total += item.Count
	}
	return total
}

// IsScheduled reports whether the account already has an appointment.
func (r *SchedulingResult) IsScheduled() bool {
	return ExtractBool(r.raw, scheduledKeys)
}

// ScheduleDate returns the existing appointment date, when scheduled.
func (r *SchedulingResult) ScheduleDate() string {
	return ExtractString(r.raw, scheduleDateKeys)
}

// ScheduleTime returns the existing appointment time bucket, when scheduled.
func (r *SchedulingResult) ScheduleTime() string {
	return ExtractString(r.raw, scheduleTimeKeys)
}

// Slots returns the raw normalized slot list.
func (r *SchedulingResult) Slots() []ScheduleSlot {
	return r.slots
}

// Equipment returns the equipment map the query was made for.
func (r *SchedulingResult) Equipment() map[string]EquipmentItem {
	return r.equipment
}

// ExtractFsrNo pulls the service order number out of a raw enroll response.
func ExtractFsrNo(raw map[string]any) string {
	return ExtractString(raw, fsrNoKeys)
}

// ExtractCaNo pulls the customer account number out of a raw enroll response.
func ExtractCaNo(raw map[string]any) string {
	return ExtractString(raw, caNoKeys)
}

// ExtractComvergeNo pulls the platform identifier out of a raw enroll response.
func ExtractComvergeNo(raw map[string]any) string {
	return ExtractString(raw, comvergeNoKeys)
}

// ExtractConfirmation pulls an API-issued confirmation number, when present.
func ExtractConfirmation(raw map[string]any) string {
	return ExtractString(raw, confirmationKeys)
}
