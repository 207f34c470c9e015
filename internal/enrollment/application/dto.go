package application

import (
	"github.com/gridwise/enrollflow/internal/enrollment/domain"
)

// UserFacingError is the only error type orchestrator methods return. The
// orchestrator catches, classifies and logs lower-layer errors itself;
// transport layers just render what they get.
type UserFacingError struct {
	// Message is safe to show to the end user.
	Message string
	// Fields carries field-scoped validation messages, when applicable.
	Fields domain.ValidationErrors
	// Retrying is set on the final-submission failure path where the user is
	// promised an automatic retry instead of an error screen.
	Retrying bool
	// SlotUnavailable prompts a re-selection instead of a generic failure.
	SlotUnavailable bool
}

func (e *UserFacingError) Error() string { return e.Message }

// ClientMeta carries per-request browser metadata into new submissions.
type ClientMeta struct {
	IPAddress string
	UserAgent string
}

// LoadStepResult is the load_step response payload.
type LoadStepResult struct {
	SessionID string          `json:"session_id"`
	Step      int             `json:"step"`
	Terminal  bool            `json:"terminal"`
	FormType  domain.FormType `json:"form_type"`
	FormData  domain.FormData `json:"form_data"`
	// FormToken is the anti-forgery token required on mutating calls.
	FormToken string `json:"form_token"`
	// Content carries instance-level copy overrides for the frontend.
	Content map[string]string `json:"content,omitempty"`
}

// ValidateAccountResult is the validate_account response payload.
type ValidateAccountResult struct {
	FirstName string         `json:"first_name"`
	LastName  string         `json:"last_name"`
	Email     string         `json:"email,omitempty"`
	Address   domain.Address `json:"address"`
	// RequiresMedicalAcknowledgment asks the frontend to present the medical
	// equipment notice before continuing.
	RequiresMedicalAcknowledgment bool   `json:"requires_medical_acknowledgment,omitempty"`
	MedicalMessage                string `json:"medical_message,omitempty"`
}

// EnrollEarlyResult is the enroll_early response payload.
type EnrollEarlyResult struct {
	FsrNo      string `json:"fsr_no"`
	CaNo       string `json:"ca_no"`
	ComvergeNo string `json:"comverge_no,omitempty"`
}

// SlotsResult is the get_schedule_slots response payload.
type SlotsResult struct {
	Slots          []domain.ScheduleSlot `json:"slots"`
	EquipmentCount int                   `json:"equipment_count"`
	// AlreadyScheduled reports an existing appointment on the account.
	AlreadyScheduled bool   `json:"already_scheduled,omitempty"`
	ScheduledDate    string `json:"scheduled_date,omitempty"`
	ScheduledTime    string `json:"scheduled_time,omitempty"`
}

// SubmitResult is the submit_enrollment response payload.
type SubmitResult struct {
	ConfirmationNumber string `json:"confirmation_number"`
	// ScheduleLater means the customer completed enrollment without booking
	// an appointment.
	ScheduleLater bool `json:"schedule_later"`
}

// BookResult is the book_appointment response payload.
type BookResult struct {
	// ScheduledFor is the human-readable confirmation of date and time.
	ScheduledFor string `json:"scheduled_for"`
	Date         string `json:"date"`
	Time         string `json:"time"`
}

// ResumeResult is the resume_form response payload.
type ResumeResult struct {
	SessionID string          `json:"session_id"`
	Step      int             `json:"step"`
	FormData  domain.FormData `json:"form_data"`
	FormToken string          `json:"form_token"`
}

// Human-readable labels for time buckets, used in confirmations and emails.
var timeBucketLabels = map[string]string{
	"am": "8:00 AM - 11:00 AM",
	"md": "11:00 AM - 2:00 PM",
	"pm": "2:00 PM - 5:00 PM",
	"ev": "5:00 PM - 8:00 PM",
}

// TimeBucketLabel renders a bucket code for display.
func TimeBucketLabel(bucket string) string {
	if label, ok := timeBucketLabels[bucket]; ok {
		return label
	}
	return bucket
}
