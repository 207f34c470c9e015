package domain

import "context"

// Booking outcome codes returned by the scheduling system. Callers branch on
// all three, so the trichotomy must survive every layer.
const (
	BookingCodeSuccess     = "0"
	BookingCodeUnavailable = "-1"
)

// ProgramAPIClient talks to the utility-program enrollment/scheduling API.
// Two implementations exist: a live HTTP client and a deterministic demo
// client selected per instance by the demo_mode setting. Business rejections
// (invalid account, slot taken) are never transport errors; only protocol
// failures surface as *APIError.
type ProgramAPIClient interface {
	// ValidateAccount checks an account/zip pair. A business-invalid account
	// comes back as a result with IsValid() == false, not as an error.
	ValidateAccount(ctx context.Context, accountNumber, zip string) (*AccountValidationResult, error)

	// Enroll submits customer, device and schedule data. The raw response map
	// is returned untouched; callers extract identifiers through the
	// candidate-key helpers since the response shape drifts across programs.
	Enroll(ctx context.Context, formData FormData) (map[string]any, error)

	// GetScheduleSlots queries installer availability from startDate for the
	// given equipment.
	GetScheduleSlots(ctx context.Context, accountNumber, startDate string, equipment map[string]EquipmentItem) (*SchedulingResult, error)

	// BookAppointment books a slot and returns the raw booking code:
	// "0" success, "-1" slot no longer available, anything else failure.
	BookAppointment(ctx context.Context, fsrNo, caNo, date, timeBucket string, equipment map[string]EquipmentItem) (string, error)

	// GetPromoCodes lists program promo codes; allow/deny filtering is the
	// caller's responsibility.
	GetPromoCodes(ctx context.Context) ([]string, error)

	// IsDemo reports whether this client is the deterministic demo variant.
	IsDemo() bool
}
