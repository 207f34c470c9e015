package apiclient

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/gridwise/enrollflow/internal/enrollment/domain"
	"github.com/gridwise/enrollflow/pkg/logger"
)

// Synthesized identifier prefixes used in demo mode. Dashboards and tests
// recognize demo records by these.
const (
	DemoFsrPrefix = "DEMO-FSR-"
	DemoCaPrefix  = "DEMO-CA-"
)

// DemoClient is the deterministic demo-mode implementation of
// domain.ProgramAPIClient. It performs no network I/O; identifiers are
// derived from the inputs so repeated calls agree with each other.
type DemoClient struct {
	// now is swappable for tests.
	now func() time.Time
}

// NewDemoClient creates the demo client.
func NewDemoClient() *DemoClient {
	return &DemoClient{now: time.Now}
}

// IsDemo implements domain.ProgramAPIClient.
func (c *DemoClient) IsDemo() bool { return true }

// fingerprint derives a stable 8-char token from the inputs.
func fingerprint(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return strings.ToUpper(hex.EncodeToString(sum[:4]))
}

// ValidateAccount implements domain.ProgramAPIClient. Account numbers ending
// in "00" simulate an invalid account; ones ending in "99" simulate a medical
// acknowledgment requirement.
func (c *DemoClient) ValidateAccount(ctx context.Context, accountNumber, zip string) (*domain.AccountValidationResult, error) {
	logger.Debug(ctx, "Demo validateAccount", "account", accountNumber)

	if strings.HasSuffix(accountNumber, "00") {
		return domain.NewAccountValidationResult(map[string]any{
			"is_valid":      false,
			"error_message": "We could not locate an account matching that account number and ZIP code.",
		}), nil
	}

	raw := map[string]any{
		"is_valid":    true,
		"ca_no":       DemoCaPrefix + fingerprint(accountNumber),
		"comverge_no": "DEMO-CV-" + fingerprint(accountNumber, "cv"),
		"first_name":  "Jordan",
		"last_name":   "Sample",
		"email":       "jordan.sample@example.com",
		"address":     "123 Demo Street",
		"city":        "Springfield",
		"state":       "NJ",
		"zip":         zip,
	}
	if strings.HasSuffix(accountNumber, "99") {
		raw["medical_acknowledgment"] = true
	}
	return domain.NewAccountValidationResult(raw), nil
}

// Enroll implements domain.ProgramAPIClient.
func (c *DemoClient) Enroll(ctx context.Context, formData domain.FormData) (map[string]any, error) {
	account := formData.String("utilityAccountNo")
	logger.Debug(ctx, "Demo enroll", "account", account)

	return map[string]any{
		"success":     true,
		"fsr_no":      DemoFsrPrefix + fingerprint(account, "fsr"),
		"ca_no":       DemoCaPrefix + fingerprint(account),
		"comverge_no": "DEMO-CV-" + fingerprint(account, "cv"),
	}, nil
}

// GetScheduleSlots implements domain.ProgramAPIClient. It fabricates fourteen
// days of availability starting the day after startDate, weekends included.
func (c *DemoClient) GetScheduleSlots(ctx context.Context, accountNumber, startDate string, equipment map[string]domain.EquipmentItem) (*domain.SchedulingResult, error) {
	start, err := time.Parse("2006-01-02", startDate)
	if err != nil {
		start = c.now()
	}

	slots := make([]domain.ScheduleSlot, 0, 14)
	for i := 1; i <= 14; i++ {
		date := start.AddDate(0, 0, i)
		times := map[string]domain.SlotAvailability{}
		for j, bucket := range domain.TimeBuckets {
			// Vary availability per bucket so the picker looks alive.
			times[bucket] = domain.SlotAvailability{
				Available: 2 + (i+j)%3,
				Capacity:  4,
			}
		}
		slots = append(slots, domain.ScheduleSlot{
			Date:  date.Format("2006-01-02"),
			Times: times,
		})
	}

	raw := map[string]any{"is_scheduled": false}
	return domain.NewSchedulingResult(raw, slots, equipment), nil
}

// BookAppointment implements domain.ProgramAPIClient. The "ev" bucket
// simulates a just-taken slot so the re-select path stays testable.
func (c *DemoClient) BookAppointment(ctx context.Context, fsrNo, caNo, date, timeBucket string, equipment map[string]domain.EquipmentItem) (string, error) {
	logger.Debug(ctx, "Demo bookAppointment", "date", date, "time", timeBucket)
	if timeBucket == "ev" {
		return domain.BookingCodeUnavailable, nil
	}
	if fsrNo == "" || caNo == "" {
		return "", fmt.Errorf("demo booking requires fsr and ca numbers")
	}
	return domain.BookingCodeSuccess, nil
}

// GetPromoCodes implements domain.ProgramAPIClient.
func (c *DemoClient) GetPromoCodes(ctx context.Context) ([]string, error) {
	return []string{"SPRING25", "NEIGHBOR", "INSTALLFREE", "LEGACY10"}, nil
}
