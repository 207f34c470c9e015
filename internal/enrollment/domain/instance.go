// Package domain holds the enrollment context's entities, value objects,
// repository contracts and business events.
package domain

import (
	"context"
	"strings"
	"time"
)

// FormType distinguishes the configured flow variants.
type FormType string

const (
	FormTypeEnrollment FormType = "enrollment"
	FormTypeScheduler  FormType = "scheduler"
	FormTypeExternal   FormType = "external"
)

// StepCount returns the number of numbered steps for the form type.
func (t FormType) StepCount() int {
	if t == FormTypeScheduler {
		return 2
	}
	return 5
}

// InstanceSettings is the per-instance settings blob, stored as JSON.
type InstanceSettings struct {
	// DemoMode routes every upstream call to the deterministic demo client.
	DemoMode bool `json:"demo_mode"`
	// BlockedDates are ISO dates excluded from scheduling availability.
	BlockedDates []string `json:"blocked_dates,omitempty"`
	// CapacityLimits caps appointments per time bucket (am/md/pm/ev).
	CapacityLimits map[string]int `json:"capacity_limits,omitempty"`
	// PromoCodesAllowed, when non-empty, is a case-insensitive allow list.
	PromoCodesAllowed []string `json:"promo_codes_allowed,omitempty"`
	// PromoCodesHidden is a case-insensitive deny list applied after the allow list.
	PromoCodesHidden []string `json:"promo_codes_hidden,omitempty"`
	// SendConfirmationEmail toggles the completion email.
	SendConfirmationEmail bool `json:"send_confirmation_email"`
	// WebhookURLs receive business-event POSTs.
	WebhookURLs []string `json:"webhook_urls,omitempty"`
	// EmailSubject and EmailBody override the confirmation email template.
	// Both support {placeholder} substitution.
	EmailSubject string `json:"email_subject,omitempty"`
	EmailBody    string `json:"email_body,omitempty"`
	// ContentOverrides replaces step copy rendered by the frontend.
	ContentOverrides map[string]string `json:"content_overrides,omitempty"`
}

// PromoCodeVisible applies the allow/deny lists to a single code.
func (s InstanceSettings) PromoCodeVisible(code string) bool {
	lc := strings.ToLower(strings.TrimSpace(code))
	if len(s.PromoCodesAllowed) > 0 {
		allowed := false
		for _, a := range s.PromoCodesAllowed {
			if strings.ToLower(strings.TrimSpace(a)) == lc {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}
	for _, h := range s.PromoCodesHidden {
		if strings.ToLower(strings.TrimSpace(h)) == lc {
			return false
		}
	}
	return true
}

// FormInstance is one configured deployment of the form for a utility program.
// The slug is unique and treated as immutable after creation; URL routing
// depends on it.
type FormInstance struct {
	ID      uint   `json:"id"`
	Slug    string `json:"slug"`
	Name    string `json:"name"`
	Utility string `json:"utility"`
	// FormType selects the flow variant and its step count.
	FormType FormType `json:"form_type"`
	// APIEndpoint and credentials for the utility-program API. The password is
	// encrypted at rest; repositories hand it to callers decrypted.
	APIEndpoint string `json:"api_endpoint"`
	APIUsername string `json:"api_username"`
	APIPassword string `json:"-"`
	TestMode    bool   `json:"test_mode"`
	IsActive    bool   `json:"is_active"`

	Settings InstanceSettings `json:"settings"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// InstanceUpdate is a partial update for a form instance. Nil pointer fields
// are left unchanged.
type InstanceUpdate struct {
	Name        *string
	Utility     *string
	FormType    *FormType
	APIEndpoint *string
	APIUsername *string
	// APIPassword set to an empty string means "do not change".
	APIPassword *string
	TestMode    *bool
	IsActive    *bool
	Settings    *InstanceSettings
}

// InstanceRepository persists form instances. Lookups return (nil, nil) on miss.
type InstanceRepository interface {
	Create(ctx context.Context, inst *FormInstance) (uint, error)
	Update(ctx context.Context, id uint, upd InstanceUpdate) error
	Get(ctx context.Context, id uint) (*FormInstance, error)
	// GetBySlug returns the instance for a slug. With activeOnly, inactive
	// instances are reported via ErrInstanceInactive so callers can
	// distinguish "exists but disabled" from "not found".
	GetBySlug(ctx context.Context, slug string, activeOnly bool) (*FormInstance, error)
	GetByUtility(ctx context.Context, utility string) (*FormInstance, error)
}
