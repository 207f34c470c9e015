// Package apiclient implements the utility-program API client in live and
// demo variants.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gridwise/enrollflow/internal/enrollment/domain"
	"github.com/gridwise/enrollflow/pkg/logger"
)

// Options configures the live client.
type Options struct {
	Endpoint string
	Username string
	Password string
	Timeout  time.Duration
}

// HTTPClient is the live implementation of domain.ProgramAPIClient.
type HTTPClient struct {
	opts   Options
	client *http.Client
}

// NewHTTPClient creates the live client.
func NewHTTPClient(opts Options) *HTTPClient {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		opts:   opts,
		client: &http.Client{Timeout: timeout},
	}
}

// IsDemo implements domain.ProgramAPIClient.
func (c *HTTPClient) IsDemo() bool { return false }

// ValidateAccount implements domain.ProgramAPIClient.
func (c *HTTPClient) ValidateAccount(ctx context.Context, accountNumber, zip string) (*domain.AccountValidationResult, error) {
	raw, err := c.post(ctx, "validateAccount", map[string]any{
		"utilityAccountNo": accountNumber,
		"zip":              zip,
	})
	if err != nil {
		return nil, err
	}
	return domain.NewAccountValidationResult(raw), nil
}

// Enroll implements domain.ProgramAPIClient.
func (c *HTTPClient) Enroll(ctx context.Context, formData domain.FormData) (map[string]any, error) {
	return c.post(ctx, "enroll", map[string]any(formData))
}

// GetScheduleSlots implements domain.ProgramAPIClient.
func (c *HTTPClient) GetScheduleSlots(ctx context.Context, accountNumber, startDate string, equipment map[string]domain.EquipmentItem) (*domain.SchedulingResult, error) {
	eq := make(map[string]any, len(equipment))
	for code, item := range equipment {
		eq[code] = map[string]any{"count": item.Count, "location": item.Location}
	}

	raw, err := c.post(ctx, "getScheduleSlots", map[string]any{
		"utilityAccountNo": accountNumber,
		"startDate":        startDate,
		"equipment":        eq,
	})
	if err != nil {
		return nil, err
	}

	return domain.NewSchedulingResult(raw, parseSlots(raw), equipment), nil
}

// BookAppointment implements domain.ProgramAPIClient.
func (c *HTTPClient) BookAppointment(ctx context.Context, fsrNo, caNo, date, timeBucket string, equipment map[string]domain.EquipmentItem) (string, error) {
	eq := make(map[string]any, len(equipment))
	for code, item := range equipment {
		eq[code] = map[string]any{"count": item.Count, "location": item.Location}
	}

	raw, err := c.post(ctx, "bookAppointment", map[string]any{
		"fsrNo":     fsrNo,
		"caNo":      caNo,
		"date":      date,
		"time":      timeBucket,
		"equipment": eq,
	})
	if err != nil {
		return "", err
	}

	code := domain.ExtractString(raw, []string{"code", "result", "status", "bookingCode"})
	if code == "" {
		// Some deployments answer with a bare numeric body; ExtractString
		// already renders numbers, so an empty code here is a protocol drift
		// worth treating as failure.
		return "", domain.NewAPIError("bookAppointment", 0, fmt.Errorf("response carried no booking code"))
	}
	return code, nil
}

// GetPromoCodes implements domain.ProgramAPIClient.
func (c *HTTPClient) GetPromoCodes(ctx context.Context) ([]string, error) {
	raw, err := c.post(ctx, "getPromoCodes", map[string]any{})
	if err != nil {
		return nil, err
	}

	var codes []string
	for _, key := range []string{"promo_codes", "promoCodes", "codes"} {
		if list, ok := raw[key].([]any); ok {
			for _, item := range list {
				if s, ok := item.(string); ok {
					codes = append(codes, s)
				}
			}
			break
		}
	}
	return codes, nil
}

// post issues one JSON call against the program API. Transport and protocol
// failures come back as *domain.APIError; the HTTP status is preserved for
// internal logging, never for end users.
func (c *HTTPClient) post(ctx context.Context, operation string, payload map[string]any) (map[string]any, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, domain.NewAPIError(operation, 0, fmt.Errorf("failed to marshal request: %w", err))
	}

	url := fmt.Sprintf("%s/%s", c.opts.Endpoint, operation)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, domain.NewAPIError(operation, 0, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.opts.Username != "" {
		req.SetBasicAuth(c.opts.Username, c.opts.Password)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		logger.Error(ctx, "Program API call failed", "operation", operation, "error", err)
		return nil, domain.NewAPIError(operation, 0, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, domain.NewAPIError(operation, resp.StatusCode, err)
	}

	logger.Debug(ctx, "Program API call completed",
		"operation", operation,
		"status_code", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, domain.NewAPIError(operation, resp.StatusCode,
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, domain.NewAPIError(operation, resp.StatusCode,
			fmt.Errorf("failed to decode response: %w", err))
	}
	return raw, nil
}

// parseSlots normalizes the upstream slot list. Accepted shapes:
// {"slots": [{"date": "...", "times": {"am": {"available": n, "capacity": n}, ...}}]}
// with "dates" as a fallback key.
func parseSlots(raw map[string]any) []domain.ScheduleSlot {
	var list []any
	for _, key := range []string{"slots", "dates", "availability"} {
		if l, ok := raw[key].([]any); ok {
			list = l
			break
		}
	}
	if list == nil {
		if nested, ok := raw["response"].(map[string]any); ok {
			for _, key := range []string{"slots", "dates", "availability"} {
				if l, ok := nested[key].([]any); ok {
					list = l
					break
				}
			}
		}
	}

	slots := make([]domain.ScheduleSlot, 0, len(list))
	for _, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		slot := domain.ScheduleSlot{
			Date:  domain.ExtractString(entry, []string{"date", "Date", "day"}),
			Times: map[string]domain.SlotAvailability{},
		}
		times, _ := entry["times"].(map[string]any)
		for _, bucket := range domain.TimeBuckets {
			tb, ok := times[bucket].(map[string]any)
			if !ok {
				continue
			}
			slot.Times[bucket] = domain.SlotAvailability{
				Available: extractInt(tb, "available"),
				Capacity:  extractInt(tb, "capacity"),
			}
		}
		if slot.Date != "" {
			slots = append(slots, slot)
		}
	}
	return slots
}

func extractInt(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}
