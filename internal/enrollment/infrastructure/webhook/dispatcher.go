// Package webhook delivers business events to configured endpoint URLs and
// mirrors them onto the Kafka event stream.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/gridwise/enrollflow/internal/enrollment/domain"
	"github.com/gridwise/enrollflow/pkg/logger"
	"github.com/gridwise/enrollflow/pkg/metrics"
	"github.com/gridwise/enrollflow/pkg/mq"
)

// URLResolver returns the webhook URLs configured for an instance.
type URLResolver func(ctx context.Context, instanceID uint) []string

// Dispatcher implements domain.EventDispatcher. Delivery is best-effort by
// contract: the enrollment must succeed from the user's perspective no matter
// what happens here.
type Dispatcher struct {
	resolve    URLResolver
	client     *http.Client
	producer   *mq.KafkaProducer
	eventTopic string
	metrics    *metrics.Metrics
}

// NewDispatcher creates a dispatcher. producer may be nil when the Kafka
// mirror is disabled.
func NewDispatcher(resolve URLResolver, producer *mq.KafkaProducer, eventTopic string, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		resolve: resolve,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		producer:   producer,
		eventTopic: eventTopic,
		metrics:    m,
	}
}

// Trigger implements domain.EventDispatcher. Failures are logged and counted,
// never returned.
func (d *Dispatcher) Trigger(ctx context.Context, name string, data map[string]any, instanceID uint) {
	event := domain.Event{
		Name:       name,
		Data:       data,
		Timestamp:  time.Now().UTC(),
		InstanceID: instanceID,
	}

	payload, err := json.Marshal(map[string]any{
		"event":     event.Name,
		"data":      event.Data,
		"timestamp": event.Timestamp.Unix(),
	})
	if err != nil {
		logger.Error(ctx, "Failed to marshal webhook payload", "event", name, "error", err)
		return
	}

	for _, url := range d.resolve(ctx, instanceID) {
		d.deliver(ctx, name, url, payload)
	}

	d.mirror(ctx, name, instanceID, payload)
}

func (d *Dispatcher) deliver(ctx context.Context, event, url string, payload []byte) {
	deliveryID := uuid.New().String()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		d.recordOutcome(ctx, event, "error", url, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Delivery-ID", deliveryID)

	resp, err := d.client.Do(req)
	if err != nil {
		d.recordOutcome(ctx, event, "error", url, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.Warn(ctx, "Webhook endpoint answered non-2xx",
			"event", event, "url", url, "status_code", resp.StatusCode, "delivery_id", deliveryID)
		if d.metrics != nil {
			d.metrics.WebhookDeliveriesTotal.WithLabelValues(event, "rejected").Inc()
		}
		return
	}

	logger.Debug(ctx, "Webhook delivered", "event", event, "url", url, "delivery_id", deliveryID)
	if d.metrics != nil {
		d.metrics.WebhookDeliveriesTotal.WithLabelValues(event, "delivered").Inc()
	}
}

func (d *Dispatcher) recordOutcome(ctx context.Context, event, outcome, url string, err error) {
	logger.Warn(ctx, "Webhook delivery failed", "event", event, "url", url, "error", err)
	if d.metrics != nil {
		d.metrics.WebhookDeliveriesTotal.WithLabelValues(event, outcome).Inc()
	}
}

// mirror publishes the event to the dashboard stream. Same best-effort rules.
func (d *Dispatcher) mirror(ctx context.Context, event string, instanceID uint, payload []byte) {
	if d.producer == nil {
		return
	}

	var value map[string]any
	if err := json.Unmarshal(payload, &value); err != nil {
		return
	}
	value["instance_id"] = instanceID

	if err := d.producer.SendMessage(ctx, d.eventTopic, event, value); err != nil {
		logger.Warn(ctx, "Event mirror publish failed", "event", event, "error", err)
	}
}
