package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metrics holds the storefront's instruments.
type Metrics struct {
	ordersCreated      metric.Int64Counter
	orderDuration      metric.Float64Histogram
	paymentTransitions metric.Int64Counter
	webhooksReceived   metric.Int64Counter
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}

	var err error

	m.ordersCreated, err = meter.Int64Counter(
		"orders_created_total",
		metric.WithDescription("Order creation attempts by outcome"),
		metric.WithUnit("{order}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create orders_created_total counter: %w", err)
	}

	m.orderDuration, err = meter.Float64Histogram(
		"order_creation_duration_seconds",
		metric.WithDescription("Duration of order creation"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create order_creation_duration_seconds histogram: %w", err)
	}

	m.paymentTransitions, err = meter.Int64Counter(
		"payments_transitions_total",
		metric.WithDescription("Payment records reaching a terminal state"),
		metric.WithUnit("{payment}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create payments_transitions_total counter: %w", err)
	}

	m.webhooksReceived, err = meter.Int64Counter(
		"webhooks_received_total",
		metric.WithDescription("Gateway webhook deliveries by outcome"),
		metric.WithUnit("{webhook}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create webhooks_received_total counter: %w", err)
	}

	return m, nil
}

// NopMetrics returns instruments backed by a no-op meter.
func NopMetrics() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider().Meter("nop"))
	return m
}

func (m *Metrics) RecordOrderCreated(ctx context.Context, outcome string, seconds float64) {
	m.ordersCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("status", outcome)))
	m.orderDuration.Record(ctx, seconds)
}

func (m *Metrics) RecordPaymentTransition(ctx context.Context, gateway, status string) {
	m.paymentTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("gateway", gateway),
		attribute.String("status", status),
	))
}

func (m *Metrics) RecordWebhook(ctx context.Context, gateway, outcome string) {
	m.webhooksReceived.Add(ctx, 1, metric.WithAttributes(
		attribute.String("gateway", gateway),
		attribute.String("outcome", outcome),
	))
}
