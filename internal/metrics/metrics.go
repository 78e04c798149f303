// Package metrics records authorization outcomes as OpenTelemetry counters.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName            = "usbmon.security"
	metricDecisionsTotal = "usbmon_authorization_decisions_total"
	metricBlockedTotal   = "usbmon_devices_blocked_total"
	metricEventsTotal    = "usbmon_security_events_total"
)

// Recorder holds the counters. A nil *Recorder records nothing.
type Recorder struct {
	decisions metric.Int64Counter
	blocked   metric.Int64Counter
	events    metric.Int64Counter
}

// New creates a recorder on provider, or on the global provider when nil.
func New(provider metric.MeterProvider) *Recorder {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(meterName)

	r := &Recorder{}

	var err error
	r.decisions, err = meter.Int64Counter(
		metricDecisionsTotal,
		metric.WithDescription("Authorization decisions by method and outcome"),
	)
	if err != nil {
		otel.Handle(err)
	}

	r.blocked, err = meter.Int64Counter(
		metricBlockedTotal,
		metric.WithDescription("Devices blocked by a policy gate"),
	)
	if err != nil {
		otel.Handle(err)
	}

	r.events, err = meter.Int64Counter(
		metricEventsTotal,
		metric.WithDescription("Security events appended to the audit log"),
	)
	if err != nil {
		otel.Handle(err)
	}

	return r
}

// Decision counts one authorization decision.
func (r *Recorder) Decision(ctx context.Context, method string, authorized bool) {
	if r == nil || r.decisions == nil {
		return
	}
	r.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.Bool("authorized", authorized),
	))
}

// Blocked counts a device stopped at gate.
func (r *Recorder) Blocked(ctx context.Context, gate string) {
	if r == nil || r.blocked == nil {
		return
	}
	r.blocked.Add(ctx, 1, metric.WithAttributes(attribute.String("gate", gate)))
}

// SecurityEvent counts an audit event of kind.
func (r *Recorder) SecurityEvent(ctx context.Context, kind string) {
	if r == nil || r.events == nil {
		return
	}
	r.events.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
