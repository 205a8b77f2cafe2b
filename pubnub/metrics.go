package pubnub

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"pkt.systems/pslog"
)

const meterName = "github.com/Thejuampi/pubnub-client-go/pubnub"

type clientMetrics struct {
	state     metric.Int64ObservableGauge
	polls     metric.Int64Counter
	events    metric.Int64Counter
	failovers metric.Int64Counter
	publishes metric.Int64Counter
	callback  metric.Registration
}

func newClientMetrics(logger pslog.Base, provider metric.MeterProvider, state func() ConnectionStatus) *clientMetrics {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(meterName)
	m := &clientMetrics{}
	var err error

	m.state, err = meter.Int64ObservableGauge(
		"pubnub.subscribe.state",
		metric.WithDescription("Current subscription connection status"),
	)
	logMetricInitError(logger, "pubnub.subscribe.state", err)

	m.polls, err = meter.Int64Counter(
		"pubnub.subscribe.poll",
		metric.WithDescription("Completed subscribe polls by outcome"),
	)
	logMetricInitError(logger, "pubnub.subscribe.poll", err)

	m.events, err = meter.Int64Counter(
		"pubnub.subscribe.event",
		metric.WithDescription("Events delivered to listeners"),
	)
	logMetricInitError(logger, "pubnub.subscribe.event", err)

	m.failovers, err = meter.Int64Counter(
		"pubnub.endpoint.failover",
		metric.WithDescription("Endpoint rotations after sustained poll failures"),
	)
	logMetricInitError(logger, "pubnub.endpoint.failover", err)

	m.publishes, err = meter.Int64Counter(
		"pubnub.publish",
		metric.WithDescription("Publish calls by outcome"),
	)
	logMetricInitError(logger, "pubnub.publish", err)

	if m.state != nil && state != nil {
		registration, err := meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(m.state, int64(state()))
			return nil
		}, m.state)
		if err != nil && logger != nil {
			logger.Warn("telemetry.metric.callback_failed", "name", "pubnub.subscribe.state", "error", err)
		}
		m.callback = registration
	}
	return m
}

func (m *clientMetrics) recordPoll(ctx context.Context, host string, err error) {
	if m == nil || m.polls == nil {
		return
	}
	m.polls.Add(metricContext(ctx), 1, metric.WithAttributes(
		attribute.String("pubnub.host", host),
		attribute.String("pubnub.outcome", outcomeLabel(err)),
	))
}

func (m *clientMetrics) recordEvent(ctx context.Context, kind string) {
	if m == nil || m.events == nil {
		return
	}
	m.events.Add(metricContext(ctx), 1, metric.WithAttributes(attribute.String("pubnub.event", kind)))
}

func (m *clientMetrics) recordFailover(ctx context.Context, from string, to string) {
	if m == nil || m.failovers == nil {
		return
	}
	m.failovers.Add(metricContext(ctx), 1, metric.WithAttributes(
		attribute.String("pubnub.from", from),
		attribute.String("pubnub.to", to),
	))
}

func (m *clientMetrics) recordPublish(ctx context.Context, fire bool, err error) {
	if m == nil || m.publishes == nil {
		return
	}
	kind := "publish"
	if fire {
		kind = "fire"
	}
	m.publishes.Add(metricContext(ctx), 1, metric.WithAttributes(
		attribute.String("pubnub.kind", kind),
		attribute.String("pubnub.outcome", outcomeLabel(err)),
	))
}

func (m *clientMetrics) close() {
	if m == nil || m.callback == nil {
		return
	}
	_ = m.callback.Unregister()
	m.callback = nil
}

func outcomeLabel(err error) string {
	if err == nil {
		return "success"
	}
	return errorName(ErrorCode(err))
}

func metricContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func logMetricInitError(logger pslog.Base, name string, err error) {
	if err == nil || logger == nil {
		return
	}
	logger.Warn("telemetry.metric.init_failed", "name", name, "error", err)
}
