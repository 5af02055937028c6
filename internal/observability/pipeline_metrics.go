package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricMessagesTotal     = "gazeta.pipeline.messages.total"
	metricMessageDuration   = "gazeta.pipeline.message.duration.seconds"
	metricMessagesInflight  = "gazeta.pipeline.messages.inflight"
	metricGazettesTotal     = "gazeta.crawl.gazettes.total"
	metricCacheLookupsTotal = "gazeta.ocr.cache.lookups.total"
	metricDeliveriesTotal   = "gazeta.webhook.deliveries.total"

	attrStage       = "stage"
	attrDisposition = "disposition"
	attrSpiderType  = "spider.type"
	attrTier        = "tier"
	attrCacheResult = "result"
	attrEvent       = "event"

	cacheHit  = "hit"
	cacheMiss = "miss"
)

// PipelineMetrics holds OTel instruments for the queue-consumer stages.
type PipelineMetrics struct {
	messagesTotal    metric.Int64Counter
	messageDuration  metric.Float64Histogram
	messagesInflight metric.Int64UpDownCounter
	gazettesTotal    metric.Int64Counter
	cacheLookups     metric.Int64Counter
	deliveriesTotal  metric.Int64Counter
}

// NewPipelineMetrics creates pipeline metric instruments from the given meter.
func NewPipelineMetrics(mt metric.Meter) (*PipelineMetrics, error) {
	b := newMetricBuilder(mt)

	pm := &PipelineMetrics{
		messagesTotal:    b.counter(metricMessagesTotal, "Messages consumed by stage and disposition", "{message}"),
		messageDuration:  b.histogram(metricMessageDuration, "Per-message processing duration in seconds", "s", durationBucketBoundaries...),
		messagesInflight: b.upDownCounter(metricMessagesInflight, "Messages currently being processed", "{message}"),
		gazettesTotal:    b.counter(metricGazettesTotal, "Gazettes discovered by spider type", "{gazette}"),
		cacheLookups:     b.counter(metricCacheLookupsTotal, "OCR cache lookups by tier and result", "{lookup}"),
		deliveriesTotal:  b.counter(metricDeliveriesTotal, "Webhook delivery attempts by event and status", "{delivery}"),
	}

	if b.err != nil {
		return nil, b.err
	}

	return pm, nil
}

// RecordMessage records a consumed message with its stage, final disposition,
// and processing duration. Safe to call on a nil receiver (no-op).
func (pm *PipelineMetrics) RecordMessage(ctx context.Context, stage, disposition string, duration time.Duration) {
	if pm == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String(attrStage, stage),
		attribute.String(attrDisposition, disposition),
	)

	pm.messagesTotal.Add(ctx, 1, attrs)
	pm.messageDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String(attrStage, stage)))
}

// TrackInflight increments the in-flight gauge for a stage and returns a
// function to decrement it. Safe to call on a nil receiver.
func (pm *PipelineMetrics) TrackInflight(ctx context.Context, stage string) func() {
	if pm == nil {
		return func() {}
	}

	attrs := metric.WithAttributes(attribute.String(attrStage, stage))
	pm.messagesInflight.Add(ctx, 1, attrs)

	return func() {
		pm.messagesInflight.Add(ctx, -1, attrs)
	}
}

// RecordGazettes records gazettes discovered by a spider run.
// Safe to call on a nil receiver.
func (pm *PipelineMetrics) RecordGazettes(ctx context.Context, spiderType string, count int64) {
	if pm == nil {
		return
	}

	pm.gazettesTotal.Add(ctx, count, metric.WithAttributes(attribute.String(attrSpiderType, spiderType)))
}

// RecordCacheLookup records an OCR cache lookup against one tier.
// Safe to call on a nil receiver.
func (pm *PipelineMetrics) RecordCacheLookup(ctx context.Context, tier string, hit bool) {
	if pm == nil {
		return
	}

	result := cacheMiss
	if hit {
		result = cacheHit
	}

	pm.cacheLookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrTier, tier),
		attribute.String(attrCacheResult, result),
	))
}

// RecordDelivery records a webhook delivery attempt outcome.
// Safe to call on a nil receiver.
func (pm *PipelineMetrics) RecordDelivery(ctx context.Context, event, status string) {
	if pm == nil {
		return
	}

	pm.deliveriesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrEvent, event),
		attribute.String(attrStatus, status),
	))
}
