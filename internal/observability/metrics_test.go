package observability_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/gazeta-aberta/gazeta/internal/observability"
)

func setupTestMeter(t *testing.T) (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	return reader, mp
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()

	var rm metricdata.ResourceMetrics

	err := reader.Collect(context.Background(), &rm)
	require.NoError(t, err)

	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for idx := range rm.ScopeMetrics {
		for midx := range rm.ScopeMetrics[idx].Metrics {
			if rm.ScopeMetrics[idx].Metrics[midx].Name == name {
				return &rm.ScopeMetrics[idx].Metrics[midx]
			}
		}
	}

	return nil
}

func TestREDMetrics_RecordRequest(t *testing.T) {
	t.Parallel()

	reader, mp := setupTestMeter(t)

	red, err := observability.NewREDMetrics(mp.Meter("test"))
	require.NoError(t, err)

	red.RecordRequest(context.Background(), "dispatch", "ok", time.Millisecond*100)

	rm := collectMetrics(t, reader)

	require.NotNil(t, findMetric(rm, "gazeta.requests.total"))
	require.NotNil(t, findMetric(rm, "gazeta.request.duration.seconds"))
	assert.Nil(t, findMetric(rm, "gazeta.errors.total"), "no error was recorded")
}

func TestREDMetrics_RecordRequestError(t *testing.T) {
	t.Parallel()

	reader, mp := setupTestMeter(t)

	red, err := observability.NewREDMetrics(mp.Meter("test"))
	require.NoError(t, err)

	red.RecordRequest(context.Background(), "dispatch", "error", time.Second)

	rm := collectMetrics(t, reader)

	require.NotNil(t, findMetric(rm, "gazeta.errors.total"))
}

func TestPipelineMetrics_RecordMessage(t *testing.T) {
	t.Parallel()

	reader, mp := setupTestMeter(t)

	pm, err := observability.NewPipelineMetrics(mp.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()

	done := pm.TrackInflight(ctx, "ocr")
	pm.RecordMessage(ctx, "ocr", "ack", 2*time.Second)
	done()

	pm.RecordGazettes(ctx, "doem", 12)
	pm.RecordCacheLookup(ctx, "redis", true)
	pm.RecordCacheLookup(ctx, "postgres", false)
	pm.RecordDelivery(ctx, "concurso.detected", "sent")

	rm := collectMetrics(t, reader)

	require.NotNil(t, findMetric(rm, "gazeta.pipeline.messages.total"))
	require.NotNil(t, findMetric(rm, "gazeta.pipeline.message.duration.seconds"))
	require.NotNil(t, findMetric(rm, "gazeta.pipeline.messages.inflight"))
	require.NotNil(t, findMetric(rm, "gazeta.crawl.gazettes.total"))
	require.NotNil(t, findMetric(rm, "gazeta.ocr.cache.lookups.total"))
	require.NotNil(t, findMetric(rm, "gazeta.webhook.deliveries.total"))
}

func TestPipelineMetrics_NilReceiver(t *testing.T) {
	t.Parallel()

	var pm *observability.PipelineMetrics

	ctx := context.Background()

	// All recorders must be no-ops on a nil receiver.
	pm.RecordMessage(ctx, "crawl", "retry", time.Second)
	pm.RecordGazettes(ctx, "sigpub", 1)
	pm.RecordCacheLookup(ctx, "redis", false)
	pm.RecordDelivery(ctx, "gazette.analyzed", "failed")
	pm.TrackInflight(ctx, "webhook")()
}
