package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/gazeta-aberta/gazeta/internal/gazette"
	"github.com/gazeta-aberta/gazeta/internal/observability"
	"github.com/gazeta-aberta/gazeta/internal/queue"
	"github.com/gazeta-aberta/gazeta/internal/registry"
	"github.com/gazeta-aberta/gazeta/internal/spider"
	"github.com/gazeta-aberta/gazeta/internal/webhook"
)

// WebhookRegistry is the registry surface the webhook stage works through.
type WebhookRegistry interface {
	GetAnalysisByID(ctx context.Context, analysisID string) (*gazette.AnalysisResult, error)
	GetCrawl(ctx context.Context, id int64) (*gazette.GazetteCrawl, error)
	CountSentDeliveries(ctx context.Context, subscriptionID, analysisID string) (int, error)
	RecordDelivery(ctx context.Context, d *gazette.Delivery) (int64, error)
	RecordProgress(ctx context.Context, ev gazette.ProgressEvent) error
	RecordError(ctx context.Context, cause error) error
}

// SubscriptionProvider lists the subscriptions eligible for delivery.
type SubscriptionProvider interface {
	Active(ctx context.Context) ([]gazette.Subscription, error)
}

// Deliverer posts one notification to one subscription and reports the
// audit record of the attempt chain.
type Deliverer interface {
	Deliver(ctx context.Context, sub *gazette.Subscription, n webhook.Notification) *gazette.Delivery
}

// WebhookStageDeps wires a WebhookStage.
type WebhookStageDeps struct {
	Registry      WebhookRegistry
	Subscriptions SubscriptionProvider
	Deliverer     Deliverer
	Catalog       *spider.Catalog
	Metrics       *observability.PipelineMetrics
	Logger        *slog.Logger
}

// WebhookStage consumes analysis callbacks and fans each one out to the
// matching subscriptions. Permanently failed deliveries are recorded and
// not replayed; only an interrupted attempt chain redelivers the
// message, and per-subscription delivery caps bound what a redelivery
// can send again.
type WebhookStage struct {
	registry  WebhookRegistry
	subs      SubscriptionProvider
	deliverer Deliverer
	catalog   *spider.Catalog
	metrics   *observability.PipelineMetrics
	logger    *slog.Logger
}

// NewWebhookStage wires a webhook stage handler.
func NewWebhookStage(d WebhookStageDeps) *WebhookStage {
	return &WebhookStage{
		registry:  d.Registry,
		subs:      d.Subscriptions,
		deliverer: d.Deliverer,
		catalog:   d.Catalog,
		metrics:   d.Metrics,
		logger:    d.Logger,
	}
}

// Handle is the queue.Handler for the webhook stage.
func (s *WebhookStage) Handle(ctx context.Context, msg queue.Message) queue.Disposition {
	var m queue.WebhookMessage
	if err := json.Unmarshal(msg.Data, &m); err != nil {
		s.logger.ErrorContext(ctx, "undecodable webhook message", "error", err)

		return queue.Terminate
	}

	if m.Type != queue.TypeAnalysisComplete {
		s.logger.WarnContext(ctx, "unknown webhook message type", "type", m.Type)

		return queue.Terminate
	}

	logger := s.logger.With("analysis_id", m.Payload.AnalysisResultID, "attempt", msg.Attempt)

	res, err := s.registry.GetAnalysisByID(ctx, m.Payload.AnalysisResultID)
	if errors.Is(err, registry.ErrNotFound) {
		logger.ErrorContext(ctx, "analysis row missing, dropping message")
		logError(ctx, s.registry, logger, gazette.NewError(gazette.KindNotFound, "analysis_missing", err).
			WithContext("analysis_id", m.Payload.AnalysisResultID))

		return queue.Terminate
	}

	if err != nil {
		logger.WarnContext(ctx, "load analysis failed", "error", err)

		return queue.Retry
	}

	spiderID, ok := s.spiderFor(ctx, logger, m.Payload.GazetteCrawlID)
	if !ok {
		return queue.Retry
	}

	subs, err := s.subs.Active(ctx)
	if err != nil {
		logger.WarnContext(ctx, "load subscriptions failed", "error", err)

		return queue.Retry
	}

	events := webhook.Events(res)
	ext := extensions(spiderID, m.Payload.JobID)

	var sent, failed, interrupted int

	for i := range subs {
		sub := &subs[i]

		if !webhook.Matches(sub, res, spiderID) {
			continue
		}

		for _, event := range events {
			if !sub.WantsEvent(event) {
				continue
			}

			under, err := s.underCap(ctx, sub, res.AnalysisID)
			if err != nil {
				logger.WarnContext(ctx, "count deliveries failed", "error", err)

				return queue.Retry
			}

			if !under {
				logger.DebugContext(ctx, "delivery cap reached",
					"subscription_id", sub.ID, "event", event)

				continue
			}

			n := webhook.BuildNotification(event, res, s.catalog.TerritoryName(res.TerritoryID), ext)
			d := s.deliverer.Deliver(ctx, sub, n)

			if _, err := s.registry.RecordDelivery(ctx, d); err != nil {
				logger.WarnContext(ctx, "record delivery failed", "error", err)
				logError(ctx, s.registry, logger, gazette.NewError(gazette.KindStorage, "delivery_record_failed", err).
					WithContext("subscription_id", sub.ID))
			}

			s.metrics.RecordDelivery(ctx, event, string(d.Status))

			switch d.Status {
			case gazette.DeliverySent:
				sent++
			case gazette.DeliveryRetry:
				interrupted++
			default:
				failed++
				logger.WarnContext(ctx, "delivery failed",
					"subscription_id", sub.ID, "event", event, "error", d.LastError)
			}
		}
	}

	if sent+failed+interrupted > 0 {
		recordProgress(ctx, s.registry, logger, gazette.ProgressEvent{
			JobID:    m.Payload.JobID,
			SpiderID: spiderID,
			Stage:    gazette.ProgressWebhookSent,
			Status:   gazette.ProgressOK,
			Detail: map[string]string{
				"sent":   strconv.Itoa(sent),
				"failed": strconv.Itoa(failed),
			},
		})
	}

	logger.InfoContext(ctx, "webhook fanout finished",
		"subscriptions", len(subs), "sent", sent, "failed", failed)

	if interrupted > 0 {
		// A retry-status delivery is an attempt chain cut short, usually
		// by shutdown mid-backoff. The redelivery finishes it; delivery
		// caps bound what already-sent events can go out again.
		return queue.Retry
	}

	return queue.Ack
}

// spiderFor resolves the spider that produced a crawl. A missing row
// degrades to an empty id so spider-filtered subscriptions skip the
// result instead of the whole fanout failing.
func (s *WebhookStage) spiderFor(ctx context.Context, logger *slog.Logger, crawlID int64) (string, bool) {
	crawl, err := s.registry.GetCrawl(ctx, crawlID)
	if errors.Is(err, registry.ErrNotFound) {
		logger.WarnContext(ctx, "crawl row missing for webhook", "crawl_id", crawlID)

		return "", true
	}

	if err != nil {
		logger.WarnContext(ctx, "load crawl failed", "error", err)

		return "", false
	}

	return crawl.SpiderID, true
}

// underCap reports whether the subscription's delivery cap still allows
// a delivery for this analysis.
func (s *WebhookStage) underCap(ctx context.Context, sub *gazette.Subscription, analysisID string) (bool, error) {
	if sub.MaxDeliveries == nil {
		return true, nil
	}

	n, err := s.registry.CountSentDeliveries(ctx, sub.ID, analysisID)
	if err != nil {
		return false, fmt.Errorf("count sent deliveries: %w", err)
	}

	return n < *sub.MaxDeliveries, nil
}

// extensions builds the open-ended notification context; empty values
// are left out and an all-empty map collapses to nil.
func extensions(spiderID, jobID string) map[string]any {
	ext := map[string]any{}

	if spiderID != "" {
		ext["spiderId"] = spiderID
	}

	if jobID != "" {
		ext["crawlJobId"] = jobID
	}

	if len(ext) == 0 {
		return nil
	}

	return ext
}
