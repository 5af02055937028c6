package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/gazeta-aberta/gazeta/internal/backoff"
	"github.com/gazeta-aberta/gazeta/internal/config"
	"github.com/gazeta-aberta/gazeta/internal/gazette"
	"github.com/gazeta-aberta/gazeta/internal/textutil"
	"github.com/gazeta-aberta/gazeta/pkg/version"
)

const (
	// maxResponseBody bounds how much of a subscriber's response is kept
	// on the delivery record.
	maxResponseBody = 2 << 10

	breakerFailureThreshold = 5
	breakerOpenFor          = 60 * time.Second

	defaultMaxAttempts = 3
	defaultBackoff     = time.Second
	maxBackoff         = 30 * time.Second
)

// Deliverer posts notifications to subscriber endpoints. Endpoints share
// one HTTP client; each endpoint URL gets its own circuit breaker so a
// single dead subscriber cannot slow delivery to the rest.
type Deliverer struct {
	httpClient *http.Client
	logger     *slog.Logger
	defaults   config.WebhookConfig

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewDeliverer builds a deliverer with the configured per-request
// timeout and default retry policy.
func NewDeliverer(cfg config.WebhookConfig, logger *slog.Logger) *Deliverer {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Deliverer{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		defaults:   cfg,
		breakers:   make(map[string]*gobreaker.CircuitBreaker),
	}
}

// attemptOutcome is what one HTTP attempt observed.
type attemptOutcome struct {
	statusCode int
	body       string
	durationMS int64
}

// Deliver posts one notification to a subscription, retrying per the
// subscription's policy (falling back to the configured defaults), and
// returns the delivery record to append to the audit log. The record is
// always returned; its status says whether the chain ended in sent or
// failed.
func (d *Deliverer) Deliver(ctx context.Context, sub *gazette.Subscription, n Notification) *gazette.Delivery {
	delivery := &gazette.Delivery{
		SubscriptionID: sub.ID,
		Event:          n.Event,
		AnalysisID:     n.AnalysisID,
		Status:         gazette.DeliveryPending,
	}

	body, err := json.Marshal(n)
	if err != nil {
		delivery.Status = gazette.DeliveryFailed
		delivery.LastError = fmt.Sprintf("marshal notification: %v", err)

		return delivery
	}

	maxAttempts := sub.Retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = d.defaults.MaxAttempts
	}

	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	policy := backoff.Policy{Initial: d.initialBackoff(sub), Max: maxBackoff, Multiplier: 2}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		delivery.Attempts = attempt

		outcome, err := d.attempt(ctx, sub, body)
		if outcome != nil {
			delivery.StatusCode = outcome.statusCode
			delivery.ResponseBody = textutil.Truncate(outcome.body, maxResponseBody)
			delivery.DeliveryTimeMS = outcome.durationMS
		}

		if err == nil {
			now := time.Now().UTC()
			delivery.Status = gazette.DeliverySent
			delivery.DeliveredAt = &now
			delivery.LastError = ""

			return delivery
		}

		delivery.LastError = err.Error()

		if !retryableDelivery(err) || attempt == maxAttempts {
			break
		}

		delivery.Status = gazette.DeliveryRetry

		d.logger.Debug("webhook delivery retrying",
			"subscription", sub.ID,
			"event", n.Event,
			"attempt", attempt,
			"status", delivery.StatusCode,
			"error", err)

		if sleepErr := sleep(ctx, policy.Delay(attempt-1)); sleepErr != nil {
			// Shutdown mid-chain: leave the record in retry so the queue
			// redelivery finishes the job.
			delivery.LastError = sleepErr.Error()

			return delivery
		}
	}

	delivery.Status = gazette.DeliveryFailed

	d.logger.Warn("webhook delivery failed",
		"subscription", sub.ID,
		"event", n.Event,
		"url", sub.URL,
		"attempts", delivery.Attempts,
		"status", delivery.StatusCode,
		"error", delivery.LastError)

	return delivery
}

func (d *Deliverer) initialBackoff(sub *gazette.Subscription) time.Duration {
	backoffMS := sub.Retry.BackoffMS
	if backoffMS <= 0 {
		backoffMS = d.defaults.BackoffMS
	}

	if backoffMS <= 0 {
		return defaultBackoff
	}

	return time.Duration(backoffMS) * time.Millisecond
}

func (d *Deliverer) attempt(ctx context.Context, sub *gazette.Subscription, body []byte) (*attemptOutcome, error) {
	out, err := d.breakerFor(sub.URL).Execute(func() (any, error) {
		return d.post(ctx, sub, body)
	})

	outcome, _ := out.(*attemptOutcome)

	return outcome, err
}

func (d *Deliverer) post(ctx context.Context, sub *gazette.Subscription, body []byte) (*attemptOutcome, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return nil, gazette.NewError(gazette.KindValidation, "webhook_bad_url", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "gazeta-webhook/"+version.Version)
	applyAuth(req, sub.Auth)

	start := time.Now()

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return &attemptOutcome{durationMS: time.Since(start).Milliseconds()},
			gazette.NewError(gazette.KindExternalAPI, "webhook_request_failed", err)
	}
	defer resp.Body.Close()

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))

	outcome := &attemptOutcome{
		statusCode: resp.StatusCode,
		body:       string(snippet),
		durationMS: time.Since(start).Milliseconds(),
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return outcome, gazette.NewError(gazette.KindExternalAPI, "webhook_bad_status",
			fmt.Errorf("webhook status %d", resp.StatusCode)).
			WithHTTPStatus(resp.StatusCode)
	}

	return outcome, nil
}

// applyAuth sets the subscription's credentials on the request. A nil
// auth means the endpoint is open.
func applyAuth(req *http.Request, auth *gazette.SubscriptionAuth) {
	if auth == nil {
		return
	}

	switch auth.Kind {
	case gazette.AuthBearer:
		req.Header.Set("Authorization", "Bearer "+auth.Token)
	case gazette.AuthBasic:
		req.SetBasicAuth(auth.Username, auth.Password)
	case gazette.AuthCustom:
		if auth.Header != "" {
			req.Header.Set(auth.Header, auth.Value)
		}
	}
}

// retryableDelivery decides whether another attempt can change the
// outcome. Client errors other than timeouts and throttling are
// permanent; an open breaker means the endpoint is already known dead.
func retryableDelivery(err error) bool {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}

	var pe *gazette.PipelineError
	if errors.As(err, &pe) && pe.HTTPStatus != 0 {
		switch {
		case pe.HTTPStatus == http.StatusRequestTimeout:
			return true
		case pe.HTTPStatus == http.StatusTooManyRequests:
			return true
		case pe.HTTPStatus >= http.StatusInternalServerError:
			return true
		default:
			return false
		}
	}

	return gazette.Retryable(err)
}

func (d *Deliverer) breakerFor(url string) *gobreaker.CircuitBreaker {
	d.mu.Lock()
	defer d.mu.Unlock()

	if br, ok := d.breakers[url]; ok {
		return br
	}

	br := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "webhook:" + url,
		Timeout: breakerOpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailureThreshold
		},
	})
	d.breakers[url] = br

	return br
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
