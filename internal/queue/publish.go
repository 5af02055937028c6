package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	defaultChunk = 100
	asyncAckWait = 30 * time.Second
)

// Publish marshals payload and sends it on the stage's subject.
func (c *Client) Publish(ctx context.Context, stage Stage, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", stage, err)
	}

	if _, err := c.js.Publish(stage.Subject(), data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish %s: %w", stage, err)
	}

	return nil
}

// BatchFailure reports one payload a batch publish could not place on the
// stream, by its index into the input slice.
type BatchFailure struct {
	Err   error
	Index int
}

// PublishBatch sends payloads in async chunks. A chunk that fails falls
// back to publishing its members one by one, so a single bad ack never
// discards the rest. The returned slice lists the payloads that failed
// both ways; an empty slice means everything was enqueued.
func (c *Client) PublishBatch(ctx context.Context, stage Stage, payloads []any, chunk int) []BatchFailure {
	if chunk <= 0 {
		chunk = defaultChunk
	}

	var failures []BatchFailure

	for start := 0; start < len(payloads); start += chunk {
		end := min(start+chunk, len(payloads))
		failures = append(failures, c.publishChunk(ctx, stage, payloads[start:end], start)...)
	}

	return failures
}

func (c *Client) publishChunk(ctx context.Context, stage Stage, chunk []any, offset int) []BatchFailure {
	type pending struct {
		future nats.PubAckFuture
		index  int
	}

	var (
		failures []BatchFailure
		inflight []pending
	)

	for i, payload := range chunk {
		data, err := json.Marshal(payload)
		if err != nil {
			failures = append(failures, BatchFailure{Index: offset + i, Err: err})

			continue
		}

		future, err := c.js.PublishAsync(stage.Subject(), data)
		if err != nil {
			failures = append(failures, BatchFailure{Index: offset + i, Err: err})

			continue
		}

		inflight = append(inflight, pending{future: future, index: offset + i})
	}

	select {
	case <-c.js.PublishAsyncComplete():
	case <-ctx.Done():
		for _, p := range inflight {
			failures = append(failures, BatchFailure{Index: p.index, Err: ctx.Err()})
		}

		return failures
	case <-time.After(asyncAckWait):
		c.logger.Warn("batch publish acks timed out, retrying individually",
			"stage", stage, "inflight", len(inflight))
	}

	for _, p := range inflight {
		select {
		case <-p.future.Ok():
		case err := <-p.future.Err():
			failures = append(failures, c.republish(ctx, stage, p.future.Msg(), p.index, err)...)
		default:
			// Ack still outstanding after the wait above; resend
			// synchronously rather than guess.
			failures = append(failures, c.republish(ctx, stage, p.future.Msg(), p.index, nil)...)
		}
	}

	return failures
}

// republish is the individual fallback for one async failure.
func (c *Client) republish(ctx context.Context, stage Stage, msg *nats.Msg, index int, cause error) []BatchFailure {
	if msg == nil {
		return []BatchFailure{{Index: index, Err: cause}}
	}

	if _, err := c.js.Publish(msg.Subject, msg.Data, nats.Context(ctx)); err != nil {
		c.logger.Error("fallback publish failed",
			"stage", stage, "index", index, "error", err)

		return []BatchFailure{{Index: index, Err: err}}
	}

	return nil
}
