package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	fetchBatch      = 16
	fetchRetryPause = time.Second
	retryDelay      = 5 * time.Second
)

// Disposition is a handler's verdict on one delivery.
type Disposition int

const (
	// Ack removes the message from the stream.
	Ack Disposition = iota

	// Retry redelivers the message after a short delay.
	Retry

	// Terminate drops the message as a poison pill, without waiting for
	// the redelivery budget to run out.
	Terminate
)

func (d Disposition) String() string {
	switch d {
	case Ack:
		return "ack"
	case Retry:
		return "retry"
	case Terminate:
		return "terminate"
	default:
		return "unknown"
	}
}

// Message is one delivery handed to a stage handler.
type Message struct {
	Timestamp time.Time
	Stage     Stage
	Data      []byte
	Attempt   int
}

// Handler processes one delivery and decides its fate. The runner turns
// Retry on the final attempt into termination, so handlers can return
// Retry for any transient failure without tracking the budget themselves.
type Handler func(ctx context.Context, msg Message) Disposition

// acker is the slice of *nats.Msg the disposition switch needs.
type acker interface {
	Ack(opts ...nats.AckOpt) error
	NakWithDelay(delay time.Duration, opts ...nats.AckOpt) error
	Term(opts ...nats.AckOpt) error
}

// Consume runs the stage's durable pull consumer until ctx is cancelled.
// Fetch errors pause and retry; handler panics are not recovered, matching
// the rest of the binary's crash-on-bug posture.
func (c *Client) Consume(ctx context.Context, stage Stage, handler Handler) error {
	sub, err := c.js.PullSubscribe(stage.Subject(), stage.Durable(),
		nats.BindStream(c.stream),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.MaxDeliver(stage.MaxDeliver()),
		nats.AckWait(stage.AckWait()),
	)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", stage, err)
	}

	c.logger.Info("consumer started",
		"stage", string(stage), "durable", stage.Durable(), "max_deliver", stage.MaxDeliver())

	for {
		msgs, err := sub.Fetch(fetchBatch, nats.Context(ctx))

		switch {
		case errors.Is(err, context.Canceled):
			return nil
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, nats.ErrTimeout):
			continue
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}

			c.logger.Error("fetch failed", "stage", string(stage), "error", err)

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(fetchRetryPause):
			}

			continue
		}

		for _, msg := range msgs {
			c.process(ctx, stage, handler, msg)
		}
	}
}

func (c *Client) process(ctx context.Context, stage Stage, handler Handler, msg *nats.Msg) {
	attempt := 1
	ts := time.Now()

	if md, err := msg.Metadata(); err == nil {
		attempt = int(md.NumDelivered)
		ts = md.Timestamp
	}

	done := c.metrics.TrackInflight(ctx, string(stage))
	start := time.Now()
	verdict := handler(ctx, Message{Stage: stage, Data: msg.Data, Attempt: attempt, Timestamp: ts})

	done()

	applied := c.applyDisposition(stage, msg, verdict, attempt)
	c.metrics.RecordMessage(ctx, string(stage), applied.String(), time.Since(start))
}

// applyDisposition maps the handler's verdict onto the broker ack protocol
// and returns what was actually done: a Retry with no attempts left
// becomes Terminate.
func (c *Client) applyDisposition(stage Stage, msg acker, verdict Disposition, attempt int) Disposition {
	switch verdict {
	case Retry:
		if attempt >= stage.MaxDeliver() {
			c.logger.Error("redelivery budget exhausted, terminating",
				"stage", string(stage), "attempt", attempt)

			if err := msg.Term(); err != nil {
				c.logger.Warn("term failed", "stage", string(stage), "error", err)
			}

			return Terminate
		}

		c.logger.Warn("message scheduled for retry",
			"stage", string(stage), "attempt", attempt, "delay", retryDelay)

		if err := msg.NakWithDelay(retryDelay); err != nil {
			c.logger.Warn("nak failed", "stage", string(stage), "error", err)
		}

		return Retry
	case Terminate:
		c.logger.Warn("message terminated", "stage", string(stage), "attempt", attempt)

		if err := msg.Term(); err != nil {
			c.logger.Warn("term failed", "stage", string(stage), "error", err)
		}

		return Terminate
	default:
		if err := msg.Ack(); err != nil {
			c.logger.Warn("ack failed", "stage", string(stage), "error", err)
		}

		return Ack
	}
}
