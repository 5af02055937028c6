// Package queue is the JetStream fabric between pipeline stages: one
// stream, four subjects, one durable pull consumer per stage. Publishers
// and consumers exchange the typed envelopes in messages.go; everything
// else about delivery (redelivery counts, ack deadlines, backoff) is
// owned by the stream and the per-stage consumer configuration here.
package queue

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/gazeta-aberta/gazeta/internal/config"
	"github.com/gazeta-aberta/gazeta/internal/observability"
)

// DefaultStream is the JetStream stream name when configuration does not
// override it.
const DefaultStream = "GAZETA"

const (
	subjectPrefix  = "gazeta."
	durablePrefix  = "gazeta-"
	durableSuffix  = "-workers"
	streamMaxAge   = 7 * 24 * time.Hour
	asyncMaxAcks   = 256
	connectTimeout = 10 * time.Second
	reconnectWait  = 2 * time.Second
)

// Stage names one hop of the pipeline. Its methods derive the subject and
// consumer configuration, so adding a stage is one constant plus a case in
// the delivery tables below.
type Stage string

// Pipeline stages, in flow order.
const (
	StageCrawl    Stage = "crawl"
	StageOCR      Stage = "ocr"
	StageAnalysis Stage = "analysis"
	StageWebhook  Stage = "webhook"
)

// Stages lists every stage in flow order.
var Stages = []Stage{StageCrawl, StageOCR, StageAnalysis, StageWebhook}

// Subject returns the stream subject carrying this stage's messages.
func (s Stage) Subject() string {
	return subjectPrefix + string(s)
}

// Durable returns the durable consumer name shared by this stage's workers.
func (s Stage) Durable() string {
	return durablePrefix + string(s) + durableSuffix
}

// MaxDeliver bounds redeliveries per message. Crawls get extra headroom
// because source sites flake more than our own dependencies do.
func (s Stage) MaxDeliver() int {
	if s == StageCrawl {
		return 5
	}

	return 3
}

// AckWait is how long a worker may hold a message before the broker
// redelivers it to someone else.
func (s Stage) AckWait() time.Duration {
	switch s {
	case StageCrawl:
		return 10 * time.Minute
	case StageOCR, StageAnalysis:
		return 5 * time.Minute
	default:
		return 2 * time.Minute
	}
}

// Client wraps one NATS connection with its JetStream context.
type Client struct {
	nc      *nats.Conn
	js      nats.JetStreamContext
	logger  *slog.Logger
	metrics *observability.PipelineMetrics
	stream  string
}

// Connect dials NATS and prepares the JetStream context. The connection
// reconnects forever; pipeline progress is durable, so an outage only
// pauses consumption.
func Connect(cfg config.QueueConfig, logger *slog.Logger, metrics *observability.PipelineMetrics) (*Client, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("gazeta"),
		nats.Timeout(connectTimeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(reconnectWait),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := nc.JetStream(nats.PublishAsyncMaxPending(asyncMaxAcks))
	if err != nil {
		nc.Close()

		return nil, fmt.Errorf("jetstream context: %w", err)
	}

	stream := cfg.Stream
	if stream == "" {
		stream = DefaultStream
	}

	return &Client{
		nc:      nc,
		js:      js,
		logger:  logger,
		metrics: metrics,
		stream:  stream,
	}, nil
}

// EnsureStream creates the stream when it does not exist yet. Existing
// streams are left untouched so operators can tune retention without the
// process fighting them on every boot.
func (c *Client) EnsureStream() error {
	_, err := c.js.StreamInfo(c.stream)
	if err == nil {
		return nil
	}

	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream info %s: %w", c.stream, err)
	}

	subjects := make([]string, len(Stages))
	for i, stage := range Stages {
		subjects[i] = stage.Subject()
	}

	_, err = c.js.AddStream(&nats.StreamConfig{
		Name:      c.stream,
		Subjects:  subjects,
		Retention: nats.LimitsPolicy,
		Storage:   nats.FileStorage,
		MaxAge:    streamMaxAge,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("add stream %s: %w", c.stream, err)
	}

	c.logger.Info("created jetstream stream", "stream", c.stream, "subjects", subjects)

	return nil
}

// Close drains the connection, letting in-flight acks finish.
func (c *Client) Close() error {
	if err := c.nc.Drain(); err != nil {
		return fmt.Errorf("drain nats: %w", err)
	}

	return nil
}
