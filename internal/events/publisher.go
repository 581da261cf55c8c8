package events

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const (
	exchangeName = "generation.events"
	routingKey   = "generation.analytics"
)

// Event names emitted by the pipeline.
const (
	JobEnqueued  = "job_enqueued"
	JobCompleted = "job_completed"
	JobFailed    = "job_failed"
	CacheHit     = "cache_hit"
)

// Publisher emits analytics events onto a topic exchange. Publishing is
// strictly best-effort: failures are logged and swallowed so analytics can
// never fail a generation. A nil Publisher is valid and drops everything.
type Publisher struct {
	channel *amqp.Channel
	logger  zerolog.Logger
}

// NewPublisher connects to the broker at amqpURL and declares the exchange.
// An empty URL disables publishing and returns a nil Publisher.
func NewPublisher(amqpURL string, logger zerolog.Logger) (*Publisher, error) {
	if amqpURL == "" {
		return nil, nil
	}
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, err
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := channel.ExchangeDeclare(exchangeName, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &Publisher{channel: channel, logger: logger}, nil
}

type envelope struct {
	Event     string         `json:"event"`
	Timestamp int64          `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Publish sends one event. It never returns an error: a broker outage costs
// analytics, not jobs.
func (p *Publisher) Publish(ctx context.Context, event string, payload map[string]any) {
	if p == nil {
		return
	}
	body, err := json.Marshal(envelope{
		Event:     event,
		Timestamp: time.Now().Unix(),
		Payload:   payload,
	})
	if err != nil {
		p.logger.Warn().Err(err).Str("event", event).Msg("events: marshal failed")
		return
	}
	err = p.channel.PublishWithContext(ctx, exchangeName, routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		p.logger.Warn().Err(err).Str("event", event).Msg("events: publish failed")
	}
}
