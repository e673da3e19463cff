package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	amqplib "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/SMI/cohort-tracker/internal/domain"
)

// One durable queue per event kind; all share a dead-letter exchange so
// contract-violating messages land in one place for triage.
const (
	QueueJobSubmitted     = "cohort.job.submitted"
	QueueKeyExpectation   = "cohort.key.expectation"
	QueueFileOutcome      = "cohort.file.outcome"
	QueueFileVerification = "cohort.file.verification"

	deadLetterExchange = "dlx.cohort"

	// Reconnection parameters
	maxReconnectDelay  = 30 * time.Second
	baseReconnectDelay = 1 * time.Second
)

// eventQueues maps each queue to the event kind it carries.
var eventQueues = map[string]domain.EventKind{
	QueueJobSubmitted:     domain.KindJobSubmitted,
	QueueKeyExpectation:   domain.KindKeyExpectationReported,
	QueueFileOutcome:      domain.KindFileOutcomeReported,
	QueueFileVerification: domain.KindFileVerificationReported,
}

// decodeEvent unmarshals a delivery body into the event type for its queue.
func decodeEvent(kind domain.EventKind, body []byte) (domain.Event, error) {
	var evt domain.Event
	switch kind {
	case domain.KindJobSubmitted:
		evt = &domain.JobSubmitted{}
	case domain.KindKeyExpectationReported:
		evt = &domain.KeyExpectationReported{}
	case domain.KindFileOutcomeReported:
		evt = &domain.FileOutcomeReported{}
	case domain.KindFileVerificationReported:
		evt = &domain.FileVerificationReported{}
	default:
		return nil, fmt.Errorf("no decoder for event kind %q", kind)
	}
	if err := json.Unmarshal(body, evt); err != nil {
		return nil, err
	}
	return evt, nil
}

// Consumer listens to the four event queues and dispatches EventMessage (with
// ACK callbacks) to a channel. The consumer never auto-ACKs: the worker pool
// settles each message after the engine has processed it.
type Consumer struct {
	url     string
	conn    *amqplib.Connection
	channel *amqplib.Channel
	logger  *zap.Logger
	events  chan<- *domain.EventMessage

	mu      sync.Mutex
	closed  bool
	closeCh chan struct{}
}

// NewConsumer creates a new RabbitMQ consumer over all event queues.
func NewConsumer(url string, events chan<- *domain.EventMessage, logger *zap.Logger) (*Consumer, error) {
	c := &Consumer{
		url:     url,
		logger:  logger,
		events:  events,
		closeCh: make(chan struct{}),
	}

	if err := c.connect(); err != nil {
		return nil, err
	}

	return c, nil
}

// connect establishes the AMQP connection and channel with prefetch=1, and
// declares the event queues.
func (c *Consumer) connect() error {
	conn, err := amqplib.Dial(c.url)
	if err != nil {
		return fmt.Errorf("amqp dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("amqp channel: %w", err)
	}

	// Prefetch 1: one unacknowledged message per consumer, back-pressure via
	// the broker.
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("amqp qos: %w", err)
	}

	for queue := range eventQueues {
		_, err = ch.QueueDeclare(
			queue,
			true,  // durable
			false, // auto-delete
			false, // exclusive
			false, // no-wait
			amqplib.Table{
				"x-queue-type":              "quorum",
				"x-dead-letter-exchange":    deadLetterExchange,
				"x-dead-letter-routing-key": queue + ".dlq",
			},
		)
		if err != nil {
			ch.Close()
			conn.Close()
			return fmt.Errorf("amqp queue declare %s: %w", queue, err)
		}
	}

	c.mu.Lock()
	c.conn = conn
	c.channel = ch
	c.mu.Unlock()

	return nil
}

// Start begins consuming messages. It blocks until the context is cancelled.
// On connection loss it automatically reconnects with exponential backoff.
func (c *Consumer) Start(ctx context.Context) error {
	for {
		err := c.consume(ctx)
		if err == nil {
			// Context was cancelled — clean shutdown.
			return nil
		}

		select {
		case <-c.closeCh:
			return nil
		case <-ctx.Done():
			return nil
		default:
		}

		c.logger.Warn("AMQP consumer lost connection, reconnecting...", zap.Error(err))

		for attempt := 0; ; attempt++ {
			select {
			case <-c.closeCh:
				return nil
			case <-ctx.Done():
				return nil
			default:
			}

			delay := time.Duration(math.Min(
				float64(baseReconnectDelay)*math.Pow(2, float64(attempt)),
				float64(maxReconnectDelay),
			))
			c.logger.Info("Reconnect attempt",
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
			)
			time.Sleep(delay)

			if err := c.connect(); err != nil {
				c.logger.Error("Reconnect failed", zap.Error(err))
				continue
			}

			c.logger.Info("Reconnected to RabbitMQ")
			break
		}
	}
}

// tagged carries a delivery together with the event kind of its queue.
type tagged struct {
	kind     domain.EventKind
	delivery amqplib.Delivery
	ok       bool
}

// consume runs one session across all queues until a delivery channel closes
// or ctx is cancelled.
func (c *Consumer) consume(ctx context.Context) error {
	c.mu.Lock()
	ch := c.channel
	c.mu.Unlock()

	if ch == nil {
		return fmt.Errorf("channel is nil")
	}

	merged := make(chan tagged)
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for queue, kind := range eventQueues {
		deliveries, err := ch.Consume(
			queue,
			"",    // auto-generated consumer tag
			false, // auto-ack disabled (manual ack)
			false, // exclusive
			false, // no-local
			false, // no-wait
			nil,
		)
		if err != nil {
			return fmt.Errorf("amqp consume %s: %w", queue, err)
		}

		go func(kind domain.EventKind, deliveries <-chan amqplib.Delivery) {
			for {
				select {
				case <-sessionCtx.Done():
					return
				case delivery, ok := <-deliveries:
					select {
					case merged <- tagged{kind: kind, delivery: delivery, ok: ok}:
					case <-sessionCtx.Done():
						return
					}
					if !ok {
						return
					}
				}
			}
		}(kind, deliveries)
	}

	c.logger.Info("AMQP consumer started", zap.Int("queues", len(eventQueues)))

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("AMQP consumer stopping (context cancelled)")
			return nil
		case t := <-merged:
			if !t.ok {
				return fmt.Errorf("delivery channel closed")
			}

			evt, err := decodeEvent(t.kind, t.delivery.Body)
			if err != nil {
				c.logger.Error("Failed to unmarshal event",
					zap.Error(err),
					zap.String("kind", string(t.kind)),
					zap.String("body", string(t.delivery.Body)),
				)
				t.delivery.Nack(false, false) // reject → DLQ
				continue
			}

			c.logger.Debug("Received event from queue",
				zap.String("kind", string(t.kind)),
				zap.String("job_id", evt.Job().String()),
			)

			tag := t.delivery.DeliveryTag
			localCh := ch

			msg := &domain.EventMessage{
				Event: evt,
				Ack: func() error {
					return localCh.Ack(tag, false)
				},
				Nack: func(requeue bool) error {
					return localCh.Nack(tag, false, requeue)
				},
			}

			// Dispatch to the worker pool. Blocks when the channel is full,
			// which is the intended back-pressure with prefetch=1.
			select {
			case c.events <- msg:
			case <-ctx.Done():
				// Shutting down — nack so the message is requeued.
				t.delivery.Nack(false, true)
				return nil
			}
		}
	}
}

// Close gracefully shuts down the consumer.
func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.closeCh)

	var firstErr error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			firstErr = err
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
