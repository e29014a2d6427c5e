package enforcement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// AMQPBackend publishes block and unblock commands to a fanout exchange so
// remote enforcement workers can apply them on their own hosts.
type AMQPBackend struct {
	url      string
	exchange string

	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel
}

// AMQPBackendConfig configures the AMQP command publisher.
type AMQPBackendConfig struct {
	URL      string // amqp:// connection URL
	Exchange string // Fanout exchange name (default: ipsentinel.blocks)
}

type amqpCommand struct {
	Action  string `json:"action"`
	Subject string `json:"subject"`
}

// NewAMQPBackend connects to the broker and declares the fanout exchange.
func NewAMQPBackend(config AMQPBackendConfig) (*AMQPBackend, error) {
	if config.Exchange == "" {
		config.Exchange = "ipsentinel.blocks"
	}

	b := &AMQPBackend{url: config.URL, exchange: config.Exchange}
	if err := b.connect(); err != nil {
		return nil, err
	}

	log.Info().Str("exchange", config.Exchange).Msg("Connected to AMQP broker")
	return b, nil
}

// connect (re)establishes the connection and channel. Callers hold b.mu or
// have exclusive access during construction.
func (b *AMQPBackend) connect() error {
	b.closeLocked()

	conn, err := amqp091.Dial(b.url)
	if err != nil {
		return fmt.Errorf("connecting to amqp broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("opening amqp channel: %w", err)
	}

	if err := ch.ExchangeDeclare(b.exchange, "fanout", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("declaring exchange %q: %w", b.exchange, err)
	}

	b.conn = conn
	b.channel = ch
	return nil
}

func (b *AMQPBackend) Ban(ctx context.Context, subject string) error {
	return b.publish(ctx, amqpCommand{Action: "ban", Subject: subject})
}

func (b *AMQPBackend) Unban(ctx context.Context, subject string) error {
	return b.publish(ctx, amqpCommand{Action: "unban", Subject: subject})
}

func (b *AMQPBackend) publish(ctx context.Context, cmd amqpCommand) error {
	body, err := json.Marshal(cmd)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn == nil || b.conn.IsClosed() {
		log.Warn().Msg("AMQP connection lost, reconnecting")
		if err := b.connect(); err != nil {
			return err
		}
	}

	err = b.channel.PublishWithContext(ctx, b.exchange, "", false, false, amqp091.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp091.Persistent,
	})
	if err != nil {
		return fmt.Errorf("publishing %s command: %w", cmd.Action, err)
	}
	return nil
}

// Ping reports connection health without reconnecting.
func (b *AMQPBackend) Ping() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil || b.conn.IsClosed() {
		return errors.New("amqp connection is not active")
	}
	return nil
}

func (b *AMQPBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closeLocked()
}

func (b *AMQPBackend) closeLocked() error {
	if b.channel != nil {
		if err := b.channel.Close(); err != nil && !errors.Is(err, amqp091.ErrClosed) {
			return err
		}
		b.channel = nil
	}
	if b.conn != nil {
		if err := b.conn.Close(); err != nil && !errors.Is(err, amqp091.ErrClosed) {
			return err
		}
		b.conn = nil
	}
	return nil
}

func (b *AMQPBackend) Name() string {
	return "amqp"
}
