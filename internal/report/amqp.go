package report

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/stacklok/roster-sync/internal/config"
)

// Publisher is the part of an AMQP channel the notifier uses
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type amqpNotifier struct {
	pub        Publisher
	exchange   string
	routingKey string
}

// NewAMQPNotifier publishes reports as JSON messages through pub
func NewAMQPNotifier(pub Publisher, exchange, routingKey string) Notifier {
	return &amqpNotifier{pub: pub, exchange: exchange, routingKey: routingKey}
}

func (a *amqpNotifier) Notify(ctx context.Context, r *Report) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode report %s: %w", r.RunID, err)
	}

	key := a.routingKey
	if key == "" {
		key = "roster-sync." + r.Job
	}

	err = a.pub.PublishWithContext(ctx, a.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    r.RunID,
		Timestamp:    r.FinishedAt,
		Type:         "roster-sync.report",
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish report %s to exchange '%s': %w", r.RunID, a.exchange, err)
	}
	return nil
}

// DialAMQP connects to the broker, declares the exchange and returns a
// notifier publishing to it. The returned function closes the connection.
func DialAMQP(cfg *config.AMQPConfig) (Notifier, func() error, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to AMQP broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("failed to open AMQP channel: %w", err)
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("failed to declare exchange '%s': %w", cfg.Exchange, err)
	}

	closeFn := func() error {
		_ = ch.Close()
		return conn.Close()
	}
	return NewAMQPNotifier(ch, cfg.Exchange, cfg.RoutingKey), closeFn, nil
}
