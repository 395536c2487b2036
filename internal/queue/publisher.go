package queue

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// VisitQueueName is the durable queue visit events go to.
const VisitQueueName = "visit.events"

// Publisher sends visit events to RabbitMQ.  It dials per publish so a
// broker outage never blocks the request that triggered the event.
type Publisher struct {
	URL string
	Log *zap.Logger
}

// NewPublisher returns a publisher for url.
func NewPublisher(url string, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{URL: url, Log: log}
}

// Publish sends ev as a persistent JSON message.  Errors are logged and
// returned so callers may ignore them.
func (p *Publisher) Publish(ctx context.Context, ev VisitEvent) error {
	conn, err := amqp.Dial(p.URL)
	if err != nil {
		p.Log.Warn("rabbitmq dial failed", zap.Error(err))
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		p.Log.Warn("rabbitmq channel open failed", zap.Error(err))
		return err
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(VisitQueueName, true, false, false, false, nil); err != nil {
		p.Log.Warn("rabbitmq queue declare failed", zap.Error(err))
		return err
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Type:         ev.Type,
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", VisitQueueName, false, false, pub); err != nil {
		p.Log.Warn("rabbitmq publish failed", zap.String("event", ev.Type), zap.Error(err))
		return err
	}
	return nil
}
