package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"mentorsync/internal/config"
)

// tableCarrier adapts amqp.Table to a TextMapCarrier so trace context rides in
// message headers.
type tableCarrier struct {
	table amqp.Table
}

func (c tableCarrier) Get(key string) string {
	if val, ok := c.table[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
		return fmt.Sprintf("%v", val)
	}
	return ""
}

func (c tableCarrier) Set(key, value string) {
	c.table[key] = value
}

func (c tableCarrier) Keys() []string {
	keys := make([]string, 0, len(c.table))
	for k := range c.table {
		keys = append(keys, k)
	}
	return keys
}

// Dial opens a broker connection for the configured URL.
func Dial(cfg *config.Config) (*amqp.Connection, error) {
	return amqp.DialConfig(cfg.RabbitMQ.URL, amqp.Config{
		Heartbeat: 10 * time.Second,
		Properties: amqp.Table{
			"connection_name": cfg.App.Name,
		},
	})
}

// Publisher publishes JSON bodies to a durable topic exchange.
type Publisher struct {
	ch       *amqp.Channel
	log      *zap.Logger
	tracer   trace.Tracer
	exchange string
}

// NewPublisher opens a channel on conn and declares the configured exchange.
func NewPublisher(conn *amqp.Connection, log *zap.Logger, cfg *config.Config) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.ExchangeDeclare(cfg.RabbitMQ.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", cfg.RabbitMQ.Exchange, err)
	}
	return &Publisher{
		ch:       ch,
		log:      log,
		tracer:   otel.Tracer(cfg.App.Name),
		exchange: cfg.RabbitMQ.Exchange,
	}, nil
}

func (p *Publisher) Close() error { return p.ch.Close() }

// Exchange is the exchange every PublishJSON call targets.
func (p *Publisher) Exchange() string { return p.exchange }

// PublishJSON marshals body and publishes it persistently under routingKey.
func (p *Publisher) PublishJSON(ctx context.Context, routingKey string, body any) error {
	b, err := sonic.Marshal(body)
	if err != nil {
		return err
	}

	ctx, span := p.tracer.Start(ctx, "rabbitmq.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination", p.exchange),
			attribute.String("messaging.destination_kind", "exchange"),
			attribute.String("messaging.rabbitmq.routing_key", routingKey),
		))
	defer span.End()

	headers := make(amqp.Table)
	otel.GetTextMapPropagator().Inject(ctx, tableCarrier{table: headers})

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         b,
		Headers:      headers,
	}

	if err := p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, publishing); err != nil {
		span.RecordError(err)
		p.log.Warn("rabbitmq publish failed",
			zap.String("routing_key", routingKey),
			zap.Error(err))
		return err
	}

	span.SetAttributes(attribute.Int("messaging.message.body.size", len(b)))
	return nil
}
