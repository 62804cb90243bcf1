// Package stream publishes check metrics and alerts to the observability
// sink over kafka. The publisher is optional: a nil *Publisher is safe to
// call everywhere, so deployments without kafka just skip the stream.
package stream

import (
	"context"
	"encoding/json"
	"time"

	"github.com/finflow-labs/sentinel/internal/monitor"
	"github.com/segmentio/kafka-go"
)

type Publisher struct {
	writer *kafka.Writer
}

func NewPublisher(brokers []string, topic string) *Publisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}

	return &Publisher{writer: writer}
}

type envelope struct {
	Kind    string      `json:"kind"` // metric | alert
	Payload interface{} `json:"payload"`
}

func (p *Publisher) PublishMetric(ctx context.Context, m monitor.Metric) error {
	if p == nil {
		return nil
	}
	return p.publish(ctx, m.Identifier, envelope{Kind: "metric", Payload: m})
}

func (p *Publisher) PublishAlert(ctx context.Context, a monitor.Alert) error {
	if p == nil {
		return nil
	}
	return p.publish(ctx, a.Identifier, envelope{Kind: "alert", Payload: a})
}

func (p *Publisher) publish(ctx context.Context, key string, env envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: data,
		Time:  time.Now(),
	})
}

func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.writer.Close()
}

// Channel adapts the publisher to the monitor's alert fan-out.
type Channel struct {
	publisher *Publisher
}

func NewChannel(publisher *Publisher) *Channel {
	return &Channel{publisher: publisher}
}

func (c *Channel) Name() string { return "kafka" }

func (c *Channel) Send(alert monitor.Alert) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.publisher.PublishAlert(ctx, alert)
}
