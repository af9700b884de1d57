package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	xerrors "Evolve-Chain/internal/errors"
)

// RabbitMQConfig 描述 RabbitMQ 投递队列。
type RabbitMQConfig struct {
	URL     string
	Queue   string
	Durable bool
}

type amqpPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// RabbitMQSink 把事件投递到默认交换机下的队列。
type RabbitMQSink struct {
	ch         amqpPublisher
	conn       *amqp.Connection
	channel    *amqp.Channel
	queue      string
	persistent bool
}

// NewRabbitMQSink 建立连接并声明队列。
func NewRabbitMQSink(cfg RabbitMQConfig) (*RabbitMQSink, error) {
	if cfg.URL == "" {
		return nil, errors.New("RabbitMQ URL 不能为空")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "evolve.events"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("连接 RabbitMQ 失败: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("创建 RabbitMQ channel 失败: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, cfg.Durable, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("声明 RabbitMQ 队列失败: %w", err)
	}
	sink := newRabbitMQSink(ch, queue, cfg.Durable)
	sink.conn = conn
	sink.channel = ch
	return sink, nil
}

func newRabbitMQSink(ch amqpPublisher, queue string, persistent bool) *RabbitMQSink {
	return &RabbitMQSink{ch: ch, queue: queue, persistent: persistent}
}

// Name 实现 Sink。
func (s *RabbitMQSink) Name() string { return "rabbitmq" }

// Publish 实现 Sink。
func (s *RabbitMQSink) Publish(ctx context.Context, event Event) error {
	if s == nil || s.ch == nil {
		return errors.New("RabbitMQ 队列未初始化")
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}
	msg := amqp.Publishing{
		ContentType: "application/json",
		MessageId:   event.ID,
		Timestamp:   event.At,
		Type:        string(event.Reason),
		Body:        body,
	}
	if s.persistent {
		msg.DeliveryMode = amqp.Persistent
	}
	if err := s.ch.PublishWithContext(ctx, "", s.queue, false, false, msg); err != nil {
		return xerrors.Wrap(xerrors.CodePublishFailure, err, "RabbitMQ 发布事件失败")
	}
	return nil
}

// Close 关闭 RabbitMQ 连接。
func (s *RabbitMQSink) Close() error {
	if s == nil {
		return nil
	}
	if s.channel != nil {
		_ = s.channel.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
