package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/KiborgBeliash/web-service-vuz-rf/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

const (
	IngestQueue = "ingest_queue"

	// TopicExchange carries events for other services.
	TopicExchange = "pubsub_exchange"

	SnapshotReplacedTopic = "snapshot.replaced"

	// MaxRetries is how often a message goes through the retry queue before
	// it is parked in the dead-letter queue.
	MaxRetries = 10
	retryDelay = 10 * time.Second
)

// Publisher is the part of *amqp091.Channel used for publishing.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// Declarer is the part of *amqp091.Channel used for topology setup.
type Declarer interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
}

func Init(url string) (*amqp091.Connection, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return conn, nil
}

func DLQName(queueName string) string   { return queueName + "_dlq" }
func RetryName(queueName string) string { return queueName + "_retry" }

// SetupQueues declares the topic exchange and, for every queue, the queue
// itself, its dead-letter queue and a retry queue that dead-letters back
// into it after retryDelay.
func SetupQueues(ch Declarer, queueNames []string) error {
	if err := declareTopicExchange(ch); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", TopicExchange, err)
	}

	for _, name := range queueNames {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", name, err)
		}

		dlq := DLQName(name)
		if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", dlq, err)
		}

		retry := RetryName(name)
		_, err := ch.QueueDeclare(
			retry,
			true,
			false,
			false,
			false,
			amqp091.Table{
				"x-message-ttl":             int32(retryDelay.Milliseconds()),
				"x-dead-letter-exchange":    "",
				"x-dead-letter-routing-key": name,
			},
		)
		if err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", retry, err)
		}
		logger.Debug("[Queue] Declared queue", "queue", name, "dlq", dlq, "retry", retry)
	}

	return nil
}

func declareTopicExchange(ch Declarer) error {
	return ch.ExchangeDeclare(
		TopicExchange,
		"topic",
		false, // durable
		true,  // autoDelete
		false, // internal
		false, // noWait
		nil,
	)
}

// PublishFIFO sends data to queueName through the default exchange.
func PublishFIFO(ctx context.Context, ch Publisher, queueName string, data []byte) error {
	return ch.PublishWithContext(
		ctx,
		"",
		queueName,
		false,
		false,
		amqp091.Publishing{
			ContentType:  "application/json",
			Body:         data,
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
		},
	)
}

// PublishTopic sends data to the topic exchange under topic.
func PublishTopic(ctx context.Context, ch Publisher, topic string, data []byte) error {
	return ch.PublishWithContext(
		ctx,
		TopicExchange,
		topic,
		false,
		false,
		amqp091.Publishing{
			ContentType:  "application/json",
			Body:         data,
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
		},
	)
}
