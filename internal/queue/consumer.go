package queue

import (
	"context"
	"errors"
	"time"

	"github.com/KiborgBeliash/web-service-vuz-rf/internal/timing"
	"github.com/KiborgBeliash/web-service-vuz-rf/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

const retriesHeader = "x-retries"

// Handler processes one delivery. It must not ack or nack.
type Handler func(ctx context.Context, msg amqp091.Delivery) error

// Consume handles deliveries one at a time until ctx is done or the
// delivery channel closes. Successful messages are acked; failed ones go
// through HandleProcessingError.
func Consume(ctx context.Context, deliveries <-chan amqp091.Delivery, pub Publisher, queueName string, handle Handler) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("[Queue] Stopping consumer", "queue", queueName)
			return
		case msg, ok := <-deliveries:
			if !ok {
				logger.Info("[Queue] Message channel closed", "queue", queueName)
				return
			}

			start := time.Now()
			logger.Info("[Queue] Received message", "queue", queueName)
			if err := handle(ctx, msg); err != nil {
				logger.Error("[Queue] Error processing message", "queue", queueName, "err", err)
				HandleProcessingError(ctx, pub, msg, queueName, err)
			} else {
				if err := msg.Ack(false); err != nil {
					logger.Error("[Queue] Failed to ack message", "err", err)
				}
				logger.Info("[Queue] Message processed successfully", "queue", queueName)
			}
			logger.Info("[Queue] Processing time", "duration", timing.FormatDuration(time.Since(start)))
		}
	}
}

func retryCount(headers amqp091.Table) int {
	switch v := headers[retriesHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// HandleProcessingError republishes msg to the retry queue, or to the
// dead-letter queue once MaxRetries is reached or the message is malformed.
// The original delivery is acked after a successful republish and requeued
// otherwise.
func HandleProcessingError(ctx context.Context, pub Publisher, msg amqp091.Delivery, queueName string, cause error) {
	retries := retryCount(msg.Headers)

	if retries >= MaxRetries || errors.Is(cause, ErrMalformedMessage) {
		dlq := DLQName(queueName)
		logger.Info("[Queue] Sending message to DLQ", "dlq", dlq, "retries", retries)
		if err := pub.PublishWithContext(ctx, "", dlq, false, false, amqp091.Publishing{
			ContentType: msg.ContentType,
			Body:        msg.Body,
			Headers:     msg.Headers,
		}); err != nil {
			logger.Error("[Queue] Failed to publish to DLQ", "dlq", dlq, "err", err)
			_ = msg.Nack(false, true)
			return
		}
		_ = msg.Ack(false)
		return
	}

	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[retriesHeader] = int32(retries + 1)

	retry := RetryName(queueName)
	if err := pub.PublishWithContext(ctx, "", retry, false, false, amqp091.Publishing{
		ContentType: msg.ContentType,
		Body:        msg.Body,
		Headers:     headers,
	}); err != nil {
		logger.Error("[Queue] Failed to publish to retry queue", "retry_queue", retry, "err", err)
		_ = msg.Nack(false, true)
		return
	}
	_ = msg.Ack(false)
}
