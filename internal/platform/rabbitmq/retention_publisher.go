package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RetentionEvent signals that a chat's attachment blobs may be stripped now
// that their bytes live in registered datasets.
type RetentionEvent struct {
	ChatID uint `json:"chat_id"`
}

type RetentionPublisher struct {
	conn      *amqp.Connection
	queueName string
}

func NewRetentionPublisher(conn *amqp.Connection, queueName string) *RetentionPublisher {
	return &RetentionPublisher{
		conn:      conn,
		queueName: queueName,
	}
}

func (p *RetentionPublisher) Publish(ctx context.Context, chatID uint) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open rabbitmq channel failed: %w", err)
	}
	defer ch.Close()

	_, err = ch.QueueDeclare(
		p.queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare queue failed: %w", err)
	}

	payload, err := json.Marshal(RetentionEvent{ChatID: chatID})
	if err != nil {
		return fmt.Errorf("marshal retention event failed: %w", err)
	}

	if err := ch.PublishWithContext(
		ctx,
		"",
		p.queueName,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         payload,
			DeliveryMode: amqp.Persistent,
		},
	); err != nil {
		return fmt.Errorf("publish retention event failed: %w", err)
	}
	return nil
}
