package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"insightchat/internal/platform/rabbitmq"
	"insightchat/internal/repository"
)

// AttachmentRetentionWorker consumes retention events and strips raw bytes
// from a chat's attachments. By the time an event is published every retained
// upload has a registered dataset copy, so nothing is lost.
type AttachmentRetentionWorker struct {
	conn      *amqp.Connection
	messages  *repository.MessageRepository
	queueName string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewAttachmentRetentionWorker(conn *amqp.Connection, messages *repository.MessageRepository, queueName string) *AttachmentRetentionWorker {
	return &AttachmentRetentionWorker{
		conn:      conn,
		messages:  messages,
		queueName: queueName,
	}
}

func (w *AttachmentRetentionWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}

	_, err = ch.QueueDeclare(
		w.queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("declare worker queue failed: %w", err)
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}

				var event rabbitmq.RetentionEvent
				if err := json.Unmarshal(d.Body, &event); err != nil {
					log.Printf("worker decode retention event failed: %v", err)
					_ = d.Nack(false, false)
					continue
				}

				if err := w.messages.ClearAttachmentContentByChatID(event.ChatID); err != nil {
					log.Printf("worker strip attachments for chat %d failed: %v", event.ChatID, err)
					_ = d.Nack(false, true)
					continue
				}

				_ = d.Ack(false)
			}
		}
	}()

	return nil
}

func (w *AttachmentRetentionWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
