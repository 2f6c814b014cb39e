package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"airnode/config"
	"airnode/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ReadingForwarder publishes accepted readings to a RabbitMQ exchange
type ReadingForwarder struct {
	config    *config.Config
	conn      *amqp.Connection
	channel   *amqp.Channel
	logger    *zap.Logger
	mu        sync.Mutex
	isClosing bool
}

// NewReadingForwarder connects to RabbitMQ and declares the exchange and queue
func NewReadingForwarder(cfg *config.Config, logger *zap.Logger) (*ReadingForwarder, error) {
	f := &ReadingForwarder{
		config: cfg,
		logger: logger.Named("rabbitmq"),
	}

	if err := f.connect(); err != nil {
		return nil, err
	}
	return f, nil
}

// connect establishes connection to RabbitMQ and declares exchange and queue
func (r *ReadingForwarder) connect() error {
	var (
		conn *amqp.Connection
		err  error
	)

	r.logger.Info("Connecting to RabbitMQ")

	maxRetries := 5
	for attempt := 1; attempt <= maxRetries; attempt++ {
		conn, err = amqp.Dial(r.config.RabbitMQURL)
		if err == nil {
			break
		}

		r.logger.Warn("Failed to connect to RabbitMQ",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * 2 * time.Second)
		}
	}
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", maxRetries, err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		r.config.RabbitMQExchange, // name
		"direct",                  // type
		true,                      // durable
		false,                     // auto-deleted
		false,                     // internal
		false,                     // no-wait
		nil,                       // arguments
	)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	queue, err := channel.QueueDeclare(
		r.config.RabbitMQQueue, // name
		true,                   // durable
		false,                  // delete when unused
		false,                  // exclusive
		false,                  // no-wait
		nil,                    // arguments
	)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	err = channel.QueueBind(
		queue.Name,                // queue name
		r.config.RabbitMQQueue,    // routing key
		r.config.RabbitMQExchange, // exchange
		false,                     // no-wait
		nil,                       // arguments
	)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	r.mu.Lock()
	r.conn = conn
	r.channel = channel
	r.mu.Unlock()

	r.logger.Info("Connected to RabbitMQ",
		zap.String("exchange", r.config.RabbitMQExchange),
		zap.String("queue", queue.Name))

	go r.handleReconnect(conn)
	return nil
}

// handleReconnect re-establishes the connection when the broker drops it
func (r *ReadingForwarder) handleReconnect(conn *amqp.Connection) {
	closeErr := <-conn.NotifyClose(make(chan *amqp.Error, 1))

	r.mu.Lock()
	closing := r.isClosing
	r.mu.Unlock()
	if closing {
		r.logger.Info("RabbitMQ connection closed gracefully")
		return
	}

	r.logger.Error("RabbitMQ connection lost", zap.Error(closeErr))
	for {
		err := r.connect()
		if err == nil {
			r.logger.Info("Successfully reconnected to RabbitMQ")
			return
		}
		r.logger.Error("Failed to reconnect", zap.Error(err))
		time.Sleep(5 * time.Second)
	}
}

// Publish sends a reading to the exchange as a persistent message
func (r *ReadingForwarder) Publish(reading *models.SensorReading) error {
	body, err := json.Marshal(reading)
	if err != nil {
		return fmt.Errorf("failed to marshal reading: %w", err)
	}

	r.mu.Lock()
	channel := r.channel
	r.mu.Unlock()

	err = channel.Publish(
		r.config.RabbitMQExchange, // exchange
		r.config.RabbitMQQueue,    // routing key
		false,                     // mandatory
		false,                     // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    reading.Time(),
			AppId:        reading.DeviceID,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish reading: %w", err)
	}

	r.logger.Debug("Forwarded reading to RabbitMQ", zap.String("device_id", reading.DeviceID))
	return nil
}

// PublishBatch publishes readings in order and stops at the first failure
func (r *ReadingForwarder) PublishBatch(ctx context.Context, readings []*models.SensorReading) error {
	for i, reading := range readings {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("batch interrupted after %d of %d readings: %w", i, len(readings), err)
		}
		if err := r.Publish(reading); err != nil {
			return err
		}
	}
	return nil
}

// Close gracefully closes RabbitMQ connection
func (r *ReadingForwarder) Close() error {
	r.mu.Lock()
	r.isClosing = true
	channel, conn := r.channel, r.conn
	r.mu.Unlock()

	if channel != nil {
		if err := channel.Close(); err != nil {
			r.logger.Error("Error closing channel", zap.Error(err))
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			return fmt.Errorf("failed to close RabbitMQ connection: %w", err)
		}
	}
	r.logger.Info("RabbitMQ connection closed")
	return nil
}
