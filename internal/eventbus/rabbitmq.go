package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/streadway/amqp"

	"github.com/Ruks-7/KilimoSmart-sub001/config"
)

const (
	publishTimeout = 5 * time.Second
	reconnectDelay = 5 * time.Second
)

// ErrPermanentFailure is returned by a MessageHandler when a message is
// malformed or can never be processed; it is dropped instead of requeued.
var ErrPermanentFailure = errors.New("permanent failure processing message")

// MessageHandler processes a received delivery. A normal error nacks the
// message for redelivery; ErrPermanentFailure nacks without requeue.
type MessageHandler func(ctx context.Context, delivery amqp.Delivery) error

// RabbitMQManager handles RabbitMQ connections, channels, and operations.
// The outgoing exchange carries order lifecycle events; the incoming queue
// receives payment results. mu guards the connection state (written by the
// reconnect goroutine) and serializes Publish so each caller waits on its
// own confirmation.
type RabbitMQManager struct {
	config          config.Config
	mu              sync.Mutex
	connection      *amqp.Connection
	consumerChan    *amqp.Channel
	producerChan    *amqp.Channel
	notifyConnClose chan *amqp.Error
	notifyChanClose chan *amqp.Error
	notifyConfirm   chan amqp.Confirmation
	isReady         bool
	done            chan struct{}
}

func NewRabbitMQManager(cfg config.Config) (*RabbitMQManager, error) {
	rmq := &RabbitMQManager{
		config: cfg,
		done:   make(chan struct{}),
	}

	if err := rmq.connect(); err != nil {
		go rmq.handleReconnect()
		return nil, fmt.Errorf("initial RabbitMQ connection failed: %w. Will attempt to reconnect", err)
	}
	go rmq.handleReconnect()
	return rmq, nil
}

func (rmq *RabbitMQManager) connect() error {
	rmq.mu.Lock()
	defer rmq.mu.Unlock()

	log.Info().Str("url", rmq.config.RabbitMQURL).Msg("Attempting to connect to RabbitMQ")
	conn, err := amqp.Dial(rmq.config.RabbitMQURL)
	if err != nil {
		return fmt.Errorf("failed to dial RabbitMQ: %w", err)
	}
	rmq.connection = conn
	rmq.notifyConnClose = make(chan *amqp.Error)
	rmq.connection.NotifyClose(rmq.notifyConnClose)

	if err := rmq.setupProducerChannel(); err != nil {
		return fmt.Errorf("failed to setup producer channel: %w", err)
	}

	if err := rmq.setupConsumerChannelAndTopology(); err != nil {
		return fmt.Errorf("failed to setup consumer channel and topology: %w", err)
	}

	rmq.isReady = true
	log.Info().Msg("RabbitMQ connected and channels initialized successfully")
	return nil
}

func (rmq *RabbitMQManager) setupProducerChannel() error {
	var err error
	rmq.producerChan, err = rmq.connection.Channel()
	if err != nil {
		return fmt.Errorf("failed to open producer channel: %w", err)
	}

	if err := rmq.producerChan.Confirm(false); err != nil {
		return fmt.Errorf("producer channel could not be put into confirm mode: %w", err)
	}
	rmq.notifyConfirm = make(chan amqp.Confirmation, 1)
	rmq.producerChan.NotifyPublish(rmq.notifyConfirm)

	log.Info().Str("exchange", rmq.config.OutgoingExchangeName).Str("type", rmq.config.RabbitMQExchangeType).Msg("Declaring outgoing exchange")
	err = rmq.producerChan.ExchangeDeclare(
		rmq.config.OutgoingExchangeName, // name
		rmq.config.RabbitMQExchangeType, // type
		true,                            // durable
		false,                           // auto-deleted
		false,                           // internal
		false,                           // no-wait
		nil,                             // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare outgoing exchange %s: %w", rmq.config.OutgoingExchangeName, err)
	}
	return nil
}

func (rmq *RabbitMQManager) setupConsumerChannelAndTopology() error {
	var err error
	rmq.consumerChan, err = rmq.connection.Channel()
	if err != nil {
		return fmt.Errorf("failed to open consumer channel: %w", err)
	}

	rmq.notifyChanClose = make(chan *amqp.Error)
	rmq.consumerChan.NotifyClose(rmq.notifyChanClose)

	if err := rmq.consumerChan.Qos(rmq.config.RabbitMQPrefetchCount, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	err = rmq.consumerChan.ExchangeDeclare(rmq.config.IncomingExchangeName, rmq.config.RabbitMQExchangeType, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare incoming exchange: %w", err)
	}

	_, err = rmq.consumerChan.QueueDeclare(rmq.config.IncomingQueueName, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare incoming queue: %w", err)
	}

	err = rmq.consumerChan.QueueBind(rmq.config.IncomingQueueName, rmq.config.IncomingRoutingKey, rmq.config.IncomingExchangeName, false, nil)
	if err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	log.Info().Str("queue", rmq.config.IncomingQueueName).Msg("Consumer topology setup complete.")
	return nil
}

// Publish sends a JSON message to the outgoing exchange and waits for the
// broker's confirmation. Publishes are serialized under mu so the next
// confirmation on the channel always belongs to this publish.
func (rmq *RabbitMQManager) Publish(ctx context.Context, routingKey string, payload interface{}) error {
	rmq.mu.Lock()
	defer rmq.mu.Unlock()

	if !rmq.isReady {
		return errors.New("producer not ready")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	err = rmq.producerChan.Publish(
		rmq.config.OutgoingExchangeName,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	select {
	case confirm := <-rmq.notifyConfirm:
		if confirm.Ack {
			log.Debug().Str("routingKey", routingKey).Msg("Message published and confirmed")
			return nil
		}
		return errors.New("message published but not confirmed")
	case <-time.After(publishTimeout):
		return errors.New("publish confirmation timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartConsuming registers handler for the incoming payment-results queue.
func (rmq *RabbitMQManager) StartConsuming(ctx context.Context, handler MessageHandler) error {
	rmq.mu.Lock()
	if !rmq.isReady {
		rmq.mu.Unlock()
		return errors.New("consumer not ready")
	}
	consumerChan := rmq.consumerChan
	rmq.mu.Unlock()

	msgs, err := consumerChan.Consume(
		rmq.config.IncomingQueueName,
		rmq.config.ConsumerTag,
		false, // auto-ack false
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	go func() {
		for delivery := range msgs {
			log.Debug().Msg("Received a message")
			if err := handler(ctx, delivery); err != nil {
				if errors.Is(err, ErrPermanentFailure) {
					_ = delivery.Nack(false, false) // drop / DLQ
				} else {
					_ = delivery.Nack(false, true) // requeue for retry
				}
				continue
			}
			_ = delivery.Ack(false)
		}
		log.Warn().Msg("Delivery channel closed. Consumer stopping.")
	}()

	log.Info().Str("queue", rmq.config.IncomingQueueName).Msg("Consumer started.")
	return nil
}

func (rmq *RabbitMQManager) Close() {
	close(rmq.done)
	rmq.mu.Lock()
	defer rmq.mu.Unlock()
	rmq.isReady = false
	if rmq.connection != nil && !rmq.connection.IsClosed() {
		rmq.connection.Close()
	}
}

// handleReconnect re-establishes the connection and topology whenever the
// broker drops us, until Close is called.
func (rmq *RabbitMQManager) handleReconnect() {
	for {
		rmq.mu.Lock()
		notifyConnClose := rmq.notifyConnClose
		rmq.mu.Unlock()

		var closeErr *amqp.Error
		if notifyConnClose != nil {
			select {
			case <-rmq.done:
				return
			case closeErr = <-notifyConnClose:
			}
		}

		rmq.mu.Lock()
		rmq.isReady = false
		rmq.mu.Unlock()
		if closeErr != nil {
			log.Warn().Err(closeErr).Msg("RabbitMQ connection lost. Reconnecting...")
		}

		for {
			select {
			case <-rmq.done:
				return
			case <-time.After(reconnectDelay):
			}
			if err := rmq.connect(); err != nil {
				log.Error().Err(err).Msg("RabbitMQ reconnection attempt failed")
				continue
			}
			break
		}
	}
}
