package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"coupon-system/internal/config"
	"coupon-system/internal/logger"
	"coupon-system/internal/models"

	"github.com/IBM/sarama"
)

// EventHandler обрабатывает одно событие купона.
type EventHandler func(ctx context.Context, event *models.Event) error

// Consumer читает события купонов из Kafka и направляет их
// зарегистрированным обработчикам по типу события.
type Consumer struct {
	consumer sarama.ConsumerGroup
	log      *logger.Logger
	handlers map[models.EventType]EventHandler
	topics   []string
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewConsumer создает группу потребителей Kafka.
func NewConsumer(cfg *config.KafkaConfig, log *logger.Logger) (*Consumer, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaCfg.Consumer.Offsets.Initial = sarama.OffsetNewest

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer group: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Consumer{
		consumer: group,
		log:      log,
		handlers: make(map[models.EventType]EventHandler),
		topics:   []string{cfg.Topics.Coupons},
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// NewTestConsumer создает потребитель поверх готовой группы, без подключения к брокеру.
func NewTestConsumer(group sarama.ConsumerGroup, log *logger.Logger) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		consumer: group,
		log:      log,
		handlers: make(map[models.EventType]EventHandler),
		topics:   []string{"coupons"},
		ctx:      ctx,
		cancel:   cancel,
	}
}

// RegisterHandler регистрирует обработчик для типа события.
func (c *Consumer) RegisterHandler(eventType models.EventType, handler EventHandler) {
	c.handlers[eventType] = handler
}

// Handler возвращает зарегистрированный обработчик.
func (c *Consumer) Handler(eventType models.EventType) EventHandler {
	return c.handlers[eventType]
}

// HandlerCount возвращает число зарегистрированных обработчиков.
func (c *Consumer) HandlerCount() int {
	return len(c.handlers)
}

// Start запускает цикл потребления в фоне.
func (c *Consumer) Start() error {
	go func() {
		for {
			if err := c.consumer.Consume(c.ctx, c.topics, c); err != nil {
				c.log.WithError(err).Error("Kafka consume loop error")
			}
			if c.ctx.Err() != nil {
				return
			}
		}
	}()

	c.log.WithField("topics", c.topics).Info("Kafka consumer started")
	return nil
}

// Stop останавливает цикл потребления и закрывает группу.
func (c *Consumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	if c.consumer == nil {
		return nil
	}
	return c.consumer.Close()
}

// Setup вызывается при старте сессии группы.
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

// Cleanup вызывается при завершении сессии группы.
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim обрабатывает сообщения одной партиции.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		if err := c.processMessage(msg); err != nil {
			c.log.WithError(err).WithFields(map[string]interface{}{
				"topic":  msg.Topic,
				"offset": msg.Offset,
			}).Error("Failed to process message")
		}
		if session != nil {
			session.MarkMessage(msg, "")
		}
	}
	return nil
}

func (c *Consumer) processMessage(msg *sarama.ConsumerMessage) error {
	var event models.Event
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("failed to unmarshal event: %w", err)
	}

	handler, ok := c.handlers[event.Type]
	if !ok {
		c.log.WithField("type", event.Type).Debug("No handler registered for event type")
		return nil
	}

	return handler(c.ctx, &event)
}
