package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"coupon-system/internal/config"
	"coupon-system/internal/logger"
	"coupon-system/internal/models"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
)

// Producer публикует события жизненного цикла купонов в Kafka.
type Producer struct {
	producer sarama.SyncProducer
	log      *logger.Logger
	topics   *config.Topics
}

// NewProducer создает синхронный продюсер Kafka.
func NewProducer(cfg *config.KafkaConfig, log *logger.Logger) (*Producer, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Producer.Return.Successes = true
	saramaCfg.Producer.RequiredAcks = sarama.WaitForAll
	saramaCfg.Producer.Retry.Max = 3

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	log.Info("Successfully connected to Kafka")

	return &Producer{
		producer: producer,
		log:      log,
		topics:   &cfg.Topics,
	}, nil
}

// Close закрывает продюсер.
func (p *Producer) Close() error {
	if p == nil || p.producer == nil {
		return nil
	}
	return p.producer.Close()
}

// PublishCouponCreated публикует событие создания одиночного купона.
func (p *Producer) PublishCouponCreated(coupon *models.Coupon) error {
	return p.publishEvent(p.topics.Coupons, newEvent(models.EventTypeCouponCreated, map[string]interface{}{
		"coupon_id": coupon.ID.String(),
		"code":      coupon.Code,
	}))
}

// PublishBatchCreated публикует событие создания партии.
func (p *Producer) PublishBatchCreated(batchID string, quantity int) error {
	return p.publishEvent(p.topics.Coupons, newEvent(models.EventTypeBatchCreated, map[string]interface{}{
		"batch_id": batchID,
		"quantity": quantity,
	}))
}

// PublishCouponRedeemed публикует событие погашения купона.
func (p *Producer) PublishCouponRedeemed(coupon *models.Coupon) error {
	data := map[string]interface{}{
		"coupon_id": coupon.ID.String(),
		"code":      coupon.Code,
	}
	if coupon.RedeemedBy != nil {
		data["redeemed_by"] = *coupon.RedeemedBy
	}
	return p.publishEvent(p.topics.Coupons, newEvent(models.EventTypeCouponRedeemed, data))
}

// PublishCouponDeactivated публикует событие деактивации купона.
func (p *Producer) PublishCouponDeactivated(coupon *models.Coupon) error {
	return p.publishEvent(p.topics.Coupons, newEvent(models.EventTypeCouponDeactivated, map[string]interface{}{
		"coupon_id": coupon.ID.String(),
		"code":      coupon.Code,
	}))
}

// PublishBatchDeactivated публикует событие деактивации партии.
func (p *Producer) PublishBatchDeactivated(batchID string, affected int64) error {
	return p.publishEvent(p.topics.Coupons, newEvent(models.EventTypeCouponDeactivated, map[string]interface{}{
		"batch_id": batchID,
		"affected": affected,
	}))
}

// PublishCouponsExpired публикует событие протухания купонов.
func (p *Producer) PublishCouponsExpired(affected int64) error {
	return p.publishEvent(p.topics.Coupons, newEvent(models.EventTypeCouponsExpired, map[string]interface{}{
		"affected": affected,
	}))
}

func (p *Producer) publishEvent(topic string, event models.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(event.ID.String()),
		Value: sarama.ByteEncoder(data),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to send message to topic %s: %w", topic, err)
	}

	p.log.WithFields(map[string]interface{}{
		"topic":     topic,
		"type":      event.Type,
		"partition": partition,
		"offset":    offset,
	}).Debug("Event published")

	return nil
}

func newEvent(eventType models.EventType, data map[string]interface{}) models.Event {
	return models.Event{
		ID:         uuid.New(),
		Type:       eventType,
		OccurredAt: time.Now(),
		Data:       data,
	}
}
