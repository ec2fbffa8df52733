package models

import (
	"time"

	"github.com/google/uuid"
)

// EventType представляет тип события жизненного цикла купона
type EventType string

const (
	EventTypeCouponCreated     EventType = "coupon.created"
	EventTypeBatchCreated      EventType = "coupon.batch_created"
	EventTypeCouponRedeemed    EventType = "coupon.redeemed"
	EventTypeCouponsExpired    EventType = "coupon.expired"
	EventTypeCouponDeactivated EventType = "coupon.deactivated"
)

// Event представляет событие, публикуемое в Kafka
type Event struct {
	ID         uuid.UUID              `json:"id"`
	Type       EventType              `json:"type"`
	OccurredAt time.Time              `json:"occurred_at"`
	Data       map[string]interface{} `json:"data,omitempty"`
}
