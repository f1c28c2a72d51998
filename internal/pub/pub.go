package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"bonus-service/internal/domain"
)

const (
	BonusEventsChannel = "bonus_events"
	BonusEventsTopic   = "bonus.events"
)

// BonusEvent is what downstream consumers see when bonus state changes.
type BonusEvent struct {
	EventType   string         `json:"event_type"` // bonus.batch_calculated, bonus.paid, bonus.cancelled, security.alert
	PaymentID   int64          `json:"payment_id,omitempty"`
	BonusID     int64          `json:"bonus_id,omitempty"`
	UserID      int64          `json:"user_id,omitempty"`
	Count       int            `json:"count,omitempty"`
	Amount      string         `json:"amount,omitempty"`
	TotalAmount string         `json:"total_amount,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	ThreatLevel string         `json:"threat_level,omitempty"`
	RiskFlags   []string       `json:"risk_flags,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// BonusEventPublisher fans bonus events out to kafka for durable consumers
// and to a redis channel for live dashboards. Publishing is best effort: a
// broker outage is logged and never fails the originating operation.
type BonusEventPublisher struct {
	writer *kafka.Writer
	rdb    *redis.Client
	logger *zap.Logger
}

func NewBonusEventPublisher(writer *kafka.Writer, rdb *redis.Client, logger *zap.Logger) *BonusEventPublisher {
	return &BonusEventPublisher{writer: writer, rdb: rdb, logger: logger}
}

func (p *BonusEventPublisher) publish(ctx context.Context, key string, event *BonusEvent) {
	event.Timestamp = time.Now().UTC()

	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("failed to marshal bonus event",
			zap.String("event_type", event.EventType), zap.Error(err))
		return
	}

	if p.writer != nil {
		msg := kafka.Message{
			Key:   []byte(key),
			Value: payload,
			Time:  event.Timestamp,
		}
		if err := p.writer.WriteMessages(ctx, msg); err != nil {
			p.logger.Error("failed to write bonus event to kafka",
				zap.String("event_type", event.EventType), zap.Error(err))
		}
	}

	if p.rdb != nil {
		if err := p.rdb.Publish(ctx, BonusEventsChannel, payload).Err(); err != nil {
			p.logger.Error("failed to publish bonus event to redis",
				zap.String("event_type", event.EventType), zap.Error(err))
		}
	}

	p.logger.Debug("bonus event published",
		zap.String("event_type", event.EventType), zap.String("key", key))
}

func (p *BonusEventPublisher) PublishBonusBatch(ctx context.Context, paymentID int64, count int, total decimal.Decimal) {
	p.publish(ctx, fmt.Sprintf("payment:%d", paymentID), &BonusEvent{
		EventType:   "bonus.batch_calculated",
		PaymentID:   paymentID,
		Count:       count,
		TotalAmount: total.String(),
	})
}

func (p *BonusEventPublisher) PublishBonusPaid(ctx context.Context, bonusID, userID int64, amount decimal.Decimal) {
	p.publish(ctx, "bonus:"+strconv.FormatInt(bonusID, 10), &BonusEvent{
		EventType: "bonus.paid",
		BonusID:   bonusID,
		UserID:    userID,
		Amount:    amount.String(),
	})
}

func (p *BonusEventPublisher) PublishBonusCancelled(ctx context.Context, bonusID int64, reason string) {
	p.publish(ctx, "bonus:"+strconv.FormatInt(bonusID, 10), &BonusEvent{
		EventType: "bonus.cancelled",
		BonusID:   bonusID,
		Reason:    reason,
	})
}

func (p *BonusEventPublisher) PublishSecurityAlert(ctx context.Context, paymentID int64, level domain.ThreatLevel, flags []string) {
	p.publish(ctx, fmt.Sprintf("payment:%d", paymentID), &BonusEvent{
		EventType:   "security.alert",
		PaymentID:   paymentID,
		ThreatLevel: string(level),
		RiskFlags:   flags,
	})
}
