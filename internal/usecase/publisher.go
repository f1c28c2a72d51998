package usecase

import (
	"context"

	"github.com/shopspring/decimal"

	"bonus-service/internal/domain"
)

// BonusEventPublisher fans bonus lifecycle events out to the event stream.
// Publishing is best-effort: implementations log failures and never block
// the money path.
type BonusEventPublisher interface {
	PublishBonusBatch(ctx context.Context, paymentID int64, count int, total decimal.Decimal)
	PublishBonusPaid(ctx context.Context, bonusID, userID int64, amount decimal.Decimal)
	PublishBonusCancelled(ctx context.Context, bonusID int64, reason string)
	PublishSecurityAlert(ctx context.Context, paymentID int64, level domain.ThreatLevel, flags []string)
}
