package usecase

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"bonus-service/internal/config"
	"bonus-service/internal/domain"
	"bonus-service/internal/pkg/clock"
	"bonus-service/internal/pkg/xerrors"
	"bonus-service/internal/repository"
)

// Score weights for the composite 0-100 user risk score.
const (
	riskHighValueFloor = 1_000_000
	riskScoreCap       = 100
)

// ComputeRiskScore derives the composite score from a user's bonus history:
// volume, recency, high-value count, amount uniformity, timing, and
// referral-source concentration.
func ComputeRiskScore(events []repository.BonusEvent, now time.Time) (int, map[string]int) {
	components := make(map[string]int)

	n := len(events)
	switch {
	case n >= 100:
		components["volume"] = 30
	case n >= 50:
		components["volume"] = 20
	case n >= 20:
		components["volume"] = 10
	}

	recent := 0
	for _, e := range events {
		if now.Sub(e.CreatedAt) <= 24*time.Hour {
			recent++
		}
	}
	if recent >= 10 {
		components["recency"] = 15
	}

	highValue := 0
	floor := decimal.NewFromInt(riskHighValueFloor)
	for _, e := range events {
		if e.Amount.GreaterThanOrEqual(floor) {
			highValue++
		}
	}
	switch {
	case highValue >= 5:
		components["high_value"] = 20
	case highValue >= 1:
		components["high_value"] = 10
	}

	if n >= 5 {
		mean, stddev := amountStats(events)
		if mean > 0 && stddev < mean*0.05 {
			// Near-identical amounts suggest scripted activity.
			components["amount_uniformity"] = 15
		}

		if minInterval(events) < time.Minute {
			components["timing"] = 15
		}
	}

	if n >= 10 {
		if topSourceShare(events) > 0.8 {
			components["source_concentration"] = 20
		}
	}

	score := 0
	for _, v := range components {
		score += v
	}
	if score > riskScoreCap {
		score = riskScoreCap
	}
	return score, components
}

func amountStats(events []repository.BonusEvent) (mean, stddev float64) {
	sum := 0.0
	for _, e := range events {
		sum += e.Amount.InexactFloat64()
	}
	mean = sum / float64(len(events))

	variance := 0.0
	for _, e := range events {
		d := e.Amount.InexactFloat64() - mean
		variance += d * d
	}
	variance /= float64(len(events))
	return mean, math.Sqrt(variance)
}

func minInterval(events []repository.BonusEvent) time.Duration {
	// Callers pass history in whatever order the query returned it.
	times := make([]time.Time, len(events))
	for i, e := range events {
		times[i] = e.CreatedAt
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	min := time.Duration(math.MaxInt64)
	for i := 1; i < len(times); i++ {
		if d := times[i].Sub(times[i-1]); d < min {
			min = d
		}
	}
	return min
}

func topSourceShare(events []repository.BonusEvent) float64 {
	counts := make(map[int64]int)
	for _, e := range events {
		counts[e.ReferredID]++
	}
	top := 0
	for _, c := range counts {
		if c > top {
			top = c
		}
	}
	return float64(top) / float64(len(events))
}

// RiskLevelForScore maps a composite score to a threat level.
func RiskLevelForScore(score, highThreshold int) domain.ThreatLevel {
	switch {
	case score > highThreshold:
		return domain.ThreatLevelHigh
	case score > 40:
		return domain.ThreatLevelMedium
	default:
		return domain.ThreatLevelLow
	}
}

// RiskAssessor decides the threat level for one payment before bonus
// calculation starts.
type RiskAssessor struct {
	cfg      config.AppConfig
	payments repository.PaymentRepository
	fraud    repository.FraudRepository
	clk      clock.Clock
	logger   *zap.Logger
}

func NewRiskAssessor(
	cfg config.AppConfig,
	payments repository.PaymentRepository,
	fraud repository.FraudRepository,
	clk clock.Clock,
	logger *zap.Logger,
) *RiskAssessor {
	return &RiskAssessor{cfg: cfg, payments: payments, fraud: fraud, clk: clk, logger: logger}
}

// AssessPayment returns the threat level and the triggered flags.
// High: amount above the bonus ceiling, composite network score above the
// configured threshold, or a geographic anomaly. Medium: amount above five
// million or more than three completed payments in the last hour.
func (ra *RiskAssessor) AssessPayment(ctx context.Context, payment *domain.Payment) (domain.ThreatLevel, []string, error) {
	var flags []string
	level := domain.ThreatLevelLow

	raise := func(to domain.ThreatLevel, flag string) {
		flags = append(flags, flag)
		if to == domain.ThreatLevelHigh || (to == domain.ThreatLevelMedium && level == domain.ThreatLevelLow) {
			level = to
		}
	}

	if payment.Amount.GreaterThan(ra.cfg.MaxBonusAmount) {
		raise(domain.ThreatLevelHigh, fmt.Sprintf("amount %s exceeds ceiling", payment.Amount))
	} else if payment.Amount.GreaterThan(decimal.NewFromInt(5_000_000)) {
		raise(domain.ThreatLevelMedium, fmt.Sprintf("large amount %s", payment.Amount))
	}

	recent, err := ra.payments.CountRecentByUser(ctx, payment.UserID, ra.clk.Now().Add(-time.Hour))
	if err != nil {
		return "", nil, fmt.Errorf("%w: recent payment count: %v", xerrors.ErrTransient, err)
	}
	if recent > 3 {
		raise(domain.ThreatLevelMedium, fmt.Sprintf("%d payments in the last hour", recent))
	}

	history, err := ra.fraud.BonusHistory(ctx, payment.UserID, ra.clk.Now().Add(-30*24*time.Hour))
	if err != nil {
		return "", nil, fmt.Errorf("%w: bonus history: %v", xerrors.ErrTransient, err)
	}
	score, _ := ComputeRiskScore(history, ra.clk.Now())
	if score > ra.cfg.RiskScoreHighThreshold {
		raise(domain.ThreatLevelHigh, fmt.Sprintf("network risk score %d", score))
	}

	geo, err := ra.fraud.GeoAnomalyForUser(ctx, payment.UserID, 2*time.Hour)
	if err != nil {
		return "", nil, fmt.Errorf("%w: geo anomaly check: %v", xerrors.ErrTransient, err)
	}
	if geo {
		raise(domain.ThreatLevelHigh, "geographic anomaly")
	}

	if level != domain.ThreatLevelLow {
		ra.logger.Warn("payment risk elevated",
			zap.Int64("payment_id", payment.ID),
			zap.String("level", string(level)),
			zap.Strings("flags", flags),
		)
	}
	return level, flags, nil
}
