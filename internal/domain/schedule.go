package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// BonusSchedule maps referral level to bonus percentage. The mapping is
// fixed product configuration, not user data.
type BonusSchedule struct {
	levels   map[int]decimal.Decimal
	fallback decimal.Decimal
	maxLevel int
}

// DefaultBonusSchedule builds the production schedule:
// L1 10%, L2 5%, L3 3%, L4 2%, L5 1%, L6..L20 0.5%.
func DefaultBonusSchedule() *BonusSchedule {
	s := &BonusSchedule{
		levels: map[int]decimal.Decimal{
			1: decimal.NewFromFloat(0.10),
			2: decimal.NewFromFloat(0.05),
			3: decimal.NewFromFloat(0.03),
			4: decimal.NewFromFloat(0.02),
			5: decimal.NewFromFloat(0.01),
		},
		fallback: decimal.NewFromFloat(0.005),
		maxLevel: MaxReferralDepth,
	}
	for lvl := 6; lvl <= s.maxLevel; lvl++ {
		s.levels[lvl] = s.fallback
	}
	return s
}

func (s *BonusSchedule) MaxLevel() int { return s.maxLevel }

// Percentage returns the rate for a level. Levels outside [1, MaxLevel] map
// to the fallback rate; callers reject them before calculation.
func (s *BonusSchedule) Percentage(level int) decimal.Decimal {
	if pct, ok := s.levels[level]; ok {
		return pct
	}
	return s.fallback
}

// Validate asserts every rate is non-negative and the sum over all levels
// stays at or below 50% of a purchase.
func (s *BonusSchedule) Validate() error {
	sum := decimal.Zero
	for lvl, pct := range s.levels {
		if pct.IsNegative() {
			return fmt.Errorf("bonus schedule: negative percentage %s at level %d", pct, lvl)
		}
		sum = sum.Add(pct)
	}
	if sum.GreaterThan(decimal.NewFromFloat(0.5)) {
		return fmt.Errorf("bonus schedule: total percentage %s exceeds 0.5", sum)
	}
	return nil
}

// TotalPercentage is the sum of all level rates.
func (s *BonusSchedule) TotalPercentage() decimal.Decimal {
	sum := decimal.Zero
	for _, pct := range s.levels {
		sum = sum.Add(pct)
	}
	return sum
}

// DistributionSummary describes the schedule for audit payloads.
func (s *BonusSchedule) DistributionSummary() map[string]string {
	out := make(map[string]string, len(s.levels)+1)
	for lvl, pct := range s.levels {
		out[fmt.Sprintf("level_%d", lvl)] = pct.String()
	}
	out["total"] = s.TotalPercentage().String()
	return out
}
