package domain

import "time"

type ThreatLevel string

const (
	ThreatLevelLow    ThreatLevel = "low"
	ThreatLevelMedium ThreatLevel = "medium"
	ThreatLevelHigh   ThreatLevel = "high"
)

// SecurityContext is returned to the orchestrator's caller: what was
// checked, what failed, and how long the run took.
type SecurityContext struct {
	ProcessingID  string
	PaymentID     int64
	ThreatLevel   ThreatLevel
	RiskFlags     []string
	ChecksPassed  []string
	ChecksFailed  []string
	BonusesStored int
	BonusesQueued int
	StartedAt     time.Time
	FinishedAt    time.Time
}

func (c *SecurityContext) Pass(check string) {
	c.ChecksPassed = append(c.ChecksPassed, check)
}

func (c *SecurityContext) Fail(check string) {
	c.ChecksFailed = append(c.ChecksFailed, check)
}

func (c *SecurityContext) Flag(reason string) {
	c.RiskFlags = append(c.RiskFlags, reason)
}

func (c *SecurityContext) Duration() time.Duration {
	return c.FinishedAt.Sub(c.StartedAt)
}

// RiskProfile is the composite fraud score for one user.
type RiskProfile struct {
	UserID     int64
	Score      int
	Level      ThreatLevel
	Components map[string]int
}

// FraudSeverity tags a fraud finding.
type FraudSeverity string

const (
	FraudSeverityInfo     FraudSeverity = "info"
	FraudSeverityWarning  FraudSeverity = "warning"
	FraudSeverityCritical FraudSeverity = "critical"
)

// FraudFinding is one entry in a fraud sweep report.
type FraudFinding struct {
	Check    string
	Severity FraudSeverity
	UserID   *int64
	Details  map[string]any
}

// FraudReport is the outcome of one batch sweep.
type FraudReport struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Findings   []FraudFinding
}

func (r *FraudReport) CriticalCount() int {
	n := 0
	for _, f := range r.Findings {
		if f.Severity == FraudSeverityCritical {
			n++
		}
	}
	return n
}
