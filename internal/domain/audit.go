package domain

import "time"

// AuditActorSystem is the actor recorded for unattended jobs.
const AuditActorSystem = "system"

// AuditEntry is one append-only audit record. Rows are never updated or
// deleted by the engine.
type AuditEntry struct {
	ID        int64
	ActorID   string
	Action    string
	IPAddress string
	Details   map[string]any
	CreatedAt time.Time
}

// Audit actions written by the bonus engine.
const (
	AuditActionBonusCalculated     = "bonus_calculation_completed"
	AuditActionBonusCalculationErr = "bonus_calculation_failed"
	AuditActionBonusPaid           = "bonus_paid"
	AuditActionBonusPayoutFailed   = "bonus_payout_failed"
	AuditActionBonusCancelled      = "bonus_cancelled"
	AuditActionDailyYieldRun       = "daily_yield_run"
	AuditActionSecurityBlock       = "bonus_processing_blocked"
	AuditActionFraudFinding        = "fraud_finding"
	AuditActionIntegrityMismatch   = "bonus_integrity_mismatch"
	AuditActionWebhookReceived     = "payment_webhook_received"
	AuditActionWithdrawalUpdate    = "withdrawal_status_update"
	AuditActionUserRegistered      = "referral_user_registered"
)
