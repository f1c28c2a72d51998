package usecase

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"bonus-service/internal/config"
	"bonus-service/internal/domain"
	"bonus-service/internal/pkg/clock"
	"bonus-service/internal/repository"
)

// FraudUsecase runs the periodic integrity and abuse sweep over the referral
// network and bonus history. Findings are audited; critical findings raise a
// security alert but the sweep itself never mutates bonus state.
type FraudUsecase struct {
	cfg     config.AppConfig
	network repository.NetworkRepository
	fraud   repository.FraudRepository
	audit   repository.AuditRepository
	pub     BonusEventPublisher
	clk     clock.Clock
	logger  *zap.Logger
}

func NewFraudUsecase(
	cfg config.AppConfig,
	network repository.NetworkRepository,
	fraud repository.FraudRepository,
	audit repository.AuditRepository,
	pub BonusEventPublisher,
	clk clock.Clock,
	logger *zap.Logger,
) *FraudUsecase {
	return &FraudUsecase{
		cfg:     cfg,
		network: network,
		fraud:   fraud,
		audit:   audit,
		pub:     pub,
		clk:     clk,
		logger:  logger,
	}
}

// RunAudit executes every check and returns the full report. Individual check
// failures are recorded as findings rather than aborting the sweep.
func (uc *FraudUsecase) RunAudit(ctx context.Context) (*domain.FraudReport, error) {
	report := &domain.FraudReport{StartedAt: uc.clk.Now()}

	uc.checkNetworkIntegrity(ctx, report)
	uc.checkSelfReferrals(ctx, report)
	uc.checkSharedPhones(ctx, report)
	uc.checkPhoneMisuse(ctx, report)
	uc.checkIPBursts(ctx, report)
	uc.checkGeoAnomalies(ctx, report)
	uc.checkBonusVelocity(ctx, report)

	report.FinishedAt = uc.clk.Now()

	for i := range report.Findings {
		uc.recordFinding(ctx, &report.Findings[i])
	}
	if n := report.CriticalCount(); n > 0 {
		uc.pub.PublishSecurityAlert(ctx, 0, domain.ThreatLevelHigh, []string{
			fmt.Sprintf("fraud_sweep_critical_findings:%d", n),
		})
	}

	uc.logger.Info("fraud sweep finished",
		zap.Int("findings", len(report.Findings)),
		zap.Int("critical", report.CriticalCount()),
		zap.Duration("took", report.FinishedAt.Sub(report.StartedAt)),
	)
	return report, nil
}

// RiskProfile scores a single user from their bonus history over the
// configured window.
func (uc *FraudUsecase) RiskProfile(ctx context.Context, userID int64) (*domain.RiskProfile, error) {
	now := uc.clk.Now()
	history, err := uc.fraud.BonusHistory(ctx, userID, now.Add(-30*24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("load bonus history for user %d: %w", userID, err)
	}
	score, components := ComputeRiskScore(history, now)
	return &domain.RiskProfile{
		UserID:     userID,
		Score:      score,
		Level:      RiskLevelForScore(score, uc.cfg.RiskScoreHighThreshold),
		Components: components,
	}, nil
}

func (uc *FraudUsecase) checkNetworkIntegrity(ctx context.Context, report *domain.FraudReport) {
	rows, err := uc.network.CyclicRows(ctx)
	if err != nil {
		report.Findings = append(report.Findings, checkError("network_integrity", err))
		return
	}
	for _, row := range rows {
		uid := row.AncestorID
		report.Findings = append(report.Findings, domain.FraudFinding{
			Check:    "network_integrity",
			Severity: domain.FraudSeverityCritical,
			UserID:   &uid,
			Details: map[string]any{
				"ancestor_id":   row.AncestorID,
				"descendant_id": row.DescendantID,
				"depth":         row.Depth,
			},
		})
	}
}

func (uc *FraudUsecase) checkSelfReferrals(ctx context.Context, report *domain.FraudReport) {
	rows, err := uc.fraud.SelfReferrals(ctx)
	if err != nil {
		report.Findings = append(report.Findings, checkError("self_referral", err))
		return
	}
	for _, row := range rows {
		uid := row.UserID
		report.Findings = append(report.Findings, domain.FraudFinding{
			Check:    "self_referral",
			Severity: domain.FraudSeverityCritical,
			UserID:   &uid,
			Details:  map[string]any{"user_id": row.UserID},
		})
	}
}

func (uc *FraudUsecase) checkSharedPhones(ctx context.Context, report *domain.FraudReport) {
	rows, err := uc.fraud.SharedPhoneReferrals(ctx)
	if err != nil {
		report.Findings = append(report.Findings, checkError("shared_phone_referral", err))
		return
	}
	for _, row := range rows {
		uid := row.ReferrerID
		report.Findings = append(report.Findings, domain.FraudFinding{
			Check:    "shared_phone_referral",
			Severity: domain.FraudSeverityCritical,
			UserID:   &uid,
			Details: map[string]any{
				"referrer_id":  row.ReferrerID,
				"referred_id":  row.ReferredID,
				"phone_number": maskPhone(row.PhoneNumber),
			},
		})
	}
}

func (uc *FraudUsecase) checkPhoneMisuse(ctx context.Context, report *domain.FraudReport) {
	rows, err := uc.fraud.PhoneMisuse(ctx, uc.cfg.FraudMaxAccountsPerPhone)
	if err != nil {
		report.Findings = append(report.Findings, checkError("phone_misuse", err))
		return
	}
	for _, row := range rows {
		report.Findings = append(report.Findings, domain.FraudFinding{
			Check:    "phone_misuse",
			Severity: domain.FraudSeverityWarning,
			Details: map[string]any{
				"phone_number": maskPhone(row.PhoneNumber),
				"accounts":     row.Count,
				"user_ids":     row.UserIDs,
			},
		})
	}
}

func (uc *FraudUsecase) checkIPBursts(ctx context.Context, report *domain.FraudReport) {
	rows, err := uc.fraud.RapidAccountsByIP(ctx, uc.cfg.FraudWindow, uc.cfg.FraudMaxAccountsPerIP)
	if err != nil {
		report.Findings = append(report.Findings, checkError("rapid_accounts_by_ip", err))
		return
	}
	for _, row := range rows {
		report.Findings = append(report.Findings, domain.FraudFinding{
			Check:    "rapid_accounts_by_ip",
			Severity: domain.FraudSeverityWarning,
			Details: map[string]any{
				"ip_address": row.IPAddress,
				"accounts":   row.Count,
			},
		})
	}
}

func (uc *FraudUsecase) checkGeoAnomalies(ctx context.Context, report *domain.FraudReport) {
	rows, err := uc.fraud.GeoAnomalies(ctx, uc.cfg.FraudWindow)
	if err != nil {
		report.Findings = append(report.Findings, checkError("geo_anomaly", err))
		return
	}
	for _, row := range rows {
		uid := row.UserID
		report.Findings = append(report.Findings, domain.FraudFinding{
			Check:    "geo_anomaly",
			Severity: domain.FraudSeverityWarning,
			UserID:   &uid,
			Details: map[string]any{
				"country_a": row.CountryA,
				"country_b": row.CountryB,
				"seen_a":    row.FirstSeen,
				"seen_b":    row.LastSeen,
			},
		})
	}
}

func (uc *FraudUsecase) checkBonusVelocity(ctx context.Context, report *domain.FraudReport) {
	rows, err := uc.fraud.BonusVelocity(ctx, uc.cfg.FraudWindow, uc.cfg.FraudVelocityPerHour)
	if err != nil {
		report.Findings = append(report.Findings, checkError("bonus_velocity", err))
		return
	}
	for _, row := range rows {
		uid := row.UserID
		report.Findings = append(report.Findings, domain.FraudFinding{
			Check:    "bonus_velocity",
			Severity: domain.FraudSeverityWarning,
			UserID:   &uid,
			Details: map[string]any{
				"bonuses":        row.Count,
				"window_seconds": uc.cfg.FraudWindow.Seconds(),
			},
		})
	}
}

func (uc *FraudUsecase) recordFinding(ctx context.Context, f *domain.FraudFinding) {
	details := map[string]any{
		"check":    f.Check,
		"severity": string(f.Severity),
	}
	for k, v := range f.Details {
		details[k] = v
	}
	entry := &domain.AuditEntry{
		ActorID: domain.AuditActorSystem,
		Action:  domain.AuditActionFraudFinding,
		Details: details,
	}
	if err := uc.audit.Insert(ctx, entry); err != nil {
		uc.logger.Error("failed to audit fraud finding",
			zap.String("check", f.Check), zap.Error(err))
	}
}

func checkError(check string, err error) domain.FraudFinding {
	return domain.FraudFinding{
		Check:    check,
		Severity: domain.FraudSeverityInfo,
		Details:  map[string]any{"error": err.Error()},
	}
}

// maskPhone keeps the last four digits so findings stay useful without
// putting full MSISDNs in the audit log.
func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return "****" + phone[len(phone)-4:]
}
