package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"bonus-service/internal/config"
	"bonus-service/internal/domain"
	"bonus-service/internal/pkg/clock"
	"bonus-service/internal/pkg/xerrors"
	"bonus-service/internal/repository"
)

// Fakes embed the repository interface so only the methods a test needs get
// overridden; an unexpected call panics with a nil dereference, which is the
// failure we want.

type fakeUserRepo struct {
	repository.UserRepository
	users  map[int64]*domain.User
	byCode map[string]*domain.User
}

func (f *fakeUserRepo) GetByID(_ context.Context, id int64) (*domain.User, error) {
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, errNotFoundForTest
}

func (f *fakeUserRepo) GetByReferralCode(_ context.Context, code string) (*domain.User, error) {
	if u, ok := f.byCode[code]; ok {
		return u, nil
	}
	return nil, errNotFoundForTest
}

func (f *fakeUserRepo) EligibilityByIDs(_ context.Context, ids []int64) (map[int64]*domain.User, error) {
	out := make(map[int64]*domain.User, len(ids))
	for _, id := range ids {
		if u, ok := f.users[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

type fakePaymentRepo struct {
	repository.PaymentRepository
	payments        map[int64]*domain.Payment
	beginErr        error
	beginCalls      int
	clearCalls      int
	recentByUser    int
	recentByUserErr error
}

func (f *fakePaymentRepo) GetByID(_ context.Context, id int64) (*domain.Payment, error) {
	if p, ok := f.payments[id]; ok {
		return p, nil
	}
	return nil, errNotFoundForTest
}

func (f *fakePaymentRepo) MarkCompleted(_ context.Context, reference string, providerRef *string) (*domain.Payment, bool, error) {
	for _, p := range f.payments {
		if p.Reference == reference {
			if p.Status == domain.PaymentStatusCompleted {
				return p, false, nil
			}
			p.Status = domain.PaymentStatusCompleted
			p.ProviderReference = providerRef
			return p, true, nil
		}
	}
	return nil, false, errNotFoundForTest
}

func (f *fakePaymentRepo) MarkFailed(_ context.Context, reference string) error {
	for _, p := range f.payments {
		if p.Reference == reference {
			if p.Status != domain.PaymentStatusPending {
				return xerrors.ErrStaleState
			}
			p.Status = domain.PaymentStatusFailed
			return nil
		}
	}
	return errNotFoundForTest
}

func (f *fakePaymentRepo) BeginBonusProcessing(_ context.Context, _ int64, _ time.Duration) error {
	f.beginCalls++
	return f.beginErr
}

func (f *fakePaymentRepo) ClearBonusProcessing(_ context.Context, _ int64) error {
	f.clearCalls++
	return nil
}

func (f *fakePaymentRepo) CountRecentByUser(_ context.Context, _ int64, _ time.Time) (int, error) {
	return f.recentByUser, f.recentByUserErr
}

type fakeBonusRepo struct {
	repository.BonusRepository
	countByPayment int
	exists         map[[3]int64]bool
	sumToUser      decimal.Decimal
	storeErr       error
	stored         []*domain.ReferralBonus
	markedFailed   []int64
	cancelled      []int64
	cancelErr      error
	listRows       []*domain.ReferralBonus
}

func (f *fakeBonusRepo) CountByPayment(_ context.Context, _ int64) (int, error) {
	return f.countByPayment, nil
}

func (f *fakeBonusRepo) ExistsForPaymentUserLevel(_ context.Context, paymentID, userID int64, level int) (bool, error) {
	return f.exists[[3]int64{paymentID, userID, int64(level)}], nil
}

func (f *fakeBonusRepo) SumToUserSince(_ context.Context, _ int64, _ time.Time) (decimal.Decimal, error) {
	return f.sumToUser, nil
}

func (f *fakeBonusRepo) StoreBatch(_ context.Context, _ int64, rows []*domain.ReferralBonus, _ string) (int, error) {
	if f.storeErr != nil {
		return 0, f.storeErr
	}
	for i, b := range rows {
		b.ID = int64(i + 1)
	}
	f.stored = append(f.stored, rows...)
	f.countByPayment += len(rows)
	return len(rows), nil
}

func (f *fakeBonusRepo) MarkFailed(_ context.Context, bonusID int64) error {
	f.markedFailed = append(f.markedFailed, bonusID)
	return nil
}

func (f *fakeBonusRepo) CancelIfPending(_ context.Context, bonusID int64) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, bonusID)
	return nil
}

func (f *fakeBonusRepo) ListByPayment(_ context.Context, _ int64) ([]*domain.ReferralBonus, error) {
	return f.listRows, nil
}

type fakeNetworkRepo struct {
	repository.NetworkRepository
	ancestors   []*domain.Ancestor
	descendants []*domain.Descendant
	relations   map[[3]int64]bool
	cyclicRows  []*domain.NetworkRow
	cyclicErr   error
}

func (f *fakeNetworkRepo) Descendants(_ context.Context, _ int64, level *int) ([]*domain.Descendant, error) {
	if level == nil {
		return f.descendants, nil
	}
	var out []*domain.Descendant
	for _, d := range f.descendants {
		if d.Depth == *level {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeNetworkRepo) Ancestors(_ context.Context, _ int64, maxDepth int) ([]*domain.Ancestor, error) {
	var out []*domain.Ancestor
	for _, a := range f.ancestors {
		if a.Depth <= maxDepth {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeNetworkRepo) HasRelationship(_ context.Context, ancestorID, descendantID int64, depth int) (bool, error) {
	if f.relations == nil {
		return true, nil
	}
	return f.relations[[3]int64{ancestorID, descendantID, int64(depth)}], nil
}

func (f *fakeNetworkRepo) CyclicRows(_ context.Context) ([]*domain.NetworkRow, error) {
	return f.cyclicRows, f.cyclicErr
}

type fakeQueueRepo struct {
	repository.QueueRepository
	mu        sync.Mutex
	enqueued  []int64
	claimable []*domain.PayoutItem
	completed []int64
	failed    map[int64]*time.Time
	cancelled []int64
}

func (f *fakeQueueRepo) Enqueue(_ context.Context, bonusID, _ int64, _ decimal.Decimal, _ int, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, bonusID)
	return nil
}

func (f *fakeQueueRepo) ClaimBatch(_ context.Context, batchSize int, _ time.Time) ([]*domain.PayoutItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.claimable)
	if n > batchSize {
		n = batchSize
	}
	items := f.claimable[:n]
	f.claimable = f.claimable[n:]
	for _, it := range items {
		it.Status = domain.PayoutStatusProcessing
		it.AttemptCount++
	}
	return items, nil
}

func (f *fakeQueueRepo) Complete(_ context.Context, itemID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, itemID)
	return nil
}

func (f *fakeQueueRepo) Fail(_ context.Context, itemID int64, nextAttempt *time.Time, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failed == nil {
		f.failed = make(map[int64]*time.Time)
	}
	f.failed[itemID] = nextAttempt
	return nil
}

func (f *fakeQueueRepo) CancelByBonus(_ context.Context, bonusID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, bonusID)
	return nil
}

type fakePayoutRepo struct {
	repository.PayoutRepository
	payErr   map[int64]error
	paid     []int64
	paidRefs []string
}

func (f *fakePayoutRepo) PayBonus(_ context.Context, bonusID int64, reference string, _ time.Time) (*domain.Transaction, error) {
	if err := f.payErr[bonusID]; err != nil {
		return nil, err
	}
	f.paid = append(f.paid, bonusID)
	f.paidRefs = append(f.paidRefs, reference)
	return &domain.Transaction{ID: bonusID * 100, Reference: reference}, nil
}

type fakeAuditRepo struct {
	repository.AuditRepository
	mu      sync.Mutex
	entries []*domain.AuditEntry
}

func (f *fakeAuditRepo) Insert(_ context.Context, entry *domain.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeAuditRepo) byAction(action string) []*domain.AuditEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.AuditEntry
	for _, e := range f.entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

type fakeFraudRepo struct {
	repository.FraudRepository
	history       []repository.BonusEvent
	geoAnomaly    bool
	selfReferrals []repository.SelfReferralRow
	sharedPhones  []repository.SharedPhoneReferral
	phoneMisuse   []repository.PhoneUsage
	ipBursts      []repository.IPBurst
	geoRows       []repository.GeoAnomaly
	velocity      []repository.VelocityRow
}

func (f *fakeFraudRepo) BonusHistory(_ context.Context, _ int64, _ time.Time) ([]repository.BonusEvent, error) {
	return f.history, nil
}

func (f *fakeFraudRepo) GeoAnomalyForUser(_ context.Context, _ int64, _ time.Duration) (bool, error) {
	return f.geoAnomaly, nil
}

func (f *fakeFraudRepo) SelfReferrals(_ context.Context) ([]repository.SelfReferralRow, error) {
	return f.selfReferrals, nil
}

func (f *fakeFraudRepo) SharedPhoneReferrals(_ context.Context) ([]repository.SharedPhoneReferral, error) {
	return f.sharedPhones, nil
}

func (f *fakeFraudRepo) PhoneMisuse(_ context.Context, _ int) ([]repository.PhoneUsage, error) {
	return f.phoneMisuse, nil
}

func (f *fakeFraudRepo) RapidAccountsByIP(_ context.Context, _ time.Duration, _ int) ([]repository.IPBurst, error) {
	return f.ipBursts, nil
}

func (f *fakeFraudRepo) GeoAnomalies(_ context.Context, _ time.Duration) ([]repository.GeoAnomaly, error) {
	return f.geoRows, nil
}

func (f *fakeFraudRepo) BonusVelocity(_ context.Context, _ time.Duration, _ int) ([]repository.VelocityRow, error) {
	return f.velocity, nil
}

type fakePackageRepo struct {
	repository.PackageRepository
	activeIDs []int64
	outcomes  map[int64]*repository.YieldOutcome
	errs      map[int64]error
	created   []*domain.Package
}

func (f *fakePackageRepo) CreateFromPayment(_ context.Context, p *domain.Package) error {
	for _, existing := range f.created {
		if existing.PaymentID == p.PaymentID {
			return xerrors.ErrDuplicate
		}
	}
	p.ID = int64(len(f.created) + 1)
	f.created = append(f.created, p)
	return nil
}

func (f *fakePackageRepo) ListActiveIDs(_ context.Context, _ int) ([]int64, error) {
	return f.activeIDs, nil
}

func (f *fakePackageRepo) AccrueDaily(_ context.Context, packageID int64, _ time.Time) (*repository.YieldOutcome, error) {
	if err := f.errs[packageID]; err != nil {
		return nil, err
	}
	return f.outcomes[packageID], nil
}

type fakeWalletRepo struct {
	repository.WalletRepository
	debitErr  error
	creditErr error
	debits    []*domain.WalletDebit
	credits   []*domain.WalletCredit
}

func (f *fakeWalletRepo) Debit(_ context.Context, req *domain.WalletDebit) (*domain.Transaction, error) {
	if f.debitErr != nil {
		return nil, f.debitErr
	}
	f.debits = append(f.debits, req)
	return &domain.Transaction{ID: int64(len(f.debits)), Reference: req.Reference}, nil
}

func (f *fakeWalletRepo) Credit(_ context.Context, req *domain.WalletCredit) (*domain.Transaction, error) {
	if f.creditErr != nil {
		return nil, f.creditErr
	}
	f.credits = append(f.credits, req)
	return &domain.Transaction{ID: int64(len(f.credits)), Reference: req.Reference}, nil
}

type fakeWithdrawalRepo struct {
	repository.WithdrawalRepository
	createErr error
	rows      map[string]*domain.Withdrawal
}

func (f *fakeWithdrawalRepo) Create(_ context.Context, w *domain.Withdrawal) error {
	if f.createErr != nil {
		return f.createErr
	}
	if f.rows == nil {
		f.rows = make(map[string]*domain.Withdrawal)
	}
	w.ID = int64(len(f.rows) + 1)
	w.Status = domain.WithdrawalStatusPending
	f.rows[w.Reference] = w
	return nil
}

func (f *fakeWithdrawalRepo) Finalize(_ context.Context, reference string, status domain.WithdrawalStatus, providerTxn *string) (*domain.Withdrawal, error) {
	w, ok := f.rows[reference]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	if w.Finalized() {
		return w, xerrors.ErrWithdrawalFinalized
	}
	w.Status = status
	w.ProviderTransaction = providerTxn
	return w, nil
}

type fakeDisburser struct {
	err   error
	calls []string
}

func (f *fakeDisburser) Disburse(_ context.Context, reference, _ string, _ decimal.Decimal) error {
	f.calls = append(f.calls, reference)
	return f.err
}

type fakePublisher struct {
	mu         sync.Mutex
	batches    []int64
	paid       []int64
	cancelled  []int64
	alerts     []int64
	alertFlags [][]string
}

func (f *fakePublisher) PublishBonusBatch(_ context.Context, paymentID int64, _ int, _ decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, paymentID)
}

func (f *fakePublisher) PublishBonusPaid(_ context.Context, bonusID, _ int64, _ decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paid = append(f.paid, bonusID)
}

func (f *fakePublisher) PublishBonusCancelled(_ context.Context, bonusID int64, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, bonusID)
}

func (f *fakePublisher) PublishSecurityAlert(_ context.Context, paymentID int64, _ domain.ThreatLevel, flags []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, paymentID)
	f.alertFlags = append(f.alertFlags, flags)
}

var errNotFoundForTest = xerrors.ErrNotFound

func testConfig() config.AppConfig {
	return config.AppConfig{
		Currency:                  "UGX",
		MaxLevel:                  20,
		MinPurchaseForBonus:       decimal.NewFromInt(10000),
		MaxBonusAmount:            decimal.NewFromInt(10_000_000),
		MinBonusAmount:            decimal.NewFromInt(1),
		MinWithdrawalAmount:       decimal.NewFromInt(1000),
		LevelOneMaxBonus:          decimal.NewFromInt(500000),
		DeepLevelMaxBonus:         decimal.NewFromInt(100000),
		DailyBonusLimitPerUser:    decimal.NewFromInt(1_000_000),
		PayoutBatchSize:           50,
		PayoutMaxAttempts:         5,
		PaymentMaxAge:             30 * 24 * time.Hour,
		ProcessingLockTTL:         5 * time.Minute,
		ProcessingStalenessWindow: 30 * time.Minute,
		RiskScoreHighThreshold:    70,
		FraudWindow:               24 * time.Hour,
		FraudMaxAccountsPerPhone:  2,
		FraudMaxAccountsPerIP:     5,
		FraudVelocityPerHour:      50,
	}
}

func testClock() *clock.Fixed {
	return &clock.Fixed{T: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func testLogger() *zap.Logger { return zap.NewNop() }
