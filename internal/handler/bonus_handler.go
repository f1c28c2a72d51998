package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"bonus-service/internal/domain"
	"bonus-service/internal/pkg/money"
	"bonus-service/internal/pkg/xerrors"
	"bonus-service/internal/repository"
	"bonus-service/internal/usecase"
)

// BonusHandler exposes the referral and bonus API: signups, network reads,
// bonus queries, manual processing triggers, and withdrawals.
type BonusHandler struct {
	networkUC    *usecase.NetworkUsecase
	orchestrator *usecase.OrchestratorUsecase
	payoutUC     *usecase.PayoutUsecase
	fraudUC      *usecase.FraudUsecase
	withdrawalUC *usecase.WithdrawalUsecase
	bonuses      repository.BonusRepository
	logger       *zap.Logger
}

func NewBonusHandler(
	networkUC *usecase.NetworkUsecase,
	orchestrator *usecase.OrchestratorUsecase,
	payoutUC *usecase.PayoutUsecase,
	fraudUC *usecase.FraudUsecase,
	withdrawalUC *usecase.WithdrawalUsecase,
	bonuses repository.BonusRepository,
	logger *zap.Logger,
) *BonusHandler {
	return &BonusHandler{
		networkUC:    networkUC,
		orchestrator: orchestrator,
		payoutUC:     payoutUC,
		fraudUC:      fraudUC,
		withdrawalUC: withdrawalUC,
		bonuses:      bonuses,
		logger:       logger,
	}
}

type registerRequest struct {
	PhoneNumber  string  `json:"phone_number"`
	Email        *string `json:"email,omitempty"`
	CountryCode  string  `json:"country_code,omitempty"`
	ReferralCode string  `json:"referral_code"`
	ReferredBy   string  `json:"referred_by,omitempty"`
	DeviceID     *string `json:"device_id,omitempty"`
}

// HandleRegister creates a user inside the referral network.
func (h *BonusHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	user, err := h.networkUC.Register(r.Context(), usecase.RegisterInput{
		PhoneNumber:  req.PhoneNumber,
		Email:        req.Email,
		CountryCode:  req.CountryCode,
		ReferralCode: req.ReferralCode,
		ReferredBy:   req.ReferredBy,
		DeviceID:     req.DeviceID,
		IPAddress:    r.RemoteAddr,
	})
	if err != nil {
		h.respondError(w, "failed to register user", err)
		return
	}

	sendSuccess(w, http.StatusCreated, "user registered", map[string]any{
		"user_id":       user.ID,
		"referral_code": user.ReferralCode,
	})
}

// HandleDownline lists a user's descendants, optionally at one level.
func (h *BonusHandler) HandleDownline(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "user_id")
	if err != nil {
		sendError(w, http.StatusBadRequest, "invalid user id", err)
		return
	}

	var level *int
	if raw := r.URL.Query().Get("level"); raw != "" {
		l, err := strconv.Atoi(raw)
		if err != nil {
			sendError(w, http.StatusBadRequest, "invalid level", err)
			return
		}
		level = &l
	}

	downline, err := h.networkUC.Downline(r.Context(), userID, level)
	if err != nil {
		h.respondError(w, "failed to load downline", err)
		return
	}

	sendSuccess(w, http.StatusOK, "downline loaded", map[string]any{
		"user_id":  userID,
		"count":    len(downline),
		"downline": downline,
	})
}

// HandleRiskProfile returns the composite fraud score for one user.
func (h *BonusHandler) HandleRiskProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "user_id")
	if err != nil {
		sendError(w, http.StatusBadRequest, "invalid user id", err)
		return
	}

	profile, err := h.fraudUC.RiskProfile(r.Context(), userID)
	if err != nil {
		h.respondError(w, "failed to compute risk profile", err)
		return
	}

	sendSuccess(w, http.StatusOK, "risk profile computed", map[string]any{
		"user_id":    profile.UserID,
		"score":      profile.Score,
		"level":      profile.Level,
		"components": profile.Components,
	})
}

// HandlePaymentBonuses lists the bonus rows created by one payment.
func (h *BonusHandler) HandlePaymentBonuses(w http.ResponseWriter, r *http.Request) {
	paymentID, err := pathID(r, "payment_id")
	if err != nil {
		sendError(w, http.StatusBadRequest, "invalid payment id", err)
		return
	}

	rows, err := h.bonuses.ListByPayment(r.Context(), paymentID)
	if err != nil {
		h.respondError(w, "failed to list bonuses", err)
		return
	}

	sendSuccess(w, http.StatusOK, "bonuses listed", map[string]any{
		"payment_id": paymentID,
		"count":      len(rows),
		"bonuses":    rows,
	})
}

// HandleProcessPayment triggers bonus calculation for one payment, used by
// ops to reprocess after a transient failure.
func (h *BonusHandler) HandleProcessPayment(w http.ResponseWriter, r *http.Request) {
	paymentID, err := pathID(r, "payment_id")
	if err != nil {
		sendError(w, http.StatusBadRequest, "invalid payment id", err)
		return
	}

	sec, err := h.orchestrator.ProcessPaymentBonuses(r.Context(), paymentID, actorFromRequest(r))
	switch {
	case err == nil:
		sendSuccess(w, http.StatusOK, "bonuses processed", map[string]any{
			"processing_id":  sec.ProcessingID,
			"bonuses_stored": sec.BonusesStored,
			"bonuses_queued": sec.BonusesQueued,
			"threat_level":   sec.ThreatLevel,
		})
	case errors.Is(err, xerrors.ErrLockBusy), errors.Is(err, xerrors.ErrProcessingInProgress):
		sendError(w, http.StatusConflict, "payment is already processing", nil)
	case errors.Is(err, xerrors.ErrStaleState), errors.Is(err, xerrors.ErrBonusesAlreadyExist):
		sendSuccess(w, http.StatusOK, "bonuses already calculated", map[string]any{
			"payment_id": paymentID,
		})
	default:
		h.respondError(w, "failed to process bonuses", err)
	}
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// HandleCancelBonus cancels a pending bonus and removes its queue entry.
func (h *BonusHandler) HandleCancelBonus(w http.ResponseWriter, r *http.Request) {
	bonusID, err := pathID(r, "bonus_id")
	if err != nil {
		sendError(w, http.StatusBadRequest, "invalid bonus id", err)
		return
	}

	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Reason == "" {
		sendError(w, http.StatusBadRequest, "reason is required", nil)
		return
	}

	if err := h.payoutUC.Cancel(r.Context(), bonusID, req.Reason, actorFromRequest(r)); err != nil {
		h.respondError(w, "failed to cancel bonus", err)
		return
	}

	sendSuccess(w, http.StatusOK, "bonus cancelled", map[string]any{
		"bonus_id": bonusID,
	})
}

type withdrawalRequest struct {
	UserID int64  `json:"user_id"`
	Amount string `json:"amount"`
}

// HandleInitiateWithdrawal moves wallet balance out to mobile money.
func (h *BonusHandler) HandleInitiateWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req withdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	amount, err := money.Parse(req.Amount)
	if err != nil {
		sendError(w, http.StatusBadRequest, "invalid amount", err)
		return
	}

	withdrawal, err := h.withdrawalUC.Initiate(r.Context(), req.UserID, amount)
	if err != nil {
		h.respondError(w, "failed to initiate withdrawal", err)
		return
	}

	sendSuccess(w, http.StatusAccepted, "withdrawal initiated", map[string]any{
		"reference": withdrawal.Reference,
		"amount":    withdrawal.Amount.String(),
		"status":    withdrawal.Status,
	})
}

func (h *BonusHandler) respondError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, xerrors.ErrNotFound):
		sendError(w, http.StatusNotFound, message, err)
	case errors.Is(err, xerrors.ErrValidation), errors.Is(err, xerrors.ErrInvalidRequest):
		sendError(w, http.StatusBadRequest, message, err)
	case errors.Is(err, xerrors.ErrDuplicate):
		sendError(w, http.StatusConflict, message, err)
	case errors.Is(err, xerrors.ErrInsufficientBalance):
		sendError(w, http.StatusUnprocessableEntity, message, err)
	default:
		h.logger.Error(message, zap.Error(err))
		sendError(w, http.StatusInternalServerError, message, nil)
	}
}

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}

func actorFromRequest(r *http.Request) string {
	if actor := r.Header.Get("X-Actor-ID"); actor != "" {
		return actor
	}
	return domain.AuditActorSystem
}
