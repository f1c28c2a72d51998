package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"bonus-service/internal/pkg/xerrors"
	"bonus-service/internal/usecase"
)

// CallbackHandler receives the provider's asynchronous verdicts on outbound
// disbursements.
type CallbackHandler struct {
	withdrawalUC *usecase.WithdrawalUsecase
	logger       *zap.Logger
}

func NewCallbackHandler(withdrawalUC *usecase.WithdrawalUsecase, logger *zap.Logger) *CallbackHandler {
	return &CallbackHandler{
		withdrawalUC: withdrawalUC,
		logger:       logger,
	}
}

// WithdrawalCallback is the provider's disbursement result payload.
type WithdrawalCallback struct {
	Reference     string `json:"reference"`
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// HandleWithdrawalCallback finalizes a withdrawal. Replayed callbacks for a
// finalized withdrawal are acknowledged without change.
func (h *CallbackHandler) HandleWithdrawalCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var cb WithdrawalCallback
	if err := json.NewDecoder(r.Body).Decode(&cb); err != nil {
		h.logger.Error("failed to decode withdrawal callback", zap.Error(err))
		sendError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if cb.Reference == "" || cb.Status == "" {
		sendError(w, http.StatusBadRequest, "reference and status are required", nil)
		return
	}

	h.logger.Info("withdrawal callback received",
		zap.String("reference", cb.Reference),
		zap.String("status", cb.Status),
		zap.String("remote_addr", r.RemoteAddr))

	var providerTxn *string
	if cb.TransactionID != "" {
		providerTxn = &cb.TransactionID
	}

	withdrawal, err := h.withdrawalUC.HandleCallback(ctx, cb.Reference, cb.Status, providerTxn)
	switch {
	case err == nil:
		sendSuccess(w, http.StatusOK, "withdrawal updated", map[string]any{
			"reference": withdrawal.Reference,
			"status":    withdrawal.Status,
		})
	case errors.Is(err, xerrors.ErrWithdrawalFinalized):
		sendSuccess(w, http.StatusOK, "already processed", map[string]any{
			"reference": withdrawal.Reference,
			"status":    withdrawal.Status,
		})
	case errors.Is(err, xerrors.ErrNotFound):
		sendError(w, http.StatusNotFound, "unknown withdrawal reference", nil)
	case errors.Is(err, xerrors.ErrInvalidRequest):
		sendError(w, http.StatusBadRequest, "unsupported status", err)
	default:
		h.logger.Error("failed to apply withdrawal callback",
			zap.String("reference", cb.Reference), zap.Error(err))
		sendError(w, http.StatusInternalServerError, "failed to process callback", nil)
	}
}
