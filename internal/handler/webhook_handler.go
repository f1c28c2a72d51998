package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"bonus-service/internal/config"
	"bonus-service/internal/pkg/clock"
	"bonus-service/internal/usecase"
)

const webhookMaxBody = 1 << 20

var (
	errMissingSignature = errors.New("missing signature or timestamp header")
	errBadTimestamp     = errors.New("timestamp is not a unix epoch")
	errStaleTimestamp   = errors.New("timestamp outside allowed skew")
	errBadSignature     = errors.New("signature mismatch")
)

// WebhookHandler receives collection results from the mobile-money provider.
// Every authenticated, well-formed notification is acknowledged with 200 so
// the provider stops retrying; business outcomes live in the audit log.
type WebhookHandler struct {
	cfg       config.AppConfig
	paymentUC *usecase.PaymentUsecase
	clk       clock.Clock
	logger    *zap.Logger
}

func NewWebhookHandler(cfg config.AppConfig, paymentUC *usecase.PaymentUsecase, clk clock.Clock, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		cfg:       cfg,
		paymentUC: paymentUC,
		clk:       clk,
		logger:    logger,
	}
}

// CollectionEvent is the provider's notification payload.
type CollectionEvent struct {
	EventType         string `json:"event_type"`
	Reference         string `json:"reference"`
	ProviderReference string `json:"provider_reference,omitempty"`
	Reason            string `json:"reason,omitempty"`
}

// HandlePaymentWebhook verifies the HMAC signature and applies the event.
func (h *WebhookHandler) HandlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(io.LimitReader(r.Body, webhookMaxBody))
	if err != nil {
		h.logger.Error("failed to read webhook body", zap.Error(err))
		sendError(w, http.StatusBadRequest, "failed to read request body", err)
		return
	}

	if err := h.verifySignature(r, body); err != nil {
		h.logger.Warn("webhook signature rejected",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err))
		sendError(w, http.StatusUnauthorized, "invalid signature", nil)
		return
	}

	var event CollectionEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.logger.Error("failed to decode collection event", zap.Error(err))
		sendError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if event.Reference == "" {
		sendError(w, http.StatusBadRequest, "reference is required", nil)
		return
	}

	h.logger.Info("collection event received",
		zap.String("event_type", event.EventType),
		zap.String("reference", event.Reference),
		zap.String("remote_addr", r.RemoteAddr))

	var providerRef *string
	if event.ProviderReference != "" {
		providerRef = &event.ProviderReference
	}

	switch event.EventType {
	case "collection.completed":
		if _, err := h.paymentUC.HandleCompleted(ctx, event.Reference, providerRef, r.RemoteAddr); err != nil {
			h.logger.Error("failed to apply completed collection",
				zap.String("reference", event.Reference), zap.Error(err))
		}
	case "collection.failed", "collection.cancelled":
		reason := event.Reason
		if reason == "" {
			reason = event.EventType
		}
		if err := h.paymentUC.HandleFailed(ctx, event.Reference, reason); err != nil {
			h.logger.Warn("failure event not applied",
				zap.String("reference", event.Reference), zap.Error(err))
		}
	default:
		h.logger.Warn("unknown collection event type",
			zap.String("event_type", event.EventType),
			zap.String("reference", event.Reference))
	}

	sendSuccess(w, http.StatusOK, "acknowledged", map[string]any{
		"reference": event.Reference,
	})
}

// verifySignature checks X-Webhook-Signature against
// hex(HMAC-SHA256(secret, timestamp || body)) and bounds the timestamp skew.
func (h *WebhookHandler) verifySignature(r *http.Request, body []byte) error {
	signature := r.Header.Get("X-Webhook-Signature")
	timestamp := r.Header.Get("X-Webhook-Timestamp")
	if signature == "" || timestamp == "" {
		return errMissingSignature
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return errBadTimestamp
	}
	skew := h.clk.Now().Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > h.cfg.WebhookMaxSkew {
		return errStaleTimestamp
	}

	mac := hmac.New(sha256.New, []byte(h.cfg.WebhookSecret))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return errBadSignature
	}
	return nil
}

// ComputeWebhookSignature returns the expected signature for a timestamp
// and body. Exported for callers that emit webhooks in integration setups.
func ComputeWebhookSignature(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
