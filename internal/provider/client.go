package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"bonus-service/internal/config"
	"bonus-service/internal/pkg/xerrors"
)

// Client talks to the mobile-money provider's disbursement API. The provider
// answers asynchronously via the withdrawal callback; a 2xx here only means
// the request was accepted.
type Client struct {
	cfg        config.AppConfig
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(cfg config.AppConfig, logger *zap.Logger) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// DisbursementRequest is the payload for an outbound payout.
type DisbursementRequest struct {
	Reference   string `json:"reference"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	PhoneNumber string `json:"phone_number"`
	CountryCode string `json:"country_code"`
	CallbackURL string `json:"callback_url"`
}

// DisbursementResponse is the provider's synchronous acknowledgement.
type DisbursementResponse struct {
	Reference         string `json:"reference"`
	ProviderReference string `json:"provider_reference"`
	Status            string `json:"status"`
	Message           string `json:"message,omitempty"`
}

// Disburse submits a withdrawal to the provider. Network and 5xx failures
// map to ErrTransient so the caller can retry with the same reference.
func (c *Client) Disburse(ctx context.Context, reference, phoneNumber string, amount decimal.Decimal) error {
	body := DisbursementRequest{
		Reference:   reference,
		Amount:      amount.String(),
		Currency:    c.cfg.Currency,
		PhoneNumber: phoneNumber,
		CountryCode: c.cfg.CountryCode,
		CallbackURL: c.cfg.ProviderCallbackURL,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal disbursement request: %w", err)
	}

	url := c.cfg.ProviderURL + "/api/v1/disbursements"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create disbursement request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.ProviderAuthToken)

	c.logger.Info("sending disbursement to provider",
		zap.String("reference", reference),
		zap.String("amount", amount.String()))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: provider request failed: %v", xerrors.ErrTransient, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: provider returned status %d: %s", xerrors.ErrTransient, resp.StatusCode, string(respBody))
	case resp.StatusCode == http.StatusConflict:
		// Same reference resubmitted; the provider already has it.
		return xerrors.ErrDuplicate
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: provider rejected disbursement %s: status %d: %s",
			xerrors.ErrInvalidRequest, reference, resp.StatusCode, string(respBody))
	}

	var out DisbursementResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		c.logger.Warn("unparseable provider acknowledgement",
			zap.String("reference", reference), zap.Error(err))
		return nil
	}

	c.logger.Info("disbursement accepted by provider",
		zap.String("reference", reference),
		zap.String("provider_reference", out.ProviderReference),
		zap.String("status", out.Status))
	return nil
}
