// Package notification delivers batch processing summaries to a tenant
// webhook, throttled per recipient so a misbehaving batch loop cannot
// flood anyone.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/fakturo/invoice-pipeline/internal/apperrors"
	"github.com/fakturo/invoice-pipeline/internal/counter"
)

const throttleWindow = time.Hour

// ErrThrottled is returned when the recipient's hourly ceiling is hit
var ErrThrottled = errors.New("notification throttled")

// BatchSummary is the payload sent after a processing batch finishes
type BatchSummary struct {
	TenantID  string `json:"tenant_id"`
	Total     int    `json:"total"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Review    int    `json:"review"`
}

type Config struct {
	WebhookURL       string
	Timeout          time.Duration
	PerRecipientHour int
}

type Notifier struct {
	config     Config
	httpClient *http.Client
	store      counter.Store
	logger     *zap.Logger
}

func NewNotifier(config Config, store counter.Store, logger *zap.Logger) *Notifier {
	return &Notifier{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		store:      store,
		logger:     logger,
	}
}

// Send posts one summary for a recipient. Returns ErrThrottled when the
// hourly ceiling is already spent; a webhook transport failure is
// wrapped but never retried here.
func (n *Notifier) Send(ctx context.Context, recipient string, summary BatchSummary) error {
	if n.config.WebhookURL == "" {
		return nil
	}

	count, _, err := n.store.Incr(ctx, "notify:"+recipient, throttleWindow)
	if err != nil {
		// a broken counter store must not silence notifications
		n.logger.Warn("notification throttle store unavailable", zap.Error(err))
	} else if count > int64(n.config.PerRecipientHour) {
		n.logger.Info("notification suppressed by hourly ceiling",
			zap.String("recipient", recipient),
			zap.Int64("count", count))
		return ErrThrottled
	}

	body, err := json.Marshal(map[string]any{
		"recipient": recipient,
		"summary":   summary,
	})
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	started := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.config.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return apperrors.NewExternalServiceError("webhook", time.Since(started), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return apperrors.NewExternalServiceError("webhook", time.Since(started),
			fmt.Errorf("webhook answered %d", resp.StatusCode))
	}

	n.logger.Debug("notification delivered",
		zap.String("recipient", recipient),
		zap.String("tenant_id", summary.TenantID))

	return nil
}
