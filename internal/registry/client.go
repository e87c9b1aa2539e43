// Package registry looks companies up in the national VAT taxpayer
// register by tax identification number.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/fakturo/invoice-pipeline/internal/apperrors"
)

const providerName = "registry"

// Entry is one taxpayer record from the register
type Entry struct {
	TaxID            string
	Name             string
	Address          string
	REGON            string
	KRS              string
	Active           bool
	RegistrationDate *time.Time
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
	now        func() time.Time
}

func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		now:        time.Now,
	}
}

// SetClock overrides the clock used for the query date, for tests
func (c *Client) SetClock(now func() time.Time) {
	c.now = now
}

type searchResponse struct {
	Result struct {
		Subject *struct {
			Name                  string `json:"name"`
			NIP                   string `json:"nip"`
			StatusVat             string `json:"statusVat"`
			Regon                 string `json:"regon"`
			Krs                   string `json:"krs"`
			WorkingAddress        string `json:"workingAddress"`
			ResidenceAddress      string `json:"residenceAddress"`
			RegistrationLegalDate string `json:"registrationLegalDate"`
		} `json:"subject"`
		RequestID string `json:"requestId"`
	} `json:"result"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Lookup queries the register for one tax id. A tax id the register does
// not know returns (nil, nil); transport and server failures return an
// error carrying the observed latency.
func (c *Client) Lookup(ctx context.Context, taxID string) (*Entry, error) {
	url := fmt.Sprintf("%s/api/search/nip/%s?date=%s",
		c.baseURL, taxID, c.now().UTC().Format("2006-01-02"))

	started := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build registry request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.NewExternalServiceError(providerName, time.Since(started), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, apperrors.NewExternalServiceError(providerName, time.Since(started), err)
	}

	switch {
	case resp.StatusCode == http.StatusBadRequest:
		// the register rejects malformed tax ids with a coded 400
		var failure searchResponse
		if json.Unmarshal(body, &failure) == nil && failure.Message != "" {
			c.logger.Debug("registry rejected tax id",
				zap.String("tax_id", taxID), zap.String("code", failure.Code))
			return nil, nil
		}
		return nil, apperrors.NewExternalServiceError(providerName, time.Since(started),
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, apperrors.NewExternalServiceError(providerName, time.Since(started),
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var parsed searchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, apperrors.NewExternalServiceError(providerName, time.Since(started),
			fmt.Errorf("unparseable registry response: %w", err))
	}

	subject := parsed.Result.Subject
	if subject == nil {
		return nil, nil
	}

	address := subject.WorkingAddress
	if address == "" {
		address = subject.ResidenceAddress
	}

	entry := &Entry{
		TaxID:   subject.NIP,
		Name:    subject.Name,
		Address: address,
		REGON:   subject.Regon,
		KRS:     subject.Krs,
		Active:  subject.StatusVat == "Czynny",
	}
	if subject.RegistrationLegalDate != "" {
		if t, err := time.Parse("2006-01-02", subject.RegistrationLegalDate); err == nil {
			entry.RegistrationDate = &t
		}
	}

	c.logger.Debug("registry lookup completed",
		zap.String("tax_id", taxID),
		zap.Bool("active", entry.Active),
		zap.Duration("elapsed", time.Since(started)))

	return entry, nil
}
