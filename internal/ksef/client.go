// Package ksef talks to the national e-invoicing gateway: session
// handling, invoice submission, status polling and receipt retrieval.
package ksef

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/fakturo/invoice-pipeline/internal/apperrors"
)

const providerName = "ksef"

var (
	// ErrAuth marks an authorisation failure: the long-lived token is
	// wrong or the session could not be refreshed
	ErrAuth = errors.New("gateway authorisation failed")

	// ErrPollTimeout is returned when the gateway stays PENDING for the
	// whole polling budget
	ErrPollTimeout = errors.New("gateway did not reach a terminal status in time")
)

// SubmissionStatus mirrors the gateway's processing states
type SubmissionStatus string

const (
	StatusPending  SubmissionStatus = "PENDING"
	StatusAccepted SubmissionStatus = "ACCEPTED"
	StatusRejected SubmissionStatus = "REJECTED"
)

// StatusResult is one poll answer. KSeFNumber is set only on ACCEPTED,
// RejectReason only on REJECTED.
type StatusResult struct {
	Status       SubmissionStatus
	KSeFNumber   string
	RejectReason string
}

type Config struct {
	BaseURL      string
	AuthToken    string
	ContextNIP   string
	Timeout      time.Duration
	PollInterval time.Duration
	PollTimeout  time.Duration
	ReceiptDir   string
}

type Client struct {
	config     Config
	httpClient *http.Client
	session    *sessionManager
	logger     *zap.Logger
}

func NewClient(config Config, logger *zap.Logger) *Client {
	httpClient := &http.Client{Timeout: config.Timeout}
	return &Client{
		config:     config,
		httpClient: httpClient,
		session:    newSessionManager(config.BaseURL, config.AuthToken, config.ContextNIP, httpClient, logger),
		logger:     logger,
	}
}

type submitResponse struct {
	ElementReferenceNumber string `json:"elementReferenceNumber"`
}

// Ping opens a gateway session without sending anything. Used by the
// diagnostic CLI to verify credentials against an environment.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.session.Token(ctx)
	return err
}

// Submit sends one invoice document and returns the gateway reference
// number. A stale session is refreshed and the call retried once.
func (c *Client) Submit(ctx context.Context, doc *Document) (string, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to encode gateway document: %w", err)
	}

	ref, err := c.submitOnce(ctx, body)
	if errors.Is(err, errSessionStale) {
		c.session.Invalidate()
		ref, err = c.submitOnce(ctx, body)
	}
	if err != nil {
		if errors.Is(err, errSessionStale) {
			return "", fmt.Errorf("%w: session rejected twice", ErrAuth)
		}
		return "", err
	}

	c.logger.Info("invoice submitted to gateway",
		zap.String("reference", ref),
		zap.String("invoice_number", doc.InvoiceNumber))

	return ref, nil
}

// errSessionStale is internal: the gateway answered 401 on a session
// token we believed valid
var errSessionStale = errors.New("session token rejected")

func (c *Client) submitOnce(ctx context.Context, body []byte) (string, error) {
	token, err := c.session.Token(ctx)
	if err != nil {
		return "", err
	}

	started := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		c.config.BaseURL+"/api/online/Invoice/Send", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("SessionToken", token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", apperrors.NewExternalServiceError(providerName, time.Since(started), err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return "", errSessionStale
	case resp.StatusCode == http.StatusForbidden:
		return "", fmt.Errorf("%w: submission forbidden for this context", ErrAuth)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// business rejection at the door, carries a gateway message
		return "", apperrors.NewExternalServiceError(providerName, time.Since(started),
			fmt.Errorf("gateway rejected the document: status %d, %s", resp.StatusCode, gatewayMessage(respBody)))
	case resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK:
		return "", apperrors.NewExternalServiceError(providerName, time.Since(started),
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var parsed submitResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil || parsed.ElementReferenceNumber == "" {
		return "", apperrors.NewExternalServiceError(providerName, time.Since(started),
			fmt.Errorf("submit response carried no reference number"))
	}

	return parsed.ElementReferenceNumber, nil
}

type statusResponse struct {
	ProcessingCode        int    `json:"processingCode"`
	ProcessingDescription string `json:"processingDescription"`
	InvoiceStatus         *struct {
		KsefReferenceNumber string `json:"ksefReferenceNumber"`
	} `json:"invoiceStatus"`
}

// Status asks the gateway about one submission
func (c *Client) Status(ctx context.Context, reference string) (*StatusResult, error) {
	token, err := c.session.Token(ctx)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.config.BaseURL+"/api/online/Invoice/Status/"+reference, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build status request: %w", err)
	}
	req.Header.Set("SessionToken", token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.NewExternalServiceError(providerName, time.Since(started), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		c.session.Invalidate()
		return nil, fmt.Errorf("%w: status check rejected", ErrAuth)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.NewExternalServiceError(providerName, time.Since(started),
			fmt.Errorf("status check returned %d", resp.StatusCode))
	}

	var parsed statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, apperrors.NewExternalServiceError(providerName, time.Since(started),
			fmt.Errorf("unparseable status response: %w", err))
	}

	// 200 means accepted, 4xx-coded payloads mean rejected, everything
	// else is still in flight
	switch {
	case parsed.ProcessingCode == 200:
		result := &StatusResult{Status: StatusAccepted}
		if parsed.InvoiceStatus != nil {
			result.KSeFNumber = parsed.InvoiceStatus.KsefReferenceNumber
		}
		if result.KSeFNumber == "" {
			return nil, apperrors.NewExternalServiceError(providerName, time.Since(started),
				fmt.Errorf("accepted submission carried no gateway number"))
		}
		return result, nil
	case parsed.ProcessingCode >= 400:
		return &StatusResult{Status: StatusRejected, RejectReason: parsed.ProcessingDescription}, nil
	default:
		return &StatusResult{Status: StatusPending}, nil
	}
}

// WaitForOutcome polls until the submission leaves PENDING or the
// polling budget runs out
func (c *Client) WaitForOutcome(ctx context.Context, reference string) (*StatusResult, error) {
	deadline := time.Now().Add(c.config.PollTimeout)
	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()

	for {
		result, err := c.Status(ctx, reference)
		if err != nil {
			return nil, err
		}
		if result.Status != StatusPending {
			return result, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrPollTimeout
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// DownloadReceipt fetches the acceptance receipt and stores it under
// the receipt directory, returning the stored path
func (c *Client) DownloadReceipt(ctx context.Context, reference string) (string, error) {
	token, err := c.session.Token(ctx)
	if err != nil {
		return "", err
	}

	started := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.config.BaseURL+"/api/common/Status/"+reference+"/upo", nil)
	if err != nil {
		return "", fmt.Errorf("failed to build receipt request: %w", err)
	}
	req.Header.Set("SessionToken", token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", apperrors.NewExternalServiceError(providerName, time.Since(started), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apperrors.NewExternalServiceError(providerName, time.Since(started),
			fmt.Errorf("receipt download returned %d", resp.StatusCode))
	}

	if err := os.MkdirAll(c.config.ReceiptDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create receipt directory: %w", err)
	}

	path := filepath.Join(c.config.ReceiptDir, reference+".xml")
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create receipt file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, resp.Body); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to store receipt: %w", err)
	}

	return path, nil
}

func gatewayMessage(body []byte) string {
	var parsed struct {
		Exception struct {
			ExceptionDetailList []struct {
				ExceptionDescription string `json:"exceptionDescription"`
			} `json:"exceptionDetailList"`
		} `json:"exception"`
	}
	if json.Unmarshal(body, &parsed) == nil && len(parsed.Exception.ExceptionDetailList) > 0 {
		return parsed.Exception.ExceptionDetailList[0].ExceptionDescription
	}
	return "no detail provided"
}
