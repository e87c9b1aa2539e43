package ksef

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fakturo/invoice-pipeline/internal/apperrors"
)

// expiryMargin renews the session slightly before the gateway would
// reject it, so in-flight submissions never race the cutoff
const expiryMargin = 30 * time.Second

// sessionManager exchanges the long-lived authorisation token for a
// short-lived interactive session token. The session token is held in
// memory only and must never appear in logs or error messages.
type sessionManager struct {
	baseURL    string
	authToken  string
	contextNIP string
	httpClient *http.Client
	logger     *zap.Logger

	mu      sync.Mutex
	token   string
	expires time.Time
	now     func() time.Time
}

func newSessionManager(baseURL, authToken, contextNIP string, httpClient *http.Client, logger *zap.Logger) *sessionManager {
	return &sessionManager{
		baseURL:    baseURL,
		authToken:  authToken,
		contextNIP: contextNIP,
		httpClient: httpClient,
		logger:     logger,
		now:        time.Now,
	}
}

// Token returns a live session token, opening a new session when the
// current one is absent or about to expire.
func (s *sessionManager) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && s.now().Before(s.expires.Add(-expiryMargin)) {
		return s.token, nil
	}
	if err := s.open(ctx); err != nil {
		return "", err
	}
	return s.token, nil
}

// Invalidate drops the cached session so the next call opens a fresh
// one. Called after the gateway answers 401 on a session that should
// still have been valid.
func (s *sessionManager) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
}

type challengeResponse struct {
	Challenge string    `json:"challenge"`
	Timestamp time.Time `json:"timestamp"`
}

type initSessionResponse struct {
	SessionToken struct {
		Token string `json:"token"`
	} `json:"sessionToken"`
	ReferenceNumber string    `json:"referenceNumber"`
	ValidUntil      time.Time `json:"validUntil"`
}

func (s *sessionManager) open(ctx context.Context) error {
	started := time.Now()

	challenge, err := s.requestChallenge(ctx)
	if err != nil {
		return err
	}

	payload, _ := json.Marshal(map[string]any{
		"challenge": challenge.Challenge,
		"contextIdentifier": map[string]string{
			"type":       "onip",
			"identifier": s.contextNIP,
		},
		"token": s.authToken,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+"/api/online/Session/InitToken", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return apperrors.NewExternalServiceError(providerName, time.Since(started), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: gateway rejected the authorisation token", ErrAuth)
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return apperrors.NewExternalServiceError(providerName, time.Since(started),
			fmt.Errorf("session init returned status %d", resp.StatusCode))
	}

	var parsed initSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return apperrors.NewExternalServiceError(providerName, time.Since(started),
			fmt.Errorf("unparseable session response: %w", err))
	}
	if parsed.SessionToken.Token == "" {
		return apperrors.NewExternalServiceError(providerName, time.Since(started),
			fmt.Errorf("session response carried no token"))
	}

	s.token = parsed.SessionToken.Token
	s.expires = parsed.ValidUntil
	if s.expires.IsZero() {
		s.expires = s.now().Add(55 * time.Minute)
	}

	s.logger.Info("gateway session opened",
		zap.String("session_ref", parsed.ReferenceNumber),
		zap.Time("valid_until", s.expires))

	return nil
}

func (s *sessionManager) requestChallenge(ctx context.Context) (*challengeResponse, error) {
	started := time.Now()

	payload, _ := json.Marshal(map[string]any{
		"contextIdentifier": map[string]string{
			"type":       "onip",
			"identifier": s.contextNIP,
		},
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+"/api/online/Session/AuthorisationChallenge", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build challenge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.NewExternalServiceError(providerName, time.Since(started), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, apperrors.NewExternalServiceError(providerName, time.Since(started),
			fmt.Errorf("challenge returned status %d", resp.StatusCode))
	}

	var parsed challengeResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, apperrors.NewExternalServiceError(providerName, time.Since(started),
			fmt.Errorf("unparseable challenge response: %w", err))
	}
	return &parsed, nil
}
