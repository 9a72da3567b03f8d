package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"voyaj-api/internal/observability"
)

// Sender delivers the two transactional mails the auth flows need. Delivery
// happens off the request path; callers treat failures as log-and-continue.
type Sender interface {
	SendVerificationCode(ctx context.Context, to, code string) error
	SendPasswordResetCode(ctx context.Context, to, code string) error
}

// HTTPSender posts messages to a JSON mail-provider API.
type HTTPSender struct {
	endpoint   string
	apiKey     string
	from       string
	httpClient *http.Client
}

func NewHTTPSender(endpoint, apiKey, from string) (*HTTPSender, error) {
	endpoint = strings.TrimSpace(endpoint)
	apiKey = strings.TrimSpace(apiKey)
	from = strings.TrimSpace(from)
	if endpoint == "" || apiKey == "" || from == "" {
		return nil, fmt.Errorf("email endpoint, api key and from address are required")
	}

	return &HTTPSender{
		endpoint: endpoint,
		apiKey:   apiKey,
		from:     from,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}, nil
}

func (s *HTTPSender) SendVerificationCode(ctx context.Context, to, code string) error {
	return s.send(ctx, to, "Verify your Voyaj account",
		fmt.Sprintf("Your verification code is %s. It expires in 24 hours.", code))
}

func (s *HTTPSender) SendPasswordResetCode(ctx context.Context, to, code string) error {
	return s.send(ctx, to, "Reset your Voyaj password",
		fmt.Sprintf("Your password reset code is %s. It expires in 10 minutes.", code))
}

func (s *HTTPSender) send(ctx context.Context, to, subject, text string) error {
	payload, err := json.Marshal(map[string]string{
		"from":    s.from,
		"to":      to,
		"subject": subject,
		"text":    text,
	})
	if err != nil {
		return fmt.Errorf("encode mail payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build mail request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("mail provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return nil
}

// LogSender stands in when no provider is configured (local development):
// codes go to the log instead of a mailbox.
type LogSender struct {
	Logger *observability.Logger
}

func (s LogSender) SendVerificationCode(_ context.Context, to, code string) error {
	s.Logger.Info("email_verification_code", map[string]any{"to": to, "code": code})
	return nil
}

func (s LogSender) SendPasswordResetCode(_ context.Context, to, code string) error {
	s.Logger.Info("email_reset_code", map[string]any{"to": to, "code": code})
	return nil
}
