package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// SMSConfig holds the SMS provider credentials.
type SMSConfig struct {
	BaseURL  string
	Username string
	Password string
	Enabled  bool
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// SMSService sends text messages through the provider's HTTP API. It
// implements otp.Sender.
type SMSService struct {
	cfg     SMSConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[*smsResponse]
	log     *slog.Logger

	tokenMu     sync.RWMutex
	token       string
	tokenExpiry time.Time
}

type smsResponse struct {
	Status int
	Body   []byte
}

type smsAuthResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
}

var errSMSUnauthorized = errors.New("sms provider rejected token")

// NewSMSService creates a new SMSService.
func NewSMSService(cfg SMSConfig) *SMSService {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SMSService{
		cfg:    cfg,
		client: &http.Client{Timeout: 15 * time.Second},
		log:    logger,
		breaker: gobreaker.NewCircuitBreaker[*smsResponse](gobreaker.Settings{
			Name:    "sms",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, errSMSUnauthorized)
			},
		}),
	}
}

// Send delivers message to phone. With the provider disabled the message is
// only logged, which keeps local development usable without credentials.
// The body carries the login code, so it is written at debug level only.
func (s *SMSService) Send(ctx context.Context, phone, message string) error {
	if !s.cfg.Enabled {
		s.log.InfoContext(ctx, "sms disabled, message not sent", "phone", maskPhone(phone))
		s.log.DebugContext(ctx, "sms disabled, message body", "phone", maskPhone(phone), "message", message)
		return nil
	}

	resp, err := s.do(ctx, "sms/send", map[string]string{
		"phone":   phone,
		"message": message,
	})
	if err != nil {
		return fmt.Errorf("send sms: %w", err)
	}
	if resp.Status < 200 || resp.Status >= 300 {
		return fmt.Errorf("send sms: status %d, body: %s", resp.Status, string(resp.Body))
	}
	return nil
}

func (s *SMSService) do(ctx context.Context, path string, body any) (*smsResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("sms request marshal: %w", err)
	}

	resp, err := s.breaker.Execute(func() (*smsResponse, error) {
		return s.post(ctx, path, payload, false)
	})
	if errors.Is(err, errSMSUnauthorized) {
		// Retry once with a fresh token.
		resp, err = s.breaker.Execute(func() (*smsResponse, error) {
			return s.post(ctx, path, payload, true)
		})
	}
	return resp, err
}

func (s *SMSService) post(ctx context.Context, path string, payload []byte, refresh bool) (*smsResponse, error) {
	token, err := s.getToken(ctx, refresh)
	if err != nil {
		return nil, err
	}

	url := s.cfg.BaseURL + "/" + strings.TrimLeft(path, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("sms request build: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sms request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusUnauthorized && !refresh {
		return nil, errSMSUnauthorized
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("sms provider status %d", resp.StatusCode)
	}
	return &smsResponse{Status: resp.StatusCode, Body: respBody}, nil
}

// getToken returns a cached provider token, fetching a new one if needed.
func (s *SMSService) getToken(ctx context.Context, force bool) (string, error) {
	if !force {
		s.tokenMu.RLock()
		if s.token != "" && time.Now().Before(s.tokenExpiry) {
			t := s.token
			s.tokenMu.RUnlock()
			return t, nil
		}
		s.tokenMu.RUnlock()
	}

	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()

	// Double-check after acquiring write lock.
	if !force && s.token != "" && time.Now().Before(s.tokenExpiry) {
		return s.token, nil
	}

	payload, _ := json.Marshal(map[string]string{
		"username": s.cfg.Username,
		"password": s.cfg.Password,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/auth/login", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("sms auth request build: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("sms auth request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("sms auth failed: status %d, body: %s", resp.StatusCode, string(body))
	}

	var authResp smsAuthResponse
	if err := json.Unmarshal(body, &authResp); err != nil {
		return "", fmt.Errorf("sms auth unmarshal: %w", err)
	}
	if authResp.Token == "" {
		return "", errors.New("sms auth: empty token")
	}

	s.token = authResp.Token
	if authResp.ExpiresIn > 0 {
		s.tokenExpiry = time.Now().Add(time.Duration(authResp.ExpiresIn)*time.Second - 30*time.Second)
	} else {
		s.tokenExpiry = time.Now().Add(55 * time.Minute)
	}

	return s.token, nil
}

// maskPhone keeps the last four digits.
func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return phone
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}
