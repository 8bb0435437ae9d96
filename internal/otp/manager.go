// Package otp issues and verifies one-time login codes sent by SMS.
//
// A code lives for a fixed window (five minutes by default) and allows a
// bounded number of wrong guesses (three by default). Verified, expired and
// exhausted codes are removed immediately; a background sweep also evicts
// expired records nobody came back for.
package otp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"
)

const (
	DefaultTTL           = 5 * time.Minute
	DefaultMaxAttempts   = 3
	DefaultSweepInterval = 5 * time.Minute

	phoneLength = 10
	codeLength  = 6
)

// Sender dispatches a text message to a phone number.
type Sender interface {
	Send(ctx context.Context, phone, message string) error
}

// Option customises a Manager.
type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.ttl = ttl }
}

func WithMaxAttempts(n int) Option {
	return func(m *Manager) { m.maxAttempts = n }
}

func WithSweepInterval(d time.Duration) Option {
	return func(m *Manager) { m.sweepInterval = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// Manager owns the OTP lifecycle. Build exactly one per process and share it
// between the issuing and verifying handlers.
type Manager struct {
	registry      Registry
	sender        Sender
	now           func() time.Time
	ttl           time.Duration
	maxAttempts   int
	sweepInterval time.Duration
	log           *slog.Logger

	// serialises read-modify-write on records
	mu sync.Mutex

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewManager(registry Registry, sender Sender, opts ...Option) *Manager {
	m := &Manager{
		registry:      registry,
		sender:        sender,
		now:           time.Now,
		ttl:           DefaultTTL,
		maxAttempts:   DefaultMaxAttempts,
		sweepInterval: DefaultSweepInterval,
		log:           slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Issue generates a fresh code for phone, replacing any pending one, and
// sends it by SMS. The record is kept even when delivery fails.
func (m *Manager) Issue(ctx context.Context, phone string) error {
	if err := validateDigits("phone", phone, phoneLength); err != nil {
		return err
	}

	code, err := generateCode()
	if err != nil {
		return fmt.Errorf("generate otp: %w", err)
	}

	m.mu.Lock()
	err = m.registry.Put(ctx, Record{
		Phone:     phone,
		Code:      code,
		ExpiresAt: m.now().Add(m.ttl),
		Attempts:  0,
	})
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("store otp: %w", err)
	}

	message := fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", code, int(m.ttl.Minutes()))
	if err := m.sender.Send(ctx, phone, message); err != nil {
		m.log.WarnContext(ctx, "otp delivery failed", "phone", maskPhone(phone), "error", err)
		return &DeliveryError{Err: err}
	}

	m.log.InfoContext(ctx, "otp issued", "phone", maskPhone(phone))
	return nil
}

// Verify checks code against the pending record for phone and, on success,
// consumes the record and returns a new opaque session token.
func (m *Manager) Verify(ctx context.Context, phone, code string) (string, error) {
	if err := validateDigits("phone", phone, phoneLength); err != nil {
		return "", err
	}
	if err := validateDigits("code", code, codeLength); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.registry.Get(ctx, phone)
	if errors.Is(err, ErrNoRecord) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load otp: %w", err)
	}

	if m.now().After(rec.ExpiresAt) {
		if err := m.registry.Delete(ctx, phone); err != nil {
			return "", fmt.Errorf("delete otp: %w", err)
		}
		return "", ErrExpired
	}

	if rec.Attempts >= m.maxAttempts {
		if err := m.registry.Delete(ctx, phone); err != nil {
			return "", fmt.Errorf("delete otp: %w", err)
		}
		return "", ErrExhausted
	}

	if rec.Code != code {
		// The counter lives in the registry so guesses sent to other
		// instances sharing it count against the same limit.
		attempts, err := m.registry.IncrAttempts(ctx, phone)
		if errors.Is(err, ErrNoRecord) {
			return "", ErrNotFound
		}
		if err != nil {
			return "", fmt.Errorf("record otp attempt: %w", err)
		}
		if attempts >= m.maxAttempts {
			if err := m.registry.Delete(ctx, phone); err != nil {
				return "", fmt.Errorf("delete otp: %w", err)
			}
			m.log.InfoContext(ctx, "otp exhausted", "phone", maskPhone(phone))
			return "", ErrExhausted
		}
		return "", &MismatchError{Remaining: m.maxAttempts - attempts}
	}

	if err := m.registry.Delete(ctx, phone); err != nil {
		return "", fmt.Errorf("delete otp: %w", err)
	}

	token, err := newSessionToken()
	if err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	m.log.InfoContext(ctx, "otp verified", "phone", maskPhone(phone))
	return token, nil
}

// Sweep removes every expired record and reports how many were dropped.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registry.SweepExpired(ctx, m.now())
}

// Start launches the periodic sweep. It runs until Stop is called or ctx ends.
func (m *Manager) Start(ctx context.Context) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	if m.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done

	go m.sweepLoop(ctx, done)
}

// Stop cancels the sweep and waits for it to exit.
func (m *Manager) Stop() {
	m.lifecycle.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.lifecycle.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *Manager) sweepLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := m.Sweep(ctx)
			if err != nil {
				m.log.ErrorContext(ctx, "otp sweep failed", "error", err)
				continue
			}
			if n > 0 {
				m.log.DebugContext(ctx, "otp sweep", "evicted", n)
			}
		}
	}
}

func validateDigits(field, value string, length int) error {
	if len(value) != length {
		return &ValidationError{Field: field, Reason: fmt.Sprintf("must be exactly %d digits", length)}
	}
	for i := 0; i < len(value); i++ {
		if value[i] < '0' || value[i] > '9' {
			return &ValidationError{Field: field, Reason: "must contain only digits"}
		}
	}
	return nil
}

// generateCode returns a uniformly random code in [100000, 999999].
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

func newSessionToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func maskPhone(phone string) string {
	if len(phone) < 4 {
		return phone
	}
	return "******" + phone[len(phone)-4:]
}
