package otp

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPhone = "9876543210"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type mockSender struct {
	mu       sync.Mutex
	messages map[string][]string
	err      error
}

func newMockSender() *mockSender {
	return &mockSender{messages: make(map[string][]string)}
}

func (s *mockSender) Send(_ context.Context, phone, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.messages[phone] = append(s.messages[phone], message)
	return nil
}

func (s *mockSender) count(phone string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages[phone])
}

func setupManager(t *testing.T) (*Manager, *MemoryRegistry, *mockSender, *fakeClock) {
	t.Helper()
	reg := NewMemoryRegistry()
	sender := newMockSender()
	clock := newFakeClock()
	return NewManager(reg, sender, WithClock(clock.Now)), reg, sender, clock
}

func pendingCode(t *testing.T, reg Registry, phone string) string {
	t.Helper()
	rec, err := reg.Get(context.Background(), phone)
	require.NoError(t, err)
	return rec.Code
}

func wrongCode(code string) string {
	if code == "123456" {
		return "654321"
	}
	return "123456"
}

func TestIssue_ThenVerifySucceedsOnce(t *testing.T) {
	m, reg, sender, _ := setupManager(t)
	ctx := context.Background()

	require.NoError(t, m.Issue(ctx, testPhone))
	assert.Equal(t, 1, sender.count(testPhone))
	code := pendingCode(t, reg, testPhone)
	assert.Contains(t, sender.messages[testPhone][0], code)

	token, err := m.Verify(ctx, testPhone, code)
	require.NoError(t, err)
	assert.Len(t, token, 64)

	_, err = m.Verify(ctx, testPhone, code)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestVerify_TokensAreUnique(t *testing.T) {
	m, reg, _, _ := setupManager(t)
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 5; i++ {
		require.NoError(t, m.Issue(ctx, testPhone))
		token, err := m.Verify(ctx, testPhone, pendingCode(t, reg, testPhone))
		require.NoError(t, err)
		assert.False(t, seen[token])
		seen[token] = true
	}
}

func TestVerify_ThreeWrongCodesExhaust(t *testing.T) {
	m, reg, _, _ := setupManager(t)
	ctx := context.Background()

	require.NoError(t, m.Issue(ctx, testPhone))
	code := pendingCode(t, reg, testPhone)
	bad := wrongCode(code)

	_, err := m.Verify(ctx, testPhone, bad)
	var mismatch *MismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, 2, mismatch.Remaining)

	_, err = m.Verify(ctx, testPhone, bad)
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, 1, mismatch.Remaining)

	_, err = m.Verify(ctx, testPhone, bad)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 0, reg.Len())

	_, err = m.Verify(ctx, testPhone, code)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestVerify_AttemptsPersistBetweenCalls(t *testing.T) {
	m, reg, _, _ := setupManager(t)
	ctx := context.Background()

	require.NoError(t, m.Issue(ctx, testPhone))
	code := pendingCode(t, reg, testPhone)

	_, err := m.Verify(ctx, testPhone, wrongCode(code))
	require.Error(t, err)

	rec, err := reg.Get(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Attempts)

	_, err = m.Verify(ctx, testPhone, code)
	assert.NoError(t, err)
}

func TestVerify_ExhaustedRecordFromStore(t *testing.T) {
	m, reg, _, clock := setupManager(t)
	ctx := context.Background()

	require.NoError(t, reg.Put(ctx, Record{
		Phone:     testPhone,
		Code:      "111111",
		ExpiresAt: clock.Now().Add(time.Minute),
		Attempts:  3,
	}))

	_, err := m.Verify(ctx, testPhone, "111111")
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 0, reg.Len())
}

func TestVerify_Expired(t *testing.T) {
	m, reg, _, clock := setupManager(t)
	ctx := context.Background()

	require.NoError(t, m.Issue(ctx, testPhone))
	code := pendingCode(t, reg, testPhone)

	clock.Advance(5*time.Minute + time.Second)

	_, err := m.Verify(ctx, testPhone, code)
	assert.ErrorIs(t, err, ErrExpired)
	assert.Equal(t, 0, reg.Len())

	_, err = m.Verify(ctx, testPhone, code)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestVerify_AtExactExpiryStillValid(t *testing.T) {
	m, reg, _, clock := setupManager(t)
	ctx := context.Background()

	require.NoError(t, m.Issue(ctx, testPhone))
	clock.Advance(5 * time.Minute)

	_, err := m.Verify(ctx, testPhone, pendingCode(t, reg, testPhone))
	assert.NoError(t, err)
}

func TestIssue_OverwritesPendingRecord(t *testing.T) {
	m, reg, _, clock := setupManager(t)
	ctx := context.Background()

	require.NoError(t, m.Issue(ctx, testPhone))
	_, err := m.Verify(ctx, testPhone, wrongCode(pendingCode(t, reg, testPhone)))
	require.Error(t, err)

	clock.Advance(4 * time.Minute)
	require.NoError(t, m.Issue(ctx, testPhone))

	rec, err := reg.Get(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, 0, rec.Attempts)
	assert.Equal(t, clock.Now().Add(5*time.Minute), rec.ExpiresAt)
	assert.Equal(t, 1, reg.Len())
}

func TestIssue_DeliveryFailureKeepsRecord(t *testing.T) {
	m, reg, sender, _ := setupManager(t)
	ctx := context.Background()
	sender.err = errors.New("gateway unavailable")

	err := m.Issue(ctx, testPhone)
	var delivery *DeliveryError
	require.ErrorAs(t, err, &delivery)
	assert.ErrorContains(t, err, "gateway unavailable")

	code := pendingCode(t, reg, testPhone)
	_, err = m.Verify(ctx, testPhone, code)
	assert.NoError(t, err)
}

func TestValidation(t *testing.T) {
	m, reg, sender, _ := setupManager(t)
	ctx := context.Background()

	for _, phone := range []string{"", "12345", "98765432101", "98765abcde", "９８７６５４３２１０"} {
		err := m.Issue(ctx, phone)
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr, "phone %q", phone)
	}
	assert.Equal(t, 0, reg.Len())
	assert.Equal(t, 0, sender.count(""))

	for _, code := range []string{"", "12345", "1234567", "12a456"} {
		_, err := m.Verify(ctx, testPhone, code)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr, "code %q", code)
		assert.Equal(t, "code", verr.Field)
	}

	_, err := m.Verify(ctx, "abc", "123456")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "phone", verr.Field)
}

func TestVerify_UnknownPhone(t *testing.T) {
	m, _, _, _ := setupManager(t)

	_, err := m.Verify(context.Background(), testPhone, "123456")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGenerateCode_Range(t *testing.T) {
	for i := 0; i < 2000; i++ {
		code, err := generateCode()
		require.NoError(t, err)
		require.Len(t, code, 6)
		n, err := strconv.Atoi(code)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, 100000)
		assert.LessOrEqual(t, n, 999999)
	}
}

func TestSweep_RemovesOnlyExpired(t *testing.T) {
	m, reg, _, clock := setupManager(t)
	ctx := context.Background()

	require.NoError(t, m.Issue(ctx, "1111111111"))
	clock.Advance(3 * time.Minute)
	require.NoError(t, m.Issue(ctx, "2222222222"))
	clock.Advance(3 * time.Minute)

	n, err := m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = reg.Get(ctx, "1111111111")
	assert.ErrorIs(t, err, ErrNoRecord)
	_, err = reg.Get(ctx, "2222222222")
	assert.NoError(t, err)
}

func TestStartStop_SweepsInBackground(t *testing.T) {
	reg := NewMemoryRegistry()
	clock := newFakeClock()
	m := NewManager(reg, newMockSender(), WithClock(clock.Now), WithSweepInterval(10*time.Millisecond))
	ctx := context.Background()

	require.NoError(t, m.Issue(ctx, testPhone))
	clock.Advance(10 * time.Minute)

	m.Start(ctx)
	m.Start(ctx)
	assert.Eventually(t, func() bool { return reg.Len() == 0 }, time.Second, 5*time.Millisecond)

	m.Stop()
	m.Stop()
}

func TestOptions(t *testing.T) {
	reg := NewMemoryRegistry()
	clock := newFakeClock()
	m := NewManager(reg, newMockSender(), WithClock(clock.Now), WithTTL(time.Minute), WithMaxAttempts(1))
	ctx := context.Background()

	require.NoError(t, m.Issue(ctx, testPhone))
	rec, err := reg.Get(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(time.Minute), rec.ExpiresAt)

	_, err = m.Verify(ctx, testPhone, wrongCode(rec.Code))
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestMaskPhone(t *testing.T) {
	assert.Equal(t, "******3210", maskPhone(testPhone))
	assert.Equal(t, "12", maskPhone("12"))
}
