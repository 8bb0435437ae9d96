package otp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisRegistry(t *testing.T, opts ...RedisOption) (*RedisRegistry, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisRegistry(client, opts...), mr
}

// lockstepRegistry holds every Get until n callers have read, so concurrent
// verifications all see the same attempt count before any of them writes.
type lockstepRegistry struct {
	Registry
	arrived sync.WaitGroup
}

func newLockstepRegistry(reg Registry, n int) *lockstepRegistry {
	l := &lockstepRegistry{Registry: reg}
	l.arrived.Add(n)
	return l
}

func (l *lockstepRegistry) Get(ctx context.Context, phone string) (*Record, error) {
	rec, err := l.Registry.Get(ctx, phone)
	l.arrived.Done()
	l.arrived.Wait()
	return rec, err
}

// concurrentWrongGuesses sends one wrong guess per Manager at the same time
// and returns the errors in arbitrary order.
func concurrentWrongGuesses(t *testing.T, reg Registry, instances int, code string) []error {
	t.Helper()
	shared := newLockstepRegistry(reg, instances)

	errs := make([]error, instances)
	var wg sync.WaitGroup
	for i := 0; i < instances; i++ {
		m := NewManager(shared, newMockSender())
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.Verify(context.Background(), testPhone, wrongCode(code))
		}(i)
	}
	wg.Wait()
	return errs
}

func TestMemoryRegistry_CRUD(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()

	_, err := reg.Get(ctx, testPhone)
	assert.ErrorIs(t, err, ErrNoRecord)

	rec := Record{Phone: testPhone, Code: "123456", ExpiresAt: time.Now().Add(time.Minute)}
	require.NoError(t, reg.Put(ctx, rec))

	got, err := reg.Get(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, "123456", got.Code)

	got.Attempts = 2
	stored, err := reg.Get(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.Attempts, "Get must return a copy")

	require.NoError(t, reg.Delete(ctx, testPhone))
	require.NoError(t, reg.Delete(ctx, testPhone))
	assert.Equal(t, 0, reg.Len())
}

func TestMemoryRegistry_IncrAttempts(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()

	_, err := reg.IncrAttempts(ctx, testPhone)
	assert.ErrorIs(t, err, ErrNoRecord)

	require.NoError(t, reg.Put(ctx, Record{Phone: testPhone, Code: "123456", ExpiresAt: time.Now().Add(time.Minute)}))
	for want := 1; want <= 3; want++ {
		n, err := reg.IncrAttempts(ctx, testPhone)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	rec, err := reg.Get(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, 3, rec.Attempts)
	assert.Equal(t, "123456", rec.Code)
}

func TestMemoryRegistry_SweepExpired(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, reg.Put(ctx, Record{Phone: "1111111111", ExpiresAt: now.Add(-time.Second)}))
	require.NoError(t, reg.Put(ctx, Record{Phone: "2222222222", ExpiresAt: now}))
	require.NoError(t, reg.Put(ctx, Record{Phone: "3333333333", ExpiresAt: now.Add(time.Minute)}))

	n, err := reg.SweepExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, reg.Len())
}

func TestRedisRegistry_PutGet(t *testing.T) {
	reg, mr := setupRedisRegistry(t)
	ctx := context.Background()

	expires := time.Now().Add(5 * time.Minute).Truncate(time.Second)
	require.NoError(t, reg.Put(ctx, Record{Phone: testPhone, Code: "654321", ExpiresAt: expires, Attempts: 1}))

	assert.True(t, mr.Exists(recordKey(testPhone)))
	ttl := mr.TTL(recordKey(testPhone))
	assert.True(t, ttl > 4*time.Minute && ttl <= 5*time.Minute, "ttl %s", ttl)

	got, err := reg.Get(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, "654321", got.Code)
	assert.Equal(t, 1, got.Attempts)
	assert.True(t, expires.Equal(got.ExpiresAt))
}

func TestRedisRegistry_PutUsesInjectedClock(t *testing.T) {
	clock := newFakeClock()
	reg, mr := setupRedisRegistry(t, WithRedisClock(clock.Now))
	m := NewManager(reg, newMockSender(), WithClock(clock.Now))

	require.NoError(t, m.Issue(context.Background(), testPhone))

	require.True(t, mr.Exists(recordKey(testPhone)))
	assert.Equal(t, DefaultTTL, mr.TTL(recordKey(testPhone)))
}

func TestRedisRegistry_IncrAttemptsKeepsTTL(t *testing.T) {
	reg, mr := setupRedisRegistry(t)
	ctx := context.Background()

	_, err := reg.IncrAttempts(ctx, testPhone)
	assert.ErrorIs(t, err, ErrNoRecord)

	require.NoError(t, reg.Put(ctx, Record{Phone: testPhone, Code: "123456", ExpiresAt: time.Now().Add(5 * time.Minute)}))
	mr.FastForward(time.Minute)

	n, err := reg.IncrAttempts(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = reg.IncrAttempts(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ttl := mr.TTL(recordKey(testPhone))
	assert.True(t, ttl > 3*time.Minute && ttl <= 4*time.Minute, "ttl %s", ttl)

	rec, err := reg.Get(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Attempts)
	assert.Equal(t, "123456", rec.Code)
}

func TestRedisRegistry_MissAndDelete(t *testing.T) {
	reg, mr := setupRedisRegistry(t)
	ctx := context.Background()

	_, err := reg.Get(ctx, testPhone)
	assert.ErrorIs(t, err, ErrNoRecord)

	require.NoError(t, reg.Put(ctx, Record{Phone: testPhone, Code: "111111", ExpiresAt: time.Now().Add(time.Minute)}))
	require.NoError(t, reg.Delete(ctx, testPhone))
	assert.False(t, mr.Exists(recordKey(testPhone)))
}

func TestRedisRegistry_PutPastExpiryDeletes(t *testing.T) {
	reg, mr := setupRedisRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.Put(ctx, Record{Phone: testPhone, Code: "111111", ExpiresAt: time.Now().Add(time.Minute)}))
	require.NoError(t, reg.Put(ctx, Record{Phone: testPhone, Code: "111111", ExpiresAt: time.Now().Add(-time.Second)}))

	assert.False(t, mr.Exists(recordKey(testPhone)))
}

func TestRedisRegistry_TTLEviction(t *testing.T) {
	reg, mr := setupRedisRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.Put(ctx, Record{Phone: testPhone, Code: "111111", ExpiresAt: time.Now().Add(time.Minute)}))
	mr.FastForward(2 * time.Minute)

	_, err := reg.Get(ctx, testPhone)
	assert.ErrorIs(t, err, ErrNoRecord)

	n, err := reg.SweepExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestManager_SharedRedisRegistryAcrossInstances(t *testing.T) {
	reg, _ := setupRedisRegistry(t)
	ctx := context.Background()

	sender := newMockSender()
	issuer := NewManager(reg, sender)
	verifier := NewManager(reg, sender)

	require.NoError(t, issuer.Issue(ctx, testPhone))
	rec, err := reg.Get(ctx, testPhone)
	require.NoError(t, err)

	token, err := verifier.Verify(ctx, testPhone, rec.Code)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
}

func TestManager_SeparateMemoryRegistriesDoNotShare(t *testing.T) {
	ctx := context.Background()
	issuerReg := NewMemoryRegistry()
	issuer := NewManager(issuerReg, newMockSender())
	verifier := NewManager(NewMemoryRegistry(), newMockSender())

	require.NoError(t, issuer.Issue(ctx, testPhone))
	code := pendingCode(t, issuerReg, testPhone)

	_, err := verifier.Verify(ctx, testPhone, code)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager_ConcurrentWrongGuessesAcrossInstances(t *testing.T) {
	tests := []struct {
		name     string
		registry func(t *testing.T) Registry
	}{
		{"redis", func(t *testing.T) Registry {
			reg, _ := setupRedisRegistry(t)
			return reg
		}},
		{"memory", func(*testing.T) Registry { return NewMemoryRegistry() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := tt.registry(t)
			ctx := context.Background()
			require.NoError(t, NewManager(reg, newMockSender()).Issue(ctx, testPhone))
			code := pendingCode(t, reg, testPhone)

			errs := concurrentWrongGuesses(t, reg, DefaultMaxAttempts, code)

			var remaining []int
			var exhausted int
			for _, err := range errs {
				var mismatch *MismatchError
				switch {
				case errors.As(err, &mismatch):
					remaining = append(remaining, mismatch.Remaining)
				case errors.Is(err, ErrExhausted):
					exhausted++
				default:
					t.Fatalf("unexpected verify error: %v", err)
				}
			}
			assert.ElementsMatch(t, []int{2, 1}, remaining)
			assert.Equal(t, 1, exhausted)

			_, err := NewManager(reg, newMockSender()).Verify(ctx, testPhone, code)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}
