package otp

import (
	"context"
	"sync"
	"time"
)

// Record is a pending verification challenge for one phone number.
type Record struct {
	Phone     string    `json:"phone"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
	Attempts  int       `json:"attempts"`
}

// Registry holds at most one live record per phone number.
//
// Issuance and verification must go through the same Registry. A
// MemoryRegistry only works when every request reaches the same process;
// deployments with more than one instance need a shared store such as
// RedisRegistry, otherwise verification fails with ErrNotFound.
type Registry interface {
	Get(ctx context.Context, phone string) (*Record, error)
	Put(ctx context.Context, rec Record) error
	Delete(ctx context.Context, phone string) error
	// IncrAttempts atomically records one wrong guess and returns the new
	// attempt count, or ErrNoRecord when the phone has no pending record.
	IncrAttempts(ctx context.Context, phone string) (int, error)
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}

// MemoryRegistry is a mutex-guarded in-process Registry.
type MemoryRegistry struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{records: make(map[string]Record)}
}

var _ Registry = (*MemoryRegistry)(nil)

func (r *MemoryRegistry) Get(_ context.Context, phone string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[phone]
	if !ok {
		return nil, ErrNoRecord
	}
	return &rec, nil
}

func (r *MemoryRegistry) Put(_ context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.Phone] = rec
	return nil
}

func (r *MemoryRegistry) Delete(_ context.Context, phone string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, phone)
	return nil
}

func (r *MemoryRegistry) IncrAttempts(_ context.Context, phone string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[phone]
	if !ok {
		return 0, ErrNoRecord
	}
	rec.Attempts++
	r.records[phone] = rec
	return rec.Attempts, nil
}

func (r *MemoryRegistry) SweepExpired(_ context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int
	for phone, rec := range r.records {
		if now.After(rec.ExpiresAt) {
			delete(r.records, phone)
			n++
		}
	}
	return n, nil
}

// Len reports the number of pending records.
func (r *MemoryRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}
