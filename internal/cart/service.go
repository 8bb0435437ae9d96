package cart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"
)

// MaxLineQuantity is the default cap on the quantity of a single line.
const MaxLineQuantity = 99

// LimitError reports a change that would push a line past the quantity cap.
// The cart is left unchanged.
type LimitError struct {
	Limit int
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("line quantity cannot exceed %d", e.Limit)
}

// ServiceOption customises a Service.
type ServiceOption func(*Service)

// WithMaxLineQuantity sets the per-line quantity cap. Zero disables it.
func WithMaxLineQuantity(n int) ServiceOption {
	return func(s *Service) { s.maxLine = n }
}

// Service applies Store operations to a device's persisted cart. Each mutation
// loads the cart, applies the change and writes the result back before returning.
type Service struct {
	cache   Cache
	maxLine int
	mu      sync.Mutex
	sfg     singleflight.Group
}

func NewService(cache Cache, opts ...ServiceOption) *Service {
	s := &Service{cache: cache, maxLine: MaxLineQuantity}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the device's cart. Concurrent reads for one device share a single
// cache lookup, run detached from any one caller's cancellation.
func (s *Service) Get(ctx context.Context, deviceID string) (*Store, error) {
	shared := context.WithoutCancel(ctx)
	v, err, _ := s.sfg.Do(deviceID, func() (interface{}, error) {
		store, err := s.load(shared, deviceID)
		if err != nil {
			return nil, err
		}
		return store.Items(), nil
	})
	if err != nil {
		return nil, err
	}
	return NewStore(v.([]LineItem)), nil
}

// Add merges item into the cart. It returns a *LimitError when the merged
// quantity would pass the line cap.
func (s *Service) Add(ctx context.Context, deviceID string, item LineItem) (*Store, error) {
	return s.mutate(ctx, deviceID, func(store *Store) error {
		qty := item.Quantity
		if qty <= 0 {
			qty = 1
		}
		if err := s.checkLine(store.Quantity(item.ProductID, item.VariantID) + qty); err != nil {
			return err
		}
		store.Add(item)
		return nil
	})
}

func (s *Service) Remove(ctx context.Context, deviceID, productID, variantID string) (*Store, error) {
	return s.mutate(ctx, deviceID, func(store *Store) error {
		store.Remove(productID, variantID)
		return nil
	})
}

func (s *Service) SetQty(ctx context.Context, deviceID, productID string, qty int, variantID string) (*Store, error) {
	return s.mutate(ctx, deviceID, func(store *Store) error {
		if err := s.checkLine(qty); err != nil {
			return err
		}
		store.SetQty(productID, qty, variantID)
		return nil
	})
}

func (s *Service) Clear(ctx context.Context, deviceID string) error {
	_, err := s.mutate(ctx, deviceID, func(store *Store) error {
		store.Clear()
		return nil
	})
	return err
}

func (s *Service) checkLine(qty int) error {
	if s.maxLine > 0 && qty > s.maxLine {
		return &LimitError{Limit: s.maxLine}
	}
	return nil
}

// mutate persists nothing when apply fails.
func (s *Service) mutate(ctx context.Context, deviceID string, apply func(*Store) error) (*Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	store, err := s.load(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	if err := apply(store); err != nil {
		return nil, err
	}

	if store.Len() == 0 {
		err = s.cache.Delete(ctx, deviceID)
	} else {
		err = s.cache.Set(ctx, deviceID, store.Items())
	}
	if err != nil {
		slog.ErrorContext(ctx, "cart persist failed", "device_id", deviceID, "error", err)
		return nil, err
	}
	return store, nil
}

func (s *Service) load(ctx context.Context, deviceID string) (*Store, error) {
	items, err := s.cache.Get(ctx, deviceID)
	if errors.Is(err, ErrCacheMiss) {
		return NewStore(nil), nil
	}
	if err != nil {
		return nil, err
	}
	return NewStore(items), nil
}
