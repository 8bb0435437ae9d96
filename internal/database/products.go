package database

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/example/storefront/internal/models"
)

// ProductStore reads the active catalog for carts and checkout.
type ProductStore struct {
	db *gorm.DB
}

func NewProductStore(db *gorm.DB) *ProductStore {
	return &ProductStore{db: db}
}

// FindActiveProduct loads an active product with its variants. It returns
// gorm.ErrRecordNotFound for unknown or inactive products.
func (s *ProductStore) FindActiveProduct(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var product models.Product
	if err := s.db.WithContext(ctx).
		Preload("Variants").
		Where("is_active = ?", true).
		First(&product, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

// FindActiveByIDs returns the active products among ids keyed by their string id.
func (s *ProductStore) FindActiveByIDs(ctx context.Context, ids []uuid.UUID) (map[string]models.Product, error) {
	out := make(map[string]models.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var products []models.Product
	if err := s.db.WithContext(ctx).
		Preload("Variants").
		Where("id IN ? AND is_active = ?", ids, true).
		Find(&products).Error; err != nil {
		return nil, err
	}

	for _, p := range products {
		out[p.ID.String()] = p
	}
	return out, nil
}
