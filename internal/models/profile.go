package models

import (
	"github.com/google/uuid"
)

type UserAddress struct {
	BaseModel
	UserID      uuid.UUID `gorm:"type:uuid;index" json:"user_id"`
	Label       string    `json:"label"`
	AddressLine string    `json:"address_line"`
	Landmark    string    `json:"landmark"`
	City        string    `json:"city"`
	State       string    `json:"state"`
	PostalCode  string    `json:"postal_code"`
	IsDefault   bool      `json:"is_default"`
}

// Wishlist links a user to a saved product.
type Wishlist struct {
	BaseModel
	UserID    uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_wishlist_user_product" json:"user_id"`
	ProductID uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_wishlist_user_product" json:"product_id"`
	Product   *Product  `json:"product,omitempty"`
}
