package models

import (
	"github.com/google/uuid"
	"github.com/lib/pq"
)

type Product struct {
	BaseModel
	VendorID    *uuid.UUID       `gorm:"type:uuid;index" json:"vendor_id"`
	Vendor      *Vendor          `json:"vendor,omitempty"`
	Slug        string           `gorm:"uniqueIndex" json:"slug"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Category    string           `gorm:"index" json:"category"`
	Price       int64            `json:"price"`
	Unit        string           `json:"unit"`
	Images      pq.StringArray   `gorm:"type:text[]" json:"images"`
	IsActive    bool             `json:"is_active"`
	Variants    []ProductVariant `json:"variants,omitempty"`
}

// Image returns the first image or an empty string.
func (p Product) Image() string {
	if len(p.Images) == 0 {
		return ""
	}
	return p.Images[0]
}

type ProductVariant struct {
	BaseModel
	ProductID uuid.UUID `gorm:"type:uuid;index" json:"product_id"`
	Label     string    `json:"label"`
	Price     int64     `json:"price"`
	Unit      string    `json:"unit"`
	InStock   bool      `json:"in_stock"`
}
