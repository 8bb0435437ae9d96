package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	OrderStatusPending   = "pending"
	OrderStatusPaid      = "paid"
	OrderStatusCancelled = "cancelled"
)

type Order struct {
	BaseModel
	UserID              uuid.UUID       `gorm:"type:uuid;index" json:"user_id"`
	User                *User           `json:"user,omitempty"`
	OrderNumber         string          `gorm:"uniqueIndex" json:"order_number"`
	Status              string          `gorm:"index" json:"status"`
	PlacedAt            time.Time       `json:"placed_at"`
	Subtotal            decimal.Decimal `gorm:"type:numeric(12,2)" json:"subtotal"`
	DeliveryFee         decimal.Decimal `gorm:"type:numeric(12,2)" json:"delivery_fee"`
	TotalAmount         decimal.Decimal `gorm:"type:numeric(12,2)" json:"total_amount"`
	Currency            string          `json:"currency"`
	DeliveryAddressID   *uuid.UUID      `gorm:"type:uuid" json:"delivery_address_id"`
	DeliveryAddressLine string          `json:"delivery_address_line"`
	DeliveryCity        string          `json:"delivery_city"`
	DeliveryPostalCode  string          `json:"delivery_postal_code"`
	GatewayOrderID      string          `gorm:"index" json:"gateway_order_id"`
	PaymentID           string          `json:"payment_id"`
	PaidAt              *time.Time      `json:"paid_at"`
	Notes               string          `json:"notes"`
	Items               []OrderItem     `json:"items,omitempty"`
}

type OrderItem struct {
	BaseModel
	OrderID     uuid.UUID       `gorm:"type:uuid;index" json:"order_id"`
	ProductID   uuid.UUID       `gorm:"type:uuid;index" json:"product_id"`
	VariantID   *uuid.UUID      `gorm:"type:uuid" json:"variant_id"`
	VendorID    *uuid.UUID      `gorm:"type:uuid;index" json:"vendor_id"`
	ProductName string          `json:"product_name"`
	Unit        string          `json:"unit"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `gorm:"type:numeric(12,2)" json:"unit_price"`
	LineTotal   decimal.Decimal `gorm:"type:numeric(12,2)" json:"line_total"`
}
