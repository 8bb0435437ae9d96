package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	RoleCustomer = "customer"
	RoleVendor   = "vendor"
	RoleAdmin    = "admin"
)

// User represents a customer who signs in with a phone number and OTP.
type User struct {
	BaseModel
	Phone       string        `gorm:"uniqueIndex" json:"phone"`
	DisplayName string        `json:"display_name"`
	Email       string        `json:"email"`
	IsVerified  bool          `json:"is_verified"`
	LastLoginAt *time.Time    `json:"last_login_at"`
	Addresses   []UserAddress `json:"addresses,omitempty"`
	Orders      []Order       `json:"orders,omitempty"`
	Vendor      *Vendor       `json:"vendor,omitempty"`
}

// AdminUser is a back-office account that signs in with a password.
type AdminUser struct {
	BaseModel
	Phone        string `gorm:"uniqueIndex" json:"phone"`
	Name         string `json:"name"`
	PasswordHash string `json:"-"`
	IsActive     bool   `json:"is_active"`
}

// Vendor is a seller profile attached to a user.
type Vendor struct {
	BaseModel
	UserID      uuid.UUID  `gorm:"type:uuid;uniqueIndex" json:"user_id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Phone       string     `json:"phone"`
	IsApproved  bool       `json:"is_approved"`
	ApprovedAt  *time.Time `json:"approved_at"`
	Products    []Product  `json:"products,omitempty"`
}
