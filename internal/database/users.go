package database

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/example/storefront/internal/models"
)

// UserStore resolves phone-verified customers.
type UserStore struct {
	db *gorm.DB
}

func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db}
}

// FindOrCreateByPhone returns the user owning phone, creating it on first
// login, and records the login. The vendor profile is preloaded when present.
func (s *UserStore) FindOrCreateByPhone(ctx context.Context, phone string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where(models.User{Phone: phone}).
			Attrs(models.User{DisplayName: phone}).
			FirstOrCreate(&user).Error; err != nil {
			return err
		}

		now := time.Now()
		if err := tx.Model(&user).Updates(map[string]interface{}{
			"is_verified":   true,
			"last_login_at": now,
		}).Error; err != nil {
			return err
		}
		user.IsVerified = true
		user.LastLoginAt = &now

		var vendor models.Vendor
		err := tx.Where("user_id = ?", user.ID).First(&vendor).Error
		if err == nil {
			user.Vendor = &vendor
			return nil
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}
