package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/example/storefront/internal/config"
	"github.com/example/storefront/internal/metrics"
	"github.com/example/storefront/internal/models"
	"github.com/example/storefront/internal/otp"
	"github.com/example/storefront/internal/utils"
)

type accountStore interface {
	FindOrCreateByPhone(ctx context.Context, phone string) (*models.User, error)
}

// AuthHandler bundles dependencies for authentication endpoints.
type AuthHandler struct {
	db      *gorm.DB
	cfg     *config.Config
	otp     *otp.Manager
	users   accountStore
	metrics *metrics.ServerMetrics
}

// NewAuthHandler constructs an AuthHandler. The OTP manager must be the
// process-wide instance so that request and verify see the same codes.
func NewAuthHandler(db *gorm.DB, cfg *config.Config, manager *otp.Manager, users accountStore, m *metrics.ServerMetrics) *AuthHandler {
	return &AuthHandler{db: db, cfg: cfg, otp: manager, users: users, metrics: m}
}

type otpRequest struct {
	Phone string `json:"phone"`
}

// RequestOTP issues a verification code and sends it by SMS.
func (h *AuthHandler) RequestOTP(c *fiber.Ctx) error {
	var req otpRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	err := h.otp.Issue(c.UserContext(), strings.TrimSpace(req.Phone))
	if err != nil {
		var validationErr *otp.ValidationError
		var deliveryErr *otp.DeliveryError
		switch {
		case errors.As(err, &validationErr):
			h.metrics.OTP(metrics.OTPInvalid)
			return fiber.NewError(fiber.StatusBadRequest, validationErr.Error())
		case errors.As(err, &deliveryErr):
			h.metrics.OTP(metrics.OTPDeliveryFail)
			return fiber.NewError(fiber.StatusBadGateway, "failed to deliver verification code")
		default:
			return err
		}
	}

	h.metrics.OTP(metrics.OTPIssued)
	return c.JSON(fiber.Map{
		"success":    true,
		"message":    "verification code sent",
		"expires_in": int(h.cfg.OTPTTL.Seconds()),
	})
}

type otpVerifyRequest struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

// VerifyOTP checks the code and signs the user in, creating the account on
// first login.
func (h *AuthHandler) VerifyOTP(c *fiber.Ctx) error {
	var req otpVerifyRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	phone := strings.TrimSpace(req.Phone)
	session, err := h.otp.Verify(c.UserContext(), phone, strings.TrimSpace(req.Code))
	if err != nil {
		return h.verifyError(c, err)
	}
	h.metrics.OTP(metrics.OTPVerified)

	user, err := h.users.FindOrCreateByPhone(c.UserContext(), phone)
	if err != nil {
		return err
	}

	role := models.RoleCustomer
	if user.Vendor != nil && user.Vendor.IsApproved {
		role = models.RoleVendor
	}

	token, err := utils.GenerateToken(h.cfg.JWTSecret, user.ID, role, session, h.cfg.TokenExpires)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to generate token")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"token": token,
			"user": fiber.Map{
				"id":           user.ID,
				"phone":        user.Phone,
				"display_name": user.DisplayName,
				"role":         role,
			},
		},
	})
}

func (h *AuthHandler) verifyError(c *fiber.Ctx, err error) error {
	var validationErr *otp.ValidationError
	var mismatchErr *otp.MismatchError

	switch {
	case errors.As(err, &validationErr):
		h.metrics.OTP(metrics.OTPInvalid)
		return fiber.NewError(fiber.StatusBadRequest, validationErr.Error())
	case errors.As(err, &mismatchErr):
		h.metrics.OTP(metrics.OTPMismatch)
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success":            false,
			"error":              "invalid verification code",
			"remaining_attempts": mismatchErr.Remaining,
		})
	case errors.Is(err, otp.ErrNotFound):
		h.metrics.OTP(metrics.OTPNotFound)
		return fiber.NewError(fiber.StatusNotFound, "verification code not found, request a new one")
	case errors.Is(err, otp.ErrExpired):
		h.metrics.OTP(metrics.OTPExpired)
		return fiber.NewError(fiber.StatusGone, "verification code expired, request a new one")
	case errors.Is(err, otp.ErrExhausted):
		h.metrics.OTP(metrics.OTPExhausted)
		return fiber.NewError(fiber.StatusTooManyRequests, "too many failed attempts, request a new code")
	default:
		return err
	}
}

type adminLoginRequest struct {
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

// AdminLogin authenticates a back-office account with a password.
func (h *AuthHandler) AdminLogin(c *fiber.Ctx) error {
	var req adminLoginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.Phone == "" || req.Password == "" {
		return fiber.NewError(fiber.StatusBadRequest, "missing required fields")
	}

	var admin models.AdminUser
	if err := h.db.WithContext(c.UserContext()).
		Where("phone = ? AND is_active = ?", req.Phone, true).
		First(&admin).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid credentials")
		}
		return err
	}

	if !utils.CheckPassword(admin.PasswordHash, req.Password) {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid credentials")
	}

	token, err := utils.GenerateToken(h.cfg.JWTSecret, admin.ID, models.RoleAdmin, "", h.cfg.TokenExpires)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to generate token")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"token": token,
			"admin": fiber.Map{
				"id":   admin.ID,
				"name": admin.Name,
			},
		},
	})
}
