package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/example/storefront/internal/middleware"
	"github.com/example/storefront/internal/models"
)

// WishlistHandler manages saved products.
type WishlistHandler struct {
	db *gorm.DB
}

// NewWishlistHandler constructs WishlistHandler.
func NewWishlistHandler(db *gorm.DB) *WishlistHandler {
	return &WishlistHandler{db: db}
}

// List returns the user's wishlist with products.
func (h *WishlistHandler) List(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	var items []models.Wishlist
	if err := h.db.WithContext(c.UserContext()).
		Preload("Product").
		Where("user_id = ?", userID).
		Order("created_at desc").
		Find(&items).Error; err != nil {
		return err
	}

	return c.JSON(fiber.Map{"success": true, "data": items})
}

type wishlistRequest struct {
	ProductID string `json:"product_id"`
}

// Add saves a product. Saving the same product twice is a no-op.
func (h *WishlistHandler) Add(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	var req wishlistRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	productID, err := uuid.Parse(req.ProductID)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid product_id")
	}

	db := h.db.WithContext(c.UserContext())
	var product models.Product
	if err := db.Select("id").First(&product, "id = ? AND is_active = ?", productID, true).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "product not found")
		}
		return err
	}

	entry := models.Wishlist{UserID: userID, ProductID: productID}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&entry).Error; err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "message": "added to wishlist"})
}

// Remove drops a product from the wishlist.
func (h *WishlistHandler) Remove(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	productID, err := uuid.Parse(c.Params("productId"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid product id")
	}

	if err := h.db.WithContext(c.UserContext()).
		Where("user_id = ? AND product_id = ?", userID, productID).
		Delete(&models.Wishlist{}).Error; err != nil {
		return err
	}

	return c.JSON(fiber.Map{"success": true, "message": "removed from wishlist"})
}
