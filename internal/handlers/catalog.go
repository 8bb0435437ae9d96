package handlers

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/example/storefront/internal/models"
	"github.com/example/storefront/internal/utils"
)

// CatalogHandler serves the public product catalog.
type CatalogHandler struct {
	db *gorm.DB
}

// NewCatalogHandler constructs CatalogHandler.
func NewCatalogHandler(db *gorm.DB) *CatalogHandler {
	return &CatalogHandler{db: db}
}

// ListProducts returns paginated active products with optional filters.
func (h *CatalogHandler) ListProducts(c *fiber.Ctx) error {
	pg := utils.ParsePagination(c)
	query := h.db.WithContext(c.UserContext()).Model(&models.Product{}).Where("is_active = ?", true)

	if category := c.Query("category"); category != "" {
		query = query.Where("category = ?", category)
	}

	if v := c.Query("vendor_id"); v != "" {
		if id, err := uuid.Parse(v); err == nil {
			query = query.Where("vendor_id = ?", id)
		}
	}

	if search := strings.TrimSpace(c.Query("search")); search != "" {
		q := "%" + search + "%"
		query = query.Where("name ILIKE ? OR description ILIKE ?", q, q)
	}

	if minPrice := c.Query("min_price"); minPrice != "" {
		if val, err := strconv.ParseInt(minPrice, 10, 64); err == nil {
			query = query.Where("price >= ?", val)
		}
	}

	if maxPrice := c.Query("max_price"); maxPrice != "" {
		if val, err := strconv.ParseInt(maxPrice, 10, 64); err == nil {
			query = query.Where("price <= ?", val)
		}
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return err
	}

	var products []models.Product
	if err := query.Preload("Variants").
		Limit(pg.Limit).Offset(pg.Offset).
		Order("created_at desc").
		Find(&products).Error; err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"data":       products,
		"pagination": pg.Meta(total),
	})
}

// GetProduct loads an active product by id or slug.
func (h *CatalogHandler) GetProduct(c *fiber.Ctx) error {
	key := c.Params("id")
	query := h.db.WithContext(c.UserContext()).
		Preload("Variants").
		Preload("Vendor").
		Where("is_active = ?", true)

	if id, err := uuid.Parse(key); err == nil {
		query = query.Where("id = ?", id)
	} else {
		query = query.Where("slug = ?", key)
	}

	var product models.Product
	if err := query.First(&product).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "product not found")
		}
		return err
	}

	return c.JSON(fiber.Map{"success": true, "data": product})
}

// ListCategories returns the distinct categories of active products.
func (h *CatalogHandler) ListCategories(c *fiber.Ctx) error {
	var categories []string
	if err := h.db.WithContext(c.UserContext()).Model(&models.Product{}).
		Where("is_active = ? AND category <> ''", true).
		Distinct().
		Order("category").
		Pluck("category", &categories).Error; err != nil {
		return err
	}

	return c.JSON(fiber.Map{"success": true, "data": categories})
}
