package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/example/storefront/internal/middleware"
	"github.com/example/storefront/internal/models"
	"github.com/example/storefront/internal/utils"
)

// VendorHandler serves the seller dashboard.
type VendorHandler struct {
	db *gorm.DB
}

// NewVendorHandler constructs VendorHandler.
func NewVendorHandler(db *gorm.DB) *VendorHandler {
	return &VendorHandler{db: db}
}

type vendorRegisterRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Phone       string `json:"phone"`
}

// Register creates an unapproved vendor profile for the current user.
func (h *VendorHandler) Register(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	var req vendorRegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return fiber.NewError(fiber.StatusBadRequest, "name is required")
	}

	db := h.db.WithContext(c.UserContext())
	var existing models.Vendor
	if err := db.Where("user_id = ?", userID).First(&existing).Error; err == nil {
		return fiber.NewError(fiber.StatusConflict, "vendor profile already exists")
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	vendor := models.Vendor{
		UserID:      userID,
		Name:        req.Name,
		Description: req.Description,
		Phone:       req.Phone,
	}
	if err := db.Create(&vendor).Error; err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "data": vendor})
}

// currentVendor loads the approved vendor profile of the authenticated user.
func (h *VendorHandler) currentVendor(c *fiber.Ctx) (*models.Vendor, error) {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return nil, fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	var vendor models.Vendor
	if err := h.db.WithContext(c.UserContext()).Where("user_id = ?", userID).First(&vendor).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fiber.NewError(fiber.StatusForbidden, "vendor profile not found")
		}
		return nil, err
	}
	if !vendor.IsApproved {
		return nil, fiber.NewError(fiber.StatusForbidden, "vendor not approved")
	}
	return &vendor, nil
}

// ListProducts returns the vendor's own products, active or not.
func (h *VendorHandler) ListProducts(c *fiber.Ctx) error {
	vendor, err := h.currentVendor(c)
	if err != nil {
		return err
	}

	pg := utils.ParsePagination(c)
	query := h.db.WithContext(c.UserContext()).Model(&models.Product{}).Where("vendor_id = ?", vendor.ID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return err
	}

	var products []models.Product
	if err := query.Preload("Variants").
		Order("created_at desc").
		Limit(pg.Limit).Offset(pg.Offset).
		Find(&products).Error; err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"data":       products,
		"pagination": pg.Meta(total),
	})
}

type variantRequest struct {
	Label   string `json:"label"`
	Price   int64  `json:"price"`
	Unit    string `json:"unit"`
	InStock bool   `json:"in_stock"`
}

type productRequest struct {
	Slug        string           `json:"slug"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Category    string           `json:"category"`
	Price       int64            `json:"price"`
	Unit        string           `json:"unit"`
	Images      []string         `json:"images"`
	IsActive    *bool            `json:"is_active"`
	Variants    []variantRequest `json:"variants"`
}

// CreateProduct adds a product to the vendor's catalog.
func (h *VendorHandler) CreateProduct(c *fiber.Ctx) error {
	vendor, err := h.currentVendor(c)
	if err != nil {
		return err
	}

	var req productRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.Slug == "" || req.Name == "" {
		return fiber.NewError(fiber.StatusBadRequest, "slug and name are required")
	}
	if req.Price <= 0 {
		return fiber.NewError(fiber.StatusBadRequest, "price must be positive")
	}

	product := models.Product{
		VendorID:    &vendor.ID,
		Slug:        req.Slug,
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		Price:       req.Price,
		Unit:        req.Unit,
		Images:      pq.StringArray(req.Images),
		IsActive:    req.IsActive == nil || *req.IsActive,
	}
	for _, v := range req.Variants {
		if v.Label == "" {
			return fiber.NewError(fiber.StatusBadRequest, "variant label is required")
		}
		product.Variants = append(product.Variants, models.ProductVariant{
			Label:   v.Label,
			Price:   v.Price,
			Unit:    v.Unit,
			InStock: v.InStock,
		})
	}

	db := h.db.WithContext(c.UserContext())
	var count int64
	if err := db.Model(&models.Product{}).Where("slug = ?", req.Slug).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return fiber.NewError(fiber.StatusConflict, "slug already in use")
	}

	if err := db.Create(&product).Error; err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "data": product})
}

type updateProductRequest struct {
	Name        *string   `json:"name"`
	Description *string   `json:"description"`
	Category    *string   `json:"category"`
	Price       *int64    `json:"price"`
	Unit        *string   `json:"unit"`
	Images      *[]string `json:"images"`
	IsActive    *bool     `json:"is_active"`
}

// UpdateProduct edits one of the vendor's products.
func (h *VendorHandler) UpdateProduct(c *fiber.Ctx) error {
	vendor, err := h.currentVendor(c)
	if err != nil {
		return err
	}

	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}

	var req updateProductRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.Category != nil {
		updates["category"] = *req.Category
	}
	if req.Price != nil {
		if *req.Price <= 0 {
			return fiber.NewError(fiber.StatusBadRequest, "price must be positive")
		}
		updates["price"] = *req.Price
	}
	if req.Unit != nil {
		updates["unit"] = *req.Unit
	}
	if req.Images != nil {
		updates["images"] = pq.StringArray(*req.Images)
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}
	if len(updates) == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "no fields to update")
	}

	res := h.db.WithContext(c.UserContext()).Model(&models.Product{}).
		Where("id = ? AND vendor_id = ?", id, vendor.ID).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fiber.NewError(fiber.StatusNotFound, "product not found")
	}

	return c.JSON(fiber.Map{"success": true, "message": "product updated"})
}

// ListOrders returns orders containing the vendor's products. Only the
// vendor's own lines are included.
func (h *VendorHandler) ListOrders(c *fiber.Ctx) error {
	vendor, err := h.currentVendor(c)
	if err != nil {
		return err
	}

	db := h.db.WithContext(c.UserContext())
	pg := utils.ParsePagination(c)
	vendorOrders := db.Model(&models.OrderItem{}).Select("order_id").Where("vendor_id = ?", vendor.ID)
	query := db.Model(&models.Order{}).Where("id IN (?)", vendorOrders)

	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return err
	}

	var orders []models.Order
	if err := query.Preload("Items", "vendor_id = ?", vendor.ID).
		Order("placed_at desc").
		Limit(pg.Limit).Offset(pg.Offset).
		Find(&orders).Error; err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"data":       orders,
		"pagination": pg.Meta(total),
	})
}
