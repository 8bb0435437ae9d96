package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/example/storefront/internal/cart"
	"github.com/example/storefront/internal/middleware"
	"github.com/example/storefront/internal/models"
)

type productFinder interface {
	FindActiveProduct(ctx context.Context, id uuid.UUID) (*models.Product, error)
}

// CartHandler serves the device cart.
type CartHandler struct {
	carts    *cart.Service
	products productFinder
}

// NewCartHandler constructs CartHandler.
func NewCartHandler(carts *cart.Service, products productFinder) *CartHandler {
	return &CartHandler{carts: carts, products: products}
}

func cartResponse(c *fiber.Ctx, status int, store *cart.Store) error {
	return c.Status(status).JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"items": store.Items(),
			"lines": store.Len(),
			"count": store.Count(),
			"total": store.Total(),
		},
	})
}

// GetCart returns the current device cart.
func (h *CartHandler) GetCart(c *fiber.Ctx) error {
	store, err := h.carts.Get(c.UserContext(), middleware.GetDeviceID(c))
	if err != nil {
		return err
	}
	return cartResponse(c, fiber.StatusOK, store)
}

type addCartItemRequest struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

// AddItem adds a catalog product to the cart, merging with an existing line.
func (h *CartHandler) AddItem(c *fiber.Ctx) error {
	var req addCartItemRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	productID, err := uuid.Parse(req.ProductID)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid product_id")
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	if req.Quantity < 1 || req.Quantity > cart.MaxLineQuantity {
		return fiber.NewError(fiber.StatusBadRequest, "quantity must be between 1 and 99")
	}

	product, err := h.products.FindActiveProduct(c.UserContext(), productID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "product not found")
		}
		return err
	}

	item := cart.LineItem{
		ProductID: product.ID.String(),
		Name:      product.Name,
		Price:     product.Price,
		Unit:      product.Unit,
		Image:     product.Image(),
		Quantity:  req.Quantity,
	}

	if req.VariantID != "" {
		variant := findVariant(product, req.VariantID)
		if variant == nil {
			return fiber.NewError(fiber.StatusNotFound, "variant not found")
		}
		if !variant.InStock {
			return fiber.NewError(fiber.StatusConflict, "variant out of stock")
		}
		item.VariantID = variant.ID.String()
		item.Name = product.Name + " (" + variant.Label + ")"
		if variant.Price > 0 {
			item.Price = variant.Price
		}
		if variant.Unit != "" {
			item.Unit = variant.Unit
		}
	}

	store, err := h.carts.Add(c.UserContext(), middleware.GetDeviceID(c), item)
	var limitErr *cart.LimitError
	if errors.As(err, &limitErr) {
		return fiber.NewError(fiber.StatusBadRequest, limitErr.Error())
	}
	if err != nil {
		return err
	}
	return cartResponse(c, fiber.StatusCreated, store)
}

type updateCartItemRequest struct {
	VariantID string `json:"variant_id"`
	Quantity  *int   `json:"quantity"`
}

// UpdateItem sets the quantity of a line. Zero removes it.
func (h *CartHandler) UpdateItem(c *fiber.Ctx) error {
	var req updateCartItemRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.Quantity == nil {
		return fiber.NewError(fiber.StatusBadRequest, "quantity is required")
	}
	if *req.Quantity < 0 || *req.Quantity > cart.MaxLineQuantity {
		return fiber.NewError(fiber.StatusBadRequest, "quantity must be between 0 and 99")
	}

	store, err := h.carts.SetQty(c.UserContext(), middleware.GetDeviceID(c), c.Params("productId"), *req.Quantity, req.VariantID)
	if err != nil {
		return err
	}
	return cartResponse(c, fiber.StatusOK, store)
}

// RemoveItem deletes a line. The variant is taken from the variant_id query.
func (h *CartHandler) RemoveItem(c *fiber.Ctx) error {
	store, err := h.carts.Remove(c.UserContext(), middleware.GetDeviceID(c), c.Params("productId"), c.Query("variant_id"))
	if err != nil {
		return err
	}
	return cartResponse(c, fiber.StatusOK, store)
}

// ClearCart empties the device cart.
func (h *CartHandler) ClearCart(c *fiber.Ctx) error {
	if err := h.carts.Clear(c.UserContext(), middleware.GetDeviceID(c)); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "message": "cart cleared"})
}

func findVariant(product *models.Product, variantID string) *models.ProductVariant {
	for i := range product.Variants {
		if product.Variants[i].ID.String() == variantID {
			return &product.Variants[i]
		}
	}
	return nil
}
