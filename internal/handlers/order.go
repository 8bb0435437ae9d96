package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/example/storefront/internal/cart"
	"github.com/example/storefront/internal/config"
	"github.com/example/storefront/internal/middleware"
	"github.com/example/storefront/internal/models"
	"github.com/example/storefront/internal/services"
	"github.com/example/storefront/internal/utils"
)

var (
	freeDeliveryFrom = decimal.NewFromInt(500)
	flatDeliveryFee  = decimal.NewFromInt(40)
	minorUnits       = decimal.NewFromInt(100)

	errProductUnavailable = errors.New("product no longer available")
)

type productLister interface {
	FindActiveByIDs(ctx context.Context, ids []uuid.UUID) (map[string]models.Product, error)
}

type paymentGateway interface {
	CreateOrder(ctx context.Context, req services.PaymentOrderRequest) (string, error)
	VerifySignature(orderID, paymentID, signature string) bool
}

type orderNotifier interface {
	NotifyNewOrder(ctx context.Context, order services.OrderNotification) error
	NotifyPaymentSuccess(ctx context.Context, payment services.PaymentSuccessNotification) error
}

// OrderHandler manages checkout and order endpoints.
type OrderHandler struct {
	db       *gorm.DB
	cfg      *config.Config
	carts    *cart.Service
	products productLister
	gateway  paymentGateway
	notifier orderNotifier
}

// NewOrderHandler constructs OrderHandler.
func NewOrderHandler(db *gorm.DB, cfg *config.Config, carts *cart.Service, products productLister, gateway paymentGateway, notifier orderNotifier) *OrderHandler {
	return &OrderHandler{
		db:       db,
		cfg:      cfg,
		carts:    carts,
		products: products,
		gateway:  gateway,
		notifier: notifier,
	}
}

type checkoutRequest struct {
	DeliveryAddressID string `json:"delivery_address_id"`
	Notes             string `json:"notes"`
}

// Checkout turns the device cart into a pending order priced from the
// catalog and opens a gateway order for it.
func (h *OrderHandler) Checkout(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}
	ctx := c.UserContext()

	var req checkoutRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	store, err := h.carts.Get(ctx, middleware.GetDeviceID(c))
	if err != nil {
		return err
	}
	if store.Len() == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "cart is empty")
	}
	items := store.Items()

	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		id, err := uuid.Parse(item.ProductID)
		if err != nil {
			return fiber.NewError(fiber.StatusConflict, "cart contains an unknown product")
		}
		ids = append(ids, id)
	}

	products, err := h.products.FindActiveByIDs(ctx, ids)
	if err != nil {
		return err
	}

	lines, subtotal, err := priceLines(items, products)
	if err != nil {
		return fiber.NewError(fiber.StatusConflict, err.Error())
	}
	fee := deliveryFee(subtotal)

	order := models.Order{
		UserID:      userID,
		OrderNumber: generateOrderNumber(),
		Status:      models.OrderStatusPending,
		PlacedAt:    time.Now(),
		Subtotal:    subtotal,
		DeliveryFee: fee,
		TotalAmount: subtotal.Add(fee),
		Currency:    h.cfg.Currency,
		Notes:       req.Notes,
		Items:       lines,
	}

	if req.DeliveryAddressID != "" {
		addrID, err := uuid.Parse(req.DeliveryAddressID)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid delivery_address_id")
		}
		var address models.UserAddress
		if err := h.db.WithContext(ctx).First(&address, "id = ? AND user_id = ?", addrID, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "address not found")
			}
			return err
		}
		order.DeliveryAddressID = &address.ID
		order.DeliveryAddressLine = address.AddressLine
		order.DeliveryCity = address.City
		order.DeliveryPostalCode = address.PostalCode
	}

	if err := h.db.WithContext(ctx).Create(&order).Error; err != nil {
		return err
	}

	amount := order.TotalAmount.Mul(minorUnits).IntPart()
	gatewayOrderID, err := h.gateway.CreateOrder(ctx, services.PaymentOrderRequest{
		Amount:   amount,
		Currency: order.Currency,
		Receipt:  order.OrderNumber,
		Notes:    map[string]string{"order_id": order.ID.String()},
	})
	if err != nil {
		slog.ErrorContext(ctx, "gateway order failed", "order_id", order.ID, "error", err)
		if uerr := h.db.WithContext(ctx).Model(&order).Update("status", models.OrderStatusCancelled).Error; uerr != nil {
			slog.ErrorContext(ctx, "cancel order failed", "order_id", order.ID, "error", uerr)
		}
		return fiber.NewError(fiber.StatusBadGateway, "payment gateway unavailable")
	}

	order.GatewayOrderID = gatewayOrderID
	if err := h.db.WithContext(ctx).Model(&order).Update("gateway_order_id", gatewayOrderID).Error; err != nil {
		return err
	}

	go h.notifyNewOrder(order)

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"id":               order.ID,
			"order_number":     order.OrderNumber,
			"status":           order.Status,
			"placed_at":        order.PlacedAt,
			"subtotal":         order.Subtotal,
			"delivery_fee":     order.DeliveryFee,
			"total":            order.TotalAmount,
			"currency":         order.Currency,
			"gateway_order_id": gatewayOrderID,
			"amount":           amount,
			"key_id":           h.cfg.PaymentKeyID,
		},
	})
}

func (h *OrderHandler) notifyNewOrder(order models.Order) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var user models.User
	if err := h.db.WithContext(ctx).Select("phone").First(&user, "id = ?", order.UserID).Error; err != nil {
		slog.WarnContext(ctx, "order notification: user lookup failed", "order_id", order.ID, "error", err)
	}

	items := make([]services.OrderItemNotification, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, services.OrderItemNotification{
			Name:     item.ProductName,
			Quantity: item.Quantity,
			Price:    item.UnitPrice,
		})
	}

	if err := h.notifier.NotifyNewOrder(ctx, services.OrderNotification{
		OrderNumber: order.OrderNumber,
		Items:       items,
		TotalAmount: order.TotalAmount,
		Currency:    order.Currency,
		UserPhone:   user.Phone,
		Status:      order.Status,
	}); err != nil {
		slog.WarnContext(ctx, "order notification failed", "order_id", order.ID, "error", err)
	}
}

type verifyPaymentRequest struct {
	GatewayOrderID string `json:"gateway_order_id"`
	PaymentID      string `json:"payment_id"`
	Signature      string `json:"signature"`
}

// VerifyPayment checks the gateway callback signature, marks the order paid
// and clears the device cart.
func (h *OrderHandler) VerifyPayment(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}
	ctx := c.UserContext()

	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}

	var req verifyPaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.PaymentID == "" || req.Signature == "" {
		return fiber.NewError(fiber.StatusBadRequest, "payment_id and signature are required")
	}

	var order models.Order
	if err := h.db.WithContext(ctx).First(&order, "id = ? AND user_id = ?", id, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "order not found")
		}
		return err
	}

	switch order.Status {
	case models.OrderStatusPaid:
		if order.PaymentID == req.PaymentID {
			return c.JSON(fiber.Map{"success": true, "data": order})
		}
		return fiber.NewError(fiber.StatusConflict, "order already paid")
	case models.OrderStatusPending:
	default:
		return fiber.NewError(fiber.StatusConflict, "order is not awaiting payment")
	}

	if req.GatewayOrderID != "" && req.GatewayOrderID != order.GatewayOrderID {
		return fiber.NewError(fiber.StatusBadRequest, "gateway order mismatch")
	}
	if !h.gateway.VerifySignature(order.GatewayOrderID, req.PaymentID, req.Signature) {
		return fiber.NewError(fiber.StatusBadRequest, "invalid payment signature")
	}

	now := time.Now()
	res := h.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND status = ?", order.ID, models.OrderStatusPending).
		Updates(map[string]any{
			"status":     models.OrderStatusPaid,
			"payment_id": req.PaymentID,
			"paid_at":    now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fiber.NewError(fiber.StatusConflict, "order is not awaiting payment")
	}
	order.Status = models.OrderStatusPaid
	order.PaymentID = req.PaymentID
	order.PaidAt = &now

	if err := h.carts.Clear(ctx, middleware.GetDeviceID(c)); err != nil {
		slog.WarnContext(ctx, "clear cart after payment failed", "order_id", order.ID, "error", err)
	}

	go func(order models.Order) {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := h.notifier.NotifyPaymentSuccess(ctx, services.PaymentSuccessNotification{
			OrderNumber: order.OrderNumber,
			PaymentID:   order.PaymentID,
			Amount:      order.TotalAmount,
			Currency:    order.Currency,
		}); err != nil {
			slog.WarnContext(ctx, "payment notification failed", "order_id", order.ID, "error", err)
		}
	}(order)

	return c.JSON(fiber.Map{"success": true, "data": order})
}

// ListOrders returns orders for authenticated user.
func (h *OrderHandler) ListOrders(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	pg := utils.ParsePagination(c)
	query := h.db.WithContext(c.UserContext()).Where("user_id = ?", userID).Model(&models.Order{})

	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return err
	}

	var orders []models.Order
	if err := query.Preload("Items").
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

// GetOrder returns a single order for the authenticated user.
func (h *OrderHandler) GetOrder(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}

	var order models.Order
	if err := h.db.WithContext(c.UserContext()).Preload("Items").
		First(&order, "id = ? AND user_id = ?", id, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "order not found")
		}
		return err
	}

	return c.JSON(fiber.Map{"success": true, "data": order})
}

// priceLines converts cart lines into order items using current catalog
// prices. Cart prices are never trusted.
func priceLines(items []cart.LineItem, products map[string]models.Product) ([]models.OrderItem, decimal.Decimal, error) {
	subtotal := decimal.Zero
	lines := make([]models.OrderItem, 0, len(items))

	for _, item := range items {
		product, ok := products[item.ProductID]
		if !ok {
			return nil, decimal.Zero, fmt.Errorf("%w: %s", errProductUnavailable, item.Name)
		}

		price := product.Price
		unit := product.Unit
		name := product.Name
		var variantID *uuid.UUID

		if item.VariantID != "" {
			variant := findVariant(&product, item.VariantID)
			if variant == nil || !variant.InStock {
				return nil, decimal.Zero, fmt.Errorf("%w: %s", errProductUnavailable, item.Name)
			}
			if variant.Price > 0 {
				price = variant.Price
			}
			if variant.Unit != "" {
				unit = variant.Unit
			}
			name = product.Name + " (" + variant.Label + ")"
			vid := variant.ID
			variantID = &vid
		}

		unitPrice := decimal.NewFromInt(price)
		lineTotal := unitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		subtotal = subtotal.Add(lineTotal)

		lines = append(lines, models.OrderItem{
			ProductID:   product.ID,
			VariantID:   variantID,
			VendorID:    product.VendorID,
			ProductName: name,
			Unit:        unit,
			Quantity:    item.Quantity,
			UnitPrice:   unitPrice,
			LineTotal:   lineTotal,
		})
	}

	return lines, subtotal, nil
}

func deliveryFee(subtotal decimal.Decimal) decimal.Decimal {
	if subtotal.GreaterThanOrEqual(freeDeliveryFrom) {
		return decimal.Zero
	}
	return flatDeliveryFee
}

func generateOrderNumber() string {
	return fmt.Sprintf("#%d", time.Now().UnixNano()%1000000000)
}
