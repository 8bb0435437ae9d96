package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/example/storefront/internal/models"
	"github.com/example/storefront/internal/utils"
)

// AdminHandler manages admin-only endpoints.
type AdminHandler struct {
	db *gorm.DB
}

// NewAdminHandler constructs AdminHandler.
func NewAdminHandler(db *gorm.DB) *AdminHandler {
	return &AdminHandler{db: db}
}

// DashboardStats returns aggregate statistics for the admin dashboard.
func (h *AdminHandler) DashboardStats(c *fiber.Ctx) error {
	db := h.db.WithContext(c.UserContext())

	var totalUsers int64
	if err := db.Model(&models.User{}).Count(&totalUsers).Error; err != nil {
		return err
	}

	var totalOrders int64
	if err := db.Model(&models.Order{}).Count(&totalOrders).Error; err != nil {
		return err
	}

	type statusCount struct {
		Status string `json:"status"`
		Count  int64  `json:"count"`
	}
	var statusCounts []statusCount
	if err := db.Model(&models.Order{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&statusCounts).Error; err != nil {
		return err
	}

	ordersByStatus := make(map[string]int64)
	for _, sc := range statusCounts {
		ordersByStatus[sc.Status] = sc.Count
	}

	// Revenue counts paid orders only.
	var totalRevenue decimal.Decimal
	if err := db.Model(&models.Order{}).
		Where("status = ?", models.OrderStatusPaid).
		Select("COALESCE(SUM(total_amount), 0)").
		Scan(&totalRevenue).Error; err != nil {
		return err
	}

	var todayRevenue decimal.Decimal
	if err := db.Model(&models.Order{}).
		Where("status = ? AND paid_at::date = CURRENT_DATE", models.OrderStatusPaid).
		Select("COALESCE(SUM(total_amount), 0)").
		Scan(&todayRevenue).Error; err != nil {
		return err
	}

	var totalVendors, pendingVendors int64
	if err := db.Model(&models.Vendor{}).Count(&totalVendors).Error; err != nil {
		return err
	}
	if err := db.Model(&models.Vendor{}).Where("is_approved = ?", false).Count(&pendingVendors).Error; err != nil {
		return err
	}

	var totalProducts int64
	if err := db.Model(&models.Product{}).Where("is_active = ?", true).Count(&totalProducts).Error; err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"total_users":      totalUsers,
			"total_orders":     totalOrders,
			"total_vendors":    totalVendors,
			"pending_vendors":  pendingVendors,
			"active_products":  totalProducts,
			"total_revenue":    totalRevenue,
			"today_revenue":    todayRevenue,
			"orders_by_status": ordersByStatus,
		},
	})
}

// ListAllOrders returns all orders with pagination, filtering, and user info.
func (h *AdminHandler) ListAllOrders(c *fiber.Ctx) error {
	pg := utils.ParsePagination(c)
	query := h.db.WithContext(c.UserContext()).Model(&models.Order{})

	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	if search := c.Query("search"); search != "" {
		query = query.Where(
			"order_number ILIKE ? OR delivery_address_line ILIKE ? OR gateway_order_id = ?",
			"%"+search+"%", "%"+search+"%", search,
		)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return err
	}

	var orders []models.Order
	if err := query.Preload("Items").Preload("User").
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

// ListAllUsers returns all registered users with pagination and search.
func (h *AdminHandler) ListAllUsers(c *fiber.Ctx) error {
	pg := utils.ParsePagination(c)
	db := h.db.WithContext(c.UserContext())
	query := db.Model(&models.User{})

	if search := c.Query("search"); search != "" {
		query = query.Where(
			"phone ILIKE ? OR display_name ILIKE ? OR email ILIKE ?",
			"%"+search+"%", "%"+search+"%", "%"+search+"%",
		)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return err
	}

	var users []models.User
	if err := query.Order("created_at desc").
		Limit(pg.Limit).Offset(pg.Offset).
		Find(&users).Error; err != nil {
		return err
	}

	type userStats struct {
		UserID     string
		OrderCount int64
		TotalSpent decimal.Decimal
	}

	ids := make([]uuid.UUID, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}

	var stats []userStats
	if len(ids) > 0 {
		if err := db.Model(&models.Order{}).
			Select("user_id, count(*) as order_count, COALESCE(SUM(total_amount) FILTER (WHERE status = ?), 0) as total_spent", models.OrderStatusPaid).
			Where("user_id IN ?", ids).
			Group("user_id").
			Scan(&stats).Error; err != nil {
			return err
		}
	}

	statsMap := make(map[string]userStats, len(stats))
	for _, s := range stats {
		statsMap[s.UserID] = s
	}

	type userResponse struct {
		models.User
		OrderCount int64           `json:"order_count"`
		TotalSpent decimal.Decimal `json:"total_spent"`
	}

	result := make([]userResponse, len(users))
	for i, u := range users {
		result[i] = userResponse{User: u, TotalSpent: decimal.Zero}
		if s, ok := statsMap[u.ID.String()]; ok {
			result[i].OrderCount = s.OrderCount
			result[i].TotalSpent = s.TotalSpent
		}
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"data":       result,
		"pagination": pg.Meta(total),
	})
}

// RecentOrders returns the most recent 5 orders for the dashboard.
func (h *AdminHandler) RecentOrders(c *fiber.Ctx) error {
	var orders []models.Order
	if err := h.db.WithContext(c.UserContext()).Preload("Items").Preload("User").
		Order("placed_at desc").
		Limit(5).
		Find(&orders).Error; err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    orders,
	})
}

// ListVendors returns vendor profiles. ?pending=true limits to unapproved ones.
func (h *AdminHandler) ListVendors(c *fiber.Ctx) error {
	pg := utils.ParsePagination(c)
	query := h.db.WithContext(c.UserContext()).Model(&models.Vendor{})

	if c.QueryBool("pending") {
		query = query.Where("is_approved = ?", false)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return err
	}

	var vendors []models.Vendor
	if err := query.Order("created_at desc").
		Limit(pg.Limit).Offset(pg.Offset).
		Find(&vendors).Error; err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"data":       vendors,
		"pagination": pg.Meta(total),
	})
}

// ApproveVendor marks a vendor approved. The vendor role takes effect on the
// user's next login.
func (h *AdminHandler) ApproveVendor(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}

	db := h.db.WithContext(c.UserContext())
	var vendor models.Vendor
	if err := db.First(&vendor, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "vendor not found")
		}
		return err
	}

	if !vendor.IsApproved {
		now := time.Now()
		if err := db.Model(&vendor).Updates(map[string]interface{}{
			"is_approved": true,
			"approved_at": now,
		}).Error; err != nil {
			return err
		}
		vendor.IsApproved = true
		vendor.ApprovedAt = &now
	}

	return c.JSON(fiber.Map{"success": true, "data": vendor})
}
