package routes

import (
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/example/storefront/internal/cart"
	"github.com/example/storefront/internal/config"
	"github.com/example/storefront/internal/database"
	"github.com/example/storefront/internal/handlers"
	"github.com/example/storefront/internal/metrics"
	"github.com/example/storefront/internal/middleware"
	"github.com/example/storefront/internal/models"
	"github.com/example/storefront/internal/otp"
	"github.com/example/storefront/internal/services"
)

// Deps are the long-lived collaborators built once in main.
type Deps struct {
	DB       *gorm.DB
	Config   *config.Config
	OTP      *otp.Manager
	Carts    *cart.Service
	Payments *services.PaymentGateway
	Telegram *services.TelegramService
	Metrics  *metrics.ServerMetrics
}

// Register wires up all HTTP routes.
func Register(app *fiber.App, d Deps) {
	db, cfg := d.DB, d.Config
	products := database.NewProductStore(db)

	authHandler := handlers.NewAuthHandler(db, cfg, d.OTP, database.NewUserStore(db), d.Metrics)
	cartHandler := handlers.NewCartHandler(d.Carts, products)
	catalogHandler := handlers.NewCatalogHandler(db)
	orderHandler := handlers.NewOrderHandler(db, cfg, d.Carts, products, d.Payments, d.Telegram)
	profileHandler := handlers.NewProfileHandler(db)
	wishlistHandler := handlers.NewWishlistHandler(db)
	vendorHandler := handlers.NewVendorHandler(db)
	adminHandler := handlers.NewAdminHandler(db)

	app.Get("/metrics", d.Metrics.Handler())

	api := app.Group("/api")

	// Auth routes
	auth := api.Group("/auth")
	auth.Post("/otp/request", authHandler.RequestOTP)
	auth.Post("/otp/verify", authHandler.VerifyOTP)

	// Catalog routes
	api.Get("/products", catalogHandler.ListProducts)
	api.Get("/products/:id", catalogHandler.GetProduct)
	api.Get("/categories", catalogHandler.ListCategories)

	// Cart is keyed by device, no login needed.
	carts := api.Group("/cart", middleware.DeviceMiddleware())
	carts.Get("/", cartHandler.GetCart)
	carts.Delete("/", cartHandler.ClearCart)
	carts.Post("/items", cartHandler.AddItem)
	carts.Put("/items/:productId", cartHandler.UpdateItem)
	carts.Delete("/items/:productId", cartHandler.RemoveItem)

	// Protected routes
	requireAuth := middleware.AuthMiddleware(cfg)
	customer := middleware.RequireRole(models.RoleCustomer, models.RoleVendor)

	profile := api.Group("/profile", requireAuth, customer)
	profile.Get("/", profileHandler.GetProfile)
	profile.Put("/", profileHandler.UpdateProfile)
	profile.Get("/addresses", profileHandler.ListAddresses)
	profile.Post("/addresses", profileHandler.CreateAddress)
	profile.Put("/addresses/:id", profileHandler.UpdateAddress)
	profile.Delete("/addresses/:id", profileHandler.DeleteAddress)

	wishlist := api.Group("/wishlist", requireAuth, customer)
	wishlist.Get("/", wishlistHandler.List)
	wishlist.Post("/", wishlistHandler.Add)
	wishlist.Delete("/:productId", wishlistHandler.Remove)

	orders := api.Group("/orders", requireAuth, customer)
	orders.Get("/", orderHandler.ListOrders)
	orders.Get("/:id", orderHandler.GetOrder)
	orders.Post("/", middleware.DeviceMiddleware(), orderHandler.Checkout)
	orders.Post("/:id/verify-payment", middleware.DeviceMiddleware(), orderHandler.VerifyPayment)

	vendor := api.Group("/vendor", requireAuth)
	vendor.Post("/register", customer, vendorHandler.Register)
	vendor.Get("/products", middleware.RequireRole(models.RoleVendor), vendorHandler.ListProducts)
	vendor.Post("/products", middleware.RequireRole(models.RoleVendor), vendorHandler.CreateProduct)
	vendor.Put("/products/:id", middleware.RequireRole(models.RoleVendor), vendorHandler.UpdateProduct)
	vendor.Get("/orders", middleware.RequireRole(models.RoleVendor), vendorHandler.ListOrders)

	api.Post("/admin/login", authHandler.AdminLogin)
	admin := api.Group("/admin", requireAuth, middleware.RequireRole(models.RoleAdmin))
	admin.Get("/stats", adminHandler.DashboardStats)
	admin.Get("/orders", adminHandler.ListAllOrders)
	admin.Get("/users", adminHandler.ListAllUsers)
	admin.Get("/recent-orders", adminHandler.RecentOrders)
	admin.Get("/vendors", adminHandler.ListVendors)
	admin.Put("/vendors/:id/approve", adminHandler.ApproveVendor)
}
