package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/url"
	"strings"

	"github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/example/storefront/internal/models"
	"github.com/example/storefront/internal/utils"
)

var db *gorm.DB

// Connect initializes the database connection and runs migrations.
func Connect(dsn string, logLevel logger.LogLevel) *gorm.DB {
	if db != nil {
		return db
	}

	if err := ensureDatabase(dsn); err != nil {
		log.Fatalf("failed to ensure database: %v", err)
	}

	conn, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := conn.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp"`).Error; err != nil {
		slog.Warn("failed to ensure uuid-ossp extension", "error", err)
	}

	if err := migrate(conn); err != nil {
		log.Fatalf("database migration failed: %v", err)
	}

	db = conn
	return db
}

func migrate(conn *gorm.DB) error {
	migrations := []interface{}{
		&models.User{},
		&models.AdminUser{},
		&models.Vendor{},
		&models.Product{},
		&models.ProductVariant{},
		&models.UserAddress{},
		&models.Wishlist{},
		&models.Order{},
		&models.OrderItem{},
	}

	for _, migration := range migrations {
		if err := conn.AutoMigrate(migration); err != nil {
			return fmt.Errorf("migrate %T: %w", migration, err)
		}
	}

	return nil
}

// SeedAdmin creates the bootstrap admin account when phone is set and no
// admin with that phone exists yet. Existing accounts are left untouched.
func SeedAdmin(ctx context.Context, conn *gorm.DB, phone, password string) error {
	if phone == "" {
		return nil
	}

	var existing models.AdminUser
	err := conn.WithContext(ctx).Where("phone = ?", phone).First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	hash, err := utils.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	admin := models.AdminUser{
		Phone:        phone,
		Name:         "Administrator",
		PasswordHash: hash,
		IsActive:     true,
	}
	if err := conn.WithContext(ctx).Create(&admin).Error; err != nil {
		return err
	}
	slog.InfoContext(ctx, "admin account created", "admin_id", admin.ID)
	return nil
}

// maintenanceDSN points dsn at the postgres maintenance database and returns
// the target database name. ok is false for DSNs that are not URLs or carry no
// database name.
func maintenanceDSN(dsn string) (master, dbName string, ok bool, err error) {
	if !strings.HasPrefix(dsn, "postgres://") && !strings.HasPrefix(dsn, "postgresql://") {
		return "", "", false, nil
	}

	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", "", false, err
	}

	dbName = strings.TrimPrefix(parsed.Path, "/")
	if dbName == "" {
		return "", "", false, nil
	}

	parsed.Path = "/postgres"
	return parsed.String(), dbName, true, nil
}

func ensureDatabase(dsn string) error {
	masterDSN, dbName, ok, err := maintenanceDSN(dsn)
	if err != nil || !ok {
		return err
	}

	sqlDB, err := sql.Open("postgres", masterDSN)
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if err := sqlDB.Ping(); err != nil {
		return err
	}

	var exists bool
	if err := sqlDB.QueryRow("SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)", dbName).Scan(&exists); err != nil {
		return err
	}

	if exists {
		return nil
	}

	slog.Info("creating database", "name", dbName)
	_, err = sqlDB.Exec("CREATE DATABASE " + pq.QuoteIdentifier(dbName))
	return err
}
