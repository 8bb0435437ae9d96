package middleware

import (
	"slices"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/example/storefront/internal/config"
	"github.com/example/storefront/internal/utils"
)

const (
	userContextKey    = "currentUserID"
	roleContextKey    = "currentRole"
	sessionContextKey = "currentSession"
)

// AuthMiddleware validates JWT tokens and loads the authenticated user ID and role into context.
func AuthMiddleware(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing authorization header")
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid authorization header")
		}

		claims, err := utils.ParseToken(cfg.JWTSecret, parts[1])
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid token")
		}

		c.Locals(userContextKey, uuid.MustParse(claims.UserID))
		c.Locals(roleContextKey, claims.Role)
		c.Locals(sessionContextKey, claims.ID)
		return c.Next()
	}
}

// RequireRole rejects requests whose token role is not one of roles. It must
// run after AuthMiddleware.
func RequireRole(roles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		role, ok := GetCurrentRole(c)
		if !ok {
			return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
		}
		if !slices.Contains(roles, role) {
			return fiber.NewError(fiber.StatusForbidden, "insufficient role")
		}
		return c.Next()
	}
}

// GetCurrentUserID extracts the authenticated user ID from context.
func GetCurrentUserID(c *fiber.Ctx) (uuid.UUID, bool) {
	value := c.Locals(userContextKey)
	if value == nil {
		return uuid.Nil, false
	}

	if id, ok := value.(uuid.UUID); ok {
		return id, true
	}

	return uuid.Nil, false
}

// GetCurrentRole extracts the authenticated role from context.
func GetCurrentRole(c *fiber.Ctx) (string, bool) {
	role, ok := c.Locals(roleContextKey).(string)
	return role, ok && role != ""
}

// GetSessionID returns the OTP session token the JWT was issued for.
func GetSessionID(c *fiber.Ctx) string {
	id, _ := c.Locals(sessionContextKey).(string)
	return id
}
