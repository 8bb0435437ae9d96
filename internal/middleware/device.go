package middleware

import (
	"github.com/gofiber/fiber/v2"
)

const (
	DeviceHeader     = "X-Device-ID"
	maxDeviceIDLen   = 64
	deviceContextKey = "deviceID"
)

// DeviceMiddleware requires the X-Device-ID header that keys the cart.
func DeviceMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get(DeviceHeader)
		if id == "" {
			return fiber.NewError(fiber.StatusBadRequest, "missing "+DeviceHeader+" header")
		}
		if len(id) > maxDeviceIDLen {
			return fiber.NewError(fiber.StatusBadRequest, DeviceHeader+" header too long")
		}
		// Locals must not alias the request buffer.
		c.Locals(deviceContextKey, string([]byte(id)))
		return c.Next()
	}
}

// GetDeviceID returns the device identifier set by DeviceMiddleware.
func GetDeviceID(c *fiber.Ctx) string {
	id, _ := c.Locals(deviceContextKey).(string)
	return id
}
