package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/example/storefront/internal/cart"
	"github.com/example/storefront/internal/middleware"
	"github.com/example/storefront/internal/models"
)

const testDevice = "device-1"

type fakeCatalog struct {
	products map[uuid.UUID]*models.Product
}

func (f *fakeCatalog) FindActiveProduct(_ context.Context, id uuid.UUID) (*models.Product, error) {
	p, ok := f.products[id]
	if !ok || !p.IsActive {
		return nil, gorm.ErrRecordNotFound
	}
	return p, nil
}

func (f *fakeCatalog) FindActiveByIDs(_ context.Context, ids []uuid.UUID) (map[string]models.Product, error) {
	out := map[string]models.Product{}
	for _, id := range ids {
		if p, ok := f.products[id]; ok && p.IsActive {
			out[id.String()] = *p
		}
	}
	return out, nil
}

func newProduct(name string, price int64, variants ...models.ProductVariant) *models.Product {
	p := &models.Product{Name: name, Price: price, Unit: "kg", IsActive: true, Images: []string{name + ".jpg"}}
	p.ID = uuid.New()
	for i := range variants {
		variants[i].ID = uuid.New()
		variants[i].ProductID = p.ID
	}
	p.Variants = variants
	return p
}

type cartFixture struct {
	app     *fiber.App
	catalog *fakeCatalog
	rice    *models.Product
	mango   *models.Product
}

func newCartFixture(t *testing.T) *cartFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	f := &cartFixture{
		rice: newProduct("Basmati Rice", 120),
		mango: newProduct("Alphonso Mango", 600,
			models.ProductVariant{Label: "1 dozen", Price: 900, Unit: "dozen", InStock: true},
			models.ProductVariant{Label: "crate", Price: 4000, InStock: false},
		),
	}
	f.catalog = &fakeCatalog{products: map[uuid.UUID]*models.Product{
		f.rice.ID:  f.rice,
		f.mango.ID: f.mango,
	}}

	h := NewCartHandler(cart.NewService(cart.NewRedisCache(client, time.Hour)), f.catalog)
	f.app = fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	g := f.app.Group("/cart", middleware.DeviceMiddleware())
	g.Get("/", h.GetCart)
	g.Delete("/", h.ClearCart)
	g.Post("/items", h.AddItem)
	g.Put("/items/:productId", h.UpdateItem)
	g.Delete("/items/:productId", h.RemoveItem)
	return f
}

func (f *cartFixture) send(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.DeviceHeader, testDevice)
	return doRequest(t, f.app, req)
}

func cartData(t *testing.T, body map[string]any) (items []any, count, total float64) {
	t.Helper()
	data, ok := body["data"].(map[string]any)
	require.True(t, ok, "missing data in %v", body)
	items, _ = data["items"].([]any)
	return items, data["count"].(float64), data["total"].(float64)
}

func TestCart_AddMergesAndPricesFromCatalog(t *testing.T) {
	f := newCartFixture(t)

	status, _ := f.send(t, http.MethodPost, "/cart/items", fiber.Map{"product_id": f.rice.ID.String(), "quantity": 2})
	require.Equal(t, fiber.StatusCreated, status)
	status, body := f.send(t, http.MethodPost, "/cart/items", fiber.Map{"product_id": f.rice.ID.String(), "quantity": 3})
	require.Equal(t, fiber.StatusCreated, status)

	items, count, total := cartData(t, body)
	require.Len(t, items, 1)
	assert.Equal(t, float64(5), count)
	assert.Equal(t, float64(600), total)

	line := items[0].(map[string]any)
	assert.Equal(t, "Basmati Rice", line["name"])
	assert.Equal(t, "Basmati Rice.jpg", line["image"])
}

func TestCart_VariantsAreSeparateLines(t *testing.T) {
	f := newCartFixture(t)
	dozen := f.mango.Variants[0]

	f.send(t, http.MethodPost, "/cart/items", fiber.Map{"product_id": f.mango.ID.String()})
	status, body := f.send(t, http.MethodPost, "/cart/items", fiber.Map{
		"product_id": f.mango.ID.String(),
		"variant_id": dozen.ID.String(),
	})
	require.Equal(t, fiber.StatusCreated, status)

	items, count, total := cartData(t, body)
	require.Len(t, items, 2)
	assert.Equal(t, float64(2), count)
	assert.Equal(t, float64(1500), total)
	assert.Equal(t, "Alphonso Mango (1 dozen)", items[1].(map[string]any)["name"])
}

func TestCart_AddValidation(t *testing.T) {
	f := newCartFixture(t)

	tests := []struct {
		name   string
		body   fiber.Map
		status int
	}{
		{"bad product id", fiber.Map{"product_id": "nope"}, fiber.StatusBadRequest},
		{"quantity too large", fiber.Map{"product_id": f.rice.ID.String(), "quantity": 100}, fiber.StatusBadRequest},
		{"negative quantity", fiber.Map{"product_id": f.rice.ID.String(), "quantity": -1}, fiber.StatusBadRequest},
		{"unknown product", fiber.Map{"product_id": uuid.NewString()}, fiber.StatusNotFound},
		{"unknown variant", fiber.Map{"product_id": f.mango.ID.String(), "variant_id": uuid.NewString()}, fiber.StatusNotFound},
		{"out of stock variant", fiber.Map{"product_id": f.mango.ID.String(), "variant_id": f.mango.Variants[1].ID.String()}, fiber.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := f.send(t, http.MethodPost, "/cart/items", tt.body)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, false, body["success"])
		})
	}
}

func TestCart_AddCapsMergedLineQuantity(t *testing.T) {
	f := newCartFixture(t)

	status, _ := f.send(t, http.MethodPost, "/cart/items", fiber.Map{"product_id": f.rice.ID.String(), "quantity": 60})
	require.Equal(t, fiber.StatusCreated, status)

	status, body := f.send(t, http.MethodPost, "/cart/items", fiber.Map{"product_id": f.rice.ID.String(), "quantity": 50})
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, false, body["success"])

	status, body = f.send(t, http.MethodGet, "/cart/", nil)
	require.Equal(t, fiber.StatusOK, status)
	items, count, _ := cartData(t, body)
	require.Len(t, items, 1)
	assert.Equal(t, float64(60), count)

	status, body = f.send(t, http.MethodPost, "/cart/items", fiber.Map{"product_id": f.rice.ID.String(), "quantity": 39})
	require.Equal(t, fiber.StatusCreated, status)
	_, count, _ = cartData(t, body)
	assert.Equal(t, float64(99), count)
}

func TestCart_UpdateRemoveClear(t *testing.T) {
	f := newCartFixture(t)
	f.send(t, http.MethodPost, "/cart/items", fiber.Map{"product_id": f.rice.ID.String()})
	f.send(t, http.MethodPost, "/cart/items", fiber.Map{"product_id": f.mango.ID.String()})

	status, body := f.send(t, http.MethodPut, "/cart/items/"+f.rice.ID.String(), fiber.Map{"quantity": 4})
	require.Equal(t, fiber.StatusOK, status)
	_, count, _ := cartData(t, body)
	assert.Equal(t, float64(5), count)

	// Updating a line that is not in the cart leaves it unchanged.
	status, body = f.send(t, http.MethodPut, "/cart/items/"+uuid.NewString(), fiber.Map{"quantity": 2})
	require.Equal(t, fiber.StatusOK, status)
	items, _, _ := cartData(t, body)
	assert.Len(t, items, 2)

	status, body = f.send(t, http.MethodPut, "/cart/items/"+f.rice.ID.String(), fiber.Map{"quantity": 0})
	require.Equal(t, fiber.StatusOK, status)
	items, _, _ = cartData(t, body)
	assert.Len(t, items, 1)

	status, body = f.send(t, http.MethodDelete, "/cart/items/"+f.mango.ID.String(), nil)
	require.Equal(t, fiber.StatusOK, status)
	items, _, _ = cartData(t, body)
	assert.Empty(t, items)

	f.send(t, http.MethodPost, "/cart/items", fiber.Map{"product_id": f.rice.ID.String()})
	status, _ = f.send(t, http.MethodDelete, "/cart/", nil)
	require.Equal(t, fiber.StatusOK, status)

	status, body = f.send(t, http.MethodGet, "/cart/", nil)
	require.Equal(t, fiber.StatusOK, status)
	items, count, _ = cartData(t, body)
	assert.Empty(t, items)
	assert.Equal(t, float64(0), count)
}

func TestCart_UpdateRequiresQuantity(t *testing.T) {
	f := newCartFixture(t)

	status, _ := f.send(t, http.MethodPut, "/cart/items/"+f.rice.ID.String(), fiber.Map{})
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestCart_RequiresDeviceHeader(t *testing.T) {
	f := newCartFixture(t)

	status, body := doRequest(t, f.app, httptest.NewRequest(http.MethodGet, "/cart/", nil))
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, false, body["success"])
}
