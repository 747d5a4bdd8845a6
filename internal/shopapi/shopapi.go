// Package shopapi serves the public storefront API: catalog reads and
// checkout.
package shopapi

import (
	"context"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/talkincode/keyshop/internal/auth"
	"github.com/talkincode/keyshop/internal/checkout"
	"github.com/talkincode/keyshop/internal/domain"
	"github.com/talkincode/keyshop/internal/repository"
	"github.com/talkincode/keyshop/internal/webserver"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderReplayed       = "Idempotency-Replayed"
)

// CatalogReader is the public catalog, usually cached.
type CatalogReader interface {
	Categories(ctx context.Context) ([]domain.Category, error)
	Products(ctx context.Context, filter repository.ProductFilter) ([]domain.Product, int64, error)
	Product(ctx context.Context, id int64) (*domain.Product, error)
}

// OrderPlacer runs checkout.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req checkout.PlaceOrderRequest) (*domain.Order, bool, error)
}

// IdentityResolver turns an Authorization header into an optional identity.
type IdentityResolver interface {
	ResolveIdentity(header string) *auth.Identity
}

type handlers struct {
	catalog  CatalogReader
	orders   OrderPlacer
	identity IdentityResolver
}

// Register mounts the public routes on srv.
func Register(srv *webserver.Server, catalog CatalogReader, orders OrderPlacer, identity IdentityResolver) {
	h := &handlers{catalog: catalog, orders: orders, identity: identity}
	srv.ApiGET("/categories", h.listCategories)
	srv.ApiGET("/products", h.listProducts)
	srv.ApiGET("/products/:id", h.getProduct)
	srv.ApiPOST("/orders", h.createOrder)
}

func (h *handlers) listCategories(c echo.Context) error {
	rows, err := h.catalog.Categories(c.Request().Context())
	if err != nil {
		return webserver.FailErr(c, err)
	}
	return webserver.Ok(c, rows)
}

func (h *handlers) listProducts(c echo.Context) error {
	page, pageSize := webserver.ParsePagination(c)
	filter := repository.ProductFilter{
		Query:      strings.TrimSpace(c.QueryParam("q")),
		CategoryID: webserver.QueryInt64(c, "categoryId"),
		Sort:       strings.TrimSpace(c.QueryParam("sort")),
		Order:      strings.TrimSpace(c.QueryParam("order")),
		Page:       page,
		PageSize:   pageSize,
	}
	rows, total, err := h.catalog.Products(c.Request().Context(), filter)
	if err != nil {
		return webserver.FailErr(c, err)
	}
	return webserver.Paged(c, rows, total, page, pageSize)
}

func (h *handlers) getProduct(c echo.Context) error {
	id, err := webserver.ParseID(c, "id")
	if err != nil {
		return webserver.FailErr(c, err)
	}
	p, err := h.catalog.Product(c.Request().Context(), id)
	if err != nil {
		return webserver.FailErr(c, err)
	}
	return webserver.Ok(c, p)
}

type orderItemPayload struct {
	VariantID int64 `json:"variantId" validate:"required,gt=0"`
	Quantity  int   `json:"quantity" validate:"required,min=1,max=1000"`
}

type addressPayload struct {
	Country     string `json:"country" validate:"omitempty,max=100"`
	City        string `json:"city" validate:"required,max=100"`
	Street      string `json:"street" validate:"required,max=200"`
	PostalCode  string `json:"postalCode" validate:"required,max=20"`
	HouseNumber string `json:"houseNumber" validate:"required,max=20"`
}

type createOrderPayload struct {
	Items   []orderItemPayload `json:"items" validate:"required,min=1,dive"`
	Address addressPayload     `json:"address"`
	Email   string             `json:"email" validate:"required,email,max=255"`
}

// createOrder places an order for a guest or, when a valid bearer token is
// sent, for the token's user. A bad token never fails the request.
func (h *handlers) createOrder(c echo.Context) error {
	var payload createOrderPayload
	if err := webserver.BindAndValidate(c, &payload); err != nil {
		return webserver.FailErr(c, err)
	}

	req := checkout.PlaceOrderRequest{
		Address: checkout.Address{
			Country:     payload.Address.Country,
			City:        payload.Address.City,
			Street:      payload.Address.Street,
			PostalCode:  payload.Address.PostalCode,
			HouseNumber: payload.Address.HouseNumber,
		},
		Email:          payload.Email,
		IdempotencyKey: c.Request().Header.Get(HeaderIdempotencyKey),
	}
	for _, item := range payload.Items {
		req.Items = append(req.Items, checkout.LineRequest{VariantID: item.VariantID, Quantity: item.Quantity})
	}
	if id := h.identity.ResolveIdentity(c.Request().Header.Get(echo.HeaderAuthorization)); id != nil {
		uid := id.UserID
		req.UserID = &uid
	}

	order, replayed, err := h.orders.PlaceOrder(c.Request().Context(), req)
	if err != nil {
		return webserver.FailErr(c, err)
	}
	if replayed {
		c.Response().Header().Set(HeaderReplayed, "true")
		return webserver.Ok(c, order)
	}
	return webserver.Created(c, order)
}
