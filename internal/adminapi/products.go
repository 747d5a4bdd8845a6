package adminapi

import (
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/talkincode/keyshop/internal/catalog"
	"github.com/talkincode/keyshop/internal/domain"
	"github.com/talkincode/keyshop/internal/repository"
	"github.com/talkincode/keyshop/internal/webserver"
)

// Prices decode from JSON strings or numbers.
type variantPayload struct {
	ID            *int64          `json:"id"`
	Name          string          `json:"name" validate:"required,max=200"`
	StockQuantity int             `json:"stockQuantity" validate:"min=0"`
	PriceModifier decimal.Decimal `json:"priceModifier"`
}

type productPayload struct {
	Name          string              `json:"name" validate:"required,max=200"`
	Description   string              `json:"description" validate:"max=10000"`
	CategoryID    int64               `json:"categoryId" validate:"required,gt=0"`
	BasePrice     decimal.Decimal     `json:"basePrice"`
	DiscountPrice decimal.NullDecimal `json:"discountPrice"`
	ImageURL      string              `json:"imageUrl" validate:"omitempty,url,max=500"`
	Variants      []variantPayload    `json:"variants" validate:"required,min=1,dive"`
}

func (p productPayload) input() catalog.ProductInput {
	in := catalog.ProductInput{
		Name:          p.Name,
		Description:   strings.TrimSpace(p.Description),
		CategoryID:    p.CategoryID,
		BasePrice:     p.BasePrice,
		DiscountPrice: p.DiscountPrice,
		ImageURL:      p.ImageURL,
	}
	for _, v := range p.Variants {
		in.Variants = append(in.Variants, catalog.VariantInput{
			ID:            v.ID,
			Name:          v.Name,
			StockQuantity: v.StockQuantity,
			PriceModifier: v.PriceModifier,
		})
	}
	return in
}

type archivePayload struct {
	IsDeleted *bool `json:"isDeleted" validate:"required"`
}

type stockPayload struct {
	StockQuantity *int `json:"stockQuantity" validate:"required,min=0"`
}

type productUpdateResponse struct {
	Product  *domain.Product          `json:"product"`
	Variants *catalog.ReconcileResult `json:"variants"`
}

type productHandlers struct {
	svc ProductAdmin
}

func registerProductRoutes(srv *webserver.Server, h *productHandlers) {
	srv.AdminGET("/products", h.list)
	srv.AdminPOST("/products", h.create)
	srv.AdminPUT("/products/:id", h.update)
	srv.AdminDELETE("/products/:id", h.remove)
	srv.AdminPATCH("/products/:id/status", h.setStatus)
	srv.AdminGET("/products/:id/details", h.details)
	srv.AdminPATCH("/variants/:id/stock", h.setStock)
}

func (h *productHandlers) list(c echo.Context) error {
	page, pageSize := webserver.ParsePagination(c)
	filter := repository.ProductFilter{
		Query:      strings.TrimSpace(c.QueryParam("q")),
		CategoryID: webserver.QueryInt64(c, "categoryId"),
		Sort:       strings.TrimSpace(c.QueryParam("sort")),
		Order:      strings.ToUpper(strings.TrimSpace(c.QueryParam("order"))),
		Page:       page,
		PageSize:   pageSize,
	}
	rows, total, err := h.svc.AdminProducts(c.Request().Context(), filter)
	if err != nil {
		return webserver.FailErr(c, err)
	}
	return webserver.Paged(c, rows, total, page, pageSize)
}

func (h *productHandlers) create(c echo.Context) error {
	var payload productPayload
	if err := webserver.BindAndValidate(c, &payload); err != nil {
		return webserver.FailErr(c, err)
	}
	p, err := h.svc.CreateProduct(c.Request().Context(), payload.input())
	if err != nil {
		return webserver.FailErr(c, err)
	}
	return webserver.Created(c, p)
}

func (h *productHandlers) update(c echo.Context) error {
	id, err := webserver.ParseID(c, "id")
	if err != nil {
		return webserver.FailErr(c, err)
	}
	var payload productPayload
	if err := webserver.BindAndValidate(c, &payload); err != nil {
		return webserver.FailErr(c, err)
	}
	p, result, err := h.svc.UpdateProduct(c.Request().Context(), id, payload.input())
	if err != nil {
		return webserver.FailErr(c, err)
	}
	return webserver.Ok(c, productUpdateResponse{Product: p, Variants: result})
}

func (h *productHandlers) remove(c echo.Context) error {
	id, err := webserver.ParseID(c, "id")
	if err != nil {
		return webserver.FailErr(c, err)
	}
	if err := h.svc.DeleteProduct(c.Request().Context(), id); err != nil {
		return webserver.FailErr(c, err)
	}
	return webserver.Ok(c, map[string]interface{}{"id": id, "deleted": true})
}

func (h *productHandlers) setStatus(c echo.Context) error {
	id, err := webserver.ParseID(c, "id")
	if err != nil {
		return webserver.FailErr(c, err)
	}
	var payload archivePayload
	if err := webserver.BindAndValidate(c, &payload); err != nil {
		return webserver.FailErr(c, err)
	}
	p, err := h.svc.SetArchived(c.Request().Context(), id, *payload.IsDeleted)
	if err != nil {
		return webserver.FailErr(c, err)
	}
	return webserver.Ok(c, p)
}

func (h *productHandlers) details(c echo.Context) error {
	id, err := webserver.ParseID(c, "id")
	if err != nil {
		return webserver.FailErr(c, err)
	}
	d, err := h.svc.Details(c.Request().Context(), id)
	if err != nil {
		return webserver.FailErr(c, err)
	}
	return webserver.Ok(c, d)
}

func (h *productHandlers) setStock(c echo.Context) error {
	id, err := webserver.ParseID(c, "id")
	if err != nil {
		return webserver.FailErr(c, err)
	}
	var payload stockPayload
	if err := webserver.BindAndValidate(c, &payload); err != nil {
		return webserver.FailErr(c, err)
	}
	v, err := h.svc.SetVariantStock(c.Request().Context(), id, *payload.StockQuantity)
	if err != nil {
		return webserver.FailErr(c, err)
	}
	return webserver.Ok(c, v)
}
