package adminapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/gocarina/gocsv"
	"github.com/labstack/echo/v4"
	"github.com/talkincode/keyshop/internal/domain"
	"github.com/talkincode/keyshop/internal/repository"
	"github.com/talkincode/keyshop/internal/webserver"
	"go.uber.org/zap"
)

const exportPageSize = 500

type statusPayload struct {
	Status string `json:"status" validate:"required"`
}

// orderCSVRow is one exported order line.
type orderCSVRow struct {
	OrderID     int64  `csv:"order_id"`
	Reference   string `csv:"reference"`
	OrderDate   string `csv:"order_date"`
	Status      string `csv:"status"`
	Email       string `csv:"email"`
	Country     string `csv:"country"`
	City        string `csv:"city"`
	ProductName string `csv:"product"`
	VariantName string `csv:"variant"`
	Quantity    int    `csv:"quantity"`
	UnitPrice   string `csv:"unit_price"`
	LineTotal   string `csv:"line_total"`
	OrderTotal  string `csv:"order_total"`
}

type orderHandlers struct {
	svc OrderAdmin
}

func registerOrderRoutes(srv *webserver.Server, h *orderHandlers) {
	srv.AdminGET("/orders", h.list)
	srv.AdminGET("/orders/export", h.export)
	srv.AdminGET("/orders/:id", h.get)
	srv.AdminPATCH("/orders/:id/status", h.setStatus)
}

// parseOrderFilter reads status, userId, from and to. Dates accept any
// layout dateparse understands; a bare date in "to" includes that whole day.
func parseOrderFilter(c echo.Context) (repository.OrderFilter, error) {
	var filter repository.OrderFilter
	if s := strings.TrimSpace(c.QueryParam("status")); s != "" {
		status, ok := domain.ParseOrderStatus(s)
		if !ok {
			return filter, domain.NewValidationError("status", "unknown order status %q", s)
		}
		filter.Status = status
	}
	if uid := webserver.QueryInt64(c, "userId"); uid > 0 {
		filter.UserID = &uid
	}
	if s := strings.TrimSpace(c.QueryParam("from")); s != "" {
		from, err := dateparse.ParseLocal(s)
		if err != nil {
			return filter, domain.NewValidationError("from", "unrecognised date %q", s)
		}
		filter.From = &from
	}
	if s := strings.TrimSpace(c.QueryParam("to")); s != "" {
		to, err := dateparse.ParseLocal(s)
		if err != nil {
			return filter, domain.NewValidationError("to", "unrecognised date %q", s)
		}
		if to.Equal(time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, to.Location())) {
			to = to.AddDate(0, 0, 1)
		}
		filter.To = &to
	}
	if filter.From != nil && filter.To != nil && !filter.From.Before(*filter.To) {
		return filter, domain.NewValidationError("from", "must be before to")
	}
	return filter, nil
}

func (h *orderHandlers) list(c echo.Context) error {
	filter, err := parseOrderFilter(c)
	if err != nil {
		return webserver.FailErr(c, err)
	}
	filter.Page, filter.PageSize = webserver.ParsePagination(c)
	rows, total, err := h.svc.Orders(c.Request().Context(), filter)
	if err != nil {
		return webserver.FailErr(c, err)
	}
	return webserver.Paged(c, rows, total, filter.Page, filter.PageSize)
}

func (h *orderHandlers) get(c echo.Context) error {
	id, err := webserver.ParseID(c, "id")
	if err != nil {
		return webserver.FailErr(c, err)
	}
	o, err := h.svc.Order(c.Request().Context(), id)
	if err != nil {
		return webserver.FailErr(c, err)
	}
	return webserver.Ok(c, o)
}

// export writes every order matching the filter as CSV, one row per item.
func (h *orderHandlers) export(c echo.Context) error {
	filter, err := parseOrderFilter(c)
	if err != nil {
		return webserver.FailErr(c, err)
	}
	filter.PageSize = exportPageSize

	rows := make([]*orderCSVRow, 0)
	for page := 1; ; page++ {
		filter.Page = page
		orders, total, err := h.svc.Orders(c.Request().Context(), filter)
		if err != nil {
			return webserver.FailErr(c, err)
		}
		for i := range orders {
			rows = append(rows, orderRows(&orders[i])...)
		}
		if len(orders) == 0 || int64(page*exportPageSize) >= total {
			break
		}
	}

	data, err := gocsv.MarshalBytes(&rows)
	if err != nil {
		return webserver.FailErr(c, err)
	}
	zap.L().Info("orders exported", zap.Int("rows", len(rows)))
	filename := fmt.Sprintf("orders-%s.csv", time.Now().Format("20060102150405"))
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", filename))
	return c.Blob(http.StatusOK, "text/csv; charset=utf-8", data)
}

func orderRows(o *domain.Order) []*orderCSVRow {
	out := make([]*orderCSVRow, 0, len(o.Items))
	for _, it := range o.Items {
		out = append(out, &orderCSVRow{
			OrderID:     o.ID,
			Reference:   o.Reference,
			OrderDate:   o.OrderDate.Format(time.RFC3339),
			Status:      string(o.Status),
			Email:       o.Email,
			Country:     o.Country,
			City:        o.City,
			ProductName: it.ProductName,
			VariantName: it.VariantName,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice.StringFixed(2),
			LineTotal:   it.LineTotal().StringFixed(2),
			OrderTotal:  o.TotalAmount.StringFixed(2),
		})
	}
	return out
}

func (h *orderHandlers) setStatus(c echo.Context) error {
	id, err := webserver.ParseID(c, "id")
	if err != nil {
		return webserver.FailErr(c, err)
	}
	var payload statusPayload
	if err := webserver.BindAndValidate(c, &payload); err != nil {
		return webserver.FailErr(c, err)
	}
	status, ok := domain.ParseOrderStatus(payload.Status)
	if !ok {
		return webserver.FailErr(c, domain.NewValidationError("status", "unknown order status %q", payload.Status))
	}
	o, err := h.svc.UpdateStatus(c.Request().Context(), id, status)
	if err != nil {
		return webserver.FailErr(c, err)
	}
	return webserver.Ok(c, o)
}
