package webserver

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/talkincode/keyshop/internal/domain"
	"go.uber.org/zap"
)

// Response wraps successful payloads.
type Response struct {
	Data interface{} `json:"data"`
	Meta *Meta       `json:"meta,omitempty"`
}

// Meta describes one page of a list.
type Meta struct {
	Total    int64 `json:"total"`
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string      `json:"error"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func Ok(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusOK, Response{Data: data})
}

func Created(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusCreated, Response{Data: data})
}

func Paged(c echo.Context, data interface{}, total int64, page, pageSize int) error {
	return c.JSON(http.StatusOK, Response{Data: data, Meta: &Meta{Total: total, Page: page, PageSize: pageSize}})
}

func Fail(c echo.Context, status int, code, message string, details interface{}) error {
	return c.JSON(status, ErrorResponse{Error: code, Message: message, Details: details})
}

// FailErr maps a service error to its HTTP status and error code.
// Unexpected errors are logged and reported without internals.
func FailErr(c echo.Context, err error) error {
	var (
		verr *domain.ValidationError
		nerr *domain.NotFoundError
		serr *domain.InsufficientStockError
		cerr *domain.ConstraintViolationError
	)
	switch {
	case errors.As(err, &verr):
		var details interface{}
		if verr.Field != "" {
			details = map[string]string{"field": verr.Field}
		}
		return Fail(c, http.StatusBadRequest, "VALIDATION_ERROR", verr.Error(), details)
	case errors.As(err, &nerr):
		return Fail(c, http.StatusNotFound, "NOT_FOUND", nerr.Error(), map[string]interface{}{
			"entity": nerr.Entity,
			"id":     nerr.ID,
		})
	case errors.As(err, &serr):
		return Fail(c, http.StatusConflict, "INSUFFICIENT_STOCK", serr.Error(), map[string]interface{}{
			"variantId": serr.VariantID,
			"available": serr.Available,
			"requested": serr.Requested,
		})
	case errors.As(err, &cerr):
		return Fail(c, http.StatusConflict, "CONSTRAINT_VIOLATION", cerr.Error(), map[string]interface{}{
			"entity": cerr.Entity,
			"id":     cerr.ID,
		})
	case errors.Is(err, domain.ErrLockTimeout):
		zap.L().Warn("request timed out waiting for row locks",
			zap.String("path", c.Path()), zap.Error(err))
		return Fail(c, http.StatusServiceUnavailable, "STORE_BUSY", "The store is busy, please try again", nil)
	case errors.Is(err, context.Canceled):
		zap.L().Info("request cancelled by client", zap.String("path", c.Path()))
		return Fail(c, http.StatusServiceUnavailable, "REQUEST_CANCELLED", "Request cancelled", nil)
	}
	zap.L().Error("request failed",
		zap.String("method", c.Request().Method),
		zap.String("path", c.Path()),
		zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
		zap.Error(err))
	return Fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error", nil)
}
