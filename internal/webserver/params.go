package webserver

import (
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/talkincode/keyshop/internal/domain"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 500
)

// ParsePagination reads page and perPage (or the older pageSize) from the
// query string.
func ParsePagination(c echo.Context) (page, pageSize int) {
	page = int(parseDecimal(c.QueryParam("page")))
	if page < 1 {
		page = 1
	}
	raw := c.QueryParam("perPage")
	if raw == "" {
		raw = c.QueryParam("pageSize")
	}
	pageSize = int(parseDecimal(raw))
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize
}

// parseDecimal reads a base 10 integer, 0 when s is empty or malformed.
func parseDecimal(s string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// ParseID reads a positive base 10 int64 path parameter.
func ParseID(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(c.Param(name)), 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.NewValidationError(name, "invalid id %q", c.Param(name))
	}
	return id, nil
}

// QueryInt64 reads an optional int64 query parameter, 0 when absent or bad.
func QueryInt64(c echo.Context, name string) int64 {
	return parseDecimal(c.QueryParam(name))
}
