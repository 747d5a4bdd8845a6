package webserver

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talkincode/keyshop/internal/domain"
)

func pathContext(id string) echo.Context {
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(id)
	return c
}

func TestParseID(t *testing.T) {
	for in, want := range map[string]int64{"42": 42, " 7 ": 7, "010": 10} {
		id, err := ParseID(pathContext(in), "id")
		require.NoError(t, err, in)
		assert.Equal(t, want, id, in)
	}
	for _, in := range []string{"", "0", "-3", "0x1f", "1e3", "abc", "9223372036854775808"} {
		_, err := ParseID(pathContext(in), "id")
		assert.Equal(t, domain.KindValidation, domain.KindOf(err), in)
	}
}

func TestParsePaginationAndQueryInt64(t *testing.T) {
	e := echo.New()
	query := func(q string) echo.Context {
		return e.NewContext(httptest.NewRequest(http.MethodGet, "/?"+q, nil), httptest.NewRecorder())
	}

	page, size := ParsePagination(query(""))
	assert.Equal(t, 1, page)
	assert.Equal(t, DefaultPageSize, size)

	page, size = ParsePagination(query("page=010&perPage=9999"))
	assert.Equal(t, 10, page)
	assert.Equal(t, MaxPageSize, size)

	_, size = ParsePagination(query("pageSize=15"))
	assert.Equal(t, 15, size)

	assert.Equal(t, int64(12), QueryInt64(query("categoryId=12"), "categoryId"))
	assert.Zero(t, QueryInt64(query("categoryId=0x0c"), "categoryId"))
	assert.Zero(t, QueryInt64(query(""), "categoryId"))
}
