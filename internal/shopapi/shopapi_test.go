package shopapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talkincode/keyshop/config"
	"github.com/talkincode/keyshop/internal/auth"
	"github.com/talkincode/keyshop/internal/catalog"
	"github.com/talkincode/keyshop/internal/checkout"
	"github.com/talkincode/keyshop/internal/repository"
	"github.com/talkincode/keyshop/internal/repository/repotest"
	"github.com/talkincode/keyshop/internal/webserver"
	"gorm.io/gorm"
)

type env struct {
	srv      *echo.Echo
	store    repository.Store
	db       *gorm.DB
	resolver *auth.Resolver
}

func newEnv(t *testing.T) *env {
	store, db := repotest.NewStore(t)
	resolver := auth.NewResolver("test-secret", time.Hour)
	srv := newServer(store, resolver)
	return &env{srv: srv, store: store, db: db, resolver: resolver}
}

func newServer(store repository.Store, resolver *auth.Resolver) *echo.Echo {
	s := webserver.New(config.WebConfig{})
	Register(s, catalog.NewService(store, nil), checkout.NewService(store, nil), resolver)
	return s.Echo()
}

func (e *env) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	return rec
}

type orderEnvelope struct {
	Data struct {
		ID          string `json:"id"`
		UserID      *int64 `json:"userId"`
		Status      string `json:"status"`
		Country     string `json:"country"`
		TotalAmount string `json:"totalAmount"`
		Items       []struct {
			UnitPrice string `json:"unitPrice"`
			Quantity  int    `json:"quantity"`
		} `json:"items"`
	} `json:"data"`
}

func orderBody(variantID int64, qty int) string {
	return `{"items":[{"variantId":` + strconv.FormatInt(variantID, 10) + `,"quantity":` + strconv.Itoa(qty) + `}],` +
		`"address":{"city":"Krakow","street":"Florianska","postalCode":"31-019","houseNumber":"1"},` +
		`"email":"buyer@example.com"}`
}

func TestGuestCheckout(t *testing.T) {
	e := newEnv(t)
	p := repotest.SeedProduct(t, e.store, "GMK Olivia", "100", "80", repotest.VariantSeed{Name: "Base", Stock: 5, Modifier: "-10"})

	rec := e.do(http.MethodPost, "/api/v1/orders", orderBody(p.Variants[0].ID, 2), nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var out orderEnvelope
	require.NoError(t, jsoniter.Unmarshal(rec.Body.Bytes(), &out))
	assert.Nil(t, out.Data.UserID)
	assert.Equal(t, "PENDING", out.Data.Status)
	assert.Equal(t, "Poland", out.Data.Country)
	assert.Equal(t, "140", out.Data.TotalAmount)
	require.Len(t, out.Data.Items, 1)
	assert.Equal(t, "70", out.Data.Items[0].UnitPrice)
	assert.NotEmpty(t, out.Data.ID)
}

func TestInvalidTokenDegradesToGuest(t *testing.T) {
	e := newEnv(t)
	p := repotest.SeedProduct(t, e.store, "Oil King", "3.50", "", repotest.VariantSeed{Name: "10 Pack", Stock: 5})

	rec := e.do(http.MethodPost, "/api/v1/orders", orderBody(p.Variants[0].ID, 1),
		map[string]string{echo.HeaderAuthorization: "Bearer expired.or.forged"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var out orderEnvelope
	require.NoError(t, jsoniter.Unmarshal(rec.Body.Bytes(), &out))
	assert.Nil(t, out.Data.UserID)

	token, err := e.resolver.Sign(auth.Identity{UserID: 31, Email: "ada@example.com", Role: auth.RoleCustomer})
	require.NoError(t, err)
	rec = e.do(http.MethodPost, "/api/v1/orders", orderBody(p.Variants[0].ID, 1),
		map[string]string{echo.HeaderAuthorization: "Bearer " + token})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.NoError(t, jsoniter.Unmarshal(rec.Body.Bytes(), &out))
	require.NotNil(t, out.Data.UserID)
	assert.Equal(t, int64(31), *out.Data.UserID)
}

func TestCheckoutErrorMapping(t *testing.T) {
	e := newEnv(t)
	p := repotest.SeedProduct(t, e.store, "Oil King", "3.50", "", repotest.VariantSeed{Name: "10 Pack", Stock: 1})
	vid := p.Variants[0].ID

	rec := e.do(http.MethodPost, "/api/v1/orders", orderBody(vid, 2), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error":"INSUFFICIENT_STOCK"`)
	assert.Contains(t, rec.Body.String(), `"available":1`)

	rec = e.do(http.MethodPost, "/api/v1/orders", orderBody(999, 1), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(http.MethodPost, "/api/v1/orders", `{"items":[],"address":{},"email":""}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "VALIDATION_ERROR")

	bad := strings.Replace(orderBody(vid, 1), "buyer@example.com", "nope", 1)
	rec = e.do(http.MethodPost, "/api/v1/orders", bad, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"field":"email"`)

	assert.Equal(t, 1, repotest.Variant(t, e.db, vid).StockQuantity)
}

func TestIdempotencyKeyReplays(t *testing.T) {
	e := newEnv(t)
	p := repotest.SeedProduct(t, e.store, "Oil King", "3.50", "", repotest.VariantSeed{Name: "10 Pack", Stock: 5})
	headers := map[string]string{HeaderIdempotencyKey: "cart-1"}

	first := e.do(http.MethodPost, "/api/v1/orders", orderBody(p.Variants[0].ID, 2), headers)
	require.Equal(t, http.StatusCreated, first.Code)
	second := e.do(http.MethodPost, "/api/v1/orders", orderBody(p.Variants[0].ID, 2), headers)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "true", second.Header().Get(HeaderReplayed))

	var a, b orderEnvelope
	require.NoError(t, jsoniter.Unmarshal(first.Body.Bytes(), &a))
	require.NoError(t, jsoniter.Unmarshal(second.Body.Bytes(), &b))
	assert.Equal(t, a.Data.ID, b.Data.ID)
	assert.Equal(t, 3, repotest.Variant(t, e.db, p.Variants[0].ID).StockQuantity)
}

func TestCatalogRoutes(t *testing.T) {
	e := newEnv(t)
	visible := repotest.SeedProduct(t, e.store, "Oil King", "3.50", "", repotest.VariantSeed{Name: "10 Pack", Stock: 5})
	hidden := repotest.SeedProduct(t, e.store, "Retired", "1", "", repotest.VariantSeed{Name: "x", Stock: 1})
	require.NoError(t, e.store.SetProductArchived(context.Background(), hidden.ID, true))

	rec := e.do(http.MethodGet, "/api/v1/products?perPage=10", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Oil King")
	assert.NotContains(t, rec.Body.String(), "Retired")
	assert.Contains(t, rec.Body.String(), `"total":1`)

	rec = e.do(http.MethodGet, "/api/v1/products/"+strconv.FormatInt(visible.ID, 10), "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = e.do(http.MethodGet, "/api/v1/products/"+strconv.FormatInt(hidden.ID, 10), "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = e.do(http.MethodGet, "/api/v1/products/abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(http.MethodGet, "/api/v1/categories", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Switches")
}
