package adminapi

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
	"github.com/talkincode/keyshop/internal/domain"
	"github.com/talkincode/keyshop/internal/repository"
	"github.com/talkincode/keyshop/internal/repository/repotest"
	"github.com/talkincode/keyshop/internal/webserver"
	"gorm.io/gorm"
)

type env struct {
	echo     *echo.Echo
	store    repository.Store
	db       *gorm.DB
	checkout *checkout.Service
	resolver *auth.Resolver
	token    string
}

func newEnv(t *testing.T) *env {
	store, db := repotest.NewStore(t)
	resolver := auth.NewResolver("admin-secret", time.Hour)
	srv := webserver.New(config.WebConfig{}, resolver.AdminMiddleware()...)
	co := checkout.NewService(store, nil)
	Register(srv, catalog.NewService(store, nil), co)

	token, err := resolver.Sign(auth.Identity{UserID: 1, Email: "admin@example.com", Role: auth.RoleAdmin})
	require.NoError(t, err)
	return &env{echo: srv.Echo(), store: store, db: db, checkout: co, resolver: resolver, token: token}
}

func (e *env) call(method, path, body string) *httptest.ResponseRecorder {
	return e.callAs(e.token, method, path, body)
}

func (e *env) callAs(token, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/api/v1/admin"+path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.echo.ServeHTTP(rec, req)
	return rec
}

func (e *env) placeOrder(t *testing.T, lines ...checkout.LineRequest) *domain.Order {
	t.Helper()
	o, _, err := e.checkout.PlaceOrder(context.Background(), checkout.PlaceOrderRequest{
		Items:   lines,
		Address: checkout.Address{City: "Gdansk", Street: "Dluga", PostalCode: "80-831", HouseNumber: "5"},
		Email:   "buyer@example.com",
	})
	require.NoError(t, err)
	return o
}

func idPath(prefix string, id int64, suffix string) string {
	return prefix + strconv.FormatInt(id, 10) + suffix
}

type productEnvelope struct {
	Data struct {
		ID        int64  `json:"id"`
		BasePrice string `json:"basePrice"`
		IsDeleted bool   `json:"isDeleted"`
		Variants  []struct {
			ID int64 `json:"id"`
		} `json:"variants"`
	} `json:"data"`
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	e := newEnv(t)

	rec := e.callAs("", http.MethodGet, "/products", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.callAs("not-a-jwt", http.MethodGet, "/products", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	customer, err := e.resolver.Sign(auth.Identity{UserID: 7, Role: auth.RoleCustomer})
	require.NoError(t, err)
	rec = e.callAs(customer, http.MethodGet, "/products", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.call(http.MethodGet, "/products", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProductLifecycle(t *testing.T) {
	e := newEnv(t)
	cat := domain.Category{Name: "Keycaps"}
	require.NoError(t, e.store.CreateCategory(context.Background(), &cat))
	catID := strconv.FormatInt(cat.ID, 10)

	body := `{"name":"GMK Botanical","description":"ABS doubleshot","categoryId":` + catID + `,` +
		`"basePrice":"100","discountPrice":80,"imageUrl":"https://img.example.com/botanical.jpg",` +
		`"variants":[{"name":"Base","stockQuantity":5,"priceModifier":"0"}]}`
	rec := e.call(http.MethodPost, "/products", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created productEnvelope
	require.NoError(t, jsoniter.Unmarshal(rec.Body.Bytes(), &created))
	require.Len(t, created.Data.Variants, 1)
	pid := created.Data.ID
	baseID := created.Data.Variants[0].ID

	update := `{"name":"GMK Botanical R2","categoryId":` + catID + `,"basePrice":"110",` +
		`"variants":[{"id":` + strconv.FormatInt(baseID, 10) + `,"name":"Base","stockQuantity":9,"priceModifier":"0"},` +
		`{"name":"Novelties","stockQuantity":3,"priceModifier":"25.50"}]}`
	rec = e.call(http.MethodPut, idPath("/products/", pid, ""), update)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"updated":[`+strconv.FormatInt(baseID, 10)+`]`)
	assert.Equal(t, 9, repotest.Variant(t, e.db, baseID).StockQuantity)
	assert.Equal(t, int64(2), repotest.Count(t, e.db, &domain.ProductVariant{}))

	rec = e.call(http.MethodPatch, idPath("/products/", pid, "/status"), `{"isDeleted":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, repotest.ProductRow(t, e.db, pid).IsDeleted)

	rec = e.call(http.MethodGet, "/products", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ARCHIVED"`)
	assert.Contains(t, rec.Body.String(), `"totalStock":12`)

	rec = e.call(http.MethodDelete, idPath("/products/", pid, ""), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(0), repotest.Count(t, e.db, &domain.Product{}))
}

func TestProductValidation(t *testing.T) {
	e := newEnv(t)
	p := repotest.SeedProduct(t, e.store, "Oil King", "3.50", "", repotest.VariantSeed{Name: "10 Pack", Stock: 5})
	catID := strconv.FormatInt(p.CategoryID, 10)

	rec := e.call(http.MethodPost, "/products", `{"name":"Bad","categoryId":`+catID+`,"basePrice":"10","discountPrice":"12",`+
		`"variants":[{"name":"x","stockQuantity":1}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"field":"discountPrice"`)

	rec = e.call(http.MethodPost, "/products", `{"name":"Bad","categoryId":`+catID+`,"basePrice":"10","variants":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.call(http.MethodPost, "/products", `{"name":"Bad","categoryId":999,"basePrice":"10",`+
		`"variants":[{"name":"x","stockQuantity":1}]}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.call(http.MethodPut, "/products/999", `{"name":"Ghost","categoryId":`+catID+`,"basePrice":"10",`+
		`"variants":[{"name":"x","stockQuantity":1}]}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	assert.Equal(t, int64(1), repotest.Count(t, e.db, &domain.Product{}))
}

func TestOrderedVariantsAreProtected(t *testing.T) {
	e := newEnv(t)
	p := repotest.SeedProduct(t, e.store, "GMK Olivia", "100", "",
		repotest.VariantSeed{Name: "Base", Stock: 5},
		repotest.VariantSeed{Name: "Spacebars", Stock: 5})
	e.placeOrder(t, checkout.LineRequest{VariantID: p.Variants[0].ID, Quantity: 1})

	keepSecond := `{"name":"GMK Olivia","categoryId":` + strconv.FormatInt(p.CategoryID, 10) + `,"basePrice":"100",` +
		`"variants":[{"id":` + strconv.FormatInt(p.Variants[1].ID, 10) + `,"name":"Spacebars","stockQuantity":7}]}`
	rec := e.call(http.MethodPut, idPath("/products/", p.ID, ""), keepSecond)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "CONSTRAINT_VIOLATION")
	assert.Equal(t, 5, repotest.Variant(t, e.db, p.Variants[1].ID).StockQuantity)
	assert.Equal(t, int64(2), repotest.Count(t, e.db, &domain.ProductVariant{}))

	rec = e.call(http.MethodDelete, idPath("/products/", p.ID, ""), "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = e.call(http.MethodGet, idPath("/products/", p.ID, "/details"), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"totalSold":1`)
	assert.Contains(t, rec.Body.String(), `"totalRevenue":"100`)
}

func TestSetVariantStock(t *testing.T) {
	e := newEnv(t)
	p := repotest.SeedProduct(t, e.store, "Oil King", "3.50", "", repotest.VariantSeed{Name: "10 Pack", Stock: 5})
	vid := p.Variants[0].ID

	rec := e.call(http.MethodPatch, idPath("/variants/", vid, "/stock"), `{"stockQuantity":42}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 42, repotest.Variant(t, e.db, vid).StockQuantity)

	rec = e.call(http.MethodPatch, idPath("/variants/", vid, "/stock"), `{"stockQuantity":-1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = e.call(http.MethodPatch, idPath("/variants/", vid, "/stock"), `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = e.call(http.MethodPatch, "/variants/999/stock", `{"stockQuantity":1}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 42, repotest.Variant(t, e.db, vid).StockQuantity)
}

func TestOrderStatusWorkflow(t *testing.T) {
	e := newEnv(t)
	p := repotest.SeedProduct(t, e.store, "Oil King", "3.50", "", repotest.VariantSeed{Name: "10 Pack", Stock: 5})
	vid := p.Variants[0].ID
	o := e.placeOrder(t, checkout.LineRequest{VariantID: vid, Quantity: 2})
	path := idPath("/orders/", o.ID, "/status")

	rec := e.call(http.MethodPatch, path, `{"status":"shipped"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"status":"SHIPPED"`)

	rec = e.call(http.MethodPatch, path, `{"status":"LOST"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.call(http.MethodPatch, path, `{"status":"CANCELLED"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, repotest.Variant(t, e.db, vid).StockQuantity)

	rec = e.call(http.MethodPatch, path, `{"status":"PAID"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, 5, repotest.Variant(t, e.db, vid).StockQuantity)

	rec = e.call(http.MethodGet, idPath("/orders/", o.ID, ""), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), o.Reference)
}

func TestListOrdersFilters(t *testing.T) {
	e := newEnv(t)
	p := repotest.SeedProduct(t, e.store, "Oil King", "3.50", "", repotest.VariantSeed{Name: "10 Pack", Stock: 10})
	first := e.placeOrder(t, checkout.LineRequest{VariantID: p.Variants[0].ID, Quantity: 1})
	e.placeOrder(t, checkout.LineRequest{VariantID: p.Variants[0].ID, Quantity: 1})
	_, err := e.checkout.UpdateStatus(context.Background(), first.ID, domain.OrderStatusPaid)
	require.NoError(t, err)

	rec := e.call(http.MethodGet, "/orders", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total":2`)

	rec = e.call(http.MethodGet, "/orders?status=paid", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total":1`)
	assert.Contains(t, rec.Body.String(), first.Reference)

	today := time.Now().Format("2006-01-02")
	rec = e.call(http.MethodGet, "/orders?from="+today+"&to="+today, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total":2`)

	rec = e.call(http.MethodGet, "/orders?to=2001-01-01", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total":0`)

	rec = e.call(http.MethodGet, "/orders?from=someday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = e.call(http.MethodGet, "/orders?status=LOST", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExportOrdersCSV(t *testing.T) {
	e := newEnv(t)
	p := repotest.SeedProduct(t, e.store, "GMK Olivia", "100", "80",
		repotest.VariantSeed{Name: "Base", Stock: 5, Modifier: "-10"},
		repotest.VariantSeed{Name: "Spacebars", Stock: 5})
	o := e.placeOrder(t,
		checkout.LineRequest{VariantID: p.Variants[0].ID, Quantity: 2},
		checkout.LineRequest{VariantID: p.Variants[1].ID, Quantity: 1})

	rec := e.call(http.MethodGet, "/orders/export", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderContentType), "text/csv")
	assert.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), "attachment")

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "order_id,reference,order_date,status"))
	assert.Contains(t, lines[1], o.Reference)
	assert.Contains(t, lines[1], "Base,2,70.00,140.00,220.00")
	assert.Contains(t, lines[2], "Spacebars,1,80.00,80.00,220.00")
}
