package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talkincode/keyshop/internal/catalog"
	"github.com/talkincode/keyshop/internal/domain"
	"github.com/talkincode/keyshop/internal/repository"
	"github.com/talkincode/keyshop/internal/repository/repotest"
	"github.com/talkincode/keyshop/pkg/metrics"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

type recordingEvents struct {
	mu      sync.Mutex
	placed  []int64
	changes []domain.OrderStatus
}

func (r *recordingEvents) OrderPlaced(o *domain.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.placed = append(r.placed, o.ID)
}

func (r *recordingEvents) OrderStatusChanged(_ int64, _, to domain.OrderStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, to)
}

func (r *recordingEvents) CatalogChanged(int64) {}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestService(t *testing.T) (*Service, repository.Store, *gorm.DB, *recordingEvents) {
	store, db := repotest.NewStore(t)
	events := &recordingEvents{}
	return NewService(store, events, WithDefaultCountry("Poland")), store, db, events
}

func address() Address {
	return Address{City: "Krakow", Street: "Florianska", PostalCode: "31-019", HouseNumber: "1"}
}

func request(lines ...LineRequest) PlaceOrderRequest {
	return PlaceOrderRequest{Items: lines, Address: address(), Email: "buyer@example.com"}
}

func TestPlaceOrderFreezesEffectivePrice(t *testing.T) {
	svc, store, db, events := newTestService(t)
	ctx := context.Background()
	p := repotest.SeedProduct(t, store, "GMK Olivia", "100", "80", repotest.VariantSeed{Name: "Base", Stock: 10, Modifier: "-10"})
	vid := p.Variants[0].ID

	order, replayed, err := svc.PlaceOrder(ctx, request(LineRequest{VariantID: vid, Quantity: 2}))
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Nil(t, order.UserID)
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.Equal(t, "Poland", order.Country)
	assert.NotEmpty(t, order.Reference)
	require.Len(t, order.Items, 1)
	assert.True(t, dec("70").Equal(order.Items[0].UnitPrice))
	assert.True(t, dec("140").Equal(order.TotalAmount))
	assert.Equal(t, "GMK Olivia", order.Items[0].ProductName)

	assert.Equal(t, 8, repotest.Variant(t, db, vid).StockQuantity)
	assert.Equal(t, 2, repotest.ProductRow(t, db, p.ID).BoughtCount)
	assert.Equal(t, []int64{order.ID}, events.placed)

	stored, err := store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, dec("140").Equal(stored.TotalAmount))
	assert.True(t, stored.TotalAmount.Equal(stored.ItemsTotal()))
}

func TestPlaceOrderWithUser(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	p := repotest.SeedProduct(t, store, "Oil King", "3.50", "", repotest.VariantSeed{Name: "10 Pack", Stock: 10})
	uid := int64(77)

	req := request(LineRequest{VariantID: p.Variants[0].ID, Quantity: 1})
	req.UserID = &uid
	req.Address.Country = "Germany"
	order, _, err := svc.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, order.UserID)
	assert.Equal(t, uid, *order.UserID)
	assert.Equal(t, "Germany", order.Country)
}

func TestPlaceOrderTotalsAreExact(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	a := repotest.SeedProduct(t, store, "Spring", "0.10", "", repotest.VariantSeed{Name: "single", Stock: 100})
	b := repotest.SeedProduct(t, store, "Stabilizer", "0.20", "", repotest.VariantSeed{Name: "single", Stock: 100})

	order, _, err := svc.PlaceOrder(context.Background(), request(
		LineRequest{VariantID: a.Variants[0].ID, Quantity: 3},
		LineRequest{VariantID: b.Variants[0].ID, Quantity: 1},
	))
	require.NoError(t, err)
	assert.Equal(t, "0.50", order.TotalAmount.StringFixed(2))
	assert.True(t, dec("0.5").Equal(order.TotalAmount))
}

func TestPlaceOrderIsAtomic(t *testing.T) {
	svc, store, db, events := newTestService(t)
	ctx := context.Background()
	a := repotest.SeedProduct(t, store, "A", "10", "", repotest.VariantSeed{Name: "a", Stock: 5})
	b := repotest.SeedProduct(t, store, "B", "10", "", repotest.VariantSeed{Name: "b", Stock: 1})

	_, _, err := svc.PlaceOrder(ctx, request(
		LineRequest{VariantID: a.Variants[0].ID, Quantity: 2},
		LineRequest{VariantID: b.Variants[0].ID, Quantity: 3},
	))
	require.Error(t, err)
	assert.Equal(t, domain.KindInsufficientStock, domain.KindOf(err))
	var stockErr *domain.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, b.Variants[0].ID, stockErr.VariantID)
	assert.Equal(t, 1, stockErr.Available)
	assert.Equal(t, 3, stockErr.Requested)

	_, _, err = svc.PlaceOrder(ctx, request(
		LineRequest{VariantID: a.Variants[0].ID, Quantity: 2},
		LineRequest{VariantID: 9999, Quantity: 1},
	))
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))

	assert.Equal(t, 5, repotest.Variant(t, db, a.Variants[0].ID).StockQuantity)
	assert.Equal(t, 0, repotest.ProductRow(t, db, a.ID).BoughtCount)
	assert.Equal(t, int64(0), repotest.Count(t, db, &domain.Order{}))
	assert.Equal(t, int64(0), repotest.Count(t, db, &domain.OrderItem{}))
	assert.Empty(t, events.placed)
}

func TestDuplicateLinesAreCheckedCumulatively(t *testing.T) {
	svc, store, db, _ := newTestService(t)
	p := repotest.SeedProduct(t, store, "A", "10", "", repotest.VariantSeed{Name: "a", Stock: 3})
	vid := p.Variants[0].ID

	_, _, err := svc.PlaceOrder(context.Background(), request(
		LineRequest{VariantID: vid, Quantity: 2},
		LineRequest{VariantID: vid, Quantity: 2},
	))
	var stockErr *domain.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 1, stockErr.Available)
	assert.Equal(t, 3, repotest.Variant(t, db, vid).StockQuantity)
}

func TestPlaceOrderValidation(t *testing.T) {
	svc, store, db, _ := newTestService(t)
	p := repotest.SeedProduct(t, store, "A", "10", "", repotest.VariantSeed{Name: "a", Stock: 3})
	line := LineRequest{VariantID: p.Variants[0].ID, Quantity: 1}

	noCity := request(line)
	noCity.Address.City = "  "
	badEmail := request(line)
	badEmail.Email = "not-an-email"
	noEmail := request(line)
	noEmail.Email = ""

	cases := map[string]PlaceOrderRequest{
		"empty cart":    request(),
		"zero quantity": request(LineRequest{VariantID: line.VariantID, Quantity: 0}),
		"no variant":    request(LineRequest{Quantity: 1}),
		"no city":       noCity,
		"bad email":     badEmail,
		"no email":      noEmail,
	}
	for name, req := range cases {
		_, _, err := svc.PlaceOrder(context.Background(), req)
		assert.Equal(t, domain.KindValidation, domain.KindOf(err), name)
	}
	assert.Equal(t, 3, repotest.Variant(t, db, line.VariantID).StockQuantity)
}

func TestConcurrentCheckoutNeverOversells(t *testing.T) {
	svc, store, db, _ := newTestService(t)
	p := repotest.SeedProduct(t, store, "Limited", "50", "", repotest.VariantSeed{Name: "run 1", Stock: 5})
	vid := p.Variants[0].ID

	var ok, short int32
	var g errgroup.Group
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			_, _, err := svc.PlaceOrder(context.Background(), request(LineRequest{VariantID: vid, Quantity: 1}))
			switch {
			case err == nil:
				atomic.AddInt32(&ok, 1)
			case domain.KindOf(err) == domain.KindInsufficientStock:
				atomic.AddInt32(&short, 1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(5), ok)
	assert.Equal(t, int32(15), short)
	assert.Equal(t, 0, repotest.Variant(t, db, vid).StockQuantity)
	assert.Equal(t, 5, repotest.ProductRow(t, db, p.ID).BoughtCount)
}

func TestTwoBuyersRaceForLastUnits(t *testing.T) {
	svc, store, db, _ := newTestService(t)
	p := repotest.SeedProduct(t, store, "GB Keyboard", "300", "", repotest.VariantSeed{Name: "E-White", Stock: 3})
	vid := p.Variants[0].ID

	errs := make([]error, 2)
	var g errgroup.Group
	for i := range errs {
		i := i
		g.Go(func() error {
			_, _, errs[i] = svc.PlaceOrder(context.Background(), request(LineRequest{VariantID: vid, Quantity: 2}))
			return nil
		})
	}
	require.NoError(t, g.Wait())

	var failed error
	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			failed = err
		}
	}
	assert.Equal(t, 1, succeeded)
	var stockErr *domain.InsufficientStockError
	require.ErrorAs(t, failed, &stockErr)
	assert.Equal(t, 2, stockErr.Requested)
	assert.Contains(t, []int{1, 3}, stockErr.Available)
	assert.Equal(t, 1, repotest.Variant(t, db, vid).StockQuantity)
}

func TestPriceEditsDoNotTouchPlacedOrders(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()
	p := repotest.SeedProduct(t, store, "GMK Olivia", "100", "80", repotest.VariantSeed{Name: "Base", Stock: 10, Modifier: "-10"})
	vid := p.Variants[0].ID

	order, _, err := svc.PlaceOrder(ctx, request(LineRequest{VariantID: vid, Quantity: 2}))
	require.NoError(t, err)

	cat := catalog.NewService(store, nil)
	_, _, err = cat.UpdateProduct(ctx, p.ID, catalog.ProductInput{
		Name:       "GMK Olivia R2",
		CategoryID: p.CategoryID,
		BasePrice:  dec("150"),
		Variants:   []catalog.VariantInput{{ID: &vid, Name: "Base", StockQuantity: 8, PriceModifier: dec("25")}},
	})
	require.NoError(t, err)

	stored, err := store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, dec("140").Equal(stored.TotalAmount))
	assert.True(t, dec("70").Equal(stored.Items[0].UnitPrice))

	next, _, err := svc.PlaceOrder(ctx, request(LineRequest{VariantID: vid, Quantity: 1}))
	require.NoError(t, err)
	assert.True(t, dec("175").Equal(next.TotalAmount))
}

func TestIdempotentReplay(t *testing.T) {
	svc, store, db, events := newTestService(t)
	ctx := context.Background()
	p := repotest.SeedProduct(t, store, "A", "10", "", repotest.VariantSeed{Name: "a", Stock: 5})
	vid := p.Variants[0].ID

	req := request(LineRequest{VariantID: vid, Quantity: 2})
	req.IdempotencyKey = "cart-9f2c"
	first, replayed, err := svc.PlaceOrder(ctx, req)
	require.NoError(t, err)
	assert.False(t, replayed)

	second, replayed, err := svc.PlaceOrder(ctx, req)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 3, repotest.Variant(t, db, vid).StockQuantity)
	assert.Len(t, events.placed, 1)
}

func TestCheckoutLocksInGlobalOrder(t *testing.T) {
	store, db := repotest.NewStore(t)
	rec := repotest.NewRecorder(store)
	svc := NewService(rec, nil, WithDefaultCountry("Poland"))
	ctx := context.Background()

	p := repotest.SeedProduct(t, store, "Gateron Oil King", "1", "",
		repotest.VariantSeed{Name: "p1", Stock: 10}, repotest.VariantSeed{Name: "p2", Stock: 10})
	q := repotest.SeedProduct(t, store, "Keychron Q1", "2", "",
		repotest.VariantSeed{Name: "q1", Stock: 10}, repotest.VariantSeed{Name: "q2", Stock: 10})
	p1, p2 := p.Variants[0].ID, p.Variants[1].ID
	q1, q2 := q.Variants[0].ID, q.Variants[1].ID
	require.Less(t, p.ID, q.ID)

	_, _, err := svc.PlaceOrder(ctx, request(
		LineRequest{VariantID: q1, Quantity: 1},
		LineRequest{VariantID: p1, Quantity: 2},
		LineRequest{VariantID: q1, Quantity: 3},
	))
	require.NoError(t, err)
	assert.Equal(t, []string{
		fmt.Sprintf("lock products [%d %d]", p.ID, q.ID),
		fmt.Sprintf("lock variants [%d %d]", p1, q1),
		fmt.Sprintf("bought product %d +2", p.ID),
		fmt.Sprintf("bought product %d +4", q.ID),
	}, rec.Calls())

	_, _, err = svc.PlaceOrder(ctx, request(
		LineRequest{VariantID: p2, Quantity: 1},
		LineRequest{VariantID: q2, Quantity: 1},
	))
	require.NoError(t, err)
	assert.Equal(t, []string{
		fmt.Sprintf("lock products [%d %d]", p.ID, q.ID),
		fmt.Sprintf("lock variants [%d %d]", p2, q2),
		fmt.Sprintf("bought product %d +1", p.ID),
		fmt.Sprintf("bought product %d +1", q.ID),
	}, rec.Calls())

	assert.Equal(t, 3, repotest.ProductRow(t, db, p.ID).BoughtCount)
	assert.Equal(t, 5, repotest.ProductRow(t, db, q.ID).BoughtCount)
}

type brokenKeyLookup struct {
	repository.Store
}

func (brokenKeyLookup) FindOrderByIdempotencyKey(context.Context, string) (*domain.Order, error) {
	return nil, errors.New("connection reset")
}

func TestIdempotencyLookupFailureIsCounted(t *testing.T) {
	require.NoError(t, metrics.InitMetrics(""))
	defer metrics.Close()

	store, _ := repotest.NewStore(t)
	svc := NewService(brokenKeyLookup{Store: store}, nil, WithDefaultCountry("Poland"))
	p := repotest.SeedProduct(t, store, "A", "10", "", repotest.VariantSeed{Name: "a", Stock: 5})

	req := request(LineRequest{VariantID: p.Variants[0].ID, Quantity: 1})
	req.IdempotencyKey = "cart-77"
	_, _, err := svc.PlaceOrder(context.Background(), req)
	require.EqualError(t, err, "connection reset")

	now := time.Now()
	failures, err := metrics.Sum(metrics.MetricsCheckoutFailures, now.Add(-time.Minute), now.Add(time.Minute),
		metrics.Label("kind", domain.KindUnexpected.String()))
	require.NoError(t, err)
	assert.Equal(t, float64(1), failures)
}
