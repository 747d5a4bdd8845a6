// Package checkout turns a cart into an order while reserving stock and
// freezing prices, and runs the admin order status machine.
package checkout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/gommon/random"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/talkincode/keyshop/internal/catalog"
	"github.com/talkincode/keyshop/internal/domain"
	"github.com/talkincode/keyshop/internal/notify"
	"github.com/talkincode/keyshop/internal/repository"
	"github.com/talkincode/keyshop/pkg/common"
	"github.com/talkincode/keyshop/pkg/metrics"
	"go.uber.org/zap"
)

const (
	referenceLength   = 10
	referenceCharset  = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	maxIdempotencyKey = 128
)

var validate = validator.New()

// LineRequest is one cart line.
type LineRequest struct {
	VariantID int64
	Quantity  int
}

// Address is the shipping address; Country may be left empty.
type Address struct {
	Country     string
	City        string
	Street      string
	PostalCode  string
	HouseNumber string
}

// PlaceOrderRequest is a validated-at-entry checkout call. UserID is nil
// for guests.
type PlaceOrderRequest struct {
	UserID         *int64
	Items          []LineRequest
	Address        Address
	Email          string
	IdempotencyKey string
}

// Service places orders and changes their status.
type Service struct {
	store          repository.Store
	events         notify.Events
	defaultCountry string
}

type Option func(*Service)

// WithDefaultCountry sets the country used when the address has none.
func WithDefaultCountry(country string) Option {
	return func(s *Service) { s.defaultCountry = country }
}

func NewService(store repository.Store, events notify.Events, opts ...Option) *Service {
	if events == nil {
		events = notify.Nop
	}
	s := &Service{store: store, events: events, defaultCountry: "Poland"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) normalize(req *PlaceOrderRequest) error {
	if len(req.Items) == 0 {
		return domain.NewValidationError("items", "cart is empty")
	}
	for i, line := range req.Items {
		if line.VariantID <= 0 {
			return domain.NewValidationError(fmt.Sprintf("items[%d].variantId", i), "is required")
		}
		if line.Quantity < 1 {
			return domain.NewValidationError(fmt.Sprintf("items[%d].quantity", i), "must be at least 1")
		}
	}

	a := &req.Address
	a.Country = strings.TrimSpace(a.Country)
	a.City = strings.TrimSpace(a.City)
	a.Street = strings.TrimSpace(a.Street)
	a.PostalCode = strings.TrimSpace(a.PostalCode)
	a.HouseNumber = strings.TrimSpace(a.HouseNumber)
	for _, f := range []struct{ name, value string }{
		{"address.city", a.City},
		{"address.street", a.Street},
		{"address.postalCode", a.PostalCode},
		{"address.houseNumber", a.HouseNumber},
	} {
		if f.value == "" {
			return domain.NewValidationError(f.name, "is required")
		}
	}
	if a.Country == "" {
		a.Country = s.defaultCountry
	}

	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" {
		return domain.NewValidationError("email", "is required")
	}
	if err := validate.Var(req.Email, "email"); err != nil {
		return domain.NewValidationError("email", "is not a valid address")
	}

	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if len(req.IdempotencyKey) > maxIdempotencyKey {
		return domain.NewValidationError("Idempotency-Key", "longer than %d characters", maxIdempotencyKey)
	}
	return nil
}

func distinctVariantIDs(lines []LineRequest) []int64 {
	seen := make(map[int64]struct{}, len(lines))
	ids := make([]int64, 0, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.VariantID]; ok {
			continue
		}
		seen[line.VariantID] = struct{}{}
		ids = append(ids, line.VariantID)
	}
	return ids
}

func newReference() string {
	return "KS" + random.String(referenceLength, referenceCharset)
}

// PlaceOrder reserves stock, freezes prices and persists the order in a
// single transaction. The bool result reports an idempotent replay of an
// order placed earlier with the same key.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*domain.Order, bool, error) {
	if err := s.normalize(&req); err != nil {
		s.recordFailure(err)
		return nil, false, err
	}

	if req.IdempotencyKey != "" {
		prior, err := s.store.FindOrderByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			s.recordFailure(err)
			return nil, false, err
		}
		if prior != nil {
			zap.L().Info("order replayed for idempotency key", zap.Int64("order_id", prior.ID))
			return prior, true, nil
		}
	}

	order := &domain.Order{
		ID:          common.UUIDint64(),
		Reference:   newReference(),
		UserID:      req.UserID,
		Email:       req.Email,
		Country:     req.Address.Country,
		City:        req.Address.City,
		Street:      req.Address.Street,
		PostalCode:  req.Address.PostalCode,
		HouseNumber: req.Address.HouseNumber,
		Status:      domain.OrderStatusPending,
		OrderDate:   time.Now(),
	}
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		order.IdempotencyKey = &key
	}

	err := s.store.WithTransaction(ctx, func(tx repository.Store) error {
		variantIDs := distinctVariantIDs(req.Items)
		productIDs, err := tx.ProductIDsForVariants(ctx, variantIDs)
		if err != nil {
			return err
		}
		if _, err := tx.LockProducts(ctx, productIDs); err != nil {
			return err
		}
		if _, err := tx.LockVariants(ctx, variantIDs); err != nil {
			return err
		}

		total := decimal.Zero
		bought := make(map[int64]int, len(productIDs))
		items := make([]domain.OrderItem, 0, len(req.Items))
		for _, line := range req.Items {
			v, err := tx.GetVariant(ctx, line.VariantID)
			if err != nil {
				return err
			}
			if v.StockQuantity < line.Quantity {
				return &domain.InsufficientStockError{
					VariantID: v.ID,
					Name:      v.Name,
					Available: v.StockQuantity,
					Requested: line.Quantity,
				}
			}

			unitPrice := catalog.EffectivePrice(v.Product, v)
			total = total.Add(unitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))))

			if err := tx.DecrementStock(ctx, v.ID, line.Quantity); err != nil {
				if errors.Is(err, repository.ErrStockGuard) {
					return &domain.InsufficientStockError{
						VariantID: v.ID,
						Name:      v.Name,
						Available: v.StockQuantity,
						Requested: line.Quantity,
					}
				}
				return err
			}
			bought[v.ProductID] += line.Quantity

			items = append(items, domain.OrderItem{
				VariantID:   v.ID,
				ProductName: v.Product.Name,
				VariantName: v.Name,
				Quantity:    line.Quantity,
				UnitPrice:   unitPrice,
			})
		}

		for _, pid := range productIDs {
			if qty := bought[pid]; qty > 0 {
				if err := tx.IncrementBoughtCount(ctx, pid, qty); err != nil {
					return err
				}
			}
		}

		order.Items = items
		order.TotalAmount = total
		return tx.CreateOrder(ctx, order)
	})
	if err != nil {
		if order.IdempotencyKey != nil && errors.Is(err, repository.ErrDuplicateKey) {
			prior, ferr := s.store.FindOrderByIdempotencyKey(ctx, *order.IdempotencyKey)
			if ferr == nil && prior != nil {
				zap.L().Info("concurrent checkout with same idempotency key resolved",
					zap.Int64("order_id", prior.ID))
				return prior, true, nil
			}
		}
		s.recordFailure(err)
		return nil, false, err
	}

	metrics.Incr(metrics.MetricsOrdersPlaced)
	metrics.Record(metrics.MetricsOrderRevenue, order.TotalAmount.InexactFloat64())
	zap.L().Info("order placed",
		zap.Int64("order_id", order.ID),
		zap.String("reference", order.Reference),
		zap.Bool("guest", order.UserID == nil),
		zap.Int("lines", len(order.Items)),
		zap.String("total", order.TotalAmount.StringFixed(2)))
	s.events.OrderPlaced(order)
	return order, false, nil
}

func (s *Service) recordFailure(err error) {
	kind := domain.KindOf(err)
	metrics.Incr(metrics.MetricsCheckoutFailures, metrics.Label("kind", kind.String()))
	if kind == domain.KindUnexpected {
		zap.L().Error("checkout failed", zap.Error(err))
		return
	}
	zap.L().Info("checkout rejected", zap.String("kind", kind.String()), zap.String("reason", err.Error()))
}
