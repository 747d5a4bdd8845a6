package checkout

import (
	"context"
	"fmt"
	"sort"

	"github.com/talkincode/keyshop/internal/domain"
	"github.com/talkincode/keyshop/internal/repository"
	"github.com/talkincode/keyshop/pkg/metrics"
	"go.uber.org/zap"
)

// UpdateStatus moves an order to status. Any non-terminal order may move to
// any status; moving into CANCELLED or REFUNDED returns the reserved stock
// and makes the order final.
func (s *Service) UpdateStatus(ctx context.Context, orderID int64, status domain.OrderStatus) (*domain.Order, error) {
	parsed, ok := domain.ParseOrderStatus(string(status))
	if !ok {
		return nil, domain.NewValidationError("status", "unknown order status %q", status)
	}
	status = parsed

	var (
		updated *domain.Order
		from    domain.OrderStatus
		changed bool
	)
	err := s.store.WithTransaction(ctx, func(tx repository.Store) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		from = o.Status
		if o.Status == status {
			updated = o
			return nil
		}
		if o.Status.IsTerminal() {
			return domain.NewConstraintViolation("order", orderID,
				fmt.Sprintf("status %s is final", o.Status))
		}
		if status.IsTerminal() {
			if err := restock(ctx, tx, o.Items); err != nil {
				return err
			}
		}
		if err := tx.UpdateOrderStatus(ctx, orderID, status); err != nil {
			return err
		}
		changed = true
		updated, err = tx.GetOrder(ctx, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return updated, nil
	}

	zap.L().Info("order status changed",
		zap.Int64("order_id", orderID),
		zap.String("from", string(from)),
		zap.String("to", string(status)))
	if status.IsTerminal() {
		metrics.Incr(metrics.MetricsOrdersCancelled, metrics.Label("status", string(status)))
	}
	s.events.OrderStatusChanged(orderID, from, status)
	return updated, nil
}

// restock returns the quantities of items to their variants, locking the
// variants in ascending id order like checkout does.
func restock(ctx context.Context, tx repository.Store, items []domain.OrderItem) error {
	qty := make(map[int64]int, len(items))
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		if _, ok := qty[item.VariantID]; !ok {
			ids = append(ids, item.VariantID)
		}
		qty[item.VariantID] += item.Quantity
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	if _, err := tx.LockVariants(ctx, ids); err != nil {
		return err
	}
	for _, id := range ids {
		if err := tx.IncrementStock(ctx, id, qty[id]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) Order(ctx context.Context, id int64) (*domain.Order, error) {
	return s.store.GetOrder(ctx, id)
}

// Orders lists orders newest first.
func (s *Service) Orders(ctx context.Context, filter repository.OrderFilter) ([]domain.Order, int64, error) {
	return s.store.ListOrders(ctx, filter)
}
