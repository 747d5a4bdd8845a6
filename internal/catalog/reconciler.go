package catalog

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/talkincode/keyshop/internal/domain"
	"github.com/talkincode/keyshop/internal/repository"
	"go.uber.org/zap"
)

// VariantInput is one row of the variant set an admin submits. A nil ID
// asks for a new variant.
type VariantInput struct {
	ID            *int64
	Name          string
	StockQuantity int
	PriceModifier decimal.Decimal
}

// ReconcileResult lists the variant ids touched by Reconcile.
type ReconcileResult struct {
	Created []int64 `json:"created"`
	Updated []int64 `json:"updated"`
	Deleted []int64 `json:"deleted"`
}

func validateVariantInputs(desired []VariantInput) error {
	if len(desired) == 0 {
		return domain.NewValidationError("variants", "at least one variant is required")
	}
	seen := make(map[int64]struct{}, len(desired))
	for i, v := range desired {
		if v.Name == "" {
			return domain.NewValidationError(fmt.Sprintf("variants[%d].name", i), "is required")
		}
		if v.StockQuantity < 0 {
			return domain.NewValidationError(fmt.Sprintf("variants[%d].stockQuantity", i), "must not be negative")
		}
		if v.ID == nil {
			continue
		}
		if _, dup := seen[*v.ID]; dup {
			return domain.NewValidationError(fmt.Sprintf("variants[%d].id", i), "variant %d listed twice", *v.ID)
		}
		seen[*v.ID] = struct{}{}
	}
	return nil
}

// Reconcile makes the persisted variants of productID match desired. It
// must run inside the caller's transaction, after the product row is locked:
// a variant that order items still reference is never deleted, and the
// ConstraintViolation it returns is expected to roll back the whole edit.
// Variant rows are locked and written in ascending id order.
func Reconcile(ctx context.Context, tx repository.Store, productID int64, desired []VariantInput) (*ReconcileResult, error) {
	if err := validateVariantInputs(desired); err != nil {
		return nil, err
	}

	current, err := tx.ListVariants(ctx, productID)
	if err != nil {
		return nil, err
	}
	owned := make(map[int64]struct{}, len(current))
	for _, v := range current {
		owned[v.ID] = struct{}{}
	}

	var updates, creates []VariantInput
	keep := make(map[int64]struct{}, len(desired))
	for _, v := range desired {
		if v.ID == nil {
			creates = append(creates, v)
			continue
		}
		if _, ok := owned[*v.ID]; !ok {
			return nil, domain.NewNotFound("variant", *v.ID)
		}
		keep[*v.ID] = struct{}{}
		updates = append(updates, v)
	}

	var toDelete []int64
	for id := range owned {
		if _, ok := keep[id]; !ok {
			toDelete = append(toDelete, id)
		}
	}
	sort.Slice(toDelete, func(i, j int) bool { return toDelete[i] < toDelete[j] })
	sort.Slice(updates, func(i, j int) bool { return *updates[i].ID < *updates[j].ID })

	if len(current) > 0 {
		ids := make([]int64, 0, len(current))
		for _, v := range current {
			ids = append(ids, v.ID)
		}
		if _, err := tx.LockVariants(ctx, ids); err != nil {
			return nil, err
		}
	}

	result := &ReconcileResult{}
	for _, id := range toDelete {
		refs, err := tx.CountOrderItemsForVariants(ctx, []int64{id})
		if err != nil {
			return nil, err
		}
		if refs > 0 {
			zap.L().Info("variant removal refused, still ordered",
				zap.Int64("product_id", productID),
				zap.Int64("variant_id", id),
				zap.Int64("order_items", refs))
			return nil, domain.NewConstraintViolation("variant", id,
				fmt.Sprintf("referenced by %d order items, archive the product instead", refs))
		}
		if err := tx.DeleteVariant(ctx, id); err != nil {
			return nil, err
		}
		result.Deleted = append(result.Deleted, id)
	}

	for _, v := range updates {
		row := &domain.ProductVariant{
			ID:            *v.ID,
			ProductID:     productID,
			Name:          v.Name,
			StockQuantity: v.StockQuantity,
			PriceModifier: v.PriceModifier,
		}
		if err := tx.UpdateVariant(ctx, row); err != nil {
			return nil, err
		}
		result.Updated = append(result.Updated, row.ID)
	}

	for _, v := range creates {
		row := &domain.ProductVariant{
			ProductID:     productID,
			Name:          v.Name,
			StockQuantity: v.StockQuantity,
			PriceModifier: v.PriceModifier,
		}
		if err := tx.CreateVariant(ctx, row); err != nil {
			return nil, err
		}
		result.Created = append(result.Created, row.ID)
	}
	return result, nil
}
