package catalog

import (
	"context"
	"strings"

	"github.com/montanaflynn/stats"
	"github.com/shopspring/decimal"
	"github.com/talkincode/keyshop/internal/domain"
	"github.com/talkincode/keyshop/internal/notify"
	"github.com/talkincode/keyshop/internal/repository"
	"go.uber.org/zap"
)

const (
	StatusActive   = "ACTIVE"
	StatusArchived = "ARCHIVED"
)

// ProductInput is a full product edit as submitted by an admin.
type ProductInput struct {
	Name          string
	Description   string
	CategoryID    int64
	BasePrice     decimal.Decimal
	DiscountPrice decimal.NullDecimal
	ImageURL      string
	Variants      []VariantInput
}

// AdminProduct is one row of the admin product table.
type AdminProduct struct {
	ID            int64               `json:"id"`
	Name          string              `json:"name"`
	BasePrice     decimal.Decimal     `json:"basePrice"`
	DiscountPrice decimal.NullDecimal `json:"discountPrice"`
	Category      *domain.Category    `json:"category"`
	TotalStock    int                 `json:"totalStock"`
	Status        string              `json:"status"`
	BoughtCount   int                 `json:"boughtCount"`
	Image         *string             `json:"image"`
}

// VariantDetails is the per variant part of ProductDetails.
type VariantDetails struct {
	ID             int64           `json:"id"`
	Name           string          `json:"name"`
	PriceModifier  decimal.Decimal `json:"priceModifier"`
	StockQuantity  int             `json:"stockQuantity"`
	EffectivePrice decimal.Decimal `json:"effectivePrice"`
	Sold           int             `json:"sold"`
	Revenue        decimal.Decimal `json:"revenue"`
}

// ProductDetails is the admin sales report for one product. Revenue is
// summed from frozen order item prices, never from current prices.
type ProductDetails struct {
	*domain.Product
	Variants           []VariantDetails `json:"variants"`
	TotalRevenue       decimal.Decimal  `json:"totalRevenue"`
	TotalSold          int              `json:"totalSold"`
	TotalStock         int              `json:"totalStock"`
	OrderLines         int              `json:"orderLines"`
	MeanLineQuantity   float64          `json:"meanLineQuantity"`
	MedianLineQuantity float64          `json:"medianLineQuantity"`
}

// Service implements catalog reads and the admin product workflow.
type Service struct {
	store  repository.Store
	events notify.Events
}

func NewService(store repository.Store, events notify.Events) *Service {
	if events == nil {
		events = notify.Nop
	}
	return &Service{store: store, events: events}
}

func (s *Service) Categories(ctx context.Context) ([]domain.Category, error) {
	return s.store.ListCategories(ctx)
}

// Products lists the public catalog; archived products are never included.
func (s *Service) Products(ctx context.Context, filter repository.ProductFilter) ([]domain.Product, int64, error) {
	filter.IncludeArchived = false
	return s.store.ListProducts(ctx, filter)
}

func (s *Service) Product(ctx context.Context, id int64) (*domain.Product, error) {
	return s.store.GetProduct(ctx, id, false)
}

func normalizeInput(in *ProductInput) error {
	in.Name = strings.TrimSpace(in.Name)
	in.ImageURL = strings.TrimSpace(in.ImageURL)
	if in.Name == "" {
		return domain.NewValidationError("name", "is required")
	}
	if in.CategoryID <= 0 {
		return domain.NewValidationError("categoryId", "is required")
	}
	modifiers := make([]decimal.Decimal, 0, len(in.Variants))
	for i := range in.Variants {
		in.Variants[i].Name = strings.TrimSpace(in.Variants[i].Name)
		modifiers = append(modifiers, in.Variants[i].PriceModifier)
	}
	if err := validateVariantInputs(in.Variants); err != nil {
		return err
	}
	return ValidatePricing(in.BasePrice, in.DiscountPrice, modifiers)
}

// CreateProduct inserts a product with its variants and optional cover image.
func (s *Service) CreateProduct(ctx context.Context, in ProductInput) (*domain.Product, error) {
	if err := normalizeInput(&in); err != nil {
		return nil, err
	}
	p := &domain.Product{
		Name:          in.Name,
		Description:   in.Description,
		CategoryID:    in.CategoryID,
		BasePrice:     in.BasePrice,
		DiscountPrice: in.DiscountPrice,
	}
	for _, v := range in.Variants {
		p.Variants = append(p.Variants, domain.ProductVariant{
			Name:          v.Name,
			StockQuantity: v.StockQuantity,
			PriceModifier: v.PriceModifier,
		})
	}
	if in.ImageURL != "" {
		p.Images = []domain.Image{{URL: in.ImageURL, AltText: in.Name, DisplayOrder: 0}}
	}

	var created *domain.Product
	err := s.store.WithTransaction(ctx, func(tx repository.Store) error {
		if _, err := tx.GetCategory(ctx, in.CategoryID); err != nil {
			return err
		}
		if err := tx.CreateProduct(ctx, p); err != nil {
			return err
		}
		var err error
		created, err = tx.GetProduct(ctx, p.ID, true)
		return err
	})
	if err != nil {
		return nil, err
	}
	zap.L().Info("product created", zap.Int64("product_id", created.ID), zap.String("name", created.Name))
	s.events.CatalogChanged(created.ID)
	return created, nil
}

// UpdateProduct applies field changes, the cover image and the variant set
// in one transaction. Any failure, including a refused variant removal,
// leaves the product exactly as it was.
func (s *Service) UpdateProduct(ctx context.Context, id int64, in ProductInput) (*domain.Product, *ReconcileResult, error) {
	if err := normalizeInput(&in); err != nil {
		return nil, nil, err
	}

	var (
		updated *domain.Product
		result  *ReconcileResult
	)
	err := s.store.WithTransaction(ctx, func(tx repository.Store) error {
		if err := lockProduct(ctx, tx, id); err != nil {
			return err
		}
		if _, err := tx.GetCategory(ctx, in.CategoryID); err != nil {
			return err
		}
		err := tx.UpdateProductFields(ctx, &domain.Product{
			ID:            id,
			Name:          in.Name,
			Description:   in.Description,
			CategoryID:    in.CategoryID,
			BasePrice:     in.BasePrice,
			DiscountPrice: in.DiscountPrice,
		})
		if err != nil {
			return err
		}
		if in.ImageURL != "" {
			if err := tx.UpsertCoverImage(ctx, id, in.ImageURL, in.Name); err != nil {
				return err
			}
		}
		if result, err = Reconcile(ctx, tx, id, in.Variants); err != nil {
			return err
		}
		updated, err = tx.GetProduct(ctx, id, true)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	zap.L().Info("product updated",
		zap.Int64("product_id", id),
		zap.Int64s("variants_created", result.Created),
		zap.Int64s("variants_updated", result.Updated),
		zap.Int64s("variants_deleted", result.Deleted))
	s.events.CatalogChanged(id)
	return updated, result, nil
}

// DeleteProduct hard deletes a product that was never ordered. Products
// with order history must be archived instead.
func (s *Service) DeleteProduct(ctx context.Context, id int64) error {
	err := s.store.WithTransaction(ctx, func(tx repository.Store) error {
		if err := lockProduct(ctx, tx, id); err != nil {
			return err
		}
		p, err := tx.GetProduct(ctx, id, true)
		if err != nil {
			return err
		}
		ids := make([]int64, 0, len(p.Variants))
		for _, v := range p.Variants {
			ids = append(ids, v.ID)
		}
		refs, err := tx.CountOrderItemsForVariants(ctx, ids)
		if err != nil {
			return err
		}
		if refs > 0 {
			return domain.NewConstraintViolation("product", id, "has been ordered, archive it instead")
		}
		return tx.DeleteProduct(ctx, id)
	})
	if err != nil {
		return err
	}
	zap.L().Info("product deleted", zap.Int64("product_id", id))
	s.events.CatalogChanged(id)
	return nil
}

// SetArchived hides or restores a product in the public catalog.
func (s *Service) SetArchived(ctx context.Context, id int64, archived bool) (*domain.Product, error) {
	var p *domain.Product
	err := s.store.WithTransaction(ctx, func(tx repository.Store) error {
		if err := lockProduct(ctx, tx, id); err != nil {
			return err
		}
		if err := tx.SetProductArchived(ctx, id, archived); err != nil {
			return err
		}
		var err error
		p, err = tx.GetProduct(ctx, id, true)
		return err
	})
	if err != nil {
		return nil, err
	}
	zap.L().Info("product archive flag changed", zap.Int64("product_id", id), zap.Bool("archived", archived))
	s.events.CatalogChanged(id)
	return p, nil
}

// lockProduct takes the product row lock every catalog write starts with.
// Variant locks, if any, come after it.
func lockProduct(ctx context.Context, tx repository.Store, id int64) error {
	rows, err := tx.LockProducts(ctx, []int64{id})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return domain.NewNotFound("product", id)
	}
	return nil
}

// SetVariantStock overrides the stock count of one variant. The row lock
// orders it against concurrent checkouts.
func (s *Service) SetVariantStock(ctx context.Context, variantID int64, qty int) (*domain.ProductVariant, error) {
	if qty < 0 {
		return nil, domain.NewValidationError("stockQuantity", "must not be negative")
	}
	var v *domain.ProductVariant
	err := s.store.WithTransaction(ctx, func(tx repository.Store) error {
		rows, err := tx.LockVariants(ctx, []int64{variantID})
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return domain.NewNotFound("variant", variantID)
		}
		if err := tx.SetVariantStock(ctx, variantID, qty); err != nil {
			return err
		}
		v, err = tx.GetVariant(ctx, variantID)
		return err
	})
	if err != nil {
		return nil, err
	}
	zap.L().Info("variant stock set", zap.Int64("variant_id", variantID), zap.Int("stock", qty))
	s.events.CatalogChanged(v.ProductID)
	return v, nil
}

// AdminProducts lists archived and active products with stock totals.
func (s *Service) AdminProducts(ctx context.Context, filter repository.ProductFilter) ([]AdminProduct, int64, error) {
	filter.IncludeArchived = true
	if filter.Sort == "" {
		filter.Sort = "created_at"
	}
	rows, total, err := s.store.ListProducts(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	out := make([]AdminProduct, 0, len(rows))
	for i := range rows {
		p := &rows[i]
		item := AdminProduct{
			ID:            p.ID,
			Name:          p.Name,
			BasePrice:     p.BasePrice,
			DiscountPrice: p.DiscountPrice,
			Category:      p.Category,
			Status:        StatusActive,
			BoughtCount:   p.BoughtCount,
		}
		if p.IsDeleted {
			item.Status = StatusArchived
		}
		for _, v := range p.Variants {
			item.TotalStock += v.StockQuantity
		}
		if len(p.Images) > 0 {
			url := p.Images[0].URL
			item.Image = &url
		}
		out = append(out, item)
	}
	return out, total, nil
}

// Details builds the admin sales report for a product, archived or not.
func (s *Service) Details(ctx context.Context, id int64) (*ProductDetails, error) {
	p, err := s.store.GetProduct(ctx, id, true)
	if err != nil {
		return nil, err
	}
	items, err := s.store.ListOrderItemsForProduct(ctx, id)
	if err != nil {
		return nil, err
	}

	type tally struct {
		sold    int
		revenue decimal.Decimal
	}
	perVariant := make(map[int64]*tally, len(p.Variants))
	quantities := make(stats.Float64Data, 0, len(items))
	d := &ProductDetails{Product: p, TotalRevenue: decimal.Zero}
	for _, item := range items {
		t := perVariant[item.VariantID]
		if t == nil {
			t = &tally{revenue: decimal.Zero}
			perVariant[item.VariantID] = t
		}
		t.sold += item.Quantity
		t.revenue = t.revenue.Add(item.LineTotal())
		d.TotalSold += item.Quantity
		d.TotalRevenue = d.TotalRevenue.Add(item.LineTotal())
		quantities = append(quantities, float64(item.Quantity))
	}
	d.OrderLines = len(items)
	if len(quantities) > 0 {
		if d.MeanLineQuantity, err = quantities.Mean(); err != nil {
			return nil, err
		}
		if d.MedianLineQuantity, err = quantities.Median(); err != nil {
			return nil, err
		}
	}

	for i := range p.Variants {
		v := &p.Variants[i]
		d.TotalStock += v.StockQuantity
		vd := VariantDetails{
			ID:             v.ID,
			Name:           v.Name,
			PriceModifier:  v.PriceModifier,
			StockQuantity:  v.StockQuantity,
			EffectivePrice: EffectivePrice(p, v),
			Revenue:        decimal.Zero,
		}
		if t := perVariant[v.ID]; t != nil {
			vd.Sold = t.sold
			vd.Revenue = t.revenue
		}
		d.Variants = append(d.Variants, vd)
	}
	return d, nil
}
