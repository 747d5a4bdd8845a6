package repository

import (
	"context"
	"time"

	"github.com/talkincode/keyshop/internal/domain"
)

// ProductFilter narrows ListProducts.
type ProductFilter struct {
	Query           string
	CategoryID      int64
	IncludeArchived bool
	Sort            string // id | name | base_price | bought_count | created_at
	Order           string // ASC | DESC
	Page            int
	PageSize        int
}

// OrderFilter narrows ListOrders.
type OrderFilter struct {
	Status   domain.OrderStatus
	UserID   *int64
	From     *time.Time
	To       *time.Time
	Page     int
	PageSize int
}

// CatalogRepository handles categories, products, variants and images.
type CatalogRepository interface {
	ListCategories(ctx context.Context) ([]domain.Category, error)
	GetCategory(ctx context.Context, id int64) (*domain.Category, error)
	CreateCategory(ctx context.Context, c *domain.Category) error

	// ListProducts returns products with category, variants and images loaded.
	ListProducts(ctx context.Context, filter ProductFilter) ([]domain.Product, int64, error)
	// GetProduct loads a product with its relations. Archived products are
	// reported as not found unless includeArchived is set.
	GetProduct(ctx context.Context, id int64, includeArchived bool) (*domain.Product, error)
	// CreateProduct inserts the product together with its variants and images.
	CreateProduct(ctx context.Context, p *domain.Product) error
	// UpdateProductFields writes the scalar product columns only.
	UpdateProductFields(ctx context.Context, p *domain.Product) error
	SetProductArchived(ctx context.Context, id int64, archived bool) error
	// DeleteProduct removes images, variants and the product row.
	DeleteProduct(ctx context.Context, id int64) error
	// LockProducts takes row locks on the given products in ascending id
	// order. Transactions lock products before variants.
	LockProducts(ctx context.Context, ids []int64) ([]domain.Product, error)
	IncrementBoughtCount(ctx context.Context, productID int64, qty int) error

	// UpsertCoverImage points the first image of the product at url, creating it if needed.
	UpsertCoverImage(ctx context.Context, productID int64, url, altText string) error

	ListVariants(ctx context.Context, productID int64) ([]domain.ProductVariant, error)
	// GetVariant loads a variant with its owning product.
	GetVariant(ctx context.Context, id int64) (*domain.ProductVariant, error)
	// LockVariants takes row locks on the given variants in ascending id
	// order and returns the rows found. Missing ids are simply absent.
	LockVariants(ctx context.Context, ids []int64) ([]domain.ProductVariant, error)
	// ProductIDsForVariants returns the distinct owning product ids, ascending.
	ProductIDsForVariants(ctx context.Context, variantIDs []int64) ([]int64, error)
	CreateVariant(ctx context.Context, v *domain.ProductVariant) error
	// UpdateVariant writes name, stock and price modifier.
	UpdateVariant(ctx context.Context, v *domain.ProductVariant) error
	DeleteVariant(ctx context.Context, id int64) error
	SetVariantStock(ctx context.Context, id int64, qty int) error
	// DecrementStock subtracts qty only when enough stock is left and
	// returns ErrStockGuard otherwise.
	DecrementStock(ctx context.Context, variantID int64, qty int) error
	IncrementStock(ctx context.Context, variantID int64, qty int) error
	// ListLowStockVariants returns variants of active products holding at
	// most threshold units, emptiest first.
	ListLowStockVariants(ctx context.Context, threshold int) ([]domain.ProductVariant, error)
}

// OrderRepository handles orders and their items.
type OrderRepository interface {
	// CreateOrder inserts the order and all of its items.
	CreateOrder(ctx context.Context, o *domain.Order) error
	GetOrder(ctx context.Context, id int64) (*domain.Order, error)
	// LockOrder loads the order and its items, locking the order row.
	LockOrder(ctx context.Context, id int64) (*domain.Order, error)
	FindOrderByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error)
	UpdateOrderStatus(ctx context.Context, id int64, status domain.OrderStatus) error
	ListOrders(ctx context.Context, filter OrderFilter) ([]domain.Order, int64, error)
	CountOrderItemsForVariants(ctx context.Context, variantIDs []int64) (int64, error)
	ListOrderItemsForProduct(ctx context.Context, productID int64) ([]domain.OrderItem, error)
}

// Store is the catalog store: every repository plus a unit of work.
type Store interface {
	CatalogRepository
	OrderRepository

	// WithTransaction runs fn against a transactional Store. A returned
	// error or panic rolls back every write made through tx.
	WithTransaction(ctx context.Context, fn func(tx Store) error) error
}
