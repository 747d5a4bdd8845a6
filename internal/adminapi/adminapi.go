// Package adminapi serves the back office: product maintenance, stock
// corrections, order review and the sales report. Every route is mounted on
// the admin group, so callers are already authenticated as ADMIN.
package adminapi

import (
	"context"

	"github.com/talkincode/keyshop/internal/catalog"
	"github.com/talkincode/keyshop/internal/domain"
	"github.com/talkincode/keyshop/internal/repository"
	"github.com/talkincode/keyshop/internal/webserver"
)

// ProductAdmin is the admin side of the catalog.
type ProductAdmin interface {
	AdminProducts(ctx context.Context, filter repository.ProductFilter) ([]catalog.AdminProduct, int64, error)
	CreateProduct(ctx context.Context, in catalog.ProductInput) (*domain.Product, error)
	UpdateProduct(ctx context.Context, id int64, in catalog.ProductInput) (*domain.Product, *catalog.ReconcileResult, error)
	DeleteProduct(ctx context.Context, id int64) error
	SetArchived(ctx context.Context, id int64, archived bool) (*domain.Product, error)
	SetVariantStock(ctx context.Context, variantID int64, qty int) (*domain.ProductVariant, error)
	Details(ctx context.Context, id int64) (*catalog.ProductDetails, error)
}

// OrderAdmin is the admin side of checkout.
type OrderAdmin interface {
	Order(ctx context.Context, id int64) (*domain.Order, error)
	Orders(ctx context.Context, filter repository.OrderFilter) ([]domain.Order, int64, error)
	UpdateStatus(ctx context.Context, orderID int64, status domain.OrderStatus) (*domain.Order, error)
}

// Register mounts the admin routes on srv.
func Register(srv *webserver.Server, products ProductAdmin, orders OrderAdmin) {
	registerProductRoutes(srv, &productHandlers{svc: products})
	registerOrderRoutes(srv, &orderHandlers{svc: orders})
}
