package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"github.com/talkincode/keyshop/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrStockGuard means a guarded decrement found less stock than requested.
	ErrStockGuard = errors.New("stock guard rejected decrement")
	// ErrDuplicateKey is a unique index violation.
	ErrDuplicateKey = errors.New("duplicate key")
)

const (
	pgLockNotAvailable  = "55P03"
	pgDeadlockDetected  = "40P01"
	defaultListPageSize = 20
	maxListPageSize     = 500
)

// GormStore is the GORM implementation of Store
type GormStore struct {
	db          *gorm.DB
	lockTimeout time.Duration
	inTx        bool
}

var _ Store = (*GormStore)(nil)

type Option func(*GormStore)

// WithLockTimeout bounds how long a transaction waits for variant row locks.
func WithLockTimeout(d time.Duration) Option {
	return func(s *GormStore) { s.lockTimeout = d }
}

// NewGormStore creates a new GORM-based store
func NewGormStore(db *gorm.DB, opts ...Option) *GormStore {
	s := &GormStore{db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *GormStore) WithTransaction(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		return fn(s)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx, lockTimeout: s.lockTimeout, inTx: true})
	})
}

func (s *GormStore) isPostgres() bool {
	return strings.EqualFold(s.db.Dialector.Name(), "postgres")
}

// wrap translates driver level failures into the package sentinels.
func (s *GormStore) wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return errors.Wrap(ErrDuplicateKey, msg)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == pgLockNotAvailable || pgErr.Code == pgDeadlockDetected) {
		return errors.Wrap(domain.ErrLockTimeout, msg)
	}
	if strings.Contains(err.Error(), "database is locked") {
		return errors.Wrap(domain.ErrLockTimeout, msg)
	}
	return errors.Wrap(err, msg)
}

func (s *GormStore) notFound(err error, entity string, id int64) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.NewNotFound(entity, id)
	}
	return s.wrap(err, fmt.Sprintf("query %s %d", entity, id))
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultListPageSize
	}
	if pageSize > maxListPageSize {
		pageSize = maxListPageSize
	}
	return page, pageSize
}

// Categories

func (s *GormStore) ListCategories(ctx context.Context) ([]domain.Category, error) {
	var rows []domain.Category
	err := s.db.WithContext(ctx).Order("name ASC").Find(&rows).Error
	return rows, s.wrap(err, "list categories")
}

func (s *GormStore) GetCategory(ctx context.Context, id int64) (*domain.Category, error) {
	var c domain.Category
	if err := s.db.WithContext(ctx).First(&c, id).Error; err != nil {
		return nil, s.notFound(err, "category", id)
	}
	return &c, nil
}

func (s *GormStore) CreateCategory(ctx context.Context, c *domain.Category) error {
	return s.wrap(s.db.WithContext(ctx).Create(c).Error, "create category")
}

// Products

func (s *GormStore) withProductRelations(db *gorm.DB) *gorm.DB {
	return db.Preload("Category").
		Preload("Variants", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Preload("Images", func(db *gorm.DB) *gorm.DB { return db.Order("display_order ASC, id ASC") })
}

func (s *GormStore) ListProducts(ctx context.Context, filter ProductFilter) ([]domain.Product, int64, error) {
	page, pageSize := normalizePage(filter.Page, filter.PageSize)

	db := s.db.WithContext(ctx).Model(&domain.Product{})
	if !filter.IncludeArchived {
		db = db.Where("is_deleted = ?", false)
	}
	if filter.CategoryID > 0 {
		db = db.Where("category_id = ?", filter.CategoryID)
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		if s.isPostgres() {
			db = db.Where("name ILIKE ?", "%"+q+"%")
		} else {
			db = db.Where("LOWER(name) LIKE ?", "%"+strings.ToLower(q)+"%")
		}
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, s.wrap(err, "count products")
	}

	// whitelist allowed sort columns to avoid SQL injection
	allowed := map[string]string{
		"id":           "id",
		"name":         "name",
		"base_price":   "base_price",
		"bought_count": "bought_count",
		"created_at":   "created_at",
	}
	sortCol, ok := allowed[filter.Sort]
	if !ok {
		sortCol = "id"
	}
	order := strings.ToUpper(strings.TrimSpace(filter.Order))
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}

	var rows []domain.Product
	err := s.withProductRelations(db).
		Order(sortCol + " " + order).
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&rows).Error
	if err != nil {
		return nil, 0, s.wrap(err, "list products")
	}
	return rows, total, nil
}

func (s *GormStore) GetProduct(ctx context.Context, id int64, includeArchived bool) (*domain.Product, error) {
	db := s.withProductRelations(s.db.WithContext(ctx))
	if !includeArchived {
		db = db.Where("is_deleted = ?", false)
	}
	var p domain.Product
	if err := db.Where("id = ?", id).First(&p).Error; err != nil {
		return nil, s.notFound(err, "product", id)
	}
	return &p, nil
}

func (s *GormStore) CreateProduct(ctx context.Context, p *domain.Product) error {
	return s.wrap(s.db.WithContext(ctx).Omit("Category").Create(p).Error, "create product")
}

func (s *GormStore) UpdateProductFields(ctx context.Context, p *domain.Product) error {
	res := s.db.WithContext(ctx).Model(&domain.Product{}).Where("id = ?", p.ID).Updates(map[string]interface{}{
		"name":           p.Name,
		"description":    p.Description,
		"category_id":    p.CategoryID,
		"base_price":     p.BasePrice,
		"discount_price": p.DiscountPrice,
		"updated_at":     time.Now(),
	})
	if res.Error != nil {
		return s.wrap(res.Error, "update product")
	}
	if res.RowsAffected == 0 {
		return domain.NewNotFound("product", p.ID)
	}
	return nil
}

func (s *GormStore) SetProductArchived(ctx context.Context, id int64, archived bool) error {
	res := s.db.WithContext(ctx).Model(&domain.Product{}).Where("id = ?", id).Updates(map[string]interface{}{
		"is_deleted": archived,
		"updated_at": time.Now(),
	})
	if res.Error != nil {
		return s.wrap(res.Error, "archive product")
	}
	if res.RowsAffected == 0 {
		return domain.NewNotFound("product", id)
	}
	return nil
}

func (s *GormStore) DeleteProduct(ctx context.Context, id int64) error {
	db := s.db.WithContext(ctx)
	if err := db.Where("product_id = ?", id).Delete(&domain.Image{}).Error; err != nil {
		return s.wrap(err, "delete product images")
	}
	if err := db.Where("product_id = ?", id).Delete(&domain.ProductVariant{}).Error; err != nil {
		return s.wrap(err, "delete product variants")
	}
	res := db.Where("id = ?", id).Delete(&domain.Product{})
	if res.Error != nil {
		return s.wrap(res.Error, "delete product")
	}
	if res.RowsAffected == 0 {
		return domain.NewNotFound("product", id)
	}
	return nil
}

func (s *GormStore) LockProducts(ctx context.Context, ids []int64) ([]domain.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	db, err := s.lockingDB(ctx)
	if err != nil {
		return nil, err
	}
	var rows []domain.Product
	err = db.Where("id IN ?", sortedIDs(ids)).Order("id ASC").Find(&rows).Error
	return rows, s.wrap(err, "lock products")
}

func (s *GormStore) IncrementBoughtCount(ctx context.Context, productID int64, qty int) error {
	res := s.db.WithContext(ctx).Model(&domain.Product{}).
		Where("id = ?", productID).
		Update("bought_count", gorm.Expr("bought_count + ?", qty))
	if res.Error != nil {
		return s.wrap(res.Error, "increment bought count")
	}
	if res.RowsAffected == 0 {
		return domain.NewNotFound("product", productID)
	}
	return nil
}

func (s *GormStore) UpsertCoverImage(ctx context.Context, productID int64, url, altText string) error {
	db := s.db.WithContext(ctx)
	var img domain.Image
	err := db.Where("product_id = ?", productID).Order("display_order ASC, id ASC").First(&img).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return s.wrap(db.Create(&domain.Image{
			ProductID:    productID,
			URL:          url,
			AltText:      altText,
			DisplayOrder: 0,
		}).Error, "create cover image")
	case err != nil:
		return s.wrap(err, "query cover image")
	}
	return s.wrap(db.Model(&domain.Image{}).Where("id = ?", img.ID).Update("url", url).Error, "update cover image")
}

// Variants

func (s *GormStore) ListVariants(ctx context.Context, productID int64) ([]domain.ProductVariant, error) {
	var rows []domain.ProductVariant
	err := s.db.WithContext(ctx).Where("product_id = ?", productID).Order("id ASC").Find(&rows).Error
	return rows, s.wrap(err, "list variants")
}

func (s *GormStore) GetVariant(ctx context.Context, id int64) (*domain.ProductVariant, error) {
	var v domain.ProductVariant
	if err := s.db.WithContext(ctx).Preload("Product").First(&v, id).Error; err != nil {
		return nil, s.notFound(err, "variant", id)
	}
	return &v, nil
}

func (s *GormStore) LockVariants(ctx context.Context, ids []int64) ([]domain.ProductVariant, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	db, err := s.lockingDB(ctx)
	if err != nil {
		return nil, err
	}
	var rows []domain.ProductVariant
	err = db.Where("id IN ?", sortedIDs(ids)).Order("id ASC").Find(&rows).Error
	return rows, s.wrap(err, "lock variants")
}

// lockingDB returns a query builder that takes row locks on postgres,
// bounded by the store's lock timeout. SQLite serializes writers instead.
func (s *GormStore) lockingDB(ctx context.Context) (*gorm.DB, error) {
	db := s.db.WithContext(ctx)
	if !s.isPostgres() {
		return db, nil
	}
	if s.inTx && s.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
		if err := db.Exec(stmt).Error; err != nil {
			return nil, s.wrap(err, "set lock timeout")
		}
	}
	return db.Clauses(clause.Locking{Strength: "UPDATE"}), nil
}

func sortedIDs(ids []int64) []int64 {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted
}

func (s *GormStore) ProductIDsForVariants(ctx context.Context, variantIDs []int64) ([]int64, error) {
	if len(variantIDs) == 0 {
		return nil, nil
	}
	var ids []int64
	err := s.db.WithContext(ctx).Model(&domain.ProductVariant{}).
		Distinct("product_id").
		Where("id IN ?", variantIDs).
		Order("product_id ASC").
		Pluck("product_id", &ids).Error
	return ids, s.wrap(err, "list variant products")
}

func (s *GormStore) CreateVariant(ctx context.Context, v *domain.ProductVariant) error {
	return s.wrap(s.db.WithContext(ctx).Omit("Product").Create(v).Error, "create variant")
}

func (s *GormStore) UpdateVariant(ctx context.Context, v *domain.ProductVariant) error {
	res := s.db.WithContext(ctx).Model(&domain.ProductVariant{}).Where("id = ?", v.ID).Updates(map[string]interface{}{
		"name":           v.Name,
		"stock_quantity": v.StockQuantity,
		"price_modifier": v.PriceModifier,
		"updated_at":     time.Now(),
	})
	if res.Error != nil {
		return s.wrap(res.Error, "update variant")
	}
	if res.RowsAffected == 0 {
		return domain.NewNotFound("variant", v.ID)
	}
	return nil
}

func (s *GormStore) DeleteVariant(ctx context.Context, id int64) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&domain.ProductVariant{})
	if res.Error != nil {
		return s.wrap(res.Error, "delete variant")
	}
	if res.RowsAffected == 0 {
		return domain.NewNotFound("variant", id)
	}
	return nil
}

func (s *GormStore) SetVariantStock(ctx context.Context, id int64, qty int) error {
	res := s.db.WithContext(ctx).Model(&domain.ProductVariant{}).Where("id = ?", id).Updates(map[string]interface{}{
		"stock_quantity": qty,
		"updated_at":     time.Now(),
	})
	if res.Error != nil {
		return s.wrap(res.Error, "set variant stock")
	}
	if res.RowsAffected == 0 {
		return domain.NewNotFound("variant", id)
	}
	return nil
}

func (s *GormStore) DecrementStock(ctx context.Context, variantID int64, qty int) error {
	res := s.db.WithContext(ctx).Model(&domain.ProductVariant{}).
		Where("id = ? AND stock_quantity >= ?", variantID, qty).
		Updates(map[string]interface{}{
			"stock_quantity": gorm.Expr("stock_quantity - ?", qty),
			"updated_at":     time.Now(),
		})
	if res.Error != nil {
		return s.wrap(res.Error, "decrement stock")
	}
	if res.RowsAffected == 0 {
		return ErrStockGuard
	}
	return nil
}

func (s *GormStore) IncrementStock(ctx context.Context, variantID int64, qty int) error {
	res := s.db.WithContext(ctx).Model(&domain.ProductVariant{}).
		Where("id = ?", variantID).
		Updates(map[string]interface{}{
			"stock_quantity": gorm.Expr("stock_quantity + ?", qty),
			"updated_at":     time.Now(),
		})
	if res.Error != nil {
		return s.wrap(res.Error, "increment stock")
	}
	if res.RowsAffected == 0 {
		return domain.NewNotFound("variant", variantID)
	}
	return nil
}

func (s *GormStore) ListLowStockVariants(ctx context.Context, threshold int) ([]domain.ProductVariant, error) {
	active := s.db.WithContext(ctx).Model(&domain.Product{}).Select("id").Where("is_deleted = ?", false)
	var rows []domain.ProductVariant
	err := s.db.WithContext(ctx).
		Preload("Product").
		Where("stock_quantity <= ? AND product_id IN (?)", threshold, active).
		Order("stock_quantity ASC, id ASC").
		Find(&rows).Error
	return rows, s.wrap(err, "list low stock variants")
}

// Orders

func (s *GormStore) CreateOrder(ctx context.Context, o *domain.Order) error {
	return s.wrap(s.db.WithContext(ctx).Create(o).Error, "create order")
}

func (s *GormStore) GetOrder(ctx context.Context, id int64) (*domain.Order, error) {
	var o domain.Order
	err := s.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		First(&o, id).Error
	if err != nil {
		return nil, s.notFound(err, "order", id)
	}
	return &o, nil
}

func (s *GormStore) LockOrder(ctx context.Context, id int64) (*domain.Order, error) {
	db := s.db.WithContext(ctx)
	if s.isPostgres() {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var o domain.Order
	if err := db.Where("id = ?", id).First(&o).Error; err != nil {
		return nil, s.notFound(err, "order", id)
	}
	if err := s.db.WithContext(ctx).Where("order_id = ?", id).Order("id ASC").Find(&o.Items).Error; err != nil {
		return nil, s.wrap(err, "load order items")
	}
	return &o, nil
}

func (s *GormStore) FindOrderByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	var o domain.Order
	err := s.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Where("idempotency_key = ?", key).
		First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, s.wrap(err, "find order by idempotency key")
	}
	return &o, nil
}

func (s *GormStore) UpdateOrderStatus(ctx context.Context, id int64, status domain.OrderStatus) error {
	res := s.db.WithContext(ctx).Model(&domain.Order{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":     status,
		"updated_at": time.Now(),
	})
	if res.Error != nil {
		return s.wrap(res.Error, "update order status")
	}
	if res.RowsAffected == 0 {
		return domain.NewNotFound("order", id)
	}
	return nil
}

func (s *GormStore) ListOrders(ctx context.Context, filter OrderFilter) ([]domain.Order, int64, error) {
	page, pageSize := normalizePage(filter.Page, filter.PageSize)

	db := s.db.WithContext(ctx).Model(&domain.Order{})
	if filter.Status != "" {
		db = db.Where("status = ?", filter.Status)
	}
	if filter.UserID != nil {
		db = db.Where("user_id = ?", *filter.UserID)
	}
	if filter.From != nil {
		db = db.Where("order_date >= ?", *filter.From)
	}
	if filter.To != nil {
		db = db.Where("order_date < ?", *filter.To)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, s.wrap(err, "count orders")
	}

	var rows []domain.Order
	err := db.Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Order("order_date DESC, id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&rows).Error
	if err != nil {
		return nil, 0, s.wrap(err, "list orders")
	}
	return rows, total, nil
}

func (s *GormStore) CountOrderItemsForVariants(ctx context.Context, variantIDs []int64) (int64, error) {
	if len(variantIDs) == 0 {
		return 0, nil
	}
	var count int64
	err := s.db.WithContext(ctx).Model(&domain.OrderItem{}).Where("variant_id IN ?", variantIDs).Count(&count).Error
	return count, s.wrap(err, "count order items")
}

func (s *GormStore) ListOrderItemsForProduct(ctx context.Context, productID int64) ([]domain.OrderItem, error) {
	variants := s.db.WithContext(ctx).Model(&domain.ProductVariant{}).Select("id").Where("product_id = ?", productID)
	var items []domain.OrderItem
	err := s.db.WithContext(ctx).Where("variant_id IN (?)", variants).Order("id ASC").Find(&items).Error
	return items, s.wrap(err, "list order items for product")
}
