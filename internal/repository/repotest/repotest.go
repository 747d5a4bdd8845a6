// Package repotest opens throwaway SQLite stores for package tests.
package repotest

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/talkincode/keyshop/internal/domain"
	"github.com/talkincode/keyshop/internal/repository"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDB returns a migrated in-memory database private to the test. The pool
// holds a single connection, so transactions are serialized the same way the
// application runs SQLite.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=1", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(domain.Tables...))
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

// NewStore returns a GormStore over NewDB.
func NewStore(t testing.TB) (*repository.GormStore, *gorm.DB) {
	t.Helper()
	db := NewDB(t)
	return repository.NewGormStore(db), db
}

// VariantSeed describes a variant to insert with SeedProduct.
type VariantSeed struct {
	Name     string
	Stock    int
	Modifier string
}

// SeedProduct inserts a category (if needed) and a product with variants.
// Prices are decimal strings; an empty discount leaves it unset.
func SeedProduct(t testing.TB, store repository.Store, name, base, discount string, variants ...VariantSeed) *domain.Product {
	t.Helper()
	ctx := context.Background()

	cats, err := store.ListCategories(ctx)
	require.NoError(t, err)
	var cat domain.Category
	if len(cats) > 0 {
		cat = cats[0]
	} else {
		cat = domain.Category{Name: "Switches"}
		require.NoError(t, store.CreateCategory(ctx, &cat))
	}

	p := &domain.Product{
		Name:        name,
		Description: name + " description",
		BasePrice:   decimal.RequireFromString(base),
		CategoryID:  cat.ID,
	}
	if discount != "" {
		p.DiscountPrice = decimal.NewNullDecimal(decimal.RequireFromString(discount))
	}
	for _, v := range variants {
		mod := decimal.Zero
		if v.Modifier != "" {
			mod = decimal.RequireFromString(v.Modifier)
		}
		p.Variants = append(p.Variants, domain.ProductVariant{
			Name:          v.Name,
			StockQuantity: v.Stock,
			PriceModifier: mod,
		})
	}
	require.NoError(t, store.CreateProduct(ctx, p))
	return p
}

// Variant reloads a variant straight from the database.
func Variant(t testing.TB, db *gorm.DB, id int64) domain.ProductVariant {
	t.Helper()
	var v domain.ProductVariant
	require.NoError(t, db.First(&v, id).Error)
	return v
}

// ProductRow reloads a product row without relations.
func ProductRow(t testing.TB, db *gorm.DB, id int64) domain.Product {
	t.Helper()
	var p domain.Product
	require.NoError(t, db.First(&p, id).Error)
	return p
}

// Count returns the number of rows of model.
func Count(t testing.TB, db *gorm.DB, model interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(model).Count(&n).Error)
	return n
}
