package app

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/talkincode/keyshop/internal/catalog"
	"github.com/talkincode/keyshop/internal/domain"
	"github.com/talkincode/keyshop/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var defaultCategories = []string{"Keyboards", "Switches", "Keycaps", "Accessories"}

type demoProduct struct {
	name        string
	category    string
	description string
	base        string
	discount    string
	image       string
	variants    []catalog.VariantInput
}

func demoVariant(name string, stock int, modifier string) catalog.VariantInput {
	return catalog.VariantInput{Name: name, StockQuantity: stock, PriceModifier: decimal.RequireFromString(modifier)}
}

var demoProducts = []demoProduct{
	{
		name:        "Keychron Q1 Pro",
		category:    "Keyboards",
		description: "75% wireless aluminium board with gasket mount.",
		base:        "899.00",
		discount:    "799.00",
		image:       "https://cdn.keyshop.local/img/q1-pro.jpg",
		variants: []catalog.VariantInput{
			demoVariant("Carbon Black / Red", 12, "0"),
			demoVariant("Shell White / Brown", 8, "0"),
			demoVariant("Barebone", 5, "-150.00"),
		},
	},
	{
		name:        "Gateron Oil King",
		category:    "Switches",
		description: "Factory lubed linear switch, 55g bottom out.",
		base:        "3.50",
		variants: []catalog.VariantInput{
			demoVariant("10 pack", 200, "0"),
			demoVariant("70 pack", 40, "180.00"),
		},
	},
	{
		name:        "GMK Olivia++",
		category:    "Keycaps",
		description: "ABS doubleshot keycap set, Cherry profile.",
		base:        "640.00",
		variants: []catalog.VariantInput{
			demoVariant("Base Light", 6, "0"),
			demoVariant("Base Dark", 4, "0"),
			demoVariant("Novelties", 10, "-380.00"),
		},
	},
	{
		name:        "Coiled USB-C Cable",
		category:    "Accessories",
		description: "Aviator connector, 1.5m.",
		base:        "119.00",
		discount:    "99.00",
		variants: []catalog.VariantInput{
			demoVariant("Black", 30, "0"),
			demoVariant("Lavender", 15, "10.00"),
		},
	},
}

// checkCategories creates the default categories that are missing.
func (a *Application) checkCategories() {
	for _, name := range defaultCategories {
		var count int64
		a.gormDB.Model(&domain.Category{}).Where("name = ?", name).Count(&count)
		if count > 0 {
			continue
		}
		if err := a.gormDB.Create(&domain.Category{Name: name}).Error; err != nil {
			zap.L().Error("failed to create default category", zap.String("name", name), zap.Error(err))
		} else {
			zap.L().Info("initialized default category", zap.String("name", name))
		}
	}
}

// checkDemoProducts loads the demo catalog through the catalog service so
// every product passes the same pricing rules as an admin edit.
func (a *Application) checkDemoProducts() {
	ctx := context.Background()
	svc := catalog.NewService(repository.NewGormStore(a.gormDB), nil)
	for _, p := range demoProducts {
		var count int64
		a.gormDB.Model(&domain.Product{}).Where("name = ?", p.name).Count(&count)
		if count > 0 {
			continue
		}

		var cat domain.Category
		err := a.gormDB.Where("name = ?", p.category).First(&cat).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			zap.L().Warn("demo product category missing", zap.String("category", p.category))
			continue
		}
		if err != nil {
			zap.L().Error("failed to query category", zap.Error(err))
			continue
		}

		in := catalog.ProductInput{
			Name:        p.name,
			Description: p.description,
			CategoryID:  cat.ID,
			BasePrice:   decimal.RequireFromString(p.base),
			ImageURL:    p.image,
			Variants:    append([]catalog.VariantInput(nil), p.variants...),
		}
		if p.discount != "" {
			in.DiscountPrice = decimal.NewNullDecimal(decimal.RequireFromString(p.discount))
		}
		if _, err := svc.CreateProduct(ctx, in); err != nil {
			zap.L().Error("failed to create demo product", zap.String("name", p.name), zap.Error(err))
		}
	}
}
