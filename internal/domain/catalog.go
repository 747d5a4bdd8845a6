package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Category groups products in the public catalog.
type Category struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"size:100;uniqueIndex;not null" json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName Specify table name
func (Category) TableName() string {
	return "shop_category"
}

// Product is a catalog entry. Archived products (IsDeleted) are hidden from
// the public catalog but stay valid targets for historical order items.
type Product struct {
	ID            int64               `gorm:"primaryKey;autoIncrement" json:"id"`
	Name          string              `gorm:"size:200;index;not null" json:"name"`
	Description   string              `gorm:"type:text" json:"description"`
	BasePrice     decimal.Decimal     `gorm:"type:decimal(12,2);not null" json:"basePrice"`
	DiscountPrice decimal.NullDecimal `gorm:"type:decimal(12,2)" json:"discountPrice"`
	CategoryID    int64               `gorm:"index;not null" json:"categoryId"`
	Category      *Category           `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT" json:"category,omitempty"`
	IsDeleted     bool                `gorm:"index;not null;default:false" json:"isDeleted"`
	BoughtCount   int                 `gorm:"not null;default:0" json:"boughtCount"` // only ever incremented by checkout
	Variants      []ProductVariant    `gorm:"foreignKey:ProductID" json:"variants,omitempty"`
	Images        []Image             `gorm:"foreignKey:ProductID" json:"images,omitempty"`
	CreatedAt     time.Time           `json:"createdAt"`
	UpdatedAt     time.Time           `json:"updatedAt"`
}

// TableName Specify table name
func (Product) TableName() string {
	return "shop_product"
}

// ProductVariant is the purchasable unit carrying stock and a price delta.
type ProductVariant struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	ProductID     int64           `gorm:"index;not null" json:"productId"`
	Product       *Product        `json:"product,omitempty"`
	Name          string          `gorm:"size:200;not null" json:"name"`
	PriceModifier decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"priceModifier"`
	StockQuantity int             `gorm:"not null;default:0;check:stock_quantity >= 0" json:"stockQuantity"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// TableName Specify table name
func (ProductVariant) TableName() string {
	return "shop_variant"
}

// Image is a product picture, the first one by DisplayOrder is the cover.
type Image struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ProductID    int64     `gorm:"index;not null" json:"productId"`
	URL          string    `gorm:"size:1024;not null" json:"url"`
	AltText      string    `gorm:"size:255" json:"altText"`
	DisplayOrder int       `gorm:"not null;default:0" json:"displayOrder"`
	CreatedAt    time.Time `json:"createdAt"`
}

// TableName Specify table name
func (Image) TableName() string {
	return "shop_image"
}
