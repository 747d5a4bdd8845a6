package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusPaid       OrderStatus = "PAID"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusShipped    OrderStatus = "SHIPPED"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
	OrderStatusRefunded   OrderStatus = "REFUNDED"
)

var OrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusPaid,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
	OrderStatusRefunded,
}

// ParseOrderStatus accepts the status name case-insensitively.
func ParseOrderStatus(s string) (OrderStatus, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for _, st := range OrderStatuses {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// IsTerminal reports whether no further status change is allowed.
// Stock has been returned for these orders.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCancelled || s == OrderStatusRefunded
}

// Order is created together with all of its items and never deleted.
type Order struct {
	ID             int64           `gorm:"primaryKey;autoIncrement:false" json:"id,string"`
	Reference      string          `gorm:"size:32;uniqueIndex;not null" json:"reference"`
	UserID         *int64          `gorm:"index" json:"userId"` // nil for guest checkout
	Email          string          `gorm:"size:255;not null" json:"email"`
	Country        string          `gorm:"size:100;not null" json:"country"`
	City           string          `gorm:"size:100;not null" json:"city"`
	Street         string          `gorm:"size:200;not null" json:"street"`
	PostalCode     string          `gorm:"size:20;not null" json:"postalCode"`
	HouseNumber    string          `gorm:"size:20;not null" json:"houseNumber"`
	Status         OrderStatus     `gorm:"size:20;index;not null" json:"status"`
	TotalAmount    decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"totalAmount"`
	IdempotencyKey *string         `gorm:"size:128;uniqueIndex" json:"-"`
	OrderDate      time.Time       `gorm:"index;not null" json:"orderDate"`
	Items          []OrderItem     `gorm:"foreignKey:OrderID;constraint:OnDelete:RESTRICT" json:"items"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// TableName Specify table name
func (Order) TableName() string {
	return "shop_order"
}

// ItemsTotal sums unitPrice * quantity over the loaded items.
func (o *Order) ItemsTotal() decimal.Decimal {
	total := decimal.Zero
	for _, it := range o.Items {
		total = total.Add(it.LineTotal())
	}
	return total
}

// OrderItem holds the price frozen at checkout. The variant reference is kept
// for display and audit; the financial numbers live here.
type OrderItem struct {
	ID          int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID     int64           `gorm:"index;not null" json:"orderId,string"`
	VariantID   int64           `gorm:"index;not null" json:"variantId"`
	Variant     *ProductVariant `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT" json:"variant,omitempty"`
	ProductName string          `gorm:"size:200" json:"productName"`
	VariantName string          `gorm:"size:200" json:"variantName"`
	Quantity    int             `gorm:"not null;check:quantity >= 1" json:"quantity"`
	UnitPrice   decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"unitPrice"`
}

// TableName Specify table name
func (OrderItem) TableName() string {
	return "shop_order_item"
}

func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}
