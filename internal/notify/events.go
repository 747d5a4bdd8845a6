// Package notify fans committed shop changes out to in-process subscribers
// such as the confirmation mailer and the catalog cache.
package notify

import (
	"github.com/asaskevich/EventBus"
	"github.com/talkincode/keyshop/internal/domain"
)

const (
	TopicOrderPlaced        = "order.placed"
	TopicOrderStatusChanged = "order.status_changed"
	TopicCatalogChanged     = "catalog.changed"
)

type OrderPlacedEvent struct {
	Order *domain.Order
}

type OrderStatusChangedEvent struct {
	OrderID int64
	From    domain.OrderStatus
	To      domain.OrderStatus
}

// CatalogChangedEvent is published after a product edit commits. ProductID
// is zero when the change is not tied to one product.
type CatalogChangedEvent struct {
	ProductID int64
}

// Events is what the services publish after a successful commit.
type Events interface {
	OrderPlaced(o *domain.Order)
	OrderStatusChanged(orderID int64, from, to domain.OrderStatus)
	CatalogChanged(productID int64)
}

// Bus publishes Events on an EventBus. Handlers run synchronously on the
// publishing goroutine; slow work belongs on a pool.
type Bus struct {
	bus EventBus.Bus
}

var _ Events = (*Bus)(nil)

func NewBus() *Bus {
	return &Bus{bus: EventBus.New()}
}

func (b *Bus) OrderPlaced(o *domain.Order) {
	b.bus.Publish(TopicOrderPlaced, OrderPlacedEvent{Order: o})
}

func (b *Bus) OrderStatusChanged(orderID int64, from, to domain.OrderStatus) {
	b.bus.Publish(TopicOrderStatusChanged, OrderStatusChangedEvent{OrderID: orderID, From: from, To: to})
}

func (b *Bus) CatalogChanged(productID int64) {
	b.bus.Publish(TopicCatalogChanged, CatalogChangedEvent{ProductID: productID})
}

func (b *Bus) OnOrderPlaced(fn func(OrderPlacedEvent)) error {
	return b.bus.Subscribe(TopicOrderPlaced, fn)
}

func (b *Bus) OnOrderStatusChanged(fn func(OrderStatusChangedEvent)) error {
	return b.bus.Subscribe(TopicOrderStatusChanged, fn)
}

func (b *Bus) OnCatalogChanged(fn func(CatalogChangedEvent)) error {
	return b.bus.Subscribe(TopicCatalogChanged, fn)
}

type nop struct{}

func (nop) OrderPlaced(*domain.Order)                                        {}
func (nop) OrderStatusChanged(int64, domain.OrderStatus, domain.OrderStatus) {}
func (nop) CatalogChanged(int64)                                             {}

// Nop drops every event.
var Nop Events = nop{}
