package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/talkincode/keyshop/internal/domain"
	"go.uber.org/zap"
)

// OrderConfirmations mails a receipt for every placed order. Delivery runs
// on a bounded worker pool so checkout never waits for SMTP.
type OrderConfirmations struct {
	mailer   Mailer
	money    *MoneyFormatter
	shopName string
	pool     *ants.Pool
}

func NewOrderConfirmations(mailer Mailer, money *MoneyFormatter, shopName string, workers int) (*OrderConfirmations, error) {
	if workers <= 0 {
		workers = 1
	}
	pool, err := ants.NewPool(workers, ants.WithPanicHandler(func(p interface{}) {
		zap.L().Error("order confirmation worker panic", zap.Any("panic", p))
	}))
	if err != nil {
		return nil, err
	}
	return &OrderConfirmations{
		mailer:   mailer,
		money:    money,
		shopName: shopName,
		pool:     pool,
	}, nil
}

// Attach subscribes the mailer to placed orders.
func (c *OrderConfirmations) Attach(bus *Bus) error {
	return bus.OnOrderPlaced(c.handle)
}

func (c *OrderConfirmations) handle(ev OrderPlacedEvent) {
	if ev.Order == nil || ev.Order.Email == "" {
		return
	}
	msg := c.Render(ev.Order)
	err := c.pool.Submit(func() {
		if err := c.mailer.Send(msg); err != nil {
			zap.L().Error("order confirmation failed",
				zap.Int64("order_id", ev.Order.ID),
				zap.String("email", msg.To),
				zap.Error(err))
			return
		}
		zap.L().Info("order confirmation sent",
			zap.Int64("order_id", ev.Order.ID),
			zap.String("reference", ev.Order.Reference))
	})
	if err != nil {
		zap.L().Warn("order confirmation not queued", zap.Int64("order_id", ev.Order.ID), zap.Error(err))
	}
}

// Render builds the confirmation mail for o.
func (c *OrderConfirmations) Render(o *domain.Order) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Thank you for your order at %s.\n\n", c.shopName)
	fmt.Fprintf(&b, "Order %s placed %s\n\n", o.Reference, o.OrderDate.Format("2006-01-02 15:04"))
	for _, item := range o.Items {
		name := strings.TrimSpace(item.ProductName + " " + item.VariantName)
		if name == "" {
			name = fmt.Sprintf("variant %d", item.VariantID)
		}
		fmt.Fprintf(&b, "  %d x %s @ %s = %s\n", item.Quantity, name,
			c.money.Format(item.UnitPrice), c.money.Format(item.LineTotal()))
	}
	fmt.Fprintf(&b, "\nTotal (%s): %s\n\n", c.money.Code(), c.money.Format(o.TotalAmount))
	fmt.Fprintf(&b, "Shipping to:\n  %s %s\n  %s %s\n  %s\n", o.Street, o.HouseNumber, o.PostalCode, o.City, o.Country)
	return Message{
		To:      o.Email,
		Subject: fmt.Sprintf("[%s] Order %s confirmed", c.shopName, o.Reference),
		Body:    b.String(),
	}
}

// Release waits up to timeout for queued mails and stops the pool.
func (c *OrderConfirmations) Release(timeout time.Duration) {
	if err := c.pool.ReleaseTimeout(timeout); err != nil {
		zap.L().Warn("order confirmation pool release", zap.Error(err))
	}
}
