package catalog

import (
	"github.com/shopspring/decimal"
	"github.com/talkincode/keyshop/internal/domain"
)

// EffectivePrice is the unit price a variant sells for right now: the
// discount price when set, otherwise the base price, plus the variant
// modifier. The result is not clamped.
func EffectivePrice(p *domain.Product, v *domain.ProductVariant) decimal.Decimal {
	base := p.BasePrice
	if p.DiscountPrice.Valid {
		base = p.DiscountPrice.Decimal
	}
	return base.Add(v.PriceModifier)
}

func hasCents(d decimal.Decimal) bool {
	return d.Equal(d.Round(2))
}

// ValidatePricing checks a product price set before it is written. Every
// variant must end up with a non-negative effective price.
func ValidatePricing(base decimal.Decimal, discount decimal.NullDecimal, modifiers []decimal.Decimal) error {
	if !base.IsPositive() {
		return domain.NewValidationError("basePrice", "must be greater than zero")
	}
	if !hasCents(base) {
		return domain.NewValidationError("basePrice", "at most two decimal places allowed")
	}
	effective := base
	if discount.Valid {
		d := discount.Decimal
		switch {
		case d.IsNegative():
			return domain.NewValidationError("discountPrice", "must not be negative")
		case d.GreaterThan(base):
			return domain.NewValidationError("discountPrice", "must not exceed basePrice %s", base.StringFixed(2))
		case !hasCents(d):
			return domain.NewValidationError("discountPrice", "at most two decimal places allowed")
		}
		effective = d
	}
	for i, m := range modifiers {
		if !hasCents(m) {
			return domain.NewValidationError("variants", "variant %d: priceModifier has more than two decimal places", i)
		}
		if effective.Add(m).IsNegative() {
			return domain.NewValidationError("variants", "variant %d: effective price %s is negative", i, effective.Add(m).StringFixed(2))
		}
	}
	return nil
}
