package domain

import "github.com/shopspring/decimal"

// Totals is the derived money breakdown of an open transaction.
type Totals struct {
	Subtotal       decimal.Decimal
	DiscountAmount decimal.Decimal
	TaxAmount      decimal.Decimal
	TotalAmount    decimal.Decimal
}

// ComputeTotals derives a transaction's money fields from its items and
// transaction-level discount. Tax applies after the discount and is rounded
// to two decimal places; everything else stays exact. A discount larger than
// the subtotal is clamped so the taxable base never goes negative.
func ComputeTotals(items []TransactionItem, discount decimal.Decimal, taxRate decimal.Decimal) Totals {
	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.TotalPrice.Sub(item.DiscountAmount))
	}
	if discount.GreaterThan(subtotal) {
		discount = subtotal
	}
	if discount.IsNegative() {
		discount = decimal.Zero
	}
	after := subtotal.Sub(discount)
	tax := after.Mul(taxRate).Round(2)
	return Totals{
		Subtotal:       subtotal,
		DiscountAmount: discount,
		TaxAmount:      tax,
		TotalAmount:    after.Add(tax),
	}
}

// PromoDiscount computes the discount a promo grants against a subtotal.
// Percentage promos scale the subtotal and round to two decimal places,
// fixed promos clamp to the subtotal.
func PromoDiscount(promo PromoCode, subtotal decimal.Decimal) decimal.Decimal {
	var d decimal.Decimal
	switch promo.DiscountType {
	case DiscountPercentage:
		d = subtotal.Mul(promo.DiscountValue).Div(decimal.NewFromInt(100)).Round(2)
	case DiscountFixedAmount:
		d = promo.DiscountValue
	default:
		return decimal.Zero
	}
	if d.GreaterThan(subtotal) {
		d = subtotal
	}
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// RuleDiscount computes the discount a discount rule grants. Same clamping
// behavior as PromoDiscount.
func RuleDiscount(rule DiscountRule, subtotal decimal.Decimal) decimal.Decimal {
	promo := PromoCode{DiscountType: rule.DiscountType, DiscountValue: rule.DiscountValue}
	return PromoDiscount(promo, subtotal)
}

// PaymentTolerance is the maximum allowed gap between the sum of payments
// and the transaction total at completion.
var PaymentTolerance = decimal.NewFromFloat(0.01)

// PaymentsCover reports whether the summed payments match the total within
// tolerance. The tolerance absorbs rounding only; larger gaps in either
// direction are rejected.
func PaymentsCover(payments []PaymentRequest, total decimal.Decimal) (bool, decimal.Decimal) {
	paid := decimal.Zero
	for _, p := range payments {
		paid = paid.Add(p.Amount)
	}
	return paid.Sub(total).Abs().LessThanOrEqual(PaymentTolerance), paid
}
