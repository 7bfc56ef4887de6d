package engine

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Round2 rounds half away from zero to cents.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// LineTotal is quantity × price rounded to cents.
func LineTotal(qty int, price decimal.Decimal) decimal.Decimal {
	return Round2(price.Mul(decimal.NewFromInt(int64(qty))))
}

// ComputeTotals applies a percentage discount to a gross amount:
// discount = round(gross × rate / 100, 2), final = gross − discount.
func ComputeTotals(gross, rate decimal.Decimal) Totals {
	gross = Round2(gross)
	discount := Round2(gross.Mul(rate).Div(hundred))
	return Totals{
		Gross:    gross,
		Rate:     rate,
		Discount: discount,
		Final:    gross.Sub(discount),
	}
}

// CartGross sums quantity × price over lines.
func CartGross(lines []CartLine) decimal.Decimal {
	gross := decimal.Zero
	for _, l := range lines {
		gross = gross.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return gross
}

// hasCents reports whether d carries at most two decimal places.
func hasCents(d decimal.Decimal) bool {
	return d.Equal(d.Round(2))
}
