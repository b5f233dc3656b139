package procurement

import "github.com/shopspring/decimal"

// moneyPlaces is the rounding scale for monetary amounts.
const moneyPlaces = 2

// Allocate distributes document-level freight and customs service
// charges across lines in proportion to each line's converted price,
// applies per-line customs and VAT, and fills in every computed field.
// It is a pure function of its inputs, so re-running it on an unchanged
// document yields identical totals.
//
// Rounding: each line's share is rounded to cents and the last line
// absorbs the residue, so allocated charges always sum back to the
// document aggregates.
func Allocate(doc LandedCostDocument, lines []LandedCostLine) ([]LandedCostLine, error) {
	if len(lines) == 0 {
		return nil, ErrEmptyDocument
	}
	if doc.ExchangeRate <= 0 {
		return nil, ErrInvalidCharge
	}
	if doc.FreightCharge < 0 || doc.CustomsServiceCharge < 0 || doc.VATRate < 0 {
		return nil, ErrInvalidCharge
	}

	rate := decimal.NewFromFloat(doc.ExchangeRate)
	vatRate := decimal.NewFromFloat(doc.VATRate)

	converted := make([]decimal.Decimal, len(lines))
	totalConverted := decimal.Zero
	for i, line := range lines {
		if line.UnitPrice < 0 || line.CustomsCharge < 0 {
			return nil, ErrInvalidCharge
		}
		extended := decimal.NewFromFloat(line.UnitPrice).Mul(decimal.NewFromFloat(line.Qty))
		converted[i] = extended.Mul(rate).Round(moneyPlaces)
		totalConverted = totalConverted.Add(converted[i])
	}
	if totalConverted.IsZero() {
		return nil, ErrInvalidCharge
	}

	freight := decimal.NewFromFloat(doc.FreightCharge)
	customsService := decimal.NewFromFloat(doc.CustomsServiceCharge)
	allocatedFreight := distribute(freight, converted, totalConverted)
	allocatedService := distribute(customsService, converted, totalConverted)

	out := make([]LandedCostLine, len(lines))
	for i, line := range lines {
		customs := decimal.NewFromFloat(line.CustomsCharge)
		base := converted[i].Add(allocatedFreight[i]).Add(customs).Add(allocatedService[i])
		vat := decimal.Zero
		if line.VATApplicable {
			vat = base.Mul(vatRate).Round(moneyPlaces)
		}
		total := base.Add(vat)

		out[i] = line
		out[i].ConvertedPrice = converted[i].InexactFloat64()
		out[i].AllocatedFreight = allocatedFreight[i].InexactFloat64()
		out[i].AllocatedCustomsService = allocatedService[i].InexactFloat64()
		out[i].VATAmount = vat.InexactFloat64()
		out[i].TotalAmount = total.Round(moneyPlaces).InexactFloat64()
	}
	return out, nil
}

// distribute splits total across weights proportionally, rounding each
// share to cents and assigning the residue to the last entry.
func distribute(total decimal.Decimal, weights []decimal.Decimal, weightSum decimal.Decimal) []decimal.Decimal {
	shares := make([]decimal.Decimal, len(weights))
	allocated := decimal.Zero
	for i := range weights {
		if i == len(weights)-1 {
			shares[i] = total.Sub(allocated)
			break
		}
		shares[i] = total.Mul(weights[i]).Div(weightSum).Round(moneyPlaces)
		allocated = allocated.Add(shares[i])
	}
	return shares
}
