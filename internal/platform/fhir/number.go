package fhir

import (
	"github.com/shopspring/decimal"
)

// NumberValue is an exact decimal with the implicit range used when no
// prefix is given. The range is value ± factor×10^exponent, where the
// exponent is that of the least significant digit written.
type NumberValue struct {
	Value decimal.Decimal `json:"value"`
	Lower decimal.Decimal `json:"lower"`
	Upper decimal.Decimal `json:"upper"`
}

// Contains reports whether n lies in [Lower, Upper).
func (v *NumberValue) Contains(n decimal.Decimal) bool {
	return n.GreaterThanOrEqual(v.Lower) && n.LessThan(v.Upper)
}

// DefaultImplicitRangeFactor is half a unit of the last significant digit.
var DefaultImplicitRangeFactor = decimal.RequireFromString("0.5")

func parseNumberValue(s string, factor decimal.Decimal) (*NumberValue, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	delta := factor.Mul(decimal.New(1, d.Exponent()))
	return &NumberValue{
		Value: d,
		Lower: d.Sub(delta),
		Upper: d.Add(delta),
	}, nil
}
