// Package money provides fixed-point monetary arithmetic shared by the cost
// ledger, governor, and job records. Amounts are stored as micro-dollar
// integers (six decimal places) so repeated additions never drift the way
// float64 accumulation would.
package money

import "fmt"

// FixedPoint is a monetary amount in micro-dollars.
type FixedPoint int64

const scale = 1_000_000

// FromFloat builds a FixedPoint from a float64 dollar amount.
func FromFloat(dollars float64) FixedPoint {
	return FixedPoint(dollars * scale)
}

// Float64 returns the dollar value.
func (f FixedPoint) Float64() float64 {
	return float64(f) / scale
}

func (f FixedPoint) Add(other FixedPoint) FixedPoint { return f + other }

func (f FixedPoint) Sub(other FixedPoint) FixedPoint { return f - other }

func (f FixedPoint) GreaterThan(other FixedPoint) bool { return f > other }

func (f FixedPoint) String() string {
	return fmt.Sprintf("$%.6f", f.Float64())
}
