/*
Package generic provides the domain-agnostic primitives of the rent engine.

PURPOSE:
  Calendar dates, inclusive periods, money rounding, identifiers and the
  error tiers shared by the finance and notify packages. Nothing in here
  knows what a contract or a notification is.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: decimal.Decimal values, rounded half-up to cents on output
  - IDs:   ULID strings, lexicographically sortable by creation time

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal everywhere, never float64 for money
  2. Type Safety: distinct ID types so a user ID is never passed as a payment ID

SEE ALSO:
  - time.go: Date and month arithmetic
  - period.go: inclusive date windows
  - errors.go: error tiers
*/
package generic

import (
	"crypto/rand"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY
// =============================================================================

// MoneyPlaces is the number of decimal places money is reported with.
const MoneyPlaces = 2

var (
	Hundred = decimal.NewFromInt(100)
	One     = decimal.NewFromInt(1)
)

// RoundMoney rounds half-up (away from zero) to cents.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// MustParseDecimal parses s or panics. Intended for constants and tests.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Sum adds all values.
func Sum(values []decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// InUnitRange reports whether 0 <= d <= 1.
func InUnitRange(d decimal.Decimal) bool {
	return !d.IsNegative() && d.LessThanOrEqual(One)
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type ContractID string
type PaymentID string
type NotificationID string
type PropertyID string
type TenantID string
type OwnerID string
type RunID string

// NewID generates a new ULID string.
func NewID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}
