// Package money holds exact currency arithmetic for the cost guardrails.
// Amounts are stored as integer micro-units so the ledger can be updated
// with additive SQL expressions; apd decimals are used for parsing and
// for converting CPU-minutes into cost.
package money

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/cockroachdb/apd/v3"
	"gopkg.in/yaml.v3"
)

// MicrosPerUnit is the number of stored micro-units in one currency unit.
const MicrosPerUnit = 1_000_000

const precision = 34

var microScale = apd.New(1, 6)

// Amount is a non-negative currency value with micro-unit resolution.
type Amount int64

// Zero is the zero amount.
const Zero Amount = 0

// MaxAmount is the largest representable amount. Sums saturate here.
const MaxAmount Amount = math.MaxInt64

const minAmount Amount = math.MinInt64

// FromMicros wraps a raw micro-unit value.
func FromMicros(micros int64) Amount {
	return Amount(micros)
}

// ParseAmount parses a decimal string such as "100" or "12.345".
// Fractions below one micro-unit are rounded up.
func ParseAmount(s string) (Amount, error) {
	var d apd.Decimal
	if _, _, err := d.SetString(strings.TrimSpace(s)); err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.Negative && !d.IsZero() {
		return 0, fmt.Errorf("invalid amount %q: must not be negative", s)
	}
	return toMicros(&d)
}

// MustParseAmount is ParseAmount for constants and tests.
func MustParseAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Micros returns the raw micro-unit value.
func (a Amount) Micros() int64 {
	return int64(a)
}

// Add returns a + b, saturating instead of wrapping.
func (a Amount) Add(b Amount) Amount {
	switch {
	case b > 0 && a > MaxAmount-b:
		return MaxAmount
	case b < 0 && a < minAmount-b:
		return minAmount
	}
	return a + b
}

// Sub returns a - b, saturating instead of wrapping.
func (a Amount) Sub(b Amount) Amount {
	switch {
	case b < 0 && a > MaxAmount+b:
		return MaxAmount
	case b > 0 && a < minAmount+b:
		return minAmount
	}
	return a - b
}

func (a Amount) String() string {
	d := apd.New(int64(a), -6)
	var reduced apd.Decimal
	reduced.Reduce(d)
	return reduced.Text('f')
}

// MarshalJSON renders the amount as a decimal string.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts a JSON number or a decimal string.
func (a *Amount) UnmarshalJSON(data []byte) error {
	parsed, err := ParseAmount(strings.Trim(string(data), `"`))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// UnmarshalTOML accepts a TOML integer, float or decimal string.
func (a *Amount) UnmarshalTOML(value interface{}) error {
	raw, err := scalarText(value)
	if err != nil {
		return err
	}
	parsed, err := ParseAmount(raw)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// MarshalYAML renders the amount as a decimal string.
func (a Amount) MarshalYAML() (interface{}, error) {
	return a.String(), nil
}

// UnmarshalYAML accepts a scalar number or decimal string.
func (a *Amount) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := ParseAmount(node.Value)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Rate is a price per CPU-minute.
type Rate struct {
	d apd.Decimal
}

// ParseRate parses a decimal price per CPU-minute.
func ParseRate(s string) (Rate, error) {
	var r Rate
	if _, _, err := r.d.SetString(strings.TrimSpace(s)); err != nil {
		return Rate{}, fmt.Errorf("invalid rate %q: %w", s, err)
	}
	if r.d.Negative && !r.d.IsZero() {
		return Rate{}, fmt.Errorf("invalid rate %q: must not be negative", s)
	}
	return r, nil
}

// MustParseRate is ParseRate for constants and tests.
func MustParseRate(s string) Rate {
	r, err := ParseRate(s)
	if err != nil {
		panic(err)
	}
	return r
}

// IsZero reports whether the rate is free.
func (r Rate) IsZero() bool {
	return r.d.IsZero()
}

// Equal compares numerically, so 0.0004 equals 0.00040.
func (r Rate) Equal(o Rate) bool {
	return r.d.Cmp(&o.d) == 0
}

func (r Rate) String() string {
	return r.d.Text('f')
}

// Cost converts CPU-minutes into an amount at this rate, rounding up to the
// next micro-unit so estimates never under-reserve budget.
func (r Rate) Cost(cpuMinutes float64) (Amount, error) {
	if math.IsNaN(cpuMinutes) || math.IsInf(cpuMinutes, 0) || cpuMinutes < 0 {
		return 0, fmt.Errorf("invalid cpu minutes %v", cpuMinutes)
	}

	var minutes apd.Decimal
	if _, err := minutes.SetFloat64(cpuMinutes); err != nil {
		return 0, fmt.Errorf("invalid cpu minutes %v: %w", cpuMinutes, err)
	}

	ctx := apd.BaseContext.WithPrecision(precision)
	var product apd.Decimal
	if _, err := ctx.Mul(&product, &minutes, &r.d); err != nil {
		return 0, fmt.Errorf("cost of %v cpu minutes: %w", cpuMinutes, err)
	}
	return toMicros(&product)
}

// MarshalJSON renders the rate as a decimal string.
func (r Rate) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// UnmarshalJSON accepts a JSON number or a decimal string.
func (r *Rate) UnmarshalJSON(data []byte) error {
	parsed, err := ParseRate(strings.Trim(string(data), `"`))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

func (r *Rate) UnmarshalTOML(value interface{}) error {
	raw, err := scalarText(value)
	if err != nil {
		return err
	}
	parsed, err := ParseRate(raw)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

func (r Rate) MarshalYAML() (interface{}, error) {
	return r.String(), nil
}

// UnmarshalYAML accepts a scalar number or decimal string.
func (r *Rate) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := ParseRate(node.Value)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

func scalarText(value interface{}) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("unsupported decimal value %v (%T)", value, value)
	}
}

func toMicros(d *apd.Decimal) (Amount, error) {
	ctx := apd.BaseContext.WithPrecision(precision)
	ctx.Rounding = apd.RoundCeiling

	var scaled, whole apd.Decimal
	if _, err := ctx.Mul(&scaled, d, microScale); err != nil {
		return 0, err
	}
	if _, err := ctx.RoundToIntegralValue(&whole, &scaled); err != nil {
		return 0, err
	}

	micros, err := whole.Int64()
	if err != nil {
		return 0, fmt.Errorf("amount %s out of range: %w", d.String(), err)
	}
	return Amount(micros), nil
}
