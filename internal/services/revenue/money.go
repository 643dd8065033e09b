package revenue

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/apd/v3"
)

var decimalCtx = apd.BaseContext.WithPrecision(34)

// Money is an exact decimal USD amount
type Money struct {
	value apd.Decimal
}

// ParseMoney parses a decimal string such as "20.99". Empty input is zero.
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Money{}, nil
	}
	var d apd.Decimal
	if _, _, err := d.SetString(s); err != nil {
		return Money{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return Money{value: d}, nil
}

func mustMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

// Add returns m + other
func (m Money) Add(other Money) Money {
	var result apd.Decimal
	decimalCtx.Add(&result, &m.value, &other.value)
	return Money{value: result}
}

// Sub returns m - other
func (m Money) Sub(other Money) Money {
	var result apd.Decimal
	decimalCtx.Sub(&result, &m.value, &other.value)
	return Money{value: result}
}

// PerUser divides m by n users; zero users gives zero
func (m Money) PerUser(n int64) Money {
	if n <= 0 {
		return Money{}
	}
	var divisor, result apd.Decimal
	divisor.SetInt64(n)
	decimalCtx.Quo(&result, &m.value, &divisor)
	return Money{value: result}
}

// Near reports whether m is within one cent of other
func (m Money) Near(other Money) bool {
	var diff apd.Decimal
	d := m.Sub(other)
	diff.Abs(&d.value)
	return diff.Cmp(&oneCent.value) < 0
}

var oneCent = mustMoney("0.01")

// Float64 returns m rounded to cents
func (m Money) Float64() float64 {
	var rounded apd.Decimal
	decimalCtx.Quantize(&rounded, &m.value, -2)
	f, err := rounded.Float64()
	if err != nil {
		return 0
	}
	return f
}

func (m Money) String() string {
	return m.value.String()
}
