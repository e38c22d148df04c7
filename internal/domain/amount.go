package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Amount is a monthly contribution in US cents
type Amount int64

// Cents builds an Amount from a cent value
func Cents(c int64) Amount {
	return Amount(c)
}

// Dollars builds an Amount from a whole dollar value
func Dollars(d int64) Amount {
	return Amount(d * 100)
}

// IsZero reports whether the amount signals an ended sponsorship
func (a Amount) IsZero() bool {
	return a == 0
}

// String formats the amount as dollars with two decimals
func (a Amount) String() string {
	sign := ""
	v := int64(a)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s$%d.%02d", sign, v/100, v%100)
}

// ParseDollars parses a non-negative decimal dollar string such as "10",
// "10.5" or "10.50". Thousands separators, signs, exponents and more than
// two fractional digits are rejected.
func ParseDollars(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}

	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" || !isDigits(whole) {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	if hasFrac && (frac == "" || len(frac) > 2 || !isDigits(frac)) {
		return 0, fmt.Errorf("invalid amount %q", s)
	}

	dollars, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if dollars > (1<<62)/100 {
		return 0, fmt.Errorf("amount %q out of range", s)
	}

	var cents int64
	if hasFrac {
		if len(frac) == 1 {
			frac += "0"
		}
		cents, _ = strconv.ParseInt(frac, 10, 64)
	}

	return Amount(dollars*100 + cents), nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
