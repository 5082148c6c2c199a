package model

import (
	"fmt"
	"strings"
)

// Quantity is a bid or distribution quantity in hundredths of a unit.
// 10.25 units is Quantity(1025). Two decimal places is the maximum
// precision the service accepts; parsing rejects anything finer, so
// every downstream computation is exact integer arithmetic.
type Quantity int64

// Cents is a money amount in integer cents. 12.80 is Cents(1280).
type Cents int64

// ParseQuantity parses a non-negative decimal with at most two fraction
// digits ("10", "10.5", "10.25"). Parsing is digit-wise - the string is
// never routed through float64, so "0.07" is exactly Quantity(7).
func ParseQuantity(s string) (Quantity, error) {
	if s == "" {
		return 0, fmt.Errorf("quantity is empty")
	}
	intPart, fracPart, hasDot := strings.Cut(s, ".")
	if intPart == "" {
		return 0, fmt.Errorf("quantity %q: missing integer part", s)
	}
	if hasDot && (fracPart == "" || len(fracPart) > 2) {
		return 0, fmt.Errorf("quantity %q: at most two decimal places", s)
	}

	var n int64
	for _, c := range intPart {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("quantity %q: invalid character %q", s, c)
		}
		d := int64(c - '0')
		if n > (maxQuantityUnits-d)/10 {
			return 0, fmt.Errorf("quantity %q: out of range", s)
		}
		n = n*10 + d
	}

	frac := int64(0)
	if hasDot {
		for _, c := range fracPart {
			if c < '0' || c > '9' {
				return 0, fmt.Errorf("quantity %q: invalid character %q", s, c)
			}
			frac = frac*10 + int64(c-'0')
		}
		if len(fracPart) == 1 {
			frac *= 10
		}
	}

	if n > (maxInt64-frac)/100 {
		return 0, fmt.Errorf("quantity %q: out of range", s)
	}
	return Quantity(n*100 + frac), nil
}

const (
	maxInt64 = int64(1<<63 - 1)
	// maxQuantityUnits bounds the integer part so that units*100+99 fits int64.
	maxQuantityUnits = maxInt64 / 100
)

// QuantityFromUnits converts whole units to a Quantity.
func QuantityFromUnits(units int64) Quantity {
	return Quantity(units * 100)
}

// IsZero reports whether q is exactly zero.
func (q Quantity) IsZero() bool { return q == 0 }

// String renders the quantity with exactly two decimal places ("10.25",
// "0.00"). Negative values keep the sign for debuggability even though the
// domain never produces them.
func (q Quantity) String() string {
	n := int64(q)
	sign := ""
	if n < 0 {
		sign = "-"
		n = -n
	}
	return fmt.Sprintf("%s%d.%02d", sign, n/100, n%100)
}

// MarshalJSON emits the quantity as a decimal string ("10.25"). Strings keep
// floats off the wire entirely; the service accepts either form.
func (q Quantity) MarshalJSON() ([]byte, error) {
	return []byte(`"` + q.String() + `"`), nil
}

// UnmarshalJSON accepts either a JSON number literal or a quoted decimal
// string. Both paths share ParseQuantity, so numbers are parsed digit-wise
// from the raw token and never pass through float64.
func (q *Quantity) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed, err := ParseQuantity(s)
	if err != nil {
		return err
	}
	*q = parsed
	return nil
}

// String renders cents as a plain decimal amount ("12.80").
func (c Cents) String() string {
	n := int64(c)
	sign := ""
	if n < 0 {
		sign = "-"
		n = -n
	}
	return fmt.Sprintf("%s%d.%02d", sign, n/100, n%100)
}

// Subtotal computes unit price times quantity, rounded half-up at the cent.
// unit is cents per whole unit and qty is hundredths, so the raw product is
// in ten-thousandths of a currency unit; +50 before the division implements
// half-up.
func Subtotal(unit Cents, qty Quantity) Cents {
	return Cents((int64(unit)*int64(qty) + 50) / 100)
}
