package crystal

import (
	"fmt"
	"math/big"
	"strings"
)

// ChangeOfBasis is the rotational part of a change-of-basis operator. Row i
// expresses new basis vector i in terms of the old ones, so Miller indices
// transform as h'_i = sum_j M[i][j] * h_j.
type ChangeOfBasis struct {
	m      [3][3]*big.Rat
	source string
}

// ParseChangeOfBasis reads abc notation ("a+b,-a+b,c", "1/2*a+1/2*b,b,c",
// "a/2,b,c"). hkl and xyz letters are accepted too. Constant translation
// terms are parsed and ignored since they do not act on Miller indices.
func ParseChangeOfBasis(s string) (ChangeOfBasis, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return ChangeOfBasis{}, fmt.Errorf("crystal: change of basis %q needs 3 components", s)
	}
	cb := ChangeOfBasis{source: s}
	for i, part := range parts {
		row, err := parseBasisExpr(part)
		if err != nil {
			return ChangeOfBasis{}, fmt.Errorf("crystal: change of basis %q: %w", s, err)
		}
		cb.m[i] = row
	}
	return cb, nil
}

func (cb ChangeOfBasis) String() string { return cb.source }

// IsIdentity reports whether the operator leaves indices unchanged.
func (cb ChangeOfBasis) IsIdentity() bool {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := int64(0)
			if i == j {
				want = 1
			}
			if cb.m[i][j] == nil || cb.m[i][j].Cmp(big.NewRat(want, 1)) != 0 {
				return false
			}
		}
	}
	return true
}

// Apply transforms h. The second result is false when any transformed
// component is non-integral; the returned index is then meaningless.
func (cb ChangeOfBasis) Apply(h MillerIndex) (MillerIndex, bool) {
	var out MillerIndex
	for i := 0; i < 3; i++ {
		sum := new(big.Rat)
		for j := 0; j < 3; j++ {
			term := new(big.Rat).Mul(cb.m[i][j], big.NewRat(int64(h[j]), 1))
			sum.Add(sum, term)
		}
		if !sum.IsInt() {
			return MillerIndex{}, false
		}
		out[i] = int(sum.Num().Int64())
	}
	return out, true
}

func basisAxis(c byte) (int, bool) {
	switch c {
	case 'a', 'h', 'x':
		return 0, true
	case 'b', 'k', 'y':
		return 1, true
	case 'c', 'l', 'z':
		return 2, true
	}
	return 0, false
}

func parseBasisExpr(expr string) ([3]*big.Rat, error) {
	row := [3]*big.Rat{new(big.Rat), new(big.Rat), new(big.Rat)}
	s := strings.ReplaceAll(strings.TrimSpace(expr), " ", "")
	if s == "" {
		return row, fmt.Errorf("empty component")
	}
	pos := 0
	for pos < len(s) {
		sign := int64(1)
		if s[pos] == '+' || s[pos] == '-' {
			if s[pos] == '-' {
				sign = -1
			}
			pos++
		}
		coef := big.NewRat(1, 1)
		hasCoef := false
		if pos < len(s) && isDigit(s[pos]) {
			num, next := readInt(s, pos)
			pos = next
			den := int64(1)
			if pos+1 < len(s) && s[pos] == '/' && isDigit(s[pos+1]) {
				den, pos = readInt(s, pos+1)
			}
			if den == 0 {
				return row, fmt.Errorf("zero denominator in %q", expr)
			}
			coef = big.NewRat(num, den)
			hasCoef = true
			if pos < len(s) && s[pos] == '*' {
				pos++
			}
		}
		if pos < len(s) {
			if axis, ok := basisAxis(s[pos]); ok {
				pos++
				if pos+1 < len(s) && s[pos] == '/' && isDigit(s[pos+1]) {
					var den int64
					den, pos = readInt(s, pos+1)
					if den == 0 {
						return row, fmt.Errorf("zero denominator in %q", expr)
					}
					coef.Quo(coef, big.NewRat(den, 1))
				}
				coef.Mul(coef, big.NewRat(sign, 1))
				row[axis].Add(row[axis], coef)
				continue
			}
		}
		if !hasCoef {
			if pos < len(s) {
				return row, fmt.Errorf("unexpected %q in %q", s[pos], expr)
			}
			return row, fmt.Errorf("dangling sign in %q", expr)
		}
		// translation term, ignored
		if pos < len(s) && s[pos] != '+' && s[pos] != '-' {
			return row, fmt.Errorf("unexpected %q in %q", s[pos], expr)
		}
	}
	return row, nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func readInt(s string, pos int) (int64, int) {
	var v int64
	for pos < len(s) && isDigit(s[pos]) {
		v = v*10 + int64(s[pos]-'0')
		pos++
	}
	return v, pos
}
