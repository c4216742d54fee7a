package market

import "math/bits"

// Checked arithmetic for fee and fill computations. Amounts are native
// units; any overflow fails the instruction with an arithmetic error
// instead of wrapping.

// MulU64 returns a*b or an arithmetic error on overflow.
func MulU64(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, Arithmeticf("mul overflow: %d * %d", a, b)
	}
	return lo, nil
}

// AddU64 returns a+b or an arithmetic error on overflow.
func AddU64(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, Arithmeticf("add overflow: %d + %d", a, b)
	}
	return sum, nil
}

// SubU64 returns a-b or an arithmetic error on underflow.
func SubU64(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, Arithmeticf("sub underflow: %d - %d", a, b)
	}
	return diff, nil
}

// FeeOn computes amount * bps / 10_000 with a 128-bit intermediate,
// rounding down.
func FeeOn(amount uint64, bps uint16) (uint64, error) {
	hi, lo := bits.Mul64(amount, uint64(bps))
	if hi >= 10_000 {
		return 0, Arithmeticf("fee overflow: %d bps on %d", bps, amount)
	}
	fee, _ := bits.Div64(hi, lo, 10_000)
	return fee, nil
}
