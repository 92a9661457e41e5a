package rumble

import "math"

// Checked arithmetic over the uint64 pool/deposit domain. Every mutation of a
// pool or deposit goes through these so a failed operation leaves its operands
// untouched.

// CheckedAdd returns a+b or ErrArithmeticOverflow.
func CheckedAdd(a, b uint64) (uint64, error) {
	if a > math.MaxUint64-b {
		return 0, ErrArithmeticOverflow
	}
	return a + b, nil
}

// CheckedSub returns a-b, failing when the result would go below zero.
func CheckedSub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrArithmeticOverflow
	}
	return a - b, nil
}

// CheckedMul returns a*b or ErrArithmeticOverflow.
func CheckedMul(a, b uint64) (uint64, error) {
	if b != 0 && a > math.MaxUint64/b {
		return 0, ErrArithmeticOverflow
	}
	return a * b, nil
}

// CheckedDiv truncates toward zero and fails with ErrDivisionByZero when b == 0.
func CheckedDiv(a, b uint64) (uint64, error) {
	if b == 0 {
		return 0, ErrDivisionByZero
	}
	return a / b, nil
}

// SplitPercent computes amount*pct/100 in multiply-then-divide order so the
// truncation happens once, after the multiply. The multiply is overflow-checked.
func SplitPercent(amount, pct uint64) (uint64, error) {
	product, err := CheckedMul(amount, pct)
	if err != nil {
		return 0, err
	}
	return product / 100, nil
}
