package rumble

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckedAdd(t *testing.T) {
	sum, err := CheckedAdd(40, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), sum)

	sum, err = CheckedAdd(math.MaxUint64, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), sum)

	_, err = CheckedAdd(math.MaxUint64, 1)
	assert.ErrorIs(t, err, ErrArithmeticOverflow)
}

func TestCheckedSub(t *testing.T) {
	diff, err := CheckedSub(42, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(40), diff)

	_, err = CheckedSub(1, 2)
	assert.ErrorIs(t, err, ErrArithmeticOverflow)
}

func TestCheckedMul(t *testing.T) {
	product, err := CheckedMul(6, 7)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), product)

	product, err = CheckedMul(math.MaxUint64, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), product)

	_, err = CheckedMul(math.MaxUint64/2+1, 2)
	assert.ErrorIs(t, err, ErrArithmeticOverflow)
}

func TestCheckedDiv(t *testing.T) {
	q, err := CheckedDiv(7, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), q, "division truncates toward zero")

	_, err = CheckedDiv(7, 0)
	assert.ErrorIs(t, err, ErrDivisionByZero)
}

func TestSplitPercent(t *testing.T) {
	tests := []struct {
		name   string
		amount uint64
		pct    uint64
		want   uint64
	}{
		{"ninety of 4000", 4000, 90, 3600},
		{"ten of 4000", 4000, 10, 400},
		{"truncates once after multiply", 33, 10, 3},
		{"zero amount", 0, 90, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SplitPercent(tt.amount, tt.pct)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := SplitPercent(math.MaxUint64, 90)
	assert.ErrorIs(t, err, ErrArithmeticOverflow)
}
