package stability

import (
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestPerUnitFactorsRounding(t *testing.T) {
	gain, loss := perUnitFactors(big.NewInt(1), big.NewInt(1), big.NewInt(3))
	// Gain floors, loss ceils.
	require.Equal(t, "333333333333333333", gain.Dec())
	require.Equal(t, "333333333333333334", loss.Dec())
}

func TestPerUnitFactorsCapAtFullLoss(t *testing.T) {
	_, loss := perUnitFactors(big.NewInt(1000), big.NewInt(0), big.NewInt(1000))
	require.Equal(t, 0, loss.Cmp(decimalPrecision))
}

func TestApplyLossDepletion(t *testing.T) {
	p := new(uint256.Int).Set(decimalPrecision)
	newP, depleted, rescaled := applyLoss(p, decimalPrecision)
	require.True(t, depleted)
	require.False(t, rescaled)
	require.Equal(t, 0, newP.Cmp(decimalPrecision))
}

func TestApplyLossRescalesBelowFloor(t *testing.T) {
	// Repeated 90% losses: P walks 1e18 -> 1e17 -> ... -> 1e9 without
	// rescaling, then the next step crosses the floor and rescales.
	loss := uint256.NewInt(9e17)
	p := new(uint256.Int).Set(decimalPrecision)
	for i := 0; i < 9; i++ {
		next, depleted, rescaled := applyLoss(p, loss)
		require.False(t, depleted)
		require.False(t, rescaled, "step %d rescaled early at P=%s", i, p.Dec())
		p = next
	}
	require.Equal(t, "1000000000", p.Dec())

	next, depleted, rescaled := applyLoss(p, loss)
	require.False(t, depleted)
	require.True(t, rescaled)
	require.Equal(t, "100000000000000000", next.Dec())
}

func TestPMonotonicallyNonIncreasing(t *testing.T) {
	p := new(uint256.Int).Set(decimalPrecision)
	losses := []uint64{1, 1e9, 5e17, 3e17, 9e17}
	for _, l := range losses {
		next, depleted, rescaled := applyLoss(p, uint256.NewInt(l))
		require.False(t, depleted)
		effective := new(uint256.Int).Set(next)
		if rescaled {
			effective.Div(effective, scaleFactor)
		}
		require.True(t, effective.Cmp(p) <= 0, "P increased: %s -> %s", p.Dec(), effective.Dec())
		p = next
	}
}

func TestCompoundedFromSnapshot(t *testing.T) {
	snap := new(uint256.Int).Set(decimalPrecision)
	half := uint256.NewInt(5e17)

	got := compoundedFromSnapshot(big.NewInt(1000), snap, half, 0, true)
	require.Equal(t, int64(500), got.Int64())

	// One scale behind: the compounded value carries the 1e9 rescale.
	rescaled := uint256.NewInt(5e17)
	got = compoundedFromSnapshot(big.NewInt(1e18), snap, rescaled, 1, true)
	require.Equal(t, big.NewInt(5e8), got)

	// Two scales behind or an older epoch reads as zero.
	require.Zero(t, compoundedFromSnapshot(big.NewInt(1000), snap, half, 2, true).Sign())
	require.Zero(t, compoundedFromSnapshot(big.NewInt(1000), snap, half, 0, false).Sign())
}

func TestCompoundedNeverExceedsInitial(t *testing.T) {
	snap := new(uint256.Int).Set(decimalPrecision)
	for _, p := range []uint64{1e18, 9e17, 1, 1e9} {
		got := compoundedFromSnapshot(big.NewInt(12345), snap, uint256.NewInt(p), 0, true)
		require.True(t, got.Cmp(big.NewInt(12345)) <= 0, "P=%d compounded %s", p, got)
	}
}

func TestGainFromSnapshot(t *testing.T) {
	// 10% depositor of a 10,000 pool after an offset adding 3e18 collateral:
	// gainPerUnit = 3e18*1e18/10000, S = gainPerUnit*P.
	gainPer, _ := perUnitFactors(big.NewInt(5000), new(big.Int).Mul(big.NewInt(3), big.NewInt(1e18)), big.NewInt(10000))
	s := marginalGain(gainPer, new(uint256.Int).Set(decimalPrecision))
	got := gainFromSnapshot(big.NewInt(1000), new(uint256.Int).Set(decimalPrecision), s, new(uint256.Int))
	require.Equal(t, big.NewInt(3e17), got)
}
