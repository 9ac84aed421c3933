package stability

import (
	"math/big"

	"github.com/holiman/uint256"
)

// The pool tracks depositor balances through a running product P and
// per-asset running sums S instead of touching every depositor on each
// offset. P starts at 1e18 and shrinks with every offset; when it falls
// below 1e9 it is rescaled up by 1e9 and the scale counter increments, and
// when an offset empties the pool entirely the epoch counter increments and
// P resets. Reproducing this mechanism exactly is what keeps depositor
// balances correct across long liquidation sequences.

var (
	decimalPrecision = uint256.NewInt(1e18)
	scaleFactor      = uint256.NewInt(1e9)
)

// perUnitFactors converts an offset into per-unit-staked factors against the
// pool total before the offset. The loss factor rounds up so the pool never
// over-credits survivors; the gain factor rounds down for the same reason.
func perUnitFactors(debtToOffset, collateralToAdd, totalBefore *big.Int) (gainPerUnit, lossPerUnit *uint256.Int) {
	total := uint256.MustFromBig(totalBefore)
	debt := uint256.MustFromBig(debtToOffset)
	coll := uint256.MustFromBig(collateralToAdd)

	gainPerUnit = new(uint256.Int).Mul(coll, decimalPrecision)
	gainPerUnit.Div(gainPerUnit, total)

	lossNumerator := new(uint256.Int).Mul(debt, decimalPrecision)
	lossPerUnit = new(uint256.Int).Div(lossNumerator, total)
	rem := new(uint256.Int).Mod(lossNumerator, total)
	if !rem.IsZero() {
		lossPerUnit.AddUint64(lossPerUnit, 1)
	}
	if lossPerUnit.Cmp(decimalPrecision) > 0 {
		lossPerUnit.Set(decimalPrecision)
	}
	return gainPerUnit, lossPerUnit
}

// marginalGain folds a gain-per-unit into S units. S keeps the extra 1e18
// factor from gainPerUnit; it is divided out at claim time, which preserves
// precision while P is small.
func marginalGain(gainPerUnit, p *uint256.Int) *uint256.Int {
	return new(uint256.Int).Mul(gainPerUnit, p)
}

// applyLoss advances P by the product factor (1e18 - lossPerUnit)/1e18.
// depleted reports the pool being fully consumed; rescaled reports that P
// crossed the 1e9 floor and was scaled back up, which the caller must mirror
// by incrementing the scale counter.
func applyLoss(p, lossPerUnit *uint256.Int) (newP *uint256.Int, depleted, rescaled bool) {
	productFactor := new(uint256.Int).Sub(decimalPrecision, lossPerUnit)
	if productFactor.IsZero() {
		return new(uint256.Int).Set(decimalPrecision), true, false
	}
	newP = new(uint256.Int).Mul(p, productFactor)
	newP.Div(newP, decimalPrecision)
	if newP.Cmp(scaleFactor) < 0 {
		newP.Mul(newP, scaleFactor)
		return newP, false, true
	}
	return newP, false, false
}

// compoundedFromSnapshot replays P growth since the deposit's snapshot to
// get its current value. A deposit from an older epoch was fully consumed;
// one more than one scale change behind has shrunk below representable
// precision and reads as zero.
func compoundedFromSnapshot(amount *big.Int, snapshotP, currentP *uint256.Int, scaleDiff uint64, sameEpoch bool) *big.Int {
	if !sameEpoch || scaleDiff > 1 {
		return big.NewInt(0)
	}
	if amount == nil || amount.Sign() <= 0 || snapshotP == nil || snapshotP.IsZero() {
		return big.NewInt(0)
	}
	compounded := new(uint256.Int).Mul(uint256.MustFromBig(amount), currentP)
	compounded.Div(compounded, snapshotP)
	if scaleDiff == 1 {
		compounded.Div(compounded, scaleFactor)
	}
	return compounded.ToBig()
}

// gainFromSnapshot computes the collateral earned since the snapshot using
// the balance as it stood at snapshot time: amount * (S - S_snap) / P_snap
// / 1e18, where the S delta spans the snapshot scale and one scale beyond.
func gainFromSnapshot(amount *big.Int, snapshotP, firstPortion, secondPortion *uint256.Int) *big.Int {
	if amount == nil || amount.Sign() <= 0 || snapshotP == nil || snapshotP.IsZero() {
		return big.NewInt(0)
	}
	portions := new(uint256.Int).Div(secondPortion, scaleFactor)
	portions.Add(portions, firstPortion)
	gain := new(uint256.Int).Mul(uint256.MustFromBig(amount), portions)
	gain.Div(gain, snapshotP)
	return gain.Div(gain, decimalPrecision).ToBig()
}
