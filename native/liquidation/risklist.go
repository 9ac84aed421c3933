package liquidation

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var ratioPrecision = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// collateralRatio returns collateral*1e18/debt. The price cancels out of an
// ordering over same-asset positions, so the list can be maintained without
// consulting the oracle. A zero-debt position sorts last.
func collateralRatio(p *Position) *big.Int {
	if p == nil || p.Debt == nil || p.Debt.Sign() == 0 {
		return new(big.Int).Lsh(ratioPrecision, 64)
	}
	ratio := new(big.Int).Mul(p.Collateral, ratioPrecision)
	return ratio.Quo(ratio, p.Debt)
}

// insertByRisk places borrower into the list so it stays sorted riskiest
// first (lowest collateral ratio at the head). The caller supplies a lookup
// for the ratios of borrowers already in the list.
func insertByRisk(list []common.Address, borrower common.Address, ratio *big.Int, ratioOf func(common.Address) *big.Int) []common.Address {
	for i, existing := range list {
		if existing == borrower {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	idx := len(list)
	for i, existing := range list {
		if ratio.Cmp(ratioOf(existing)) < 0 {
			idx = i
			break
		}
	}
	list = append(list, common.Address{})
	copy(list[idx+1:], list[idx:])
	list[idx] = borrower
	return list
}

func removeFromList(list []common.Address, borrower common.Address) []common.Address {
	for i, existing := range list {
		if existing == borrower {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
