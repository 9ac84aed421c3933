package strategy

import (
	"errors"
	"math/big"
)

var (
	// ErrInvalidAmount rejects nil or non-positive deploy/recall requests.
	ErrInvalidAmount = errors.New("strategy: amount must be positive")
	// ErrNilSink rejects recalls without a destination for returned funds.
	ErrNilSink = errors.New("strategy: recall destination not configured")
	// ErrVenueFrozen signals the venue is refusing both deploys and
	// recalls, e.g. a halted pool or a slashed staking contract.
	ErrVenueFrozen = errors.New("strategy: venue frozen")
)

// CustodySink receives funds recalled from a venue. The collateral ledger's
// custody vault is the production implementation.
type CustodySink interface {
	Credit(asset string, amount *big.Int) error
}

// Receipt reports what a venue actually recorded for a deployment. Deployed
// may be smaller than the requested amount because of fees or slippage;
// callers must book the receipt values, never the requested ones. Shares is
// non-nil only for venues that issue shares or LP tokens instead of 1:1
// redeemable amounts.
type Receipt struct {
	Deployed *big.Int
	Shares   *big.Int
}

// Adapter is the uniform contract over heterogeneous capital venues. The
// allocation engine is written once against this interface so a single
// cascading-recall algorithm covers every venue.
//
// Recall must never be assumed to return the requested amount: slippage,
// partial liquidity, or unbonding delays can make the result smaller, down to
// zero for a staking venue mid-unbonding. AvailableLiquidity is a best-effort
// estimate used to pick recall order; the actual recall result is re-checked
// by the caller afterwards.
type Adapter interface {
	ID() string
	Deploy(asset string, amount *big.Int) (*Receipt, error)
	Recall(asset string, requested *big.Int, dest CustodySink) (*big.Int, error)
	AvailableLiquidity(asset string) *big.Int
}
