package strategy

import (
	"math/big"
)

// Virtual offsets harden share pricing against first-depositor inflation and
// rounding attacks: one virtual base unit of assets and one virtual share are
// added to the totals in every conversion.
var (
	vaultVirtualAssets = big.NewInt(1)
	vaultVirtualShares = big.NewInt(1)
)

type vaultMarket struct {
	totalAssets *big.Int
	totalShares *big.Int
	owned       *big.Int
}

// VaultAdapter deploys collateral into a share-priced yield vault. The vault
// issues shares at the prevailing price, so the amount actually recorded for
// a deposit is the floor value of the minted shares, which can be slightly
// below the requested amount.
type VaultAdapter struct {
	id      string
	frozen  bool
	markets map[string]*vaultMarket
}

// NewVaultAdapter constructs a vault adapter.
func NewVaultAdapter(id string) *VaultAdapter {
	return &VaultAdapter{
		id:      id,
		markets: make(map[string]*vaultMarket),
	}
}

// SetFrozen toggles the frozen flag, simulating a vault that refuses flows.
func (v *VaultAdapter) SetFrozen(frozen bool) {
	if v == nil {
		return
	}
	v.frozen = frozen
}

// AccrueYield grows the vault's asset total without minting shares, raising
// the share price. Used by the keeper and by tests to model earned yield.
func (v *VaultAdapter) AccrueYield(asset string, amount *big.Int) {
	if v == nil || amount == nil || amount.Sign() <= 0 {
		return
	}
	m := v.market(asset)
	m.totalAssets = new(big.Int).Add(m.totalAssets, amount)
}

// ID implements Adapter.
func (v *VaultAdapter) ID() string { return v.id }

// Deploy mints vault shares for the deposit and reports the floor asset value
// of those shares as the deployed amount.
func (v *VaultAdapter) Deploy(asset string, amount *big.Int) (*Receipt, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if v.frozen {
		return nil, ErrVenueFrozen
	}
	m := v.market(asset)
	shares := sharesForAssets(m, amount)
	if shares.Sign() == 0 {
		return &Receipt{Deployed: big.NewInt(0), Shares: big.NewInt(0)}, nil
	}
	m.totalAssets = new(big.Int).Add(m.totalAssets, amount)
	m.totalShares = new(big.Int).Add(m.totalShares, shares)
	m.owned = new(big.Int).Add(m.owned, shares)
	deployed := assetsForShares(m, shares)
	if deployed.Cmp(amount) > 0 {
		deployed = new(big.Int).Set(amount)
	}
	return &Receipt{Deployed: deployed, Shares: shares}, nil
}

// Recall burns owned shares worth up to the requested amount and credits the
// redeemed assets to dest.
func (v *VaultAdapter) Recall(asset string, requested *big.Int, dest CustodySink) (*big.Int, error) {
	if requested == nil || requested.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if dest == nil {
		return nil, ErrNilSink
	}
	if v.frozen {
		return big.NewInt(0), nil
	}
	m := v.market(asset)
	redeemable := assetsForShares(m, m.owned)
	amount := new(big.Int).Set(requested)
	if amount.Cmp(redeemable) > 0 {
		amount.Set(redeemable)
	}
	if amount.Sign() == 0 {
		return big.NewInt(0), nil
	}
	shares := sharesForAssets(m, amount)
	if shares.Cmp(m.owned) > 0 {
		shares = new(big.Int).Set(m.owned)
	}
	returned := assetsForShares(m, shares)
	if returned.Cmp(amount) > 0 {
		returned = amount
	}
	if returned.Sign() == 0 {
		return big.NewInt(0), nil
	}
	m.owned = new(big.Int).Sub(m.owned, shares)
	m.totalShares = new(big.Int).Sub(m.totalShares, shares)
	m.totalAssets = new(big.Int).Sub(m.totalAssets, returned)
	if err := dest.Credit(asset, returned); err != nil {
		return nil, err
	}
	return returned, nil
}

// AvailableLiquidity reports the current redeemable value of the owned
// shares.
func (v *VaultAdapter) AvailableLiquidity(asset string) *big.Int {
	if v.frozen {
		return big.NewInt(0)
	}
	m := v.market(asset)
	return assetsForShares(m, m.owned)
}

func (v *VaultAdapter) market(asset string) *vaultMarket {
	m, ok := v.markets[asset]
	if !ok {
		m = &vaultMarket{
			totalAssets: big.NewInt(0),
			totalShares: big.NewInt(0),
			owned:       big.NewInt(0),
		}
		v.markets[asset] = m
	}
	return m
}

// shares = floor(amount * (totalShares + virtualShares) / (totalAssets + virtualAssets))
func sharesForAssets(m *vaultMarket, amount *big.Int) *big.Int {
	ts := new(big.Int).Add(m.totalShares, vaultVirtualShares)
	ta := new(big.Int).Add(m.totalAssets, vaultVirtualAssets)
	shares := new(big.Int).Mul(amount, ts)
	return shares.Quo(shares, ta)
}

// assets = floor(shares * (totalAssets + virtualAssets) / (totalShares + virtualShares))
func assetsForShares(m *vaultMarket, shares *big.Int) *big.Int {
	if shares == nil || shares.Sign() <= 0 {
		return big.NewInt(0)
	}
	ts := new(big.Int).Add(m.totalShares, vaultVirtualShares)
	ta := new(big.Int).Add(m.totalAssets, vaultVirtualAssets)
	assets := new(big.Int).Mul(shares, ta)
	return assets.Quo(assets, ts)
}
