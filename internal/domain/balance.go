package domain

import "time"

// Balance is one asset's free and locked quantity.
type Balance struct {
	Asset  string
	Free   float64
	Locked float64
}

// Available is the quantity usable for new orders.
func (b Balance) Available() float64 {
	return b.Free - b.Locked
}

// AccountSnapshot is the reconciled account state: one Balance per asset.
type AccountSnapshot struct {
	Balances  map[string]Balance
	UpdatedAt time.Time
}

// Available returns the available balance for asset, zero when unknown.
func (a AccountSnapshot) Available(asset string) float64 {
	b, ok := a.Balances[asset]
	if !ok {
		return 0
	}
	return b.Available()
}

// Trade is one public trade tick kept in the bounded trade history.
type Trade struct {
	ID       int64
	Symbol   string
	Price    float64
	Quantity float64
	Time     time.Time
}
