package feed

import (
	"sync"
	"time"

	"github.com/alanyoungcy/triarb/internal/domain"
)

// AccountState maintains the local view of account balances: a REST
// snapshot merged with user-stream updates. Stream updates only carry the
// balances that changed, so unchanged assets are preserved.
type AccountState struct {
	mu   sync.RWMutex
	snap domain.AccountSnapshot
}

// NewAccountState creates an empty account state.
func NewAccountState() *AccountState {
	return &AccountState{
		snap: domain.AccountSnapshot{Balances: make(map[string]domain.Balance)},
	}
}

// Seed replaces the full balance set from a REST snapshot.
func (a *AccountState) Seed(snap domain.AccountSnapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()

	balances := make(map[string]domain.Balance, len(snap.Balances))
	for asset, b := range snap.Balances {
		balances[asset] = b
	}
	a.snap = domain.AccountSnapshot{Balances: balances, UpdatedAt: snap.UpdatedAt}
}

// ApplyUpdate merges changed balances from the user stream.
func (a *AccountState) ApplyUpdate(balances []domain.Balance, at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, b := range balances {
		a.snap.Balances[b.Asset] = b
	}
	a.snap.UpdatedAt = at
}

// Available returns the free balance for asset, zero when unknown.
func (a *AccountState) Available(asset string) float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snap.Available(asset)
}

// Snapshot returns a copy of the current account view.
func (a *AccountState) Snapshot() domain.AccountSnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	balances := make(map[string]domain.Balance, len(a.snap.Balances))
	for asset, b := range a.snap.Balances {
		balances[asset] = b
	}
	return domain.AccountSnapshot{Balances: balances, UpdatedAt: a.snap.UpdatedAt}
}
