package ledger

import "sync"

// traderLocks serializes mutating operations per trader. Traders never
// contend with one another; two concurrent orders from the same trader
// must not both observe sufficient funds and both debit.
type traderLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newTraderLocks() *traderLocks {
	return &traderLocks{locks: make(map[string]*sync.Mutex)}
}

// get returns the mutex for a trader, creating it on first use. Lock
// entries are never removed; the trader population is small and stable
// for the lifetime of a simulation.
func (t *traderLocks) get(traderID string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.locks[traderID]
	if !ok {
		l = &sync.Mutex{}
		t.locks[traderID] = l
	}
	return l
}
