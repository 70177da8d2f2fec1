// Package bankforks implements BankForks: the DAG of live banks rooted at
// the last slot the validator has confirmed finalized. It owns the
// squash/prune transition that advances the root -- the only place the
// account store and status cache are told a slot can never be reorged away
// from.
package bankforks

import (
	"fmt"
	"sort"
	"sync"

	"github.com/luhuimao/morgan/bank"
	"github.com/luhuimao/morgan/log"
	"github.com/luhuimao/morgan/metrics"
	"github.com/luhuimao/morgan/types"
)

// BankForks holds every bank the validator is currently tracking: the
// frozen-but-unrooted tail of each fork, plus whichever banks are still
// accepting transactions.
type BankForks struct {
	mu    sync.RWMutex
	banks map[types.Slot]*bank.Bank
	root  types.Slot
	log   *log.Logger
}

// New creates a BankForks rooted at rootBank, which must be slot 0 (the
// genesis bank) or a bank already known to be final.
func New(rootBank *bank.Bank) *BankForks {
	bf := &BankForks{
		banks: map[types.Slot]*bank.Bank{rootBank.Slot(): rootBank},
		root:  rootBank.Slot(),
		log:   log.Default().Module("bankforks"),
	}
	metrics.RootSlot.Set(int64(bf.root))
	return bf
}

// Insert adds b to the tracked set. The caller is responsible for having
// built b on top of a bank already tracked here (bank.NewFromParent).
func (bf *BankForks) Insert(b *bank.Bank) {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	bf.banks[b.Slot()] = b
	metrics.FrozenBanks.Set(int64(len(bf.banks)))
}

// Get returns the bank tracked at slot, if any.
func (bf *BankForks) Get(slot types.Slot) (*bank.Bank, bool) {
	bf.mu.RLock()
	defer bf.mu.RUnlock()
	b, ok := bf.banks[slot]
	return b, ok
}

// Root returns the current root slot.
func (bf *BankForks) Root() types.Slot {
	bf.mu.RLock()
	defer bf.mu.RUnlock()
	return bf.root
}

// RootBank returns the bank at the current root.
func (bf *BankForks) RootBank() *bank.Bank {
	bf.mu.RLock()
	defer bf.mu.RUnlock()
	return bf.banks[bf.root]
}

// Frozen returns every tracked bank that has been frozen but is not the
// current root -- the pool Locktower and the replay engine draw votable
// candidates from.
func (bf *BankForks) Frozen() []*bank.Bank {
	bf.mu.RLock()
	defer bf.mu.RUnlock()
	out := make([]*bank.Bank, 0, len(bf.banks))
	for slot, b := range bf.banks {
		if slot != bf.root && b.IsFrozen() {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot() < out[j].Slot() })
	return out
}

// All returns every tracked bank, including the root.
func (bf *BankForks) All() []*bank.Bank {
	bf.mu.RLock()
	defer bf.mu.RUnlock()
	out := make([]*bank.Bank, 0, len(bf.banks))
	for _, b := range bf.banks {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot() < out[j].Slot() })
	return out
}

// SetRoot advances the root to newRootSlot, which must name a frozen bank
// that is either the current root or a descendant of it (P3: the root only
// ever moves forward along a single chain, never sideways or backward).
// Every slot strictly between the old root and the new one is folded into
// the account store's root lane via Squash, the status cache is told the
// new root so it can begin garbage collecting, and every bank that is not a
// descendant of the new root -- an abandoned sibling fork -- is purged from
// both the account store and the tracked set.
func (bf *BankForks) SetRoot(newRootSlot types.Slot) error {
	bf.mu.Lock()
	defer bf.mu.Unlock()

	newRoot, ok := bf.banks[newRootSlot]
	if !ok {
		return fmt.Errorf("bankforks: unknown slot %d", newRootSlot)
	}
	if !newRoot.IsFrozen() {
		return fmt.Errorf("bankforks: slot %d is not frozen", newRootSlot)
	}
	if newRootSlot == bf.root {
		return nil
	}

	ancestors := newRoot.Ancestors()
	oldRootDepth, isDescendant := ancestors[bf.root]
	if !isDescendant {
		return fmt.Errorf("bankforks: slot %d is not a descendant of root %d (P3 violation)", newRootSlot, bf.root)
	}

	chain := make([]types.Slot, 0, oldRootDepth+1)
	for slot, depth := range ancestors {
		if depth <= oldRootDepth {
			chain = append(chain, slot)
		}
	}
	sort.Slice(chain, func(i, j int) bool { return ancestors[chain[i]] > ancestors[chain[j]] })

	newRoot.AccountsStore().Squash(chain)
	newRoot.StatusCache().AddRoot(newRootSlot)

	for slot, b := range bf.banks {
		if slot == newRootSlot {
			continue
		}
		a := b.Ancestors()
		if _, stillDescendant := a[newRootSlot]; !stillDescendant {
			b.AccountsStore().PurgeFork(slot)
			delete(bf.banks, slot)
		}
	}

	bf.root = newRootSlot
	metrics.RootSlot.Set(int64(newRootSlot))
	metrics.RootAdvances.Inc()
	metrics.FrozenBanks.Set(int64(len(bf.banks)))
	return nil
}

// Remove purges slot from the tracked set and from the account store
// without touching the root -- used by the replay engine to drop a fork
// whose entries failed verification (ReplayFailedForks).
func (bf *BankForks) Remove(slot types.Slot) {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	if b, ok := bf.banks[slot]; ok {
		b.AccountsStore().PurgeFork(slot)
		delete(bf.banks, slot)
	}
	metrics.FrozenBanks.Set(int64(len(bf.banks)))
}
