// Package accounts implements the versioned, fork-indexed key->account
// store: per-fork writes, ancestor-walk reads, and root-squash. It is
// conceptually map<(slot, Pubkey), Account>, owned by BankForks and shared
// by every Bank through an ancestors depth-map.
package accounts

import (
	"sort"
	"sync"

	"github.com/luhuimao/morgan/types"
)

// Store is the validator's account database: one write-map per slot, read
// by walking the caller's ancestor set from shallowest depth to deepest.
type Store struct {
	mu   sync.RWMutex
	bySl map[types.Slot]map[types.Pubkey]Account
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{bySl: make(map[types.Slot]map[types.Pubkey]Account)}
}

// Load returns the account image written at the shallowest ancestor slot
// (by the caller-supplied depth map, self = depth 0) that contains key,
// along with the slot it came from (P9). ok is false if no ancestor wrote
// key.
func (s *Store) Load(ancestors map[types.Slot]int, key types.Pubkey) (Account, types.Slot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order := orderByDepth(ancestors)
	for _, slot := range order {
		lane, ok := s.bySl[slot]
		if !ok {
			continue
		}
		if acct, ok := lane[key]; ok {
			return acct.Clone(), slot, true
		}
	}
	return Account{}, 0, false
}

// StoreSlow writes account into slot's lane, creating the lane if
// necessary. Used for single-account writes (e.g. genesis installation).
func (s *Store) StoreSlow(slot types.Slot, key types.Pubkey, account Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeLocked(slot, key, account)
}

// StoreAccounts atomically applies a batch of committed post-execution
// account images into slot's lane.
func (s *Store) StoreAccounts(slot types.Slot, images map[types.Pubkey]Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, acct := range images {
		s.writeLocked(slot, key, acct)
	}
}

func (s *Store) writeLocked(slot types.Slot, key types.Pubkey, account Account) {
	lane, ok := s.bySl[slot]
	if !ok {
		lane = make(map[types.Pubkey]Account)
		s.bySl[slot] = lane
	}
	lane[key] = account.Clone()
}

// Squash merges every slot in chain (ordered oldest ancestor first, newest
// i.e. the new root last) into a single lane keyed by the final slot in
// chain, applying each slot's writes in order so a descendant's write wins
// over an ancestor's for the same key. The intermediate slots are then
// dropped (P10: reads on the squashed fork return exactly the same images
// as before).
func (s *Store) Squash(chain []types.Slot) {
	if len(chain) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	root := chain[len(chain)-1]
	merged := make(map[types.Pubkey]Account)
	for _, slot := range chain {
		for k, v := range s.bySl[slot] {
			merged[k] = v
		}
	}
	for _, slot := range chain {
		if slot != root {
			delete(s.bySl, slot)
		}
	}
	s.bySl[root] = merged
}

// PurgeFork discards every write made directly in slot. It does not walk
// descendants; callers (BankForks) must purge each slot of an abandoned
// fork individually.
func (s *Store) PurgeFork(slot types.Slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bySl, slot)
}

// LoadByProgram returns every account visible at slot (via ancestors) whose
// Owner is programID. Ties are resolved the same way Load resolves them:
// the shallowest ancestor's image wins.
func (s *Store) LoadByProgram(ancestors map[types.Slot]int, programID types.Pubkey) map[types.Pubkey]Account {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[types.Pubkey]Account)
	seen := make(map[types.Pubkey]bool)
	order := orderByDepth(ancestors)
	for _, slot := range order {
		lane, ok := s.bySl[slot]
		if !ok {
			continue
		}
		for key, acct := range lane {
			if seen[key] {
				continue
			}
			seen[key] = true
			if acct.Owner == programID {
				result[key] = acct.Clone()
			}
		}
	}
	return result
}

// HashInternalState returns a deterministic digest of the (key, account
// bytes) set written directly at slot -- the accounts-delta digest consumed
// by Bank.Freeze. It is independent of any other slot's writes.
func (s *Store) HashInternalState(slot types.Slot) types.Hash {
	s.mu.RLock()
	lane := s.bySl[slot]
	keys := make([]types.Pubkey, 0, len(lane))
	for k := range lane {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		return string(keys[i][:]) < string(keys[j][:])
	})

	parts := make([][]byte, 0, len(keys)*2)
	for _, k := range keys {
		kk := k
		acct := lane[k]
		parts = append(parts, kk[:], acct.Bytes())
	}
	return types.HashData(parts...)
}

// orderByDepth returns the slots in ancestors sorted by ascending depth
// (self, depth 0, first), so Load/LoadByProgram consult the shallowest
// fork position first.
func orderByDepth(ancestors map[types.Slot]int) []types.Slot {
	order := make([]types.Slot, 0, len(ancestors))
	for slot := range ancestors {
		order = append(order, slot)
	}
	sort.Slice(order, func(i, j int) bool {
		di, dj := ancestors[order[i]], ancestors[order[j]]
		if di != dj {
			return di < dj
		}
		return order[i] < order[j]
	})
	return order
}
