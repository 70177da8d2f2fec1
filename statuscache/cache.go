// Package statuscache implements the per-(blockhash, signature) result
// cache used for duplicate-signature detection and confirmation lookup
// across forks.
package statuscache

import (
	"sync"

	"github.com/luhuimao/morgan/types"
)

// Entry is a recorded transaction outcome: the slot it was committed in and
// its result (nil for success, an error for a committed-but-failing
// instruction).
type Entry struct {
	Slot types.Slot
	Err  error
}

// Cache records (blockhash, signature) -> (slot, result), layered so that
// lookups can be restricted to a caller-supplied ancestor set. maxAge bounds
// how many rootings a blockhash lane survives before being garbage
// collected, mirroring the blockhash queue's own retention window.
type Cache struct {
	mu     sync.RWMutex
	maxAge uint64
	cache  map[types.Hash]map[types.Signature]Entry
	roots  []types.Slot // ascending, every slot ever passed to AddRoot
}

// New creates an empty Cache. maxAge is typically
// blockhash.MaxRecentBlockhashes; entries rooted more than maxAge roots ago
// are eligible for collection.
func New(maxAge uint64) *Cache {
	return &Cache{
		maxAge: maxAge,
		cache:  make(map[types.Hash]map[types.Signature]Entry),
	}
}

// Insert records that sig, using recent_blockhash blockhash, committed in
// slot with result err. It does not itself reject duplicates: callers use
// GetSignatureStatus first to implement the duplicate-signature check (P7)
// because that decision depends on the caller's ancestor set.
func (c *Cache) Insert(blockhash types.Hash, sig types.Signature, slot types.Slot, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	lane, ok := c.cache[blockhash]
	if !ok {
		lane = make(map[types.Signature]Entry)
		c.cache[blockhash] = lane
	}
	lane[sig] = Entry{Slot: slot, Err: err}
}

// GetSignatureStatus returns the recorded result for sig+blockhash if it was
// committed on a slot present in ancestors (self included, depth 0). The
// zero Entry and false are returned if no ancestor recorded it.
func (c *Cache) GetSignatureStatus(sig types.Signature, blockhash types.Hash, ancestors map[types.Slot]int) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	lane, ok := c.cache[blockhash]
	if !ok {
		return Entry{}, false
	}
	e, ok := lane[sig]
	if !ok {
		return Entry{}, false
	}
	if _, isAncestor := ancestors[e.Slot]; !isAncestor {
		return Entry{}, false
	}
	return e, true
}

// AddRoot records that slot has been rooted and garbage collects any
// blockhash lane whose every entry is older than maxAge roots. This is the
// scheme documented for the under-specified rooting rule: a lane survives
// for maxAge additional roots past its most recent entry, matching the
// blockhash queue's own recency window so a status lookup never outlives
// the blockhash that would have let the transaction land in the first
// place.
func (c *Cache) AddRoot(slot types.Slot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.roots = append(c.roots, slot)
	if uint64(len(c.roots)) <= c.maxAge {
		return
	}

	cutoff := c.roots[uint64(len(c.roots))-c.maxAge-1]
	for blockhash, lane := range c.cache {
		keepLane := false
		for sig, e := range lane {
			if e.Slot < cutoff {
				delete(lane, sig)
				continue
			}
			keepLane = true
		}
		if !keepLane {
			delete(c.cache, blockhash)
		}
	}
}

// ClearSignatures empties the cache entirely, keeping the roots history.
func (c *Cache) ClearSignatures() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[types.Hash]map[types.Signature]Entry)
}

// Clone returns a deep copy, used when a child bank inherits a shared
// reference semantically but code paths that need isolated mutation (e.g.
// tests) can snapshot instead.
func (c *Cache) Clone() *Cache {
	c.mu.RLock()
	defer c.mu.RUnlock()

	clone := &Cache{
		maxAge: c.maxAge,
		cache:  make(map[types.Hash]map[types.Signature]Entry, len(c.cache)),
		roots:  append([]types.Slot(nil), c.roots...),
	}
	for bh, lane := range c.cache {
		l := make(map[types.Signature]Entry, len(lane))
		for sig, e := range lane {
			l[sig] = e
		}
		clone.cache[bh] = l
	}
	return clone
}
