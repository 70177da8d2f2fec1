// Package ledger implements the durable record of PoH entries: the
// append-only log replay reads from and the leader writes to, plus the
// genesis block that seeds a fresh chain's first bank.
package ledger

import (
	"github.com/luhuimao/morgan/bank"
	"github.com/luhuimao/morgan/types"
)

// Entry is one tick (or transaction batch) in the PoH sequence: the number
// of hash iterations since the previous entry, the hash that resulted, and
// zero or more transactions mixed in at that point. An entry with no
// transactions is a bare tick.
type Entry struct {
	NumHashes    uint64
	Hash         types.Hash
	Transactions []*bank.Transaction `ssz-max:"64"`
}

// IsTick reports whether this entry carries no transactions.
func (e *Entry) IsTick() bool { return len(e.Transactions) == 0 }

// Verify recomputes the hash chain from prev through e and reports whether
// it matches e.Hash: NumHashes-1 bare ExtendHash rounds followed by one
// MixInHash round per transaction (or, for a bare tick, one final
// ExtendHash), matching how PohRecorder produced it.
func (e *Entry) Verify(prev types.Hash) bool {
	h := prev
	iterations := e.NumHashes
	if len(e.Transactions) == 0 {
		for i := uint64(0); i < iterations; i++ {
			h = types.ExtendHash(h)
		}
		return h == e.Hash
	}
	if iterations == 0 {
		return false
	}
	for i := uint64(0); i < iterations-1; i++ {
		h = types.ExtendHash(h)
	}
	mixin := mixinForTransactions(e.Transactions)
	h = types.MixInHash(h, mixin)
	return h == e.Hash
}

func mixinForTransactions(txs []*bank.Transaction) types.Hash {
	sigs := make([][]byte, 0, len(txs))
	for _, tx := range txs {
		id := tx.ID()
		sigs = append(sigs, id[:])
	}
	return types.HashData(sigs...)
}
