// Package poh implements the PoH Recorder: the single-threaded sequential
// hash chain that gives the ledger its verifiable ordering. It advances by
// Tick on a timer regardless of load, and lets the current leader mix
// transaction batches into the chain via Record without breaking the tick
// cadence.
package poh

import (
	"fmt"
	"sync"

	"github.com/luhuimao/morgan/bank"
	"github.com/luhuimao/morgan/ledger"
	"github.com/luhuimao/morgan/log"
	"github.com/luhuimao/morgan/metrics"
	"github.com/luhuimao/morgan/types"
)

// Recorder is either Idle (no bank attached, ticking but producing no
// entries anyone reads) or Leading (a working bank is attached and every
// tick/record is appended as a ledger entry for that bank's slot).
type Recorder struct {
	mu sync.Mutex

	hash       types.Hash
	numHashes  uint64
	tickHeight uint64

	workingBank *bank.Bank
	store       ledger.Store

	log *log.Logger
}

// NewRecorder creates a Recorder seeded at lastHash -- the frozen hash of
// the bank it is resuming from (or the genesis hash, for slot 0) -- and
// writing ledger entries to store when leading.
func NewRecorder(lastHash types.Hash, tickHeight uint64, store ledger.Store) *Recorder {
	return &Recorder{
		hash:       lastHash,
		tickHeight: tickHeight,
		store:      store,
		log:        log.Default().Module("poh"),
	}
}

// Reset re-seeds the chain at (hash, tickHeight) and detaches any working
// bank -- used when switching to a new fork (the replay engine resets PoH
// from the newly-chosen fork's tip) or stepping down from leader.
func (r *Recorder) Reset(hash types.Hash, tickHeight uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hash = hash
	r.tickHeight = tickHeight
	r.numHashes = 0
	r.workingBank = nil
}

// SetBank attaches b as the working bank: from this point, Tick and Record
// append entries for b's slot until b's tick height is reached.
func (r *Recorder) SetBank(b *bank.Bank) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workingBank = b
}

// WorkingBank returns the currently attached bank, or nil if idle.
func (r *Recorder) WorkingBank() *bank.Bank {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.workingBank
}

// Tick advances the hash chain by one round with no transactions mixed in.
// If a working bank is attached, the resulting entry is appended to the
// ledger for its slot and the bank's own tick counter is advanced; once the
// bank reaches its max tick height the recorder detaches it (ReachedLeaderTick).
func (r *Recorder) Tick() (ledger.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.hash = types.ExtendHash(r.hash)
	r.numHashes++
	r.tickHeight++
	metrics.PohTicks.Inc()

	entry := ledger.Entry{NumHashes: r.numHashes, Hash: r.hash}
	r.numHashes = 0

	if r.workingBank == nil {
		return entry, nil
	}

	slot := r.workingBank.Slot()
	if err := r.store.WriteEntries(slot, []ledger.Entry{entry}); err != nil {
		return entry, fmt.Errorf("poh: write tick entry: %w", err)
	}
	r.workingBank.RegisterTick(r.hash)
	if r.workingBank.TickHeight() >= r.workingBank.MaxTickHeight() {
		r.store.MarkFull(slot)
		r.workingBank = nil
	}
	return entry, nil
}

// Record mixes txs into the chain as a single entry and appends it to the
// ledger for the working bank's slot. It fails if the recorder is idle (no
// leader slot to record into) or if the working bank has already reached
// its max tick height (the leader's turn is over).
func (r *Recorder) Record(txs []*bank.Transaction) (ledger.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.workingBank == nil {
		return ledger.Entry{}, fmt.Errorf("poh: cannot record, recorder is idle")
	}
	if r.workingBank.TickHeight() >= r.workingBank.MaxTickHeight() {
		return ledger.Entry{}, fmt.Errorf("poh: cannot record, working bank's slot is already complete")
	}

	r.numHashes++
	mixin := mixinForTransactions(txs)
	r.hash = types.MixInHash(r.hash, mixin)
	entry := ledger.Entry{NumHashes: r.numHashes, Hash: r.hash, Transactions: txs}
	r.numHashes = 0

	slot := r.workingBank.Slot()
	if err := r.store.WriteEntries(slot, []ledger.Entry{entry}); err != nil {
		return entry, fmt.Errorf("poh: write record entry: %w", err)
	}
	metrics.PohEntriesRecorded.Inc()
	return entry, nil
}

// LastHash returns the current tip of the chain.
func (r *Recorder) LastHash() types.Hash {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hash
}

// TickHeight returns the recorder's own running tick counter, independent
// of whichever bank is currently attached.
func (r *Recorder) TickHeight() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tickHeight
}

func mixinForTransactions(txs []*bank.Transaction) types.Hash {
	sigs := make([][]byte, 0, len(txs))
	for _, tx := range txs {
		id := tx.ID()
		sigs = append(sigs, id[:])
	}
	return types.HashData(sigs...)
}
