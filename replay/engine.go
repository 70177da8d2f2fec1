// Package replay implements the Replay Engine: the loop that turns raw
// ledger entries into bank state. It discovers new child slots from ledger
// metadata, feeds each active bank's unconsumed entries through PoH
// verification and transaction execution, freezes banks whose slot is
// complete, and hands frozen banks to Locktower to pick a vote.
package replay

import (
	"fmt"
	"sync"

	"github.com/luhuimao/morgan/bank"
	"github.com/luhuimao/morgan/bankforks"
	"github.com/luhuimao/morgan/epoch"
	"github.com/luhuimao/morgan/leaderschedule"
	"github.com/luhuimao/morgan/ledger"
	"github.com/luhuimao/morgan/locktower"
	"github.com/luhuimao/morgan/log"
	"github.com/luhuimao/morgan/metrics"
	"github.com/luhuimao/morgan/poh"
	"github.com/luhuimao/morgan/types"
)

// ForkProgress tracks how far replay has consumed a single active bank's
// ledger entries, mirroring the "last_entry, num_blobs_consumed" progress
// record §4.7 calls for.
type ForkProgress struct {
	EntriesConsumed int
	Failed          bool
}

// Engine owns the bank-forks DAG, the ledger it replays from, and this
// node's locktower, and drives them forward one replay iteration at a time.
type Engine struct {
	mu sync.Mutex

	forks         *bankforks.BankForks
	store         ledger.Store
	epochSchedule *epoch.Schedule
	tower         *locktower.Locktower
	recorder      *poh.Recorder

	leaderOf  func(slot types.Slot) types.Pubkey
	thisNode  types.Pubkey
	progress  map[types.Slot]*ForkProgress
	schedules map[types.Epoch]*leaderschedule.LeaderSchedule

	log *log.Logger
}

// New creates an Engine. leaderOf resolves any slot to its assigned leader
// (typically backed by a per-epoch leaderschedule.LeaderSchedule cache);
// thisNode is used to decide which active banks this node itself is
// producing (and so must not replay from the ledger, since PohRecorder is
// already writing them).
func New(forks *bankforks.BankForks, store ledger.Store, epochSchedule *epoch.Schedule, tower *locktower.Locktower, recorder *poh.Recorder, thisNode types.Pubkey, leaderOf func(types.Slot) types.Pubkey) *Engine {
	return &Engine{
		forks:         forks,
		store:         store,
		epochSchedule: epochSchedule,
		tower:         tower,
		recorder:      recorder,
		leaderOf:      leaderOf,
		thisNode:      thisNode,
		progress:      make(map[types.Slot]*ForkProgress),
		log:           log.Default().Module("replay"),
	}
}

// GenerateNewBankForks scans ledger metadata for parent->children edges not
// yet reflected in BankForks and creates a child bank for each, so replay
// has somewhere to apply entries the ledger already holds for them.
func (e *Engine) GenerateNewBankForks() []*bank.Bank {
	e.mu.Lock()
	defer e.mu.Unlock()

	created := make([]*bank.Bank, 0)
	for _, parent := range e.forks.All() {
		for _, childSlot := range e.store.ChildrenOf(parent.Slot()) {
			if _, ok := e.forks.Get(childSlot); ok {
				continue
			}
			leader := e.leaderOf(childSlot)
			child := bank.NewFromParent(parent, leader, childSlot)
			e.forks.Insert(child)
			e.progress[childSlot] = &ForkProgress{}
			created = append(created, child)
			e.log.Info("new bank fork", "slot", childSlot, "parent", parent.Slot(), "leader", leader)
		}
	}
	return created
}

// ReplayActiveBanks applies every entry the ledger holds for each
// not-yet-frozen bank, in order, since the progress record's last
// consumption point. A bank produced locally by this node's own PoH
// recorder is skipped: the recorder is already the one writing its
// entries.
func (e *Engine) ReplayActiveBanks() {
	e.mu.Lock()
	active := make([]*bank.Bank, 0)
	for _, b := range e.forks.All() {
		if !b.IsFrozen() {
			active = append(active, b)
		}
	}
	e.mu.Unlock()

	for _, b := range active {
		if b.Slot() != 0 && e.leaderOf(b.Slot()) == e.thisNode {
			continue
		}
		e.replayOne(b)
	}
}

func (e *Engine) replayOne(b *bank.Bank) {
	slot := b.Slot()
	e.mu.Lock()
	prog, ok := e.progress[slot]
	if !ok {
		prog = &ForkProgress{}
		e.progress[slot] = prog
	}
	e.mu.Unlock()
	if prog.Failed {
		return
	}

	entries, err := e.store.ReadEntries(slot)
	if err != nil {
		return // nothing written yet for this slot
	}
	if prog.EntriesConsumed >= len(entries) {
		return
	}

	prevHash := b.BlockhashQueue().LastHash()
	for _, entry := range entries[:prog.EntriesConsumed] {
		prevHash = entry.Hash
	}

	for _, entry := range entries[prog.EntriesConsumed:] {
		if !entry.Verify(prevHash) {
			e.markFailed(slot)
			return
		}
		if !entry.IsTick() {
			b.ProcessTransactions(entry.Transactions)
		}
		b.RegisterTick(entry.Hash)
		prevHash = entry.Hash
		prog.EntriesConsumed++
		metrics.ReplayEntriesProcessed.Inc()

		if b.TickHeight() >= b.MaxTickHeight() {
			b.Freeze()
			e.log.Info("bank frozen", "slot", slot, "hash", b.Hash())
			return
		}
	}
}

func (e *Engine) markFailed(slot types.Slot) {
	e.mu.Lock()
	if prog, ok := e.progress[slot]; ok {
		prog.Failed = true
	}
	e.mu.Unlock()
	e.forks.Remove(slot)
	metrics.ReplayFailedForks.Inc()
	e.log.Warn("fork failed entry verification", "slot", slot)
}

// GenerateVotableBanks returns the frozen candidates Locktower is currently
// willing to vote for, sorted lightest-to-heaviest by total stake among
// their own vote accounts with the deepest slot breaking ties last (§4.8:
// "ties break by lower slot number" ranks the lower slot first among equal
// weight, i.e. last in ascending-weight order here since callers take the
// final element as heaviest).
func (e *Engine) GenerateVotableBanks() []*bank.Bank {
	frozen := e.forks.Frozen()
	candidates := make([]*bank.Bank, 0, len(frozen))
	for _, b := range frozen {
		if err := e.tower.CanVote(b); err != nil {
			continue
		}
		candidates = append(candidates, b)
	}
	sortByWeightThenSlot(candidates)
	return candidates
}

func sortByWeightThenSlot(banks []*bank.Bank) {
	weight := func(b *bank.Bank) uint64 {
		var total uint64
		for _, v := range b.VoteAccounts() {
			total += v.Stake
		}
		return total
	}
	for i := 1; i < len(banks); i++ {
		for j := i; j > 0; j-- {
			a, b := banks[j-1], banks[j]
			if weight(a) < weight(b) || (weight(a) == weight(b) && a.Slot() > b.Slot()) {
				break
			}
			banks[j-1], banks[j] = banks[j], banks[j-1]
		}
	}
}

// HandleVotableBank picks the heaviest of candidates (the last element,
// per GenerateVotableBanks' ordering), records a vote for it, advances
// BankForks' root if the vote rooted one, and re-anchors the PoH recorder
// to the voted bank's tail. It returns the bank voted for, or nil if
// candidates is empty.
func (e *Engine) HandleVotableBank(candidates []*bank.Bank) (*bank.Bank, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	chosen := candidates[len(candidates)-1]

	newRoot, rooted, err := e.tower.RecordVote(chosen)
	if err != nil {
		return nil, fmt.Errorf("replay: record vote for slot %d: %w", chosen.Slot(), err)
	}
	if rooted {
		if err := e.forks.SetRoot(newRoot); err != nil {
			return nil, fmt.Errorf("replay: set root %d: %w", newRoot, err)
		}
		e.mu.Lock()
		for slot := range e.progress {
			if slot < newRoot {
				delete(e.progress, slot)
			}
		}
		e.mu.Unlock()
	}
	e.ResetPohRecorder(chosen)
	return chosen, nil
}

// ResetPohRecorder re-anchors the PoH recorder to voted's tail, the way the
// replay engine does after every vote so ticking resumes from the fork this
// node has just committed to.
func (e *Engine) ResetPohRecorder(voted *bank.Bank) {
	if e.recorder == nil {
		return
	}
	e.recorder.Reset(voted.Hash(), voted.TickHeight())
}

// MaybeStartLeaderSlot creates and binds a new working bank at leaderSlot
// when this node has no working bank bound and is the assigned leader for
// that slot, returning the new bank (or nil if it is not yet this node's
// turn). parent is the bank to build the new leader slot on top of
// (typically the tip of the fork the recorder was last reset to).
func (e *Engine) MaybeStartLeaderSlot(parent *bank.Bank, leaderSlot types.Slot) *bank.Bank {
	if e.recorder == nil || e.recorder.WorkingBank() != nil {
		return nil
	}
	if e.leaderOf(leaderSlot) != e.thisNode {
		return nil
	}
	child := bank.NewFromParent(parent, e.thisNode, leaderSlot)
	e.store.SetParent(leaderSlot, parent.Slot())
	e.mu.Lock()
	e.forks.Insert(child)
	e.progress[leaderSlot] = &ForkProgress{}
	e.mu.Unlock()
	e.recorder.SetBank(child)
	return child
}
