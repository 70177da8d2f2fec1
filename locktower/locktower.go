// Package locktower implements Locktower: the vote-lockout fork-choice rule
// (Tower BFT). Every vote a validator casts doubles the lockout of every
// still-locked vote beneath it on the stack; switching away from a fork
// whose lockout has not yet expired is refused, which is what turns a
// supermajority of honest votes into an economic finality guarantee instead
// of a mere popularity count.
package locktower

import (
	"sort"
	"sync"

	"github.com/luhuimao/morgan/bank"
	"github.com/luhuimao/morgan/metrics"
	"github.com/luhuimao/morgan/stakes"
	"github.com/luhuimao/morgan/types"
)

// MaxLockoutHistory bounds the vote stack: once it holds this many entries,
// the oldest is forced to expire and becomes a root-advance candidate
// regardless of its lockout, the same ceiling Solana's tower uses.
const MaxLockoutHistory = 31

// Vote is one entry on the lockout stack.
type Vote struct {
	Slot              types.Slot
	ConfirmationCount uint32
}

// Lockout returns how many slots must elapse after Slot before this vote's
// fork can be abandoned: 2^ConfirmationCount.
func (v Vote) Lockout() uint64 { return uint64(1) << v.ConfirmationCount }

// ExpirationSlot returns the first slot at which this vote no longer locks
// out competing forks.
func (v Vote) ExpirationSlot() types.Slot { return v.Slot + types.Slot(v.Lockout()) }

// Locktower holds one validator's local vote stack: oldest vote at index 0,
// most recent (shallowest lockout) at the end.
type Locktower struct {
	mu    sync.Mutex
	votes []Vote
	root  types.Slot
}

// New creates a Locktower with no votes cast yet, anchored at root.
func New(root types.Slot) *Locktower {
	return &Locktower{root: root}
}

// Votes returns a copy of the current stack, oldest first.
func (lt *Locktower) Votes() []Vote {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	out := make([]Vote, len(lt.votes))
	copy(out, lt.votes)
	return out
}

// Root returns the tower's current root slot.
func (lt *Locktower) Root() types.Slot {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	return lt.root
}

// CanVote reports, without mutating the stack, whether RecordVote(candidate)
// would currently succeed. The replay engine uses this to filter frozen
// banks down to the ones locktower is actually willing to vote for (P8)
// before ranking them by stake weight.
func (lt *Locktower) CanVote(candidate *bank.Bank) error {
	if !candidate.IsVotable() {
		return &LocktowerError{Kind: NotVotable, AttemptedSlot: uint64(candidate.Slot())}
	}
	ancestors := candidate.Ancestors()
	slot := candidate.Slot()

	lt.mu.Lock()
	defer lt.mu.Unlock()

	if _, isSelfOrAncestor := ancestors[lt.root]; !isSelfOrAncestor && slot != lt.root {
		return &LocktowerError{Kind: NotDescendant, AttemptedSlot: uint64(slot)}
	}
	for _, v := range lt.votes {
		if _, onThisFork := ancestors[v.Slot]; onThisFork {
			continue
		}
		if v.ExpirationSlot() > slot {
			return &LocktowerError{
				Kind:           LockedOut,
				ConflictSlot:   uint64(v.Slot),
				ExpirationSlot: uint64(v.ExpirationSlot()),
				AttemptedSlot:  uint64(slot),
			}
		}
	}
	return nil
}

// RecordVote attempts to vote for candidate, whose ancestors (self at depth
// 0) describe the fork it sits on. It fails if candidate is not votable
// (P6), or if some vote on the stack is on a different, still-locked-out
// fork (P8). On success it returns the new root slot if the vote's stack
// collapse rooted one (0, false otherwise), matching a tower-BFT stack
// update: every vote still within lockout has its confirmation count (and
// so its lockout) doubled, and every vote whose lockout has now fully
// elapsed is popped -- the deepest popped vote becomes the new root
// candidate.
func (lt *Locktower) RecordVote(candidate *bank.Bank) (newRoot types.Slot, rooted bool, err error) {
	if !candidate.IsVotable() {
		return 0, false, &LocktowerError{Kind: NotVotable, AttemptedSlot: uint64(candidate.Slot())}
	}
	ancestors := candidate.Ancestors()
	slot := candidate.Slot()

	lt.mu.Lock()
	defer lt.mu.Unlock()

	if _, isSelfOrAncestor := ancestors[lt.root]; !isSelfOrAncestor && slot != lt.root {
		return 0, false, &LocktowerError{Kind: NotDescendant, AttemptedSlot: uint64(slot)}
	}

	for _, v := range lt.votes {
		if _, onThisFork := ancestors[v.Slot]; onThisFork {
			continue
		}
		if v.ExpirationSlot() > slot {
			return 0, false, &LocktowerError{
				Kind:           LockedOut,
				ConflictSlot:   uint64(v.Slot),
				ExpirationSlot: uint64(v.ExpirationSlot()),
				AttemptedSlot:  uint64(slot),
			}
		}
	}

	kept := lt.votes[:0:0]
	var rootCandidate types.Slot
	poppedAny := false
	for _, v := range lt.votes {
		if v.ExpirationSlot() < slot {
			rootCandidate = v.Slot
			poppedAny = true
			continue
		}
		v.ConfirmationCount++
		kept = append(kept, v)
	}
	for len(kept) >= MaxLockoutHistory {
		rootCandidate = kept[0].Slot
		poppedAny = true
		kept = kept[1:]
	}
	kept = append(kept, Vote{Slot: slot, ConfirmationCount: 1})
	lt.votes = kept

	metrics.VotesCast.Inc()
	metrics.LockoutStackDepth.Set(int64(len(lt.votes)))

	if poppedAny && rootCandidate > lt.root {
		lt.root = rootCandidate
		metrics.RootAdvances.Inc()
		return rootCandidate, true, nil
	}
	return 0, false, nil
}

// SwitchThreshold reports whether, as of candidateBank's own epoch (the
// resolution chosen for the spec's "recent epoch" ambiguity: stake is
// weighted by the candidate's own epoch rather than the tower's most recent
// vote's epoch, since that is the epoch whose stake set is already
// guaranteed to be available when the switch is being considered), the
// stake recorded in otherForkVotes -- validators known to have voted on a
// fork other than the tower's current one -- exceeds the 38% supermajority
// fraction Tower BFT requires before abandoning a locked-out fork is even
// contemplated.
func SwitchThreshold(candidateBank *bank.Bank, otherForkVotes map[types.Pubkey]bool) bool {
	st := stakes.Stakes{VoteAccounts: candidateBank.VoteAccounts()}
	total := st.TotalStake()
	if total == 0 {
		return false
	}
	var switched uint64
	for k := range otherForkVotes {
		switched += st.StakeOf(k)
	}
	return switched*100 >= total*38
}

// sortedBySlot is a small helper kept for callers that want a stable
// ordering of a vote slice (e.g. for metrics export).
func sortedBySlot(votes []Vote) []Vote {
	out := append([]Vote(nil), votes...)
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out
}
