// Package stakes implements the Stakes Cache: the delegated-stake view
// derived by scanning vote- and stake-program-owned accounts, consumed by
// the leader schedule (stake-weighted slot assignment) and by Locktower
// (stake-weighted lockout thresholds).
package stakes

import (
	"github.com/luhuimao/morgan/accounts"
	"github.com/luhuimao/morgan/types"
)

// VoteAccountInfo pairs a vote account's raw image with the stake currently
// delegated to it.
type VoteAccountInfo struct {
	Stake   uint64
	Account accounts.Account
}

// Stakes is an immutable-once-built snapshot: vote accounts with their
// aggregated delegated stake, and the underlying stake accounts that
// produced that aggregation.
type Stakes struct {
	VoteAccounts  map[types.Pubkey]VoteAccountInfo
	StakeAccounts map[types.Pubkey]accounts.Account
}

// New returns an empty Stakes.
func New() *Stakes {
	return &Stakes{
		VoteAccounts:  make(map[types.Pubkey]VoteAccountInfo),
		StakeAccounts: make(map[types.Pubkey]accounts.Account),
	}
}

// delegationSize is the number of leading bytes of a stake account's Data
// that encode the vote pubkey it delegates to; the remainder (if any) is
// program-specific and ignored here, matching the "opaque to the core"
// treatment the spec gives program data.
const delegationSize = types.PubkeySize

// Rebuild scans every account owned by voteProgram or stakeProgram that is
// visible through ancestors and recomputes the delegated-stake view. A stake
// account delegates to the vote pubkey encoded in its first 32 data bytes;
// its delegated amount is its Difs balance. A vote account with no
// delegating stake still appears in VoteAccounts with Stake 0, so it is
// schedulable once stake arrives without requiring a second pass.
func Rebuild(store *accounts.Store, ancestors map[types.Slot]int, voteProgram, stakeProgram types.Pubkey) *Stakes {
	s := New()

	voteAccts := store.LoadByProgram(ancestors, voteProgram)
	stakeAccts := store.LoadByProgram(ancestors, stakeProgram)

	delegated := make(map[types.Pubkey]uint64, len(stakeAccts))
	for key, acct := range stakeAccts {
		s.StakeAccounts[key] = acct
		if len(acct.Data) < delegationSize {
			continue
		}
		vote := types.BytesToPubkey(acct.Data[:delegationSize])
		delegated[vote] += acct.Difs
	}

	for key, acct := range voteAccts {
		s.VoteAccounts[key] = VoteAccountInfo{Stake: delegated[key], Account: acct}
	}
	return s
}

// TotalStake sums the delegated stake across every vote account, the
// denominator used for lockout and finality threshold checks.
func (s *Stakes) TotalStake() uint64 {
	var total uint64
	for _, v := range s.VoteAccounts {
		total += v.Stake
	}
	return total
}

// StakeOf returns the stake delegated to voteKey, or 0 if it has none or
// does not exist.
func (s *Stakes) StakeOf(voteKey types.Pubkey) uint64 {
	return s.VoteAccounts[voteKey].Stake
}

// Clone returns a deep copy so a bank's inherited Stakes can be mutated (by
// a later rebuild) without affecting a sibling fork's view.
func (s *Stakes) Clone() *Stakes {
	c := New()
	for k, v := range s.VoteAccounts {
		c.VoteAccounts[k] = VoteAccountInfo{Stake: v.Stake, Account: v.Account.Clone()}
	}
	for k, v := range s.StakeAccounts {
		c.StakeAccounts[k] = v.Clone()
	}
	return c
}
