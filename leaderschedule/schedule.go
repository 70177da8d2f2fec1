// Package leaderschedule computes, once per epoch, the deterministic
// stake-weighted assignment of slots to leaders. Every validator computes
// the same schedule from the same (epoch, seed, stakes) triple without
// needing to communicate, the same way RANDAO-seeded committee shuffling
// lets every beacon node agree on a proposer without a vote.
package leaderschedule

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/luhuimao/morgan/stakes"
	"github.com/luhuimao/morgan/types"
)

// LeaderSchedule assigns one pubkey to each slot index within an epoch.
type LeaderSchedule struct {
	epoch types.Epoch
	slots []types.Pubkey
}

// New computes the schedule for epoch, which has slotsInEpoch slots, given
// the stake distribution st and a seed (conventionally a hash drawn from
// the bank at the stakers-epoch boundary, e.g. its blockhash). Vote
// accounts with zero delegated stake are excluded; a validator with no
// stake cannot be assigned a slot. Slot i's leader is chosen by hashing
// (seed, i) into a uniform draw over the total stake and walking the
// cumulative-weight table, mirroring the swap-or-not / hash-draw style used
// elsewhere in the stack for deterministic, communication-free selection.
func New(epoch types.Epoch, seed types.Hash, st *stakes.Stakes, slotsInEpoch uint64) (*LeaderSchedule, error) {
	keys := make([]types.Pubkey, 0, len(st.VoteAccounts))
	for k, v := range st.VoteAccounts {
		if v.Stake > 0 {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("leaderschedule: no staked vote accounts for epoch %d", epoch)
	}
	sort.Slice(keys, func(i, j int) bool { return string(keys[i][:]) < string(keys[j][:]) })

	weights := make([]uint64, len(keys))
	cum := make([]uint64, len(keys))
	var total uint64
	for i, k := range keys {
		weights[i] = st.StakeOf(k)
		total += weights[i]
		cum[i] = total
	}

	ls := &LeaderSchedule{epoch: epoch, slots: make([]types.Pubkey, slotsInEpoch)}
	for i := uint64(0); i < slotsInEpoch; i++ {
		var idxBuf [8]byte
		binary.LittleEndian.PutUint64(idxBuf[:], i)
		draw := types.HashData(seed[:], idxBuf[:])
		r := binary.LittleEndian.Uint64(draw[:8]) % total
		pos := sort.Search(len(cum), func(j int) bool { return cum[j] > r })
		ls.slots[i] = keys[pos]
	}
	return ls, nil
}

// Epoch returns the epoch this schedule was computed for.
func (ls *LeaderSchedule) Epoch() types.Epoch { return ls.epoch }

// LeaderAt returns the pubkey assigned to slotIndex, the zero-based offset
// within the epoch (as returned by epoch.Schedule.GetEpochAndSlotIndex).
func (ls *LeaderSchedule) LeaderAt(slotIndex uint64) types.Pubkey {
	return ls.slots[slotIndex%uint64(len(ls.slots))]
}

// NumLeaderSlots returns how many of the epoch's slots were assigned to
// leader, used by the staking/rewards side to judge uptime.
func (ls *LeaderSchedule) NumLeaderSlots(leader types.Pubkey) int {
	n := 0
	for _, k := range ls.slots {
		if k == leader {
			n++
		}
	}
	return n
}
