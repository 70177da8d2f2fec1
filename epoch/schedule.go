// Package epoch implements the deterministic slot<->epoch mapping used by
// the leader schedule and by every component that needs to know "how far
// into the epoch is this slot". It mirrors an exponential warmup period
// (each of the first few epochs is twice the length of the last) followed by
// a constant-length steady state, so a brand-new cluster's first leader
// schedule can be computed before enough stake has warmed up to justify a
// full-length epoch.
package epoch

import (
	"math/bits"

	"github.com/luhuimao/morgan/types"
)

// MinimumSlotsPerEpoch is the shortest an epoch is ever allowed to be,
// including during warmup.
const MinimumSlotsPerEpoch = 32

// Schedule computes the epoch and within-epoch slot index for any slot.
type Schedule struct {
	SlotsPerEpoch      uint64
	StakersSlotOffset  uint64
	Warmup             bool
	FirstNormalEpoch   types.Epoch
	FirstNormalSlot    types.Slot
}

// NewSchedule builds a Schedule. slotsPerEpoch is the steady-state epoch
// length; stakersSlotOffset is how many slots before an epoch boundary its
// leader schedule is computed from (matching spec's "stakers_epoch"
// look-ahead). When warmup is true, epochs 0..FirstNormalEpoch-1 double in
// length starting from MinimumSlotsPerEpoch.
func NewSchedule(slotsPerEpoch, stakersSlotOffset uint64, warmup bool) *Schedule {
	if slotsPerEpoch < MinimumSlotsPerEpoch {
		slotsPerEpoch = MinimumSlotsPerEpoch
	}
	s := &Schedule{
		SlotsPerEpoch:     slotsPerEpoch,
		StakersSlotOffset: stakersSlotOffset,
		Warmup:            warmup,
	}
	if !warmup {
		return s
	}
	firstNormalEpoch := uint64(bits.Len64(slotsPerEpoch/MinimumSlotsPerEpoch)) - 1
	s.FirstNormalEpoch = types.Epoch(firstNormalEpoch)
	s.FirstNormalSlot = types.Slot(MinimumSlotsPerEpoch * ((uint64(1) << firstNormalEpoch) - 1))
	return s
}

// GetSlotsInEpoch returns how many slots epoch spans.
func (s *Schedule) GetSlotsInEpoch(e types.Epoch) uint64 {
	if !s.Warmup || e >= s.FirstNormalEpoch {
		return s.SlotsPerEpoch
	}
	return MinimumSlotsPerEpoch << uint64(e)
}

// GetFirstSlotInEpoch returns the first slot belonging to epoch e.
func (s *Schedule) GetFirstSlotInEpoch(e types.Epoch) types.Slot {
	if !s.Warmup || e >= s.FirstNormalEpoch {
		extra := uint64(0)
		if e > s.FirstNormalEpoch {
			extra = (uint64(e) - uint64(s.FirstNormalEpoch)) * s.SlotsPerEpoch
		}
		return s.FirstNormalSlot + types.Slot(extra)
	}
	return types.Slot(MinimumSlotsPerEpoch * ((uint64(1) << uint64(e)) - 1))
}

// GetEpochAndSlotIndex returns the epoch slot belongs to and its zero-based
// offset within that epoch.
func (s *Schedule) GetEpochAndSlotIndex(slot types.Slot) (types.Epoch, uint64) {
	if !s.Warmup || slot >= s.FirstNormalSlot {
		rel := uint64(slot) - uint64(s.FirstNormalSlot)
		epoch := s.FirstNormalEpoch + types.Epoch(rel/s.SlotsPerEpoch)
		return epoch, rel % s.SlotsPerEpoch
	}
	// slot/MinimumSlotsPerEpoch + 1 is a power-of-two search for the
	// smallest epoch whose cumulative length exceeds slot.
	epoch := types.Epoch(bits.Len64(uint64(slot)/MinimumSlotsPerEpoch + 1)) - 1
	start := s.GetFirstSlotInEpoch(epoch)
	return epoch, uint64(slot) - uint64(start)
}

// GetEpoch returns just the epoch component of GetEpochAndSlotIndex.
func (s *Schedule) GetEpoch(slot types.Slot) types.Epoch {
	e, _ := s.GetEpochAndSlotIndex(slot)
	return e
}

// GetStakersEpoch returns the epoch whose leader schedule should be
// computed using the stakes as of slot -- stakersSlotOffset slots ahead of
// slot's own epoch, matching the stakers_epoch look-ahead so the schedule
// for an epoch is fixed well before that epoch begins.
func (s *Schedule) GetStakersEpoch(slot types.Slot) types.Epoch {
	epoch, _ := s.GetEpochAndSlotIndex(slot + types.Slot(s.StakersSlotOffset))
	return epoch
}
