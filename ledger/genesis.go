package ledger

import (
	"github.com/luhuimao/morgan/accounts"
	"github.com/luhuimao/morgan/bank"
	"github.com/luhuimao/morgan/types"
)

// Alloc is the genesis allocation map: address -> initial account image.
type Alloc map[types.Pubkey]accounts.Account

// GenesisBlock describes the state a validator's slot 0 bank is built
// from: the initial account allocation (including the vote and stake
// accounts any bootstrap validator needs to be immediately schedulable),
// the programs that own the vote/stake accounting, and the fee schedule.
type GenesisBlock struct {
	Hash          types.Hash
	Alloc         Alloc
	VoteProgram   types.Pubkey
	StakeProgram  types.Pubkey
	FeeCalculator bank.FeeCalculator
	TicksPerSlot  uint64
}

// ToBank materializes the genesis allocation into store and returns the
// slot-0 bank built on top of it.
func (g *GenesisBlock) ToBank(store *accounts.Store) *bank.Bank {
	for key, acct := range g.Alloc {
		store.StoreSlow(0, key, acct)
	}
	return bank.NewGenesisBank(store, g.Hash, g.FeeCalculator, g.VoteProgram, g.StakeProgram)
}
