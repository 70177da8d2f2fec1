// Package validator wires the bank, ledger, PoH, replay, and locktower
// packages into the process lifecycle a running node actually drives:
// construct, start its background threads, and exit/join on shutdown.
package validator

import (
	"errors"
	"fmt"

	"github.com/luhuimao/morgan/ledger"
	"github.com/luhuimao/morgan/types"
)

// Config holds everything a Validator needs to construct, mirroring §6's
// "construct with {node_identity, vote_account, storage_account,
// ledger_path, entrypoint?, config{...}}" shape.
type Config struct {
	// NodeIdentity is this validator's signing keypair pubkey: the
	// collector_id credited for every slot it leads.
	NodeIdentity types.Pubkey

	// VoteAccount is the account locktower votes are sent from.
	VoteAccount types.Pubkey

	// StorageAccount is carried through for storage-mining proof
	// submission; the core does not interpret it (storage program
	// implementations are a collaborator concern, §1).
	StorageAccount types.Pubkey

	// LedgerPath names the on-disk ledger directory. The in-memory Store
	// used by this implementation ignores it, but it is validated and
	// retained so a future disk-backed Store can be swapped in without
	// changing the Config shape.
	LedgerPath string

	// Entrypoint is an optional gossip entrypoint address used to join
	// an existing cluster. Gossip itself is out of scope (§1); this
	// field is retained purely so cluster-joining tooling built on top
	// of this package has somewhere to put it.
	Entrypoint *string

	// SigverifyDisabled is accepted for interface compatibility with
	// callers that toggle signature-verification acceleration; this
	// core never performs ed25519 verification itself (signature-batch
	// verification acceleration is explicitly out of scope, §1), so the
	// flag has no effect here beyond being validated and stored.
	SigverifyDisabled bool

	// VotingDisabled runs replay and leader-slot production without
	// ever calling Locktower.RecordVote -- a listen-only node.
	VotingDisabled bool

	// StorageRotateCount is carried through unused, same rationale as
	// StorageAccount.
	StorageRotateCount uint64

	// AccountPaths optionally overrides where account state is stored;
	// the in-memory accounts.Store used here ignores it.
	AccountPaths []string

	// SlotsPerEpoch, StakersSlotOffset, and EpochWarmup parameterize the
	// epoch.Schedule built for this validator, per the genesis block's
	// epoch_warmup/slots_per_epoch/stakers_slot_offset fields (§6).
	SlotsPerEpoch     uint64
	StakersSlotOffset uint64
	EpochWarmup       bool

	// Genesis seeds the slot-0 bank this validator starts replay from.
	Genesis *ledger.GenesisBlock
}

// Validate checks the fields required to construct a Validator.
func (c *Config) Validate() error {
	if c.LedgerPath == "" {
		return errors.New("validator: config: ledger_path must not be empty")
	}
	if c.Genesis == nil {
		return errors.New("validator: config: genesis must not be nil")
	}
	if c.SlotsPerEpoch == 0 {
		return fmt.Errorf("validator: config: invalid slots_per_epoch: %d", c.SlotsPerEpoch)
	}
	var zero types.Pubkey
	if c.NodeIdentity == zero {
		return errors.New("validator: config: node_identity must not be the zero pubkey")
	}
	return nil
}
