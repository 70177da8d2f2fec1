// Package bank implements the Bank: a single slot's view of account state,
// built by replaying transactions on top of a parent bank's state. A bank
// starts as a mutable child of its parent, accepts transactions until
// Freeze is called, and is immutable (but still readable by descendants)
// from that point on.
package bank

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/luhuimao/morgan/accounts"
	"github.com/luhuimao/morgan/blockhash"
	"github.com/luhuimao/morgan/log"
	"github.com/luhuimao/morgan/metrics"
	"github.com/luhuimao/morgan/stakes"
	"github.com/luhuimao/morgan/statuscache"
	"github.com/luhuimao/morgan/types"
)

// TicksPerSlot is the number of PoH ticks that make up one slot.
const TicksPerSlot = 64

// Bank is one slot's transaction-processing context: a fork-indexed view of
// the account store, a blockhash queue seeded from its parent, a reference
// to the fork-wide status cache, and the stake distribution used to judge
// votes cast against it.
type Bank struct {
	slot       types.Slot
	parentSlot types.Slot
	ancestors  map[types.Slot]int // self at depth 0

	accountsStore *accounts.Store
	blockhashes   *blockhash.Queue
	statusCache   *statuscache.Cache
	processor     *MessageProcessor

	stakesMu    sync.RWMutex
	stakes      *stakes.Stakes
	epochStakes map[types.Epoch]*stakes.Stakes

	feeCalculator FeeCalculator
	collector     types.Pubkey
	hasCollector  bool

	tickHeight    uint64 // atomic
	maxTickHeight uint64

	lockMu sync.Mutex
	locked map[types.Pubkey]bool

	transactionCount uint64 // atomic
	isDelta          int32  // atomic bool

	freezeMu sync.Mutex
	frozen   bool
	hash     types.Hash

	log *log.Logger
}

// NewGenesisBank creates slot 0, seeded with genesisHash as its only recent
// blockhash and stakes derived from whatever vote/stake accounts the
// genesis allocation already installed into store.
func NewGenesisBank(store *accounts.Store, genesisHash types.Hash, fee FeeCalculator, voteProgram, stakeProgram types.Pubkey) *Bank {
	ancestors := map[types.Slot]int{0: 0}
	q := blockhash.NewQueue(blockhash.MaxRecentBlockhashes)
	q.RegisterHash(genesisHash)

	b := &Bank{
		slot:          0,
		parentSlot:    0,
		ancestors:     ancestors,
		accountsStore: store,
		blockhashes:   q,
		statusCache:   statuscache.New(blockhash.MaxRecentBlockhashes),
		processor:     NewMessageProcessor(),
		feeCalculator: fee,
		maxTickHeight: TicksPerSlot,
		locked:        make(map[types.Pubkey]bool),
		log:           log.Default().Module("bank"),
	}
	b.stakes = stakes.Rebuild(store, ancestors, voteProgram, stakeProgram)
	b.epochStakes = map[types.Epoch]*stakes.Stakes{0: b.stakes}
	return b
}

// NewFromParent creates slot as a child of parent: it shares parent's
// account store and status cache by reference (so writes either bank makes
// become visible to the other's descendants exactly when the ancestor
// relationship says they should), clones parent's blockhash queue (each
// fork accumulates its own tail of recent blockhashes), and inherits
// parent's stakes until a later epoch boundary rebuilds them. leader is
// this slot's collector_id: the account credited with every transaction
// fee collected while this bank is open, win or lose (S4).
func NewFromParent(parent *Bank, leader types.Pubkey, slot types.Slot) *Bank {
	ancestors := make(map[types.Slot]int, len(parent.ancestors)+1)
	for s, depth := range parent.ancestors {
		ancestors[s] = depth + 1
	}
	ancestors[slot] = 0

	parent.stakesMu.RLock()
	epochStakes := make(map[types.Epoch]*stakes.Stakes, len(parent.epochStakes))
	for e, s := range parent.epochStakes {
		epochStakes[e] = s
	}
	currentStakes := parent.stakes
	parent.stakesMu.RUnlock()

	parentTickHeight := parent.TickHeight()

	return &Bank{
		slot:          slot,
		parentSlot:    parent.slot,
		ancestors:     ancestors,
		accountsStore: parent.accountsStore,
		blockhashes:   parent.blockhashes.Clone(),
		statusCache:   parent.statusCache,
		processor:     parent.processor,
		stakes:        currentStakes,
		epochStakes:   epochStakes,
		feeCalculator: parent.feeCalculator,
		collector:     leader,
		hasCollector:  true,
		tickHeight:    parentTickHeight,
		maxTickHeight: parentTickHeight + TicksPerSlot,
		locked:        make(map[types.Pubkey]bool),
		log:           log.Default().Module("bank"),
	}
}

// Slot returns the bank's own slot.
func (b *Bank) Slot() types.Slot { return b.slot }

// ParentSlot returns the slot this bank was built on top of.
func (b *Bank) ParentSlot() types.Slot { return b.parentSlot }

// Collector returns this slot's fee-collector pubkey, and false if this is
// the genesis bank (which has none).
func (b *Bank) Collector() (types.Pubkey, bool) { return b.collector, b.hasCollector }

// Ancestors returns a copy of the bank's depth map (self at depth 0).
func (b *Bank) Ancestors() map[types.Slot]int {
	c := make(map[types.Slot]int, len(b.ancestors))
	for s, d := range b.ancestors {
		c[s] = d
	}
	return c
}

// AccountsStore returns the shared account store, for BankForks' squash and
// purge operations.
func (b *Bank) AccountsStore() *accounts.Store { return b.accountsStore }

// StatusCache returns the shared status cache, for BankForks' rooting.
func (b *Bank) StatusCache() *statuscache.Cache { return b.statusCache }

// BlockhashQueue returns this bank's own blockhash queue.
func (b *Bank) BlockhashQueue() *blockhash.Queue { return b.blockhashes }

// Processor returns the shared message processor, letting callers register
// additional native programs before transactions land.
func (b *Bank) Processor() *MessageProcessor { return b.processor }

// LoadAccount reads key as visible through this bank's ancestors.
func (b *Bank) LoadAccount(key types.Pubkey) (accounts.Account, bool) {
	acct, _, ok := b.accountsStore.Load(b.ancestors, key)
	return acct, ok
}

// TransactionCount returns the number of transactions that have committed
// an effect (successful, or failed-but-fee-charged) on this bank.
func (b *Bank) TransactionCount() uint64 { return atomic.LoadUint64(&b.transactionCount) }

// IsDelta reports whether any transaction committed an effect on this bank.
func (b *Bank) IsDelta() bool { return atomic.LoadInt32(&b.isDelta) != 0 }

// RegisterTick advances the bank's tick height and appends hash as a new
// entry in its recent-blockhash queue, making it eligible as a recent
// blockhash for new transactions from this point on.
func (b *Bank) RegisterTick(hash types.Hash) {
	atomic.AddUint64(&b.tickHeight, 1)
	b.blockhashes.RegisterHash(hash)
}

// TickHeight returns how many ticks have been registered.
func (b *Bank) TickHeight() uint64 { return atomic.LoadUint64(&b.tickHeight) }

// MaxTickHeight returns the tick height at which this slot is complete.
func (b *Bank) MaxTickHeight() uint64 { return b.maxTickHeight }

// VoteAccounts returns this bank's current stake-weighted vote accounts.
func (b *Bank) VoteAccounts() map[types.Pubkey]stakes.VoteAccountInfo {
	b.stakesMu.RLock()
	defer b.stakesMu.RUnlock()
	return b.stakes.VoteAccounts
}

// EpochVoteAccounts returns the vote accounts frozen in as of epoch's stake
// rebuild, or nil if epoch has no recorded snapshot.
func (b *Bank) EpochVoteAccounts(epoch types.Epoch) map[types.Pubkey]stakes.VoteAccountInfo {
	b.stakesMu.RLock()
	defer b.stakesMu.RUnlock()
	s, ok := b.epochStakes[epoch]
	if !ok {
		return nil
	}
	return s.VoteAccounts
}

// UpdateStakes rebuilds the bank's stake view from the current account
// store and records it under epoch. The leader-schedule generator calls
// this at an epoch boundary, stakersSlotOffset slots ahead of the epoch it
// governs.
func (b *Bank) UpdateStakes(epoch types.Epoch, voteProgram, stakeProgram types.Pubkey) {
	rebuilt := stakes.Rebuild(b.accountsStore, b.ancestors, voteProgram, stakeProgram)
	b.stakesMu.Lock()
	defer b.stakesMu.Unlock()
	b.stakes = rebuilt
	b.epochStakes[epoch] = rebuilt
}

// IsFrozen reports whether Freeze has completed.
func (b *Bank) IsFrozen() bool {
	b.freezeMu.Lock()
	defer b.freezeMu.Unlock()
	return b.frozen
}

// Hash returns the bank's frozen hash, or the zero hash if it has not been
// frozen yet.
func (b *Bank) Hash() types.Hash {
	b.freezeMu.Lock()
	defer b.freezeMu.Unlock()
	return b.hash
}

// Freeze computes the bank's hash from its parent blockhash, its
// accounts-delta digest and its transaction count, and marks it immutable.
// It is idempotent (P5): calling it again after the first time is a no-op
// that returns the already-computed hash.
func (b *Bank) Freeze() types.Hash {
	b.freezeMu.Lock()
	defer b.freezeMu.Unlock()
	if b.frozen {
		return b.hash
	}
	delta := b.accountsStore.HashInternalState(b.slot)
	parent := b.blockhashes.LastHash()
	var countBuf [8]byte
	n := atomic.LoadUint64(&b.transactionCount)
	for i := 0; i < 8; i++ {
		countBuf[i] = byte(n >> (8 * uint(i)))
	}
	b.hash = types.HashData(parent[:], delta[:], countBuf[:])
	b.frozen = true
	metrics.BanksFrozen.Inc()
	return b.hash
}

// IsVotable reports whether this bank has both finished all of its ticks
// and been frozen -- the gate a candidate bank must pass before Locktower
// will consider voting on it (P6).
func (b *Bank) IsVotable() bool {
	return b.IsFrozen() && b.TickHeight() >= b.maxTickHeight
}

// Result is the outcome of processing a single transaction.
type Result struct {
	Err error
}

// ProcessTransactions executes each transaction against this bank. Within
// one call, transactions whose writable account sets are disjoint execute
// concurrently; any transaction that conflicts with one already locked by
// this same call is failed immediately with AccountInUse rather than
// retried, mirroring a validator's banking stage rejecting a batch it
// cannot parallelize. Must not be called on a frozen bank.
func (b *Bank) ProcessTransactions(txs []*Transaction) []Result {
	if b.IsFrozen() {
		results := make([]Result, len(txs))
		for i := range results {
			results[i] = Result{Err: &TransactionError{Kind: AccountInUse}}
		}
		return results
	}

	results := make([]Result, len(txs))
	var wg sync.WaitGroup
	for i, tx := range txs {
		writable, err := b.writableKeys(tx)
		if err != nil {
			results[i] = Result{Err: err}
			continue
		}
		if !b.tryLock(writable) {
			results[i] = Result{Err: &TransactionError{Kind: AccountInUse}}
			continue
		}
		wg.Add(1)
		go func(i int, tx *Transaction, writable []types.Pubkey) {
			defer wg.Done()
			defer b.unlock(writable)
			results[i] = Result{Err: b.processOne(tx)}
		}(i, tx, writable)
	}
	wg.Wait()
	return results
}

// writableKeys validates a transaction's account-key structure and returns
// the keys it will lock for the duration of its execution: every distinct
// account key named in the message (the core treats all referenced
// accounts as writable, since the data model carries no per-account
// read-only bit).
func (b *Bank) writableKeys(tx *Transaction) ([]types.Pubkey, error) {
	msg := &tx.Message
	if len(msg.AccountKeys) == 0 {
		return nil, &TransactionError{Kind: InvalidAccountIndex}
	}
	seen := make(map[types.Pubkey]bool, len(msg.AccountKeys))
	keys := make([]types.Pubkey, 0, len(msg.AccountKeys))
	for _, k := range msg.AccountKeys {
		if seen[k] {
			return nil, &TransactionError{Kind: AccountLoadedTwice}
		}
		seen[k] = true
		keys = append(keys, k)
	}
	for _, instr := range msg.Instructions {
		if int(instr.ProgramIdx) >= len(msg.AccountKeys) {
			return nil, &TransactionError{Kind: InvalidAccountIndex}
		}
		for _, idx := range instr.AccountIdxs {
			if int(idx) >= len(msg.AccountKeys) {
				return nil, &TransactionError{Kind: InvalidAccountIndex}
			}
		}
	}
	sort.Slice(keys, func(i, j int) bool { return string(keys[i][:]) < string(keys[j][:]) })
	return keys, nil
}

func (b *Bank) tryLock(keys []types.Pubkey) bool {
	b.lockMu.Lock()
	defer b.lockMu.Unlock()
	for _, k := range keys {
		if b.locked[k] {
			return false
		}
	}
	for _, k := range keys {
		b.locked[k] = true
	}
	return true
}

func (b *Bank) unlock(keys []types.Pubkey) {
	b.lockMu.Lock()
	defer b.lockMu.Unlock()
	for _, k := range keys {
		delete(b.locked, k)
	}
}

// processOne executes a single transaction that already holds its account
// locks: structural signature check, blockhash age (P1), duplicate
// signature (P7), fee charge, instruction execution, and commit.
func (b *Bank) processOne(tx *Transaction) error {
	rejected := func(kind TransactionErrorKind) error {
		metrics.TransactionErrors.Inc()
		return &TransactionError{Kind: kind}
	}

	msg := &tx.Message
	if int(msg.NumRequiredSignatures) > len(tx.Signatures) || int(msg.NumRequiredSignatures) > len(msg.AccountKeys) {
		return rejected(InvalidAccountIndex)
	}
	for i := 0; i < int(msg.NumRequiredSignatures); i++ {
		if tx.Signatures[i] == (types.Signature{}) {
			return rejected(InvalidAccountIndex)
		}
	}

	if !b.blockhashes.CheckHashAge(msg.RecentBlockhash, blockhash.MaxRecentBlockhashes) {
		return rejected(BlockhashNotFound)
	}

	sig := tx.ID()
	if _, ok := b.statusCache.GetSignatureStatus(sig, msg.RecentBlockhash, b.ancestors); ok {
		return rejected(DuplicateSignature)
	}

	payerKey := msg.FeePayer()
	payer, ok := b.LoadAccount(payerKey)
	if !ok {
		return rejected(InvalidAccountForFee)
	}
	fee := b.feeCalculator.CalculateFee(len(tx.Signatures))
	if payer.Difs < fee {
		return rejected(InsufficientFundsForFee)
	}

	images := make(map[types.Pubkey]*accounts.Account, len(msg.AccountKeys))
	for _, key := range msg.AccountKeys {
		acct, _ := b.LoadAccount(key)
		a := acct
		images[key] = &a
	}

	var instrErr *InstructionError
	for _, instr := range msg.Instructions {
		programID := msg.AccountKeys[instr.ProgramIdx]
		accts := make([]*accounts.Account, 0, len(instr.AccountIdxs))
		for _, aidx := range instr.AccountIdxs {
			accts = append(accts, images[msg.AccountKeys[aidx]])
		}
		if e := b.processor.process(programID, instr.Data, accts); e != nil {
			instrErr = e
			break
		}
	}

	committable := instrErr == nil
	feeCharged := fee > 0
	if feeCharged {
		committable = true
	}

	var toCommit map[types.Pubkey]accounts.Account
	if instrErr == nil {
		// Success: the fee is debited on top of the post-instruction image,
		// and every touched account commits together.
		p := *images[payerKey]
		p.Difs -= fee
		images[payerKey] = &p
		toCommit = make(map[types.Pubkey]accounts.Account, len(images)+1)
		for k, v := range images {
			toCommit[k] = *v
		}
	} else if feeCharged {
		// Fee-on-failure (S4): every instruction-level mutation this
		// transaction made is discarded; only the fee, debited from the
		// fee payer's pristine pre-execution balance, persists (S3's
		// atomicity requirement).
		feePayer := payer
		feePayer.Difs -= fee
		toCommit = map[types.Pubkey]accounts.Account{payerKey: feePayer}
	}
	if feeCharged && b.hasCollector {
		collector, ok := toCommit[b.collector]
		if !ok {
			collector, _ = b.LoadAccount(b.collector)
		}
		collector.Difs += fee
		toCommit[b.collector] = collector
	}
	if toCommit != nil {
		b.accountsStore.StoreAccounts(b.slot, toCommit)
	}

	var txErr error
	if instrErr != nil {
		txErr = &TransactionError{Kind: InstructionErr, Inst: instrErr}
	}

	if committable {
		b.statusCache.Insert(msg.RecentBlockhash, sig, b.slot, txErr)
		atomic.AddUint64(&b.transactionCount, 1)
		atomic.StoreInt32(&b.isDelta, 1)
		metrics.TransactionsProcessed.Inc()
		if txErr != nil {
			metrics.InstructionErrors.Inc()
		}
	}

	if txErr != nil {
		return txErr
	}
	return nil
}

// String implements fmt.Stringer for diagnostics.
func (b *Bank) String() string {
	return fmt.Sprintf("Bank{slot=%d parent=%d frozen=%v}", b.slot, b.parentSlot, b.IsFrozen())
}
