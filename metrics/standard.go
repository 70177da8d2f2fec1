package metrics

// Pre-defined metrics for the validator. All metrics live in DefaultRegistry
// so they are globally accessible without passing a registry around.

var (
	// ---- Bank / bank forks metrics ----

	// RootSlot tracks the current rooted slot.
	RootSlot = DefaultRegistry.Gauge("bank.root_slot")
	// FrozenBanks tracks the number of frozen-but-unrooted banks held by
	// BankForks.
	FrozenBanks = DefaultRegistry.Gauge("bank.frozen_banks")
	// BanksFrozen counts Bank.Freeze calls.
	BanksFrozen = DefaultRegistry.Counter("bank.freezes")
	// TransactionsProcessed counts committed transactions across all banks.
	TransactionsProcessed = DefaultRegistry.Counter("bank.transactions_processed")
	// TransactionErrors counts transactions that failed before commit
	// (blockhash not found, duplicate signature, account in use).
	TransactionErrors = DefaultRegistry.Counter("bank.transaction_errors")
	// InstructionErrors counts committed transactions whose instruction
	// execution failed (fee still charged).
	InstructionErrors = DefaultRegistry.Counter("bank.instruction_errors")
	// BankFreezeTime records the wall-clock duration of Bank.Freeze in
	// milliseconds.
	BankFreezeTime = DefaultRegistry.Histogram("bank.freeze_ms")

	// ---- Replay engine metrics ----

	// ReplayEntriesProcessed counts ledger entries applied to active banks.
	ReplayEntriesProcessed = DefaultRegistry.Counter("replay.entries_processed")
	// ReplayFailedForks counts forks marked failed by entry verification.
	ReplayFailedForks = DefaultRegistry.Counter("replay.failed_forks")
	// ReplayLagMs records the time between an entry's ledger arrival and its
	// execution, in milliseconds.
	ReplayLagMs = DefaultRegistry.Histogram("replay.lag_ms")

	// ---- Locktower / fork choice metrics ----

	// VotesCast counts vote transactions the node has signed and broadcast.
	VotesCast = DefaultRegistry.Counter("locktower.votes_cast")
	// LockoutStackDepth tracks the current depth of the local vote stack.
	LockoutStackDepth = DefaultRegistry.Gauge("locktower.stack_depth")
	// RootAdvances counts root-advance events driven by vote confirmation.
	RootAdvances = DefaultRegistry.Counter("locktower.root_advances")

	// ---- PoH metrics ----

	// PohTicks counts PoH ticks produced by this node.
	PohTicks = DefaultRegistry.Counter("poh.ticks")
	// PohEntriesRecorded counts transaction entries recorded while leading.
	PohEntriesRecorded = DefaultRegistry.Counter("poh.entries_recorded")
	// PohTickDriftMs records the deviation from target_tick_duration per
	// tick, in milliseconds.
	PohTickDriftMs = DefaultRegistry.Histogram("poh.tick_drift_ms")
)
