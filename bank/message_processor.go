package bank

import (
	"encoding/binary"
	"sync"

	"github.com/holiman/uint256"

	"github.com/luhuimao/morgan/accounts"
	"github.com/luhuimao/morgan/types"
)

// ProcessFn executes a single instruction's data against the accounts it
// named, in the order instr.AccountIdxs resolved them. It mutates accts in
// place; a non-nil return aborts the whole transaction (no partial writes
// are committed -- see Bank.ProcessTransactions).
type ProcessFn func(data []byte, accts []*accounts.Account) *InstructionError

// MessageProcessor is the core's program-registration interface: a registry
// from owning program ID to the native handler invoked for instructions
// addressed to it. On-chain (interpreted) program execution is out of
// scope; only natively registered processors -- the system program here --
// are invocable.
type MessageProcessor struct {
	mu       sync.RWMutex
	programs map[types.Pubkey]ProcessFn
}

// NewMessageProcessor returns a processor with the built-in system program
// registered.
func NewMessageProcessor() *MessageProcessor {
	mp := &MessageProcessor{programs: make(map[types.Pubkey]ProcessFn)}
	mp.Register(SystemProgramID, systemProgramProcess)
	return mp
}

// Register binds program to fn, replacing any previous handler. Tests
// install additional native processors this way.
func (mp *MessageProcessor) Register(program types.Pubkey, fn ProcessFn) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.programs[program] = fn
}

// process dispatches to the handler registered for programID. A program ID
// with no registered handler is IncorrectProgramID: the core has no
// interpreter to fall back to.
func (mp *MessageProcessor) process(programID types.Pubkey, data []byte, accts []*accounts.Account) *InstructionError {
	mp.mu.RLock()
	fn, ok := mp.programs[programID]
	mp.mu.RUnlock()
	if !ok {
		return &InstructionError{Kind: IncorrectProgramID}
	}
	return fn(data, accts)
}

// SystemProgramID is the all-zero pubkey, matching the convention that the
// system program -- the one every account starts out owned by -- has no
// delegated address.
var SystemProgramID = types.Pubkey{}

const systemInstructionTransfer = uint32(0)

// systemProgramProcess implements the system program's single instruction,
// Transfer: data is a 4-byte little-endian instruction tag followed by an
// 8-byte little-endian dif amount; accts[0] is debited and accts[1] is
// credited. It is the native handler exercised by S1-S4.
func systemProgramProcess(data []byte, accts []*accounts.Account) *InstructionError {
	if len(data) < 12 {
		return &InstructionError{Kind: InvalidInstructionData}
	}
	tag := binary.LittleEndian.Uint32(data[0:4])
	if tag != systemInstructionTransfer {
		return &InstructionError{Kind: InvalidInstructionData}
	}
	if len(accts) < 2 {
		return &InstructionError{Kind: InvalidInstructionData}
	}
	amount := binary.LittleEndian.Uint64(data[4:12])

	from, to := accts[0], accts[1]
	if from.Difs < amount {
		return &InstructionError{Kind: ResultWithNegativeBalance}
	}

	// Credit with overflow detection (Open Question: reward/credit overflow
	// policy) -- a credit that would wrap a uint64 is rejected outright
	// rather than silently saturating or wrapping, so no instruction can
	// manufacture difs out of thin air via overflow.
	sum := new(uint256.Int).SetUint64(to.Difs)
	sum.Add(sum, new(uint256.Int).SetUint64(amount))
	if !sum.IsUint64() {
		return &InstructionError{Kind: GenericError}
	}

	from.Difs -= amount
	to.Difs = sum.Uint64()
	return nil
}
