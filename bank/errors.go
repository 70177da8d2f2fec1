package bank

import "fmt"

// InstructionErrorKind enumerates the ways a single instruction can fail
// during execution. Unlike TransactionError, an InstructionError is
// committable: the transaction that produced it still pays its fee and
// still occupies a status-cache slot.
type InstructionErrorKind int

const (
	// GenericError covers a processor-specific failure with no dedicated
	// kind below.
	GenericError InstructionErrorKind = iota
	// MissingRequiredSignature means an account the instruction needed as
	// a signer was not present among the transaction's required signers.
	MissingRequiredSignature
	// InvalidInstructionData means the processor could not decode data.
	InvalidInstructionData
	// IncorrectProgramID means the account at the instruction's program
	// index is not owned by (or is not) the expected program.
	IncorrectProgramID
	// UnbalancedInstruction means an instruction that must conserve the sum
	// of difs across its accounts did not.
	UnbalancedInstruction
	// ResultWithNegativeBalance means an instruction attempted to debit an
	// account below zero.
	ResultWithNegativeBalance
	// CustomError carries a processor-defined numeric code, analogous to a
	// program's own error enum.
	CustomError
)

func (k InstructionErrorKind) String() string {
	switch k {
	case MissingRequiredSignature:
		return "missing required signature"
	case InvalidInstructionData:
		return "invalid instruction data"
	case IncorrectProgramID:
		return "incorrect program id"
	case UnbalancedInstruction:
		return "unbalanced instruction"
	case ResultWithNegativeBalance:
		return "result with negative balance"
	case CustomError:
		return "custom error"
	default:
		return "generic error"
	}
}

// InstructionError is the result of a single failed instruction.
type InstructionError struct {
	Kind InstructionErrorKind
	Code uint32
}

func (e *InstructionError) Error() string {
	if e.Kind == CustomError {
		return fmt.Sprintf("custom program error: %d", e.Code)
	}
	return e.Kind.String()
}

// TransactionErrorKind enumerates the ways a transaction can fail before or
// instead of executing its instructions. Every kind except InstructionErr is
// non-committable: no fee is charged, no status-cache entry is written, and
// the bank's transaction_count/is_delta bookkeeping does not advance.
type TransactionErrorKind int

const (
	// AccountInUse means an account the transaction would write to is
	// locked by another in-flight transaction in the same bank.
	AccountInUse TransactionErrorKind = iota
	// AccountLoadedTwice means the same account key appears more than once
	// among the transaction's account keys.
	AccountLoadedTwice
	// InvalidAccountIndex means an instruction referenced an account or
	// program index outside the message's account-key list.
	InvalidAccountIndex
	// BlockhashNotFound means the message's recent blockhash is not in the
	// blockhash queue's retention window (P1).
	BlockhashNotFound
	// DuplicateSignature means the transaction's signature was already
	// committed on a slot visible to this bank (P7).
	DuplicateSignature
	// InsufficientFundsForFee means the fee payer's balance could not cover
	// the transaction fee; since the fee itself cannot be charged, this
	// transaction has no effect at all and is not committable.
	InsufficientFundsForFee
	// InvalidAccountForFee means the fee payer account does not exist.
	InvalidAccountForFee
	// InstructionErr wraps a failed instruction at Index; this is the one
	// committable TransactionError kind (S4: fee on failure).
	InstructionErr
)

func (k TransactionErrorKind) String() string {
	switch k {
	case AccountInUse:
		return "account in use"
	case AccountLoadedTwice:
		return "account loaded twice"
	case InvalidAccountIndex:
		return "invalid account index"
	case BlockhashNotFound:
		return "blockhash not found"
	case DuplicateSignature:
		return "duplicate signature"
	case InsufficientFundsForFee:
		return "insufficient funds for fee"
	case InvalidAccountForFee:
		return "invalid account for fee"
	case InstructionErr:
		return "instruction error"
	default:
		return "transaction error"
	}
}

// TransactionError is the result of a failed transaction.
type TransactionError struct {
	Kind  TransactionErrorKind
	Index int
	Inst  *InstructionError
}

func (e *TransactionError) Error() string {
	if e.Kind == InstructionErr && e.Inst != nil {
		return fmt.Sprintf("instruction %d failed: %s", e.Index, e.Inst.Error())
	}
	return e.Kind.String()
}

// MayCommit reports whether this error kind is even eligible to leave an
// effect (a fee charge and a status-cache entry, §7): only a failed
// instruction is -- every other kind aborts before the fee payer is
// touched. Whether it actually does commit also depends on the fee rate in
// effect: see Bank.ProcessTransactions.
func (e *TransactionError) MayCommit() bool {
	return e.Kind == InstructionErr
}
