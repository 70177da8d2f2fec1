package bank

import "github.com/luhuimao/morgan/types"

// MaxTransactionSize is the network packet-data size a wire-encoded
// Transaction must fit within (§6), the same ceiling the drone/faucet
// protocol's serialized-transaction response is bounded by.
const MaxTransactionSize = 1232

// Instruction is a single program invocation within a Message: the index
// into Message.AccountKeys naming the program to invoke, the indices of the
// accounts it may touch, and opaque instruction data. Struct tags give the
// dynamic-ssz codec (ledger.EncodeEntries) the bounds it needs for the
// variable-length fields.
type Instruction struct {
	ProgramIdx  uint8
	AccountIdxs []uint8 `ssz-max:"255"`
	Data        []byte  `ssz-max:"1232"`
}

// Message is the signed, hashable portion of a Transaction: every account
// the transaction will touch, how many of AccountKeys must have signed, the
// blockhash it was built against (for age/replay checks), and the
// instructions to execute in order.
type Message struct {
	AccountKeys           []types.Pubkey `ssz-max:"35"`
	NumRequiredSignatures uint8
	RecentBlockhash       types.Hash
	Instructions          []Instruction `ssz-max:"64"`
}

// FeePayer is the account that pays the transaction fee and must be the
// first required signer.
func (m *Message) FeePayer() types.Pubkey {
	if len(m.AccountKeys) == 0 {
		return types.Pubkey{}
	}
	return m.AccountKeys[0]
}

// Transaction pairs a Message with one signature per required signer, in
// AccountKeys order. Cryptographic signature verification is explicitly out
// of scope (batch sig-verification acceleration is a non-goal); the bank
// only checks that a signature slot is structurally present and non-empty
// for each required signer.
type Transaction struct {
	Signatures []types.Signature `ssz-max:"19"`
	Message    Message
}

// ID returns the transaction's identity for status-cache and duplicate
// detection purposes: the first signature, matching the convention that the
// fee payer's signature uniquely identifies a landed transaction.
func (tx *Transaction) ID() types.Signature {
	if len(tx.Signatures) == 0 {
		return types.Signature{}
	}
	return tx.Signatures[0]
}
