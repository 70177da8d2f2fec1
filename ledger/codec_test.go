package ledger

import (
	"testing"

	"github.com/luhuimao/morgan/bank"
	"github.com/luhuimao/morgan/types"
)

func TestEncodeDecodeEntriesRoundTrip(t *testing.T) {
	tx := &bank.Transaction{
		Signatures: []types.Signature{{1, 2, 3}},
		Message: bank.Message{
			AccountKeys:           []types.Pubkey{pk(1), pk(2)},
			NumRequiredSignatures: 1,
			RecentBlockhash:       types.HashData([]byte("recent")),
			Instructions: []bank.Instruction{
				{ProgramIdx: 1, AccountIdxs: []uint8{0, 1}, Data: []byte{9, 9}},
			},
		},
	}
	entries := []Entry{
		{NumHashes: 3, Hash: types.HashData([]byte("tick"))},
		{NumHashes: 1, Hash: types.HashData([]byte("tx")), Transactions: []*bank.Transaction{tx}},
	}

	data, err := EncodeEntries(entries)
	if err != nil {
		t.Fatalf("EncodeEntries: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("EncodeEntries produced no bytes")
	}

	got, err := DecodeEntries(data)
	if err != nil {
		t.Fatalf("DecodeEntries: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("DecodeEntries returned %d entries, want 2", len(got))
	}
	if got[0].NumHashes != 3 || got[0].Hash != entries[0].Hash {
		t.Fatalf("entry 0 = %+v, want %+v", got[0], entries[0])
	}
	if len(got[1].Transactions) != 1 {
		t.Fatalf("entry 1 should carry one transaction, got %d", len(got[1].Transactions))
	}
	if got[1].Transactions[0].Message.RecentBlockhash != tx.Message.RecentBlockhash {
		t.Fatal("decoded transaction's recent blockhash does not match")
	}
}
