package accounts

import (
	"encoding/binary"

	"github.com/luhuimao/morgan/types"
)

// Account is the validator's unit of state: a principal balance (Difs), an
// opaque data blob, an owning program, an executable flag, and a parallel
// non-transferable counter (Reputations). Both balances are non-negative;
// withdrawing below zero must fail before the write is applied.
type Account struct {
	Difs        uint64
	Data        []byte
	Owner       types.Pubkey
	Executable  bool
	Reputations uint64
}

// Clone returns a deep copy so callers can mutate the result without
// aliasing the account image stored in the account store.
func (a Account) Clone() Account {
	c := a
	if a.Data != nil {
		c.Data = make([]byte, len(a.Data))
		copy(c.Data, a.Data)
	}
	return c
}

// Bytes returns a deterministic serialization of the account used for
// hashing (accounts-delta digests) and nothing else -- it is not a wire
// format.
func (a Account) Bytes() []byte {
	buf := make([]byte, 8+len(a.Data)+32+1+8)
	binary.LittleEndian.PutUint64(buf[0:8], a.Difs)
	n := copy(buf[8:], a.Data)
	off := 8 + n
	copy(buf[off:off+32], a.Owner[:])
	off += 32
	if a.Executable {
		buf[off] = 1
	}
	off++
	binary.LittleEndian.PutUint64(buf[off:off+8], a.Reputations)
	return buf
}

// IsZero reports whether the account is the default, uninitialized value.
func (a Account) IsZero() bool {
	return a.Difs == 0 && len(a.Data) == 0 && a.Owner.IsZero() && !a.Executable && a.Reputations == 0
}
