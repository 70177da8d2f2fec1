// Package types defines the primitive identifiers shared by every layer of
// the validator: public keys, hashes, slots and epochs. Nothing in this
// package depends on the rest of the module so it can be imported from
// anywhere without a cycle.
package types

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// PubkeySize is the length in bytes of a Pubkey.
const PubkeySize = 32

// HashSize is the length in bytes of a Hash.
const HashSize = 32

// SignatureSize is the length in bytes of a Signature (ed25519).
const SignatureSize = 64

// Pubkey is a 32-byte opaque account address / signer identity.
type Pubkey [PubkeySize]byte

// String renders the pubkey as hex.
func (p Pubkey) String() string { return hex.EncodeToString(p[:]) }

// IsZero reports whether p is the all-zero pubkey.
func (p Pubkey) IsZero() bool { return p == Pubkey{} }

// BytesToPubkey truncates or zero-pads b into a Pubkey.
func BytesToPubkey(b []byte) Pubkey {
	var p Pubkey
	copy(p[:], b)
	return p
}

// Hash is a 32-byte digest produced by the validator's collision-resistant
// hash function (Keccak-256), used for PoH ticks, block hashes and state
// digests.
type Hash [HashSize]byte

// String renders the hash as hex.
func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// IsZero reports whether h is the default (unfrozen / unset) hash.
func (h Hash) IsZero() bool { return h == Hash{} }

// BytesToHash truncates or zero-pads b into a Hash.
func BytesToHash(b []byte) Hash {
	var h Hash
	copy(h[:], b)
	return h
}

// HashData computes the Keccak-256 digest of the concatenation of data.
func HashData(data ...[]byte) Hash {
	d := sha3.NewLegacyKeccak256()
	for _, b := range data {
		d.Write(b)
	}
	var h Hash
	d.Sum(h[:0])
	return h
}

// ExtendHash mixes one round of sequential hashing into prev, the operation
// that advances the PoH chain by a single tick.
func ExtendHash(prev Hash) Hash {
	return HashData(prev[:])
}

// MixInHash extends prev with an auxiliary value (e.g. a transaction
// signature digest), used when PoH records an entry rather than a bare
// tick.
func MixInHash(prev Hash, mixin Hash) Hash {
	return HashData(prev[:], mixin[:])
}

// Signature is a 64-byte ed25519 signature over a transaction message.
type Signature [SignatureSize]byte

// String renders the signature as hex.
func (s Signature) String() string { return hex.EncodeToString(s[:]) }

// BytesToSignature truncates or zero-pads b into a Signature.
func BytesToSignature(b []byte) Signature {
	var s Signature
	copy(s[:], b)
	return s
}

// Slot is a monotonically increasing index of a leader turn.
type Slot uint64

// String implements fmt.Stringer.
func (s Slot) String() string { return fmt.Sprintf("%d", uint64(s)) }

// Epoch is a monotonically increasing index of a leader-schedule period.
type Epoch uint64

// String implements fmt.Stringer.
func (e Epoch) String() string { return fmt.Sprintf("%d", uint64(e)) }
