package ledger

import (
	"fmt"

	dynssz "github.com/pk910/dynamic-ssz"
)

// wireCodec is a single shared dynssz instance: the package has no
// runtime-configurable presets (unlike beacon-chain specs with mainnet vs.
// minimal constants), so an empty spec map is enough -- every field width
// this core needs is already pinned by its ssz-size/ssz-max struct tags.
var wireCodec = dynssz.NewDynSsz(nil)

// entryBatch is the top-level container EncodeEntries/DecodeEntries (de)serialize:
// dynssz operates on a concrete struct so the slice's bound lives in one
// place rather than being repeated at every call site.
type entryBatch struct {
	Entries []Entry `ssz-max:"1024"`
}

// EncodeEntries serializes entries into the wire format a disk-backed Store
// would persist for a slot, and a future blockstream/repair collaborator
// would retransmit. The in-memory Store used by this implementation does
// not call this itself; it exists so those collaborators -- and tests that
// want to assert on-the-wire shape -- have a canonical codec to share.
func EncodeEntries(entries []Entry) ([]byte, error) {
	data, err := wireCodec.MarshalSSZ(&entryBatch{Entries: entries})
	if err != nil {
		return nil, fmt.Errorf("ledger: encode entries: %w", err)
	}
	return data, nil
}

// DecodeEntries is the inverse of EncodeEntries.
func DecodeEntries(data []byte) ([]Entry, error) {
	var batch entryBatch
	if err := wireCodec.UnmarshalSSZ(&batch, data); err != nil {
		return nil, fmt.Errorf("ledger: decode entries: %w", err)
	}
	return batch.Entries, nil
}
