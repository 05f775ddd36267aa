// Package protocolid mints the unique identifier attached to every DLC
// protocol and encodes it into the 32-byte opaque reference carried inside
// wire messages, so a protocol step can be re-associated with its persisted
// row after arbitrary delays, retries, or process restarts.
package protocolid

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// ID is a protocol identifier: a 128-bit value, unique per protocol run.
type ID uuid.UUID

// referenceLen is the wire size of the encoded reference: 32 ASCII bytes
// holding the lowercase hex of the 16 raw id bytes.
const referenceLen = 32

// New mints a fresh, unique ID.
func New() ID {
	return ID(uuid.New())
}

// String renders the id in canonical UUID form, for logs and storage keys.
func (id ID) String() string {
	return uuid.UUID(id).String()
}

// Reference encodes id as the 32-byte ASCII reference carried in DLC wire
// messages: lowercase hex of the 16 raw bytes.
func (id ID) Reference() [referenceLen]byte {
	var out [referenceLen]byte
	hex.Encode(out[:], id[:])
	return out
}

// ParseReference decodes a 32-byte wire reference back into an ID. It is the
// exact inverse of Reference: ParseReference(x.Reference()) == x for every ID.
func ParseReference(ref [referenceLen]byte) (ID, error) {
	raw := make([]byte, 16)
	n, err := hex.Decode(raw, ref[:])
	if err != nil {
		return ID{}, fmt.Errorf("protocolid: decode reference: %w", err)
	}
	if n != 16 {
		return ID{}, fmt.Errorf("protocolid: decode reference: got %d bytes, want 16", n)
	}
	u, err := uuid.FromBytes(raw)
	if err != nil {
		return ID{}, fmt.Errorf("protocolid: reference is not a valid id: %w", err)
	}
	return ID(u), nil
}

// ParseReferenceSlice is a convenience for callers that receive the
// reference as a []byte off the wire rather than a fixed array.
func ParseReferenceSlice(ref []byte) (ID, error) {
	if len(ref) != referenceLen {
		return ID{}, fmt.Errorf("protocolid: reference has length %d, want %d", len(ref), referenceLen)
	}
	var arr [referenceLen]byte
	copy(arr[:], ref)
	return ParseReference(arr)
}

// IsZero reports whether id is the zero value (never minted by New).
func (id ID) IsZero() bool {
	return id == ID{}
}

// ParseID parses the canonical UUID string form produced by String, the
// form the store uses as its key-space representation of an ID.
func ParseID(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ID{}, fmt.Errorf("protocolid: parse id %q: %w", s, err)
	}
	return ID(u), nil
}
