package fhe

import (
	"encoding/binary"
	"errors"
	"fmt"

	"lukechampine.com/blake3"
)

// handleMagic tags every serialized ciphertext handle ("FHE1" big-endian).
// The protocol core never inspects handle payloads, only the framing and
// the fingerprint.
const handleMagic = uint32(0x46484531)

const handleHeaderSize = 4

var ErrMalformedHandle = errors.New("fhe: malformed ciphertext handle")

// Handle is an opaque reference to an encrypted value. Only a Coprocessor
// implementation may operate on its contents; everything else treats it as
// tagged bytes with an identity.
type Handle struct {
	raw []byte
}

// NewHandle validates the framing of raw handle bytes received from the
// outside (submissions, callbacks) and wraps them.
func NewHandle(raw []byte) (Handle, error) {
	if len(raw) <= handleHeaderSize {
		return Handle{}, fmt.Errorf("%w: %d bytes", ErrMalformedHandle, len(raw))
	}
	if binary.BigEndian.Uint32(raw[:handleHeaderSize]) != handleMagic {
		return Handle{}, fmt.Errorf("%w: bad magic", ErrMalformedHandle)
	}
	return Handle{raw: append([]byte(nil), raw...)}, nil
}

func newHandleFromPayload(payload []byte) Handle {
	raw := make([]byte, handleHeaderSize+len(payload))
	binary.BigEndian.PutUint32(raw[:handleHeaderSize], handleMagic)
	copy(raw[handleHeaderSize:], payload)
	return Handle{raw: raw}
}

// Bytes returns a copy of the serialized handle.
func (h Handle) Bytes() []byte {
	return append([]byte(nil), h.raw...)
}

func (h Handle) payload() []byte {
	return h.raw[handleHeaderSize:]
}

// IsZero reports whether the handle is the empty value.
func (h Handle) IsZero() bool {
	return len(h.raw) == 0
}

// Fingerprint returns a short stable identity for the handle, used for
// storage keys and log fields without exposing handle contents at length.
func (h Handle) Fingerprint() [32]byte {
	return blake3.Sum256(h.raw)
}
