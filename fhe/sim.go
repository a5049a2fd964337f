package fhe

import (
	"encoding/binary"
	"fmt"

	"lukechampine.com/blake3"

	"fhecoproc/crypto"
)

// SimBackend is a deterministic in-process stand-in for a real confidential
// compute engine. Payloads are XOR-masked with a keystream derived from a
// shared seed; this is NOT cryptography and exists only so the protocol,
// its tests, and local deployments can exercise the full request/callback
// path without an external engine.
type SimBackend struct {
	seed [32]byte
}

// NewSimBackend derives a backend from an arbitrary seed string. The
// decryption oracle simulator must be built from the same seed.
func NewSimBackend(seed string) *SimBackend {
	return &SimBackend{seed: blake3.Sum256([]byte(seed))}
}

func (b *SimBackend) keystream(n int) []byte {
	h := blake3.New(32, nil)
	h.Write(b.seed[:])
	out := make([]byte, n)
	if _, err := h.XOF().Read(out); err != nil {
		panic(fmt.Sprintf("sim keystream: %v", err))
	}
	return out
}

func (b *SimBackend) mask(data []byte) []byte {
	ks := b.keystream(len(data))
	out := make([]byte, len(data))
	for i := range data {
		out[i] = data[i] ^ ks[i]
	}
	return out
}

// EncryptBytes wraps plaintext bytes into a handle.
func (b *SimBackend) EncryptBytes(plain []byte) Handle {
	return newHandleFromPayload(b.mask(plain))
}

// DecryptBytes recovers the plaintext behind a handle. Only the oracle
// simulator should call this; the protocol core never does.
func (b *SimBackend) DecryptBytes(h Handle) []byte {
	return b.mask(h.payload())
}

// EncryptUint64 encrypts an unsigned value as an 8-byte big-endian payload.
func (b *SimBackend) EncryptUint64(v uint64) Handle {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return b.EncryptBytes(buf[:])
}

// GreaterOrEqual implements Coprocessor.
func (b *SimBackend) GreaterOrEqual(value, threshold Handle) (Handle, error) {
	lhs, err := b.decryptUint64(value)
	if err != nil {
		return Handle{}, err
	}
	rhs, err := b.decryptUint64(threshold)
	if err != nil {
		return Handle{}, err
	}
	result := byte(0)
	if lhs >= rhs {
		result = 1
	}
	return b.EncryptBytes([]byte{result}), nil
}

func (b *SimBackend) decryptUint64(h Handle) (uint64, error) {
	payload := b.DecryptBytes(h)
	if len(payload) != 8 {
		return 0, fmt.Errorf("%w: %d-byte payload", ErrIncompatibleHandles, len(payload))
	}
	return binary.BigEndian.Uint64(payload), nil
}

// HandleFromCleartext implements Coprocessor. Re-encryption is
// deterministic, so the handle equals the one produced at request time
// whenever the cleartext matches.
func (b *SimBackend) HandleFromCleartext(cleartext []byte) Handle {
	return b.EncryptBytes(cleartext)
}

// VerifyDecryptionProof implements Coprocessor. The simulator accepts a
// 65-byte secp256k1 signature by the expected oracle signer over the
// digest.
func (b *SimBackend) VerifyDecryptionProof(digest [32]byte, proof []byte, signer crypto.Address) error {
	recovered, err := crypto.RecoverAddress(digest, proof)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProofRejected, err)
	}
	if !recovered.Equal(signer) {
		return ErrProofRejected
	}
	return nil
}
