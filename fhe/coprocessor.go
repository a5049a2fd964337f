package fhe

import (
	"errors"

	"fhecoproc/crypto"
)

var (
	// ErrProofRejected reports a decryption proof that does not verify
	// against the expected oracle signer.
	ErrProofRejected = errors.New("fhe: decryption proof rejected")
	// ErrIncompatibleHandles reports operands that the backend cannot
	// combine (mismatched widths or framing).
	ErrIncompatibleHandles = errors.New("fhe: incompatible handles")
)

// Coprocessor is the homomorphic-compute collaborator. The protocol core
// calls it for the threshold comparison, for re-deriving a handle from
// oracle-supplied cleartext, and for checking decryption proofs; it never
// performs ciphertext arithmetic itself.
type Coprocessor interface {
	// GreaterOrEqual evaluates value >= threshold under encryption and
	// returns a fresh boolean ciphertext handle.
	GreaterOrEqual(value, threshold Handle) (Handle, error)

	// HandleFromCleartext deterministically re-derives the ciphertext
	// handle that decrypts to the given cleartext. Used at callback time
	// to recompute the request state hash from the reported plaintext.
	HandleFromCleartext(cleartext []byte) Handle

	// VerifyDecryptionProof checks that proof is a valid attestation by
	// signer over the given digest.
	VerifyDecryptionProof(digest [32]byte, proof []byte, signer crypto.Address) error
}
