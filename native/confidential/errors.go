package confidential

import "errors"

// Kind buckets protocol failures for transports and callers. Every error
// returned by the engine classifies into exactly one kind.
type Kind uint8

const (
	KindUnknown Kind = iota
	// KindAuthorization: the caller lacks the owner, provider, or oracle
	// capability the operation requires.
	KindAuthorization
	// KindAvailability: the system is paused.
	KindAvailability
	// KindRateLimit: the caller's cooldown has not elapsed.
	KindRateLimit
	// KindState: unknown or closed batch, out-of-range index.
	KindState
	// KindIntegrity: replay of a finalized request, state-hash mismatch,
	// or an invalid decryption proof.
	KindIntegrity
)

var (
	ErrNotOwner    = errors.New("confidential: caller is not the owner")
	ErrNotProvider = errors.New("confidential: caller is not a registered provider")
	ErrNotOracle   = errors.New("confidential: caller is not the decryption oracle")

	ErrPaused = errors.New("confidential: system is paused")

	ErrSubmissionCooldown = errors.New("confidential: submission cooldown has not elapsed")
	ErrRequestCooldown    = errors.New("confidential: decryption request cooldown has not elapsed")

	ErrNoCurrentBatch = errors.New("confidential: no current batch")
	ErrBatchOpen      = errors.New("confidential: current batch is still open")
	ErrBatchClosed    = errors.New("confidential: batch is closed")
	ErrUnknownBatch   = errors.New("confidential: unknown batch")
	ErrInvalidIndex   = errors.New("confidential: ciphertext index out of range")

	ErrUnknownRequest = errors.New("confidential: unknown decryption request")
	ErrReplay         = errors.New("confidential: decryption request already processed")
	ErrRequestExpired = errors.New("confidential: decryption request expired")
	ErrStateMismatch  = errors.New("confidential: callback state hash mismatch")
	ErrProofInvalid   = errors.New("confidential: decryption proof rejected")

	errNilState       = errors.New("confidential engine: state not configured")
	errNilCoprocessor = errors.New("confidential engine: coprocessor not configured")
	errNilOracle      = errors.New("confidential engine: oracle not configured")
)

// Classify maps an engine error to its failure kind.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrNotOwner),
		errors.Is(err, ErrNotProvider),
		errors.Is(err, ErrNotOracle):
		return KindAuthorization
	case errors.Is(err, ErrPaused):
		return KindAvailability
	case errors.Is(err, ErrSubmissionCooldown),
		errors.Is(err, ErrRequestCooldown):
		return KindRateLimit
	case errors.Is(err, ErrNoCurrentBatch),
		errors.Is(err, ErrBatchOpen),
		errors.Is(err, ErrBatchClosed),
		errors.Is(err, ErrUnknownBatch),
		errors.Is(err, ErrInvalidIndex):
		return KindState
	case errors.Is(err, ErrUnknownRequest),
		errors.Is(err, ErrReplay),
		errors.Is(err, ErrRequestExpired),
		errors.Is(err, ErrStateMismatch),
		errors.Is(err, ErrProofInvalid):
		return KindIntegrity
	default:
		return KindUnknown
	}
}
