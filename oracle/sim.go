package oracle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"fhecoproc/crypto"
	"fhecoproc/fhe"
)

// CallbackFunc receives a finished decryption: request id, cleartext bytes,
// and the oracle's proof signature.
type CallbackFunc func(requestID string, cleartext, proof []byte)

// SimOracle is an in-process decryption oracle for development and tests.
// It shares the simulator backend's seed, decrypts the dispatched result
// handle, and signs keccak(requestID || cleartext) with its secp256k1 key.
//
// Results are never delivered inline from RequestDecryption: the caller
// dispatches while holding its own protocol lock and has not yet recorded
// the pending context. Delivery happens through Deliver/DeliverAll (tests)
// or on a goroutine after the configured latency.
type SimOracle struct {
	key     *crypto.PrivateKey
	backend *fhe.SimBackend

	mu       sync.Mutex
	results  map[string]simResult
	callback CallbackFunc
	latency  time.Duration
	auto     bool
}

type simResult struct {
	cleartext []byte
	proof     []byte
}

// NewSimOracle builds an oracle simulator around the signing key and the
// shared compute backend.
func NewSimOracle(key *crypto.PrivateKey, backend *fhe.SimBackend) *SimOracle {
	return &SimOracle{
		key:     key,
		backend: backend,
		results: make(map[string]simResult),
	}
}

// SignerAddress is the identity the protocol must trust for callbacks.
func (o *SimOracle) SignerAddress() crypto.Address {
	return o.key.PubKey().Address()
}

// SetCallback wires the delivery target, typically the engine's
// OnDecryptionResult via the daemon.
func (o *SimOracle) SetCallback(fn CallbackFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.callback = fn
}

// AutoDeliver enables background delivery after the given latency.
func (o *SimOracle) AutoDeliver(latency time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.auto = true
	o.latency = latency
}

// RequestDecryption implements the engine's Dispatcher interface.
func (o *SimOracle) RequestDecryption(_ context.Context, handles [][]byte) (string, error) {
	if len(handles) == 0 {
		return "", fmt.Errorf("sim oracle: at least one handle required")
	}
	handle, err := fhe.NewHandle(handles[0])
	if err != nil {
		return "", fmt.Errorf("sim oracle: %w", err)
	}
	requestID := uuid.NewString()
	cleartext := o.backend.DecryptBytes(handle)
	proof, err := o.key.Sign(crypto.Keccak256([]byte(requestID), cleartext))
	if err != nil {
		return "", fmt.Errorf("sim oracle: sign proof: %w", err)
	}

	o.mu.Lock()
	o.results[requestID] = simResult{cleartext: cleartext, proof: proof}
	auto, latency := o.auto, o.latency
	o.mu.Unlock()

	if auto {
		time.AfterFunc(latency, func() { _ = o.Deliver(requestID) })
	}
	return requestID, nil
}

// Result exposes the computed cleartext and proof for a request id, letting
// tests hand-feed (or tamper with) the callback payload.
func (o *SimOracle) Result(requestID string) (cleartext, proof []byte, ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	res, ok := o.results[requestID]
	if !ok {
		return nil, nil, false
	}
	return append([]byte(nil), res.cleartext...), append([]byte(nil), res.proof...), true
}

// Deliver invokes the callback with the stored result for a request id.
func (o *SimOracle) Deliver(requestID string) error {
	o.mu.Lock()
	res, ok := o.results[requestID]
	fn := o.callback
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("sim oracle: unknown request %s", requestID)
	}
	if fn == nil {
		return fmt.Errorf("sim oracle: no callback configured")
	}
	fn(requestID, res.cleartext, res.proof)
	return nil
}

// DeliverAll flushes every stored result through the callback.
func (o *SimOracle) DeliverAll() {
	o.mu.Lock()
	ids := make([]string, 0, len(o.results))
	for id := range o.results {
		ids = append(ids, id)
	}
	o.mu.Unlock()
	for _, id := range ids {
		_ = o.Deliver(id)
	}
}
