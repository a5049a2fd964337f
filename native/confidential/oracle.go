package confidential

import (
	"context"
	"fmt"

	"fhecoproc/core/events"
	"fhecoproc/crypto"
	"fhecoproc/fhe"
)

// stateHash binds a decryption request to the exact ciphertext handle that
// was dispatched, under this instance's domain-separation tag.
func (e *Engine) stateHash(handle fhe.Handle) [32]byte {
	return crypto.Keccak256(e.instanceTag[:], handle.Bytes())
}

// proofDigest is the message the oracle signs: the request id bound to the
// reported cleartext.
func proofDigest(requestID string, cleartext []byte) [32]byte {
	return crypto.Keccak256([]byte(requestID), cleartext)
}

// RequestAnalysis runs a homomorphic threshold comparison against the
// ciphertext stored at (batchID, index) and dispatches the encrypted result
// to the decryption oracle. Any address may call it, subject to the
// decryption-request cooldown. The returned request id keys the pending
// context the eventual callback is validated against.
func (e *Engine) RequestAnalysis(ctx context.Context, caller [20]byte, batchID, index uint64, threshold fhe.Handle) (string, error) {
	if e.state == nil {
		return "", errNilState
	}
	if e.compute == nil {
		return "", errNilCoprocessor
	}
	if e.oracle == nil {
		return "", errNilOracle
	}
	if threshold.IsZero() {
		return "", fhe.ErrMalformedHandle
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	params, err := e.params()
	if err != nil {
		return "", err
	}
	limits, err := e.state.LimitsGet(caller)
	if err != nil {
		return "", err
	}
	now := e.now()
	if limits.LastRequest != 0 && now < limits.LastRequest+int64(params.CooldownSeconds) {
		return "", ErrRequestCooldown
	}
	batch, ok, err := e.state.BatchGet(batchID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrUnknownBatch
	}
	if batch.Closed {
		return "", ErrBatchClosed
	}
	if index >= batch.Submissions {
		return "", fmt.Errorf("%w: index %d, submissions %d", ErrInvalidIndex, index, batch.Submissions)
	}
	storedBytes, ok, err := e.state.CiphertextGet(batchID, index)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: missing ciphertext at (%d, %d)", ErrInvalidIndex, batchID, index)
	}
	stored, err := fhe.NewHandle(storedBytes)
	if err != nil {
		return "", err
	}

	result, err := e.compute.GreaterOrEqual(stored, threshold)
	if err != nil {
		return "", fmt.Errorf("confidential engine: threshold comparison: %w", err)
	}
	hash := e.stateHash(result)

	requestID, err := e.oracle.RequestDecryption(ctx, [][]byte{result.Bytes()})
	if err != nil {
		return "", fmt.Errorf("confidential engine: dispatch decryption request: %w", err)
	}
	if _, exists, err := e.state.ContextGet(requestID); err != nil {
		return "", err
	} else if exists {
		return "", fmt.Errorf("%w: oracle reissued request id %s", ErrReplay, requestID)
	}

	limits.LastRequest = now
	if err := e.state.LimitsPut(caller, limits); err != nil {
		return "", err
	}
	reqCtx := &DecryptionContext{
		RequestID: requestID,
		BatchID:   batchID,
		Requester: caller,
		StateHash: hash,
		CreatedAt: now,
	}
	if e.pendingTTL > 0 {
		reqCtx.ExpiresAt = now + int64(e.pendingTTL.Seconds())
	}
	if err := e.state.ContextPut(reqCtx); err != nil {
		return "", err
	}
	e.emit(events.DecryptionRequested{RequestID: requestID, BatchID: batchID, Requester: caller, StateHash: hash})
	return requestID, nil
}

// OnDecryptionResult finalizes a decryption request with the cleartext and
// proof delivered by the oracle. Rejections leave the context pending, so a
// corrected callback for the same request id may succeed later, with two
// terminal exceptions: a replay of an already-processed id, and a request
// whose originating batch has been closed.
//
// The batch-closed rule is deliberate: once a batch is closed its results
// can never be finalized, even when the homomorphic computation already
// completed and the payload verifies. The computed result is discarded.
func (e *Engine) OnDecryptionResult(caller [20]byte, requestID string, cleartext, proof []byte) (bool, error) {
	if e.state == nil {
		return false, errNilState
	}
	if e.compute == nil {
		return false, errNilCoprocessor
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.oracleSigner {
		return false, ErrNotOracle
	}
	reqCtx, ok, err := e.state.ContextGet(requestID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, ErrUnknownRequest
	}
	if reqCtx.Processed {
		return false, ErrReplay
	}
	if reqCtx.Expired {
		return false, ErrRequestExpired
	}
	batch, ok, err := e.state.BatchGet(reqCtx.BatchID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, ErrUnknownBatch
	}
	if batch.Closed {
		return false, fmt.Errorf("%w: batch %d closed before the result arrived", ErrBatchClosed, batch.ID)
	}
	derived := e.compute.HandleFromCleartext(cleartext)
	if e.stateHash(derived) != reqCtx.StateHash {
		return false, ErrStateMismatch
	}
	if err := e.compute.VerifyDecryptionProof(proofDigest(requestID, cleartext), proof, e.oracleAddress()); err != nil {
		return false, fmt.Errorf("%w: %v", ErrProofInvalid, err)
	}

	result := len(cleartext) == 1 && cleartext[0] == 1
	reqCtx.Processed = true
	reqCtx.Result = result
	if err := e.state.ContextPut(reqCtx); err != nil {
		return false, err
	}
	e.emit(events.DecryptionCompleted{RequestID: requestID, BatchID: reqCtx.BatchID, Result: result})
	return result, nil
}

func (e *Engine) oracleAddress() crypto.Address {
	return crypto.NewAddress(crypto.FHEPrefix, e.oracleSigner[:])
}

// ExpirePending marks pending contexts whose expiry has passed as
// terminally expired and emits DecryptionExpired for each. Expired
// contexts remain stored as audit records; a late callback against one is
// rejected. Returns the number of contexts reclaimed.
func (e *Engine) ExpirePending() (int, error) {
	if e.state == nil {
		return 0, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	pending, err := e.state.PendingContexts()
	if err != nil {
		return 0, err
	}
	now := e.now()
	reclaimed := 0
	for _, reqCtx := range pending {
		if reqCtx.Processed || reqCtx.Expired {
			continue
		}
		if reqCtx.ExpiresAt == 0 || now < reqCtx.ExpiresAt {
			continue
		}
		reqCtx.Expired = true
		if err := e.state.ContextPut(reqCtx); err != nil {
			return reclaimed, err
		}
		e.emit(events.DecryptionExpired{RequestID: reqCtx.RequestID, BatchID: reqCtx.BatchID, ExpiredAt: now})
		reclaimed++
	}
	return reclaimed, nil
}
