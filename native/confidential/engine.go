package confidential

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fhecoproc/core/events"
	"fhecoproc/crypto"
	"fhecoproc/fhe"
)

// engineState is the persistence surface the engine mutates. Implementations
// must be safe for use under the engine's serialization (the engine holds
// its own mutex across every check-then-update sequence).
type engineState interface {
	ParamsGet() (*Params, bool, error)
	ParamsPut(*Params) error

	ProviderSet(addr [20]byte, registered bool) error
	ProviderRegistered(addr [20]byte) (bool, error)

	CurrentBatch() (uint64, error)
	SetCurrentBatch(id uint64) error
	BatchGet(id uint64) (*Batch, bool, error)
	BatchPut(*Batch) error

	CiphertextPut(batchID, index uint64, handle []byte) error
	CiphertextGet(batchID, index uint64) ([]byte, bool, error)

	ContextGet(requestID string) (*DecryptionContext, bool, error)
	ContextPut(*DecryptionContext) error
	PendingContexts() ([]*DecryptionContext, error)

	LimitsGet(addr [20]byte) (*RateLimitState, error)
	LimitsPut(addr [20]byte, limits *RateLimitState) error
}

// Dispatcher hands a batch of ciphertext handles to the external decryption
// oracle and returns the request id the oracle assigned.
type Dispatcher interface {
	RequestDecryption(ctx context.Context, handles [][]byte) (string, error)
}

// Engine owns the confidential batch protocol: provider registry, batch
// ledger, append-only ciphertext store, and the decryption request/callback
// bridge. Every exported operation runs as one critical section; all checks
// are evaluated before any state write, so a failing operation leaves state
// untouched.
type Engine struct {
	mu           sync.Mutex
	state        engineState
	emitter      events.Emitter
	compute      fhe.Coprocessor
	oracle       Dispatcher
	oracleSigner [20]byte
	instanceTag  [32]byte
	pendingTTL   time.Duration
	nowFn        func() int64
}

// NewEngine creates an engine with a no-op emitter. Callers wire state,
// compute backend, and oracle via the setters before use.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the persistence backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op
// implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetCoprocessor configures the homomorphic-compute collaborator.
func (e *Engine) SetCoprocessor(compute fhe.Coprocessor) { e.compute = compute }

// SetOracle configures the decryption oracle dispatcher together with the
// identity whose callbacks and proofs will be trusted. Callbacks from any
// other caller are rejected before their payload is inspected.
func (e *Engine) SetOracle(dispatcher Dispatcher, signer [20]byte) {
	e.oracle = dispatcher
	e.oracleSigner = signer
}

// SetInstanceID derives the domain-separation tag mixed into every request
// state hash. Two instances with different ids can never replay each
// other's callbacks.
func (e *Engine) SetInstanceID(id string) {
	e.instanceTag = crypto.Keccak256([]byte("fhecoproc/instance/"), []byte(id))
}

// SetPendingTTL bounds the lifetime of pending decryption contexts. Zero
// disables expiry.
func (e *Engine) SetPendingTTL(ttl time.Duration) { e.pendingTTL = ttl }

// SetNowFunc overrides the time source. Primarily intended for tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) now() int64 { return e.nowFn() }

func (e *Engine) emit(evt events.Event) {
	if e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

// Initialize seeds the genesis state: owner, cooldown, initial providers,
// and batch 1 open for submissions. It is a no-op when params already
// exist, so restarting over a persistent backend keeps prior state.
func (e *Engine) Initialize(owner [20]byte, cooldownSeconds uint64, providers [][20]byte) error {
	if e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok, err := e.state.ParamsGet(); err != nil {
		return err
	} else if ok {
		return nil
	}
	if err := e.state.ParamsPut(&Params{Owner: owner, CooldownSeconds: cooldownSeconds}); err != nil {
		return err
	}
	for _, provider := range providers {
		if err := e.state.ProviderSet(provider, true); err != nil {
			return err
		}
	}
	batch := &Batch{ID: 1, OpenedAt: e.now()}
	if err := e.state.BatchPut(batch); err != nil {
		return err
	}
	if err := e.state.SetCurrentBatch(batch.ID); err != nil {
		return err
	}
	e.emit(events.BatchOpened{BatchID: batch.ID, OpenedAt: batch.OpenedAt})
	return nil
}

func (e *Engine) params() (*Params, error) {
	params, ok, err := e.state.ParamsGet()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("confidential engine: not initialized")
	}
	return params, nil
}

func (e *Engine) requireOwner(caller [20]byte) (*Params, error) {
	params, err := e.params()
	if err != nil {
		return nil, err
	}
	if params.Owner != caller {
		return nil, ErrNotOwner
	}
	return params, nil
}

// --- Administration ---

// TransferOwnership hands the owner capability to a new address.
func (e *Engine) TransferOwnership(caller, newOwner [20]byte) error {
	if e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	params, err := e.requireOwner(caller)
	if err != nil {
		return err
	}
	previous := params.Owner
	params.Owner = newOwner
	if err := e.state.ParamsPut(params); err != nil {
		return err
	}
	e.emit(events.OwnershipTransferred{Previous: previous, Owner: newOwner})
	return nil
}

// AddProvider registers a data provider. Adding an already-registered
// provider is an idempotent no-op that emits no duplicate event.
func (e *Engine) AddProvider(caller, provider [20]byte) error {
	if e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.requireOwner(caller); err != nil {
		return err
	}
	registered, err := e.state.ProviderRegistered(provider)
	if err != nil {
		return err
	}
	if registered {
		return nil
	}
	if err := e.state.ProviderSet(provider, true); err != nil {
		return err
	}
	e.emit(events.ProviderAdded{Provider: provider})
	return nil
}

// RemoveProvider deregisters a data provider. Removing an absent provider
// is an idempotent no-op.
func (e *Engine) RemoveProvider(caller, provider [20]byte) error {
	if e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.requireOwner(caller); err != nil {
		return err
	}
	registered, err := e.state.ProviderRegistered(provider)
	if err != nil {
		return err
	}
	if !registered {
		return nil
	}
	if err := e.state.ProviderSet(provider, false); err != nil {
		return err
	}
	e.emit(events.ProviderRemoved{Provider: provider})
	return nil
}

// SetPaused toggles the global pause flag for submissions.
func (e *Engine) SetPaused(caller [20]byte, paused bool) error {
	if e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	params, err := e.requireOwner(caller)
	if err != nil {
		return err
	}
	params.Paused = paused
	if err := e.state.ParamsPut(params); err != nil {
		return err
	}
	e.emit(events.PauseToggled{Paused: paused})
	return nil
}

// SetCooldown updates the shared cooldown duration, in seconds, applied to
// both the submission and the decryption-request clocks.
func (e *Engine) SetCooldown(caller [20]byte, seconds uint64) error {
	if e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	params, err := e.requireOwner(caller)
	if err != nil {
		return err
	}
	params.CooldownSeconds = seconds
	if err := e.state.ParamsPut(params); err != nil {
		return err
	}
	e.emit(events.CooldownUpdated{Seconds: seconds})
	return nil
}

// --- Batch lifecycle ---

// OpenNewBatch increments the batch counter and opens the new id for
// submissions. The current batch must already be closed: batch ids are
// strictly increasing and exactly one batch accepts submissions at a time.
func (e *Engine) OpenNewBatch(caller [20]byte) (uint64, error) {
	if e.state == nil {
		return 0, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.requireOwner(caller); err != nil {
		return 0, err
	}
	current, err := e.state.CurrentBatch()
	if err != nil {
		return 0, err
	}
	if current != 0 {
		batch, ok, err := e.state.BatchGet(current)
		if err != nil {
			return 0, err
		}
		if ok && !batch.Closed {
			return 0, fmt.Errorf("%w: close batch %d first", ErrBatchOpen, current)
		}
	}
	batch := &Batch{ID: current + 1, OpenedAt: e.now()}
	if err := e.state.BatchPut(batch); err != nil {
		return 0, err
	}
	if err := e.state.SetCurrentBatch(batch.ID); err != nil {
		return 0, err
	}
	e.emit(events.BatchOpened{BatchID: batch.ID, OpenedAt: batch.OpenedAt})
	return batch.ID, nil
}

// CloseCurrentBatch terminally closes the current batch. There is no
// un-close operation; activity resumes only via OpenNewBatch.
func (e *Engine) CloseCurrentBatch(caller [20]byte) error {
	if e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.requireOwner(caller); err != nil {
		return err
	}
	current, err := e.state.CurrentBatch()
	if err != nil {
		return err
	}
	if current == 0 {
		return ErrNoCurrentBatch
	}
	batch, ok, err := e.state.BatchGet(current)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnknownBatch
	}
	if batch.Closed {
		return ErrBatchClosed
	}
	batch.Closed = true
	batch.ClosedAt = e.now()
	if err := e.state.BatchPut(batch); err != nil {
		return err
	}
	e.emit(events.BatchClosed{BatchID: batch.ID, Submissions: batch.Submissions, ClosedAt: batch.ClosedAt})
	return nil
}

// --- Submission ---

// Submit appends a ciphertext handle to the current batch on behalf of a
// registered provider and returns the assigned (batchID, index). Checks run
// in a fixed order -- provider, pause, cooldown, batch -- and all of them
// precede every mutation.
func (e *Engine) Submit(caller [20]byte, handle fhe.Handle) (uint64, uint64, error) {
	if e.state == nil {
		return 0, 0, errNilState
	}
	if handle.IsZero() {
		return 0, 0, fhe.ErrMalformedHandle
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	registered, err := e.state.ProviderRegistered(caller)
	if err != nil {
		return 0, 0, err
	}
	if !registered {
		return 0, 0, ErrNotProvider
	}
	params, err := e.params()
	if err != nil {
		return 0, 0, err
	}
	if params.Paused {
		return 0, 0, ErrPaused
	}
	limits, err := e.state.LimitsGet(caller)
	if err != nil {
		return 0, 0, err
	}
	now := e.now()
	if limits.LastSubmission != 0 && now < limits.LastSubmission+int64(params.CooldownSeconds) {
		return 0, 0, ErrSubmissionCooldown
	}
	current, err := e.state.CurrentBatch()
	if err != nil {
		return 0, 0, err
	}
	if current == 0 {
		return 0, 0, ErrNoCurrentBatch
	}
	batch, ok, err := e.state.BatchGet(current)
	if err != nil {
		return 0, 0, err
	}
	if !ok {
		return 0, 0, ErrUnknownBatch
	}
	if batch.Closed {
		return 0, 0, ErrBatchClosed
	}

	limits.LastSubmission = now
	if err := e.state.LimitsPut(caller, limits); err != nil {
		return 0, 0, err
	}
	index := batch.Submissions
	batch.Submissions++
	if err := e.state.BatchPut(batch); err != nil {
		return 0, 0, err
	}
	if err := e.state.CiphertextPut(batch.ID, index, handle.Bytes()); err != nil {
		return 0, 0, err
	}
	e.emit(events.DataSubmitted{Provider: caller, BatchID: batch.ID, Index: index})
	return batch.ID, index, nil
}

// --- Queries ---

// Params returns a copy of the current global configuration.
func (e *Engine) Params() (Params, error) {
	if e.state == nil {
		return Params{}, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	params, err := e.params()
	if err != nil {
		return Params{}, err
	}
	return *params, nil
}

// IsProvider reports whether the address is a registered provider.
func (e *Engine) IsProvider(addr [20]byte) (bool, error) {
	if e.state == nil {
		return false, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.ProviderRegistered(addr)
}

// CurrentBatchID returns the id of the current batch, zero if unset.
func (e *Engine) CurrentBatchID() (uint64, error) {
	if e.state == nil {
		return 0, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.CurrentBatch()
}

// BatchInfo returns a copy of the identified batch.
func (e *Engine) BatchInfo(id uint64) (Batch, error) {
	if e.state == nil {
		return Batch{}, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	batch, ok, err := e.state.BatchGet(id)
	if err != nil {
		return Batch{}, err
	}
	if !ok {
		return Batch{}, ErrUnknownBatch
	}
	return *batch, nil
}

// RequestContext returns a copy of the decryption context for a request id.
func (e *Engine) RequestContext(requestID string) (DecryptionContext, error) {
	if e.state == nil {
		return DecryptionContext{}, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	reqCtx, ok, err := e.state.ContextGet(requestID)
	if err != nil {
		return DecryptionContext{}, err
	}
	if !ok {
		return DecryptionContext{}, ErrUnknownRequest
	}
	return *reqCtx, nil
}
