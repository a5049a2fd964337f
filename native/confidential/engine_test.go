package confidential

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"fhecoproc/core/events"
	"fhecoproc/fhe"
)

type mockState struct {
	params    *Params
	providers map[[20]byte]bool
	current   uint64
	batches   map[uint64]*Batch
	handles   map[string][]byte
	contexts  map[string]*DecryptionContext
	limits    map[[20]byte]RateLimitState
}

func newMockState() *mockState {
	return &mockState{
		providers: make(map[[20]byte]bool),
		batches:   make(map[uint64]*Batch),
		handles:   make(map[string][]byte),
		contexts:  make(map[string]*DecryptionContext),
		limits:    make(map[[20]byte]RateLimitState),
	}
}

func (m *mockState) ParamsGet() (*Params, bool, error) {
	if m.params == nil {
		return nil, false, nil
	}
	clone := *m.params
	return &clone, true, nil
}

func (m *mockState) ParamsPut(params *Params) error {
	clone := *params
	m.params = &clone
	return nil
}

func (m *mockState) ProviderSet(addr [20]byte, registered bool) error {
	m.providers[addr] = registered
	return nil
}

func (m *mockState) ProviderRegistered(addr [20]byte) (bool, error) {
	return m.providers[addr], nil
}

func (m *mockState) CurrentBatch() (uint64, error) { return m.current, nil }

func (m *mockState) SetCurrentBatch(id uint64) error {
	m.current = id
	return nil
}

func (m *mockState) BatchGet(id uint64) (*Batch, bool, error) {
	batch, ok := m.batches[id]
	if !ok {
		return nil, false, nil
	}
	clone := *batch
	return &clone, true, nil
}

func (m *mockState) BatchPut(batch *Batch) error {
	clone := *batch
	m.batches[batch.ID] = &clone
	return nil
}

func ctKey(batchID, index uint64) string { return fmt.Sprintf("%d/%d", batchID, index) }

func (m *mockState) CiphertextPut(batchID, index uint64, handle []byte) error {
	m.handles[ctKey(batchID, index)] = append([]byte(nil), handle...)
	return nil
}

func (m *mockState) CiphertextGet(batchID, index uint64) ([]byte, bool, error) {
	handle, ok := m.handles[ctKey(batchID, index)]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), handle...), true, nil
}

func (m *mockState) ContextGet(requestID string) (*DecryptionContext, bool, error) {
	reqCtx, ok := m.contexts[requestID]
	if !ok {
		return nil, false, nil
	}
	clone := *reqCtx
	return &clone, true, nil
}

func (m *mockState) ContextPut(reqCtx *DecryptionContext) error {
	clone := *reqCtx
	m.contexts[reqCtx.RequestID] = &clone
	return nil
}

func (m *mockState) PendingContexts() ([]*DecryptionContext, error) {
	var pending []*DecryptionContext
	for _, reqCtx := range m.contexts {
		if reqCtx.Processed || reqCtx.Expired {
			continue
		}
		clone := *reqCtx
		pending = append(pending, &clone)
	}
	return pending, nil
}

func (m *mockState) LimitsGet(addr [20]byte) (*RateLimitState, error) {
	limits := m.limits[addr]
	return &limits, nil
}

func (m *mockState) LimitsPut(addr [20]byte, limits *RateLimitState) error {
	m.limits[addr] = *limits
	return nil
}

type eventRecorder struct {
	events []events.Event
}

func (r *eventRecorder) Emit(evt events.Event) { r.events = append(r.events, evt) }

func (r *eventRecorder) ofType(eventType string) []events.Event {
	var out []events.Event
	for _, evt := range r.events {
		if evt.EventType() == eventType {
			out = append(out, evt)
		}
	}
	return out
}

type testClock struct {
	now int64
}

func (c *testClock) Now() int64        { return c.now }
func (c *testClock) advance(sec int64) { c.now += sec }

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

const testCooldown = 60

var (
	testOwner    = newTestAddress(0x01)
	testProvider = newTestAddress(0x02)
	testAnalyst  = newTestAddress(0x03)
)

func newTestEngine(t *testing.T) (*Engine, *mockState, *eventRecorder, *testClock, *fhe.SimBackend) {
	t.Helper()
	state := newMockState()
	recorder := &eventRecorder{}
	clock := &testClock{now: 1_700_000_000}
	backend := fhe.NewSimBackend("engine-test")
	engine := NewEngine()
	engine.SetState(state)
	engine.SetEmitter(recorder)
	engine.SetCoprocessor(backend)
	engine.SetInstanceID("test-instance")
	engine.SetNowFunc(clock.Now)
	if err := engine.Initialize(testOwner, testCooldown, [][20]byte{testProvider}); err != nil {
		t.Fatalf("initialize engine: %v", err)
	}
	return engine, state, recorder, clock, backend
}

func mustSubmit(t *testing.T, engine *Engine, caller [20]byte, handle fhe.Handle) (uint64, uint64) {
	t.Helper()
	batchID, index, err := engine.Submit(caller, handle)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return batchID, index
}

func TestSubmitRequiresProvider(t *testing.T) {
	engine, _, _, _, backend := newTestEngine(t)
	// The provider check runs before pause, cooldown, and batch checks.
	if err := engine.SetPaused(testOwner, true); err != nil {
		t.Fatalf("pause: %v", err)
	}
	_, _, err := engine.Submit(testAnalyst, backend.EncryptUint64(1))
	if !errors.Is(err, ErrNotProvider) {
		t.Fatalf("expected ErrNotProvider, got %v", err)
	}
	if Classify(err) != KindAuthorization {
		t.Fatalf("expected authorization kind, got %d", Classify(err))
	}
}

func TestSubmitRejectedWhenPaused(t *testing.T) {
	engine, _, _, _, backend := newTestEngine(t)
	if err := engine.SetPaused(testOwner, true); err != nil {
		t.Fatalf("pause: %v", err)
	}
	_, _, err := engine.Submit(testProvider, backend.EncryptUint64(1))
	if !errors.Is(err, ErrPaused) {
		t.Fatalf("expected ErrPaused, got %v", err)
	}
	if err := engine.SetPaused(testOwner, false); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	mustSubmit(t, engine, testProvider, backend.EncryptUint64(1))
}

func TestSubmitCooldown(t *testing.T) {
	engine, state, _, clock, backend := newTestEngine(t)
	mustSubmit(t, engine, testProvider, backend.EncryptUint64(1))
	clock.advance(testCooldown - 1)
	_, _, err := engine.Submit(testProvider, backend.EncryptUint64(2))
	if !errors.Is(err, ErrSubmissionCooldown) {
		t.Fatalf("expected ErrSubmissionCooldown, got %v", err)
	}
	// A failing check leaves all state unchanged.
	if batch := state.batches[1]; batch.Submissions != 1 {
		t.Fatalf("submission count mutated on rejected submit: %d", batch.Submissions)
	}
	clock.advance(1)
	if _, index := mustSubmit(t, engine, testProvider, backend.EncryptUint64(2)); index != 1 {
		t.Fatalf("expected index 1, got %d", index)
	}
}

func TestSubmitAssignsDenseIndices(t *testing.T) {
	engine, _, recorder, clock, backend := newTestEngine(t)
	for want := uint64(0); want < 3; want++ {
		batchID, index := mustSubmit(t, engine, testProvider, backend.EncryptUint64(want))
		if batchID != 1 || index != want {
			t.Fatalf("expected (1, %d), got (%d, %d)", want, batchID, index)
		}
		clock.advance(testCooldown)
	}
	if got := len(recorder.ofType(events.TypeDataSubmitted)); got != 3 {
		t.Fatalf("expected 3 DataSubmitted events, got %d", got)
	}
}

func TestBatchLifecycle(t *testing.T) {
	engine, _, recorder, clock, backend := newTestEngine(t)
	for i := 0; i < 3; i++ {
		mustSubmit(t, engine, testProvider, backend.EncryptUint64(uint64(i)))
		clock.advance(testCooldown)
	}
	if err := engine.CloseCurrentBatch(testOwner); err != nil {
		t.Fatalf("close batch: %v", err)
	}
	if _, _, err := engine.Submit(testProvider, backend.EncryptUint64(9)); !errors.Is(err, ErrBatchClosed) {
		t.Fatalf("expected ErrBatchClosed, got %v", err)
	}
	if err := engine.CloseCurrentBatch(testOwner); !errors.Is(err, ErrBatchClosed) {
		t.Fatalf("expected ErrBatchClosed on double close, got %v", err)
	}
	batchID, err := engine.OpenNewBatch(testOwner)
	if err != nil {
		t.Fatalf("open batch: %v", err)
	}
	if batchID != 2 {
		t.Fatalf("expected batch 2, got %d", batchID)
	}
	// Fresh counter in the new batch.
	if gotBatch, index := mustSubmit(t, engine, testProvider, backend.EncryptUint64(0)); gotBatch != 2 || index != 0 {
		t.Fatalf("expected (2, 0), got (%d, %d)", gotBatch, index)
	}
	if got := len(recorder.ofType(events.TypeBatchClosed)); got != 1 {
		t.Fatalf("expected 1 BatchClosed event, got %d", got)
	}
	if got := len(recorder.ofType(events.TypeBatchOpened)); got != 2 {
		t.Fatalf("expected 2 BatchOpened events, got %d", got)
	}
}

func TestOpenNewBatchRequiresClosedCurrent(t *testing.T) {
	engine, _, _, _, _ := newTestEngine(t)
	if _, err := engine.OpenNewBatch(testOwner); !errors.Is(err, ErrBatchOpen) {
		t.Fatalf("expected ErrBatchOpen, got %v", err)
	}
}

func TestBatchOperationsOwnerGated(t *testing.T) {
	engine, _, _, _, _ := newTestEngine(t)
	if err := engine.CloseCurrentBatch(testProvider); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if _, err := engine.OpenNewBatch(testProvider); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
}

func TestProviderRegistryIdempotent(t *testing.T) {
	engine, _, recorder, _, _ := newTestEngine(t)
	extra := newTestAddress(0x04)
	if err := engine.AddProvider(testOwner, extra); err != nil {
		t.Fatalf("add provider: %v", err)
	}
	if err := engine.AddProvider(testOwner, extra); err != nil {
		t.Fatalf("re-add provider: %v", err)
	}
	if got := len(recorder.ofType(events.TypeProviderAdded)); got != 1 {
		t.Fatalf("expected 1 ProviderAdded event, got %d", got)
	}
	if err := engine.RemoveProvider(testOwner, extra); err != nil {
		t.Fatalf("remove provider: %v", err)
	}
	if err := engine.RemoveProvider(testOwner, extra); err != nil {
		t.Fatalf("re-remove provider: %v", err)
	}
	if got := len(recorder.ofType(events.TypeProviderRemoved)); got != 1 {
		t.Fatalf("expected 1 ProviderRemoved event, got %d", got)
	}
	registered, err := engine.IsProvider(extra)
	if err != nil {
		t.Fatalf("is provider: %v", err)
	}
	if registered {
		t.Fatal("provider should be removed")
	}
}

func TestTransferOwnership(t *testing.T) {
	engine, _, recorder, _, _ := newTestEngine(t)
	newOwner := newTestAddress(0x05)
	if err := engine.TransferOwnership(testProvider, newOwner); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if err := engine.TransferOwnership(testOwner, newOwner); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if err := engine.SetCooldown(testOwner, 10); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("old owner should be rejected, got %v", err)
	}
	if err := engine.SetCooldown(newOwner, 10); err != nil {
		t.Fatalf("new owner rejected: %v", err)
	}
	if got := len(recorder.ofType(events.TypeOwnershipTransferred)); got != 1 {
		t.Fatalf("expected 1 OwnershipTransferred event, got %d", got)
	}
}

func TestSetCooldownTakesEffect(t *testing.T) {
	engine, _, _, clock, backend := newTestEngine(t)
	if err := engine.SetCooldown(testOwner, 5); err != nil {
		t.Fatalf("set cooldown: %v", err)
	}
	mustSubmit(t, engine, testProvider, backend.EncryptUint64(1))
	clock.advance(5)
	mustSubmit(t, engine, testProvider, backend.EncryptUint64(2))
}
