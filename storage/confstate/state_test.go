package confstate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"fhecoproc/native/confidential"
	"fhecoproc/storage"
)

func testAddr(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

func TestParamsRoundTrip(t *testing.T) {
	store := New(storage.NewMemDB())
	_, ok, err := store.ParamsGet()
	require.NoError(t, err)
	require.False(t, ok)

	params := &confidential.Params{Owner: testAddr(0x01), Paused: true, CooldownSeconds: 90}
	require.NoError(t, store.ParamsPut(params))

	loaded, ok, err := store.ParamsGet()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, params, loaded)
}

func TestProviderRegistry(t *testing.T) {
	store := New(storage.NewMemDB())
	addr := testAddr(0x02)

	registered, err := store.ProviderRegistered(addr)
	require.NoError(t, err)
	require.False(t, registered)

	require.NoError(t, store.ProviderSet(addr, true))
	registered, err = store.ProviderRegistered(addr)
	require.NoError(t, err)
	require.True(t, registered)

	require.NoError(t, store.ProviderSet(addr, false))
	registered, err = store.ProviderRegistered(addr)
	require.NoError(t, err)
	require.False(t, registered)
}

func TestBatchAndCiphertexts(t *testing.T) {
	store := New(storage.NewMemDB())

	current, err := store.CurrentBatch()
	require.NoError(t, err)
	require.Zero(t, current)

	require.NoError(t, store.SetCurrentBatch(1))
	require.NoError(t, store.BatchPut(&confidential.Batch{ID: 1, Submissions: 2, OpenedAt: 100}))

	batch, ok, err := store.BatchGet(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(2), batch.Submissions)

	_, ok, err = store.BatchGet(2)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.CiphertextPut(1, 0, []byte{0xaa, 0xbb}))
	handle, ok, err := store.CiphertextGet(1, 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte{0xaa, 0xbb}, handle)

	_, ok, err = store.CiphertextGet(1, 1)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPendingContextsFilterTerminal(t *testing.T) {
	store := New(storage.NewMemDB())
	put := func(id string, processed, expired bool) {
		require.NoError(t, store.ContextPut(&confidential.DecryptionContext{
			RequestID: id,
			BatchID:   1,
			Processed: processed,
			Expired:   expired,
		}))
	}
	put("req-pending", false, false)
	put("req-processed", true, false)
	put("req-expired", false, true)

	pending, err := store.PendingContexts()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "req-pending", pending[0].RequestID)
}

func TestLimitsDefaultZero(t *testing.T) {
	store := New(storage.NewMemDB())
	addr := testAddr(0x03)

	limits, err := store.LimitsGet(addr)
	require.NoError(t, err)
	require.NotNil(t, limits)
	require.Zero(t, limits.LastSubmission)
	require.Zero(t, limits.LastRequest)

	limits.LastSubmission = 1_700_000_000
	limits.LastRequest = 1_700_000_030
	require.NoError(t, store.LimitsPut(addr, limits))

	loaded, err := store.LimitsGet(addr)
	require.NoError(t, err)
	require.Equal(t, limits, loaded)
}

// The store backs a long-lived daemon, so values written before a restart
// must drive the engine identically after one.
func TestSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	db, err := storage.NewLevelDB(dir)
	require.NoError(t, err)

	store := New(db)
	require.NoError(t, store.SetCurrentBatch(3))
	require.NoError(t, store.BatchPut(&confidential.Batch{ID: 3, Closed: true, Submissions: 1, OpenedAt: 50, ClosedAt: 60}))
	require.NoError(t, store.ContextPut(&confidential.DecryptionContext{RequestID: "req-1", BatchID: 3, Processed: true, Result: true}))
	db.Close()

	db, err = storage.NewLevelDB(dir)
	require.NoError(t, err)
	defer db.Close()

	store = New(db)
	current, err := store.CurrentBatch()
	require.NoError(t, err)
	require.Equal(t, uint64(3), current)

	batch, ok, err := store.BatchGet(3)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, batch.Closed)

	reqCtx, ok, err := store.ContextGet("req-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, reqCtx.Processed)
	require.True(t, reqCtx.Result)
}
