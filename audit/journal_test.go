package audit

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	bbolt "go.etcd.io/bbolt"

	"fhecoproc/core/events"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	journal, err := Open(filepath.Join(t.TempDir(), "journal.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = journal.Close() })
	now := int64(1_700_000_000)
	journal.SetNowFunc(func() int64 { now++; return now })
	return journal
}

func TestAppendLinksChain(t *testing.T) {
	journal := openTestJournal(t)

	require.NoError(t, journal.Append(events.BatchOpened{BatchID: 1}))
	require.NoError(t, journal.Append(events.DataSubmitted{BatchID: 1, Index: 0}))
	require.NoError(t, journal.Append(events.BatchClosed{BatchID: 1, Submissions: 1}))

	records, err := journal.Records(1, 0)
	require.NoError(t, err)
	require.Len(t, records, 3)

	require.Equal(t, uint64(1), records[0].Seq)
	require.Empty(t, records[0].PrevHash)
	for i := 1; i < len(records); i++ {
		require.Equal(t, records[i-1].Seq+1, records[i].Seq)
		require.Equal(t, records[i-1].Hash, records[i].PrevHash)
	}
	require.Equal(t, events.TypeDataSubmitted, records[1].Type)
	require.NotEmpty(t, records[1].Attributes["batchId"])
	require.NoError(t, journal.Verify())
}

func TestRecordsPagination(t *testing.T) {
	journal := openTestJournal(t)
	for i := uint64(1); i <= 5; i++ {
		require.NoError(t, journal.Append(events.BatchOpened{BatchID: i}))
	}
	records, err := journal.Records(3, 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, uint64(3), records[0].Seq)
	require.Equal(t, uint64(4), records[1].Seq)
}

func TestVerifyDetectsTampering(t *testing.T) {
	journal := openTestJournal(t)
	require.NoError(t, journal.Append(events.BatchOpened{BatchID: 1}))
	require.NoError(t, journal.Append(events.BatchClosed{BatchID: 1, Submissions: 0}))
	require.NoError(t, journal.Verify())

	// Rewrite the first record in place.
	err := journal.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketEvents)
		var record Record
		if err := json.Unmarshal(bucket.Get(seqKey(1)), &record); err != nil {
			return err
		}
		record.Attributes["batchId"] = "99"
		encoded, err := json.Marshal(&record)
		if err != nil {
			return err
		}
		return bucket.Put(seqKey(1), encoded)
	})
	require.NoError(t, err)
	require.Error(t, journal.Verify())
}

func TestEmitSwallowsNil(t *testing.T) {
	journal := openTestJournal(t)
	journal.Emit(nil)
	records, err := journal.Records(1, 0)
	require.NoError(t, err)
	require.Empty(t, records)
}
