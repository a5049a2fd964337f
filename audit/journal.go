// Package audit persists the protocol event stream. Events are the only
// channel through which external observers learn outcomes, so the journal
// is the system's durable audit trail: an append-only, hash-chained log in
// a bbolt bucket.
package audit

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	bbolt "go.etcd.io/bbolt"
	"lukechampine.com/blake3"

	"fhecoproc/core/events"
)

var bucketEvents = []byte("events")

// Record is one journaled event. Hash covers the previous record's hash and
// this record's canonical payload, so any retroactive edit breaks the chain.
type Record struct {
	Seq        uint64            `json:"seq"`
	Timestamp  int64             `json:"timestamp"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes,omitempty"`
	PrevHash   string            `json:"prevHash"`
	Hash       string            `json:"hash"`
}

// Journal is an events.Emitter that appends every event to bbolt.
type Journal struct {
	db    *bbolt.DB
	log   *slog.Logger
	nowFn func() int64
}

// Open creates or opens the journal database at path.
func Open(path string, logger *slog.Logger) (*Journal, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("audit: open journal: %w", err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEvents)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("audit: create bucket: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{db: db, log: logger, nowFn: func() int64 { return time.Now().Unix() }}, nil
}

// Close releases the underlying database.
func (j *Journal) Close() error { return j.db.Close() }

// SetNowFunc overrides the timestamp source. Intended for tests.
func (j *Journal) SetNowFunc(now func() int64) {
	if now != nil {
		j.nowFn = now
	}
}

// Emit implements events.Emitter. Append failures are logged rather than
// surfaced: the emitter contract offers no error path, and the protocol
// mutation has already committed by the time the event fires.
func (j *Journal) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	if err := j.Append(evt); err != nil {
		j.log.Error("journal append failed", "type", evt.EventType(), "error", err)
	}
}

// Append journals one event and links it into the hash chain.
func (j *Journal) Append(evt events.Event) error {
	record := Record{
		Timestamp: j.nowFn(),
		Type:      evt.EventType(),
	}
	if payload, ok := evt.(events.PayloadProvider); ok {
		if rendered := payload.Event(); rendered != nil {
			record.Attributes = rendered.Attributes
		}
	}
	return j.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketEvents)
		prevHash := ""
		if key, value := bucket.Cursor().Last(); key != nil {
			var prev Record
			if err := json.Unmarshal(value, &prev); err != nil {
				return fmt.Errorf("audit: decode tail record: %w", err)
			}
			prevHash = prev.Hash
		}
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		record.Seq = seq
		record.PrevHash = prevHash
		record.Hash = chainHash(prevHash, &record)
		encoded, err := json.Marshal(&record)
		if err != nil {
			return err
		}
		return bucket.Put(seqKey(seq), encoded)
	})
}

// Records returns up to limit records starting at the given sequence
// number (inclusive). A zero limit returns everything from start on.
func (j *Journal) Records(start uint64, limit int) ([]Record, error) {
	var out []Record
	err := j.db.View(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket(bucketEvents).Cursor()
		for key, value := cursor.Seek(seqKey(start)); key != nil; key, value = cursor.Next() {
			var record Record
			if err := json.Unmarshal(value, &record); err != nil {
				return fmt.Errorf("audit: decode record: %w", err)
			}
			out = append(out, record)
			if limit > 0 && len(out) >= limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Verify walks the full chain and reports the first record whose hash link
// is broken, or nil when the journal is intact.
func (j *Journal) Verify() error {
	prevHash := ""
	return j.db.View(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket(bucketEvents).Cursor()
		for key, value := cursor.First(); key != nil; key, value = cursor.Next() {
			var record Record
			if err := json.Unmarshal(value, &record); err != nil {
				return fmt.Errorf("audit: decode record: %w", err)
			}
			if record.PrevHash != prevHash {
				return fmt.Errorf("audit: chain break at seq %d: prev hash mismatch", record.Seq)
			}
			if record.Hash != chainHash(prevHash, &record) {
				return fmt.Errorf("audit: chain break at seq %d: record hash mismatch", record.Seq)
			}
			prevHash = record.Hash
		}
		return nil
	})
}

func seqKey(seq uint64) []byte {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], seq)
	return key[:]
}

// chainHash digests the previous hash plus the record's canonical payload
// (seq, timestamp, type, sorted attributes).
func chainHash(prevHash string, record *Record) string {
	hasher := blake3.New(32, nil)
	hasher.Write([]byte(prevHash))
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], record.Seq)
	hasher.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(record.Timestamp))
	hasher.Write(buf[:])
	hasher.Write([]byte(record.Type))
	keys := make([]string, 0, len(record.Attributes))
	for k := range record.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		hasher.Write([]byte(k))
		hasher.Write([]byte{0})
		hasher.Write([]byte(record.Attributes[k]))
		hasher.Write([]byte{0})
	}
	return hex.EncodeToString(hasher.Sum(nil))
}
