package storage

import (
	"errors"
	"testing"
)

func runDatabaseSuite(t *testing.T, db Database) {
	t.Helper()
	if _, err := db.Get([]byte("missing")); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
	if err := db.Put([]byte("conf/a"), []byte("1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := db.Put([]byte("conf/b"), []byte("2")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := db.Put([]byte("other/c"), []byte("3")); err != nil {
		t.Fatalf("put: %v", err)
	}
	value, err := db.Get([]byte("conf/a"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(value) != "1" {
		t.Fatalf("unexpected value %q", value)
	}

	var seen []string
	err = db.Iterate([]byte("conf/"), func(key, value []byte) error {
		seen = append(seen, string(key)+"="+string(value))
		return nil
	})
	if err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if len(seen) != 2 {
		t.Fatalf("expected 2 prefixed entries, got %v", seen)
	}

	// Overwrites replace in place.
	if err := db.Put([]byte("conf/a"), []byte("9")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	value, err = db.Get([]byte("conf/a"))
	if err != nil {
		t.Fatalf("get after overwrite: %v", err)
	}
	if string(value) != "9" {
		t.Fatalf("unexpected value %q", value)
	}
}

func TestMemDB(t *testing.T) {
	db := NewMemDB()
	defer db.Close()
	runDatabaseSuite(t, db)
}

func TestLevelDB(t *testing.T) {
	db, err := NewLevelDB(t.TempDir())
	if err != nil {
		t.Fatalf("open leveldb: %v", err)
	}
	defer db.Close()
	runDatabaseSuite(t, db)
}

func TestMemDBCopiesValues(t *testing.T) {
	db := NewMemDB()
	defer db.Close()
	value := []byte("original")
	if err := db.Put([]byte("k"), value); err != nil {
		t.Fatalf("put: %v", err)
	}
	value[0] = 'X'
	stored, err := db.Get([]byte("k"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(stored) != "original" {
		t.Fatalf("stored value aliased the caller's slice: %q", stored)
	}
}
