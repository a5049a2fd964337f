// Package confstate persists the confidential protocol state over the
// generic storage.Database, so the engine survives restarts with pending
// decryption contexts intact.
package confstate

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"fhecoproc/native/confidential"
	"fhecoproc/storage"
)

const (
	keyParams        = "conf/params"
	keyCurrent       = "conf/current"
	prefixProvider   = "conf/provider/"
	prefixBatch      = "conf/batch/"
	prefixCiphertext = "conf/ct/"
	prefixContext    = "conf/req/"
	prefixLimits     = "conf/limit/"
)

// Store implements the engine's state interface over a key-value database.
// All values are JSON-encoded; keys are scoped under the "conf/" namespace
// with zero-padded numeric components so iteration order matches id order.
type Store struct {
	db storage.Database
}

func New(db storage.Database) *Store {
	return &Store{db: db}
}

func providerKey(addr [20]byte) []byte {
	return []byte(prefixProvider + hex.EncodeToString(addr[:]))
}

func limitsKey(addr [20]byte) []byte {
	return []byte(prefixLimits + hex.EncodeToString(addr[:]))
}

func batchKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixBatch, id))
}

func ciphertextKey(batchID, index uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d/%020d", prefixCiphertext, batchID, index))
}

func contextKey(requestID string) []byte {
	return []byte(prefixContext + requestID)
}

func (s *Store) getJSON(key []byte, out any) (bool, error) {
	raw, err := s.db.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("confstate: decode %q: %w", key, err)
	}
	return true, nil
}

func (s *Store) putJSON(key []byte, in any) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("confstate: encode %q: %w", key, err)
	}
	return s.db.Put(key, raw)
}

func (s *Store) ParamsGet() (*confidential.Params, bool, error) {
	params := new(confidential.Params)
	ok, err := s.getJSON([]byte(keyParams), params)
	if !ok || err != nil {
		return nil, false, err
	}
	return params, true, nil
}

func (s *Store) ParamsPut(params *confidential.Params) error {
	return s.putJSON([]byte(keyParams), params)
}

func (s *Store) ProviderSet(addr [20]byte, registered bool) error {
	value := []byte("0")
	if registered {
		value = []byte("1")
	}
	return s.db.Put(providerKey(addr), value)
}

func (s *Store) ProviderRegistered(addr [20]byte) (bool, error) {
	raw, err := s.db.Get(providerKey(addr))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return len(raw) == 1 && raw[0] == '1', nil
}

func (s *Store) CurrentBatch() (uint64, error) {
	var id uint64
	ok, err := s.getJSON([]byte(keyCurrent), &id)
	if !ok {
		return 0, err
	}
	return id, nil
}

func (s *Store) SetCurrentBatch(id uint64) error {
	return s.putJSON([]byte(keyCurrent), id)
}

func (s *Store) BatchGet(id uint64) (*confidential.Batch, bool, error) {
	batch := new(confidential.Batch)
	ok, err := s.getJSON(batchKey(id), batch)
	if !ok || err != nil {
		return nil, false, err
	}
	return batch, true, nil
}

func (s *Store) BatchPut(batch *confidential.Batch) error {
	return s.putJSON(batchKey(batch.ID), batch)
}

func (s *Store) CiphertextPut(batchID, index uint64, handle []byte) error {
	return s.db.Put(ciphertextKey(batchID, index), handle)
}

func (s *Store) CiphertextGet(batchID, index uint64) ([]byte, bool, error) {
	raw, err := s.db.Get(ciphertextKey(batchID, index))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

func (s *Store) ContextGet(requestID string) (*confidential.DecryptionContext, bool, error) {
	reqCtx := new(confidential.DecryptionContext)
	ok, err := s.getJSON(contextKey(requestID), reqCtx)
	if !ok || err != nil {
		return nil, false, err
	}
	return reqCtx, true, nil
}

func (s *Store) ContextPut(reqCtx *confidential.DecryptionContext) error {
	return s.putJSON(contextKey(reqCtx.RequestID), reqCtx)
}

func (s *Store) PendingContexts() ([]*confidential.DecryptionContext, error) {
	var pending []*confidential.DecryptionContext
	err := s.db.Iterate([]byte(prefixContext), func(_, value []byte) error {
		reqCtx := new(confidential.DecryptionContext)
		if err := json.Unmarshal(value, reqCtx); err != nil {
			return fmt.Errorf("confstate: decode context: %w", err)
		}
		if reqCtx.Processed || reqCtx.Expired {
			return nil
		}
		pending = append(pending, reqCtx)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pending, nil
}

func (s *Store) LimitsGet(addr [20]byte) (*confidential.RateLimitState, error) {
	limits := new(confidential.RateLimitState)
	if _, err := s.getJSON(limitsKey(addr), limits); err != nil {
		return nil, err
	}
	return limits, nil
}

func (s *Store) LimitsPut(addr [20]byte, limits *confidential.RateLimitState) error {
	return s.putJSON(limitsKey(addr), limits)
}
