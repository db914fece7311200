// Package statedb implements the path-addressed key/value state database.
//
// Values live at slash-separated semantic paths such as
// /consensus/number/7/register/0xabc... and are stored as raw JSON. A
// SET_VALUE with a JSON null deletes the subtree rooted at the path.
package statedb

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/halcyon-labs/halcyon-chain/internal/storage"
	"github.com/halcyon-labs/halcyon-chain/pkg/tx"
)

// StateDB is a path-addressed view over a storage.DB.
type StateDB struct {
	mu sync.RWMutex
	db storage.DB
}

// New creates a state database over the given backing store.
func New(db storage.DB) *StateDB {
	return &StateDB{db: db}
}

// NormalizePath canonicalizes a state path: leading slash, no trailing slash.
func NormalizePath(path string) string {
	p := "/" + strings.Trim(path, "/")
	if p == "/" {
		return ""
	}
	return p
}

// GetValue returns the raw JSON value at the given path, or nil if absent.
func (s *StateDB) GetValue(path string) (json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := s.db.Get([]byte(NormalizePath(path)))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("state get %s: %w", path, err)
	}
	return json.RawMessage(data), nil
}

// GetJSON decodes the value at path into out. Returns false if absent.
func (s *StateDB) GetJSON(path string, out interface{}) (bool, error) {
	raw, err := s.GetValue(path)
	if err != nil {
		return false, err
	}
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("state decode %s: %w", path, err)
	}
	return true, nil
}

// SetValue writes a raw JSON value at the given path. A JSON null deletes
// the subtree rooted at the path.
func (s *StateDB) SetValue(path string, value json.RawMessage) error {
	if string(value) == "null" || value == nil {
		return s.DeleteSubtree(path)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.Put([]byte(NormalizePath(path)), value); err != nil {
		return fmt.Errorf("state put %s: %w", path, err)
	}
	return nil
}

// DeleteSubtree removes the value at path and every descendant path.
func (s *StateDB) DeleteSubtree(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	root := NormalizePath(path)
	if err := s.db.Delete([]byte(root)); err != nil {
		return fmt.Errorf("state delete %s: %w", path, err)
	}

	var children [][]byte
	err := s.db.ForEach([]byte(root+"/"), func(key, _ []byte) error {
		k := make([]byte, len(key))
		copy(k, key)
		children = append(children, k)
		return nil
	})
	if err != nil {
		return fmt.Errorf("state scan %s: %w", path, err)
	}
	for _, k := range children {
		if err := s.db.Delete(k); err != nil {
			return fmt.Errorf("state delete %s: %w", string(k), err)
		}
	}
	return nil
}

// ForEach visits every path/value pair under the given path prefix in
// ascending path order.
func (s *StateDB) ForEach(prefix string, fn func(path string, value json.RawMessage) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p := NormalizePath(prefix)
	if p != "" {
		p += "/"
	}
	return s.db.ForEach([]byte(p), func(key, value []byte) error {
		return fn(string(key), json.RawMessage(value))
	})
}

// applyOperation applies a single operation. SET fans out over its op_list.
func (s *StateDB) applyOperation(op tx.Operation) error {
	switch op.Type {
	case tx.OpSetValue:
		return s.SetValue(op.Ref, op.Value)
	case tx.OpSet:
		for i, sub := range op.OpList {
			if err := s.applyOperation(sub); err != nil {
				return fmt.Errorf("op_list[%d]: %w", i, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown operation type %q", op.Type)
	}
}

// ExecuteTransaction applies a transaction's operation to the state.
func (s *StateDB) ExecuteTransaction(t *tx.Transaction) error {
	if t == nil {
		return fmt.Errorf("nil transaction")
	}
	if err := s.applyOperation(t.Operation); err != nil {
		return fmt.Errorf("execute tx %s: %w", t.Hash(), err)
	}
	return nil
}

// ExecuteTransactionList applies transactions in order. The first failure
// aborts the remainder.
func (s *StateDB) ExecuteTransactionList(txs []*tx.Transaction) error {
	for _, t := range txs {
		if err := s.ExecuteTransaction(t); err != nil {
			return err
		}
	}
	return nil
}

// SetToSnapshot replaces the entire contents with a copy of src.
func (s *StateDB) SetToSnapshot(src *StateDB) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys [][]byte
	err := s.db.ForEach(nil, func(key, _ []byte) error {
		k := make([]byte, len(key))
		copy(k, key)
		keys = append(keys, k)
		return nil
	})
	if err != nil {
		return fmt.Errorf("state clear scan: %w", err)
	}
	for _, k := range keys {
		if err := s.db.Delete(k); err != nil {
			return fmt.Errorf("state clear: %w", err)
		}
	}

	src.mu.RLock()
	defer src.mu.RUnlock()
	err = src.db.ForEach(nil, func(key, value []byte) error {
		return s.db.Put(key, value)
	})
	if err != nil {
		return fmt.Errorf("state copy: %w", err)
	}
	return nil
}

// Equal reports whether two state databases hold identical contents.
// Used by tests to check reconstruction idempotence.
func (s *StateDB) Equal(other *StateDB) (bool, error) {
	mine := make(map[string]string)
	if err := s.snapshotInto(mine); err != nil {
		return false, err
	}
	theirs := make(map[string]string)
	if err := other.snapshotInto(theirs); err != nil {
		return false, err
	}
	if len(mine) != len(theirs) {
		return false, nil
	}
	for k, v := range mine {
		if theirs[k] != v {
			return false, nil
		}
	}
	return true, nil
}

func (s *StateDB) snapshotInto(out map[string]string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db.ForEach(nil, func(key, value []byte) error {
		out[string(key)] = string(value)
		return nil
	})
}
