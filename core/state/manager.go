package state

import (
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"subledger/storage"
)

// Manager provides keccak-keyed, RLP-encoded access to the underlying
// key-value store. Writes accumulate in an in-memory overlay until Commit
// flushes them, so a failed operation can Discard everything it wrote and
// leave the store byte-identical to its pre-call state.
//
// Manager is not safe for concurrent use; the node serializes access.
type Manager struct {
	db      storage.Database
	pending map[string]pendingWrite
}

type pendingWrite struct {
	value   []byte
	deleted bool
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{
		db:      db,
		pending: make(map[string]pendingWrite),
	}
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func (m *Manager) get(key []byte) ([]byte, bool, error) {
	hashed := kvKey(key)
	if entry, ok := m.pending[string(hashed)]; ok {
		if entry.deleted {
			return nil, false, nil
		}
		return entry.value, true, nil
	}
	value, err := m.db.Get(hashed)
	if err == storage.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (m *Manager) put(key, value []byte) {
	buf := make([]byte, len(value))
	copy(buf, value)
	m.pending[string(kvKey(key))] = pendingWrite{value: buf}
}

func (m *Manager) del(key []byte) {
	m.pending[string(kvKey(key))] = pendingWrite{deleted: true}
}

// Commit flushes all pending writes to the underlying database and clears the
// overlay.
func (m *Manager) Commit() error {
	for key, entry := range m.pending {
		if entry.deleted {
			if err := m.db.Delete([]byte(key)); err != nil {
				return fmt.Errorf("state commit: %w", err)
			}
			continue
		}
		if err := m.db.Put([]byte(key), entry.value); err != nil {
			return fmt.Errorf("state commit: %w", err)
		}
	}
	m.pending = make(map[string]pendingWrite)
	return nil
}

// Discard drops all pending writes without touching the database.
func (m *Manager) Discard() {
	m.pending = make(map[string]pendingWrite)
}

// Dirty reports whether uncommitted writes are pending.
func (m *Manager) Dirty() bool {
	return len(m.pending) > 0
}

// KVGet decodes the RLP value stored under key into out, reporting whether an
// entry existed.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	value, ok, err := m.get(key)
	if err != nil || !ok {
		return false, err
	}
	if err := rlp.DecodeBytes(value, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVPut stores the RLP encoding of value under key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.put(key, encoded)
	return nil
}

// KVDelete removes the entry stored under key.
func (m *Manager) KVDelete(key []byte) {
	m.del(key)
}
