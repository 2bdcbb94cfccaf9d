package statestore

import (
	"encoding/json"
	"errors"
	"fmt"

	"swingbot/internal/domain"
	"swingbot/internal/ports"

	"github.com/dgraph-io/badger/v3"
)

// badgerRepository is the BadgerDB implementation of ports.StateRepository.
// The entire snapshot is marshaled to JSON and written under a single key
// inside one transaction, so a snapshot on disk is always either the previous
// complete state or the new complete state.
type badgerRepository struct {
	db       *badger.DB
	stateKey []byte
}

// New creates a repository instance backed by a BadgerDB database at dbPath.
func New(dbPath string) (ports.StateRepository, error) {
	opts := badger.DefaultOptions(dbPath)
	// Badger's own logging is noisy; errors still surface from DB operations.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening state store at %s: %w", dbPath, err)
	}

	return &badgerRepository{
		db:       db,
		stateKey: []byte("lifecycle_state"),
	}, nil
}

// Save atomically writes the entire snapshot.
func (r *badgerRepository) Save(state *domain.PersistedState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshaling state snapshot: %w", err)
	}

	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(r.stateKey, data)
	})
}

// Load reads the snapshot from storage. A missing key returns (nil, nil):
// first run, or an operator reset.
func (r *badgerRepository) Load() (*domain.PersistedState, error) {
	var state domain.PersistedState

	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(r.stateKey)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				return errors.New("state value is empty in database")
			}
			return json.Unmarshal(val, &state)
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading state snapshot: %w", err)
	}

	if state.Version != domain.StateVersion {
		return nil, fmt.Errorf("unsupported state snapshot version %d (want %d)", state.Version, domain.StateVersion)
	}
	return &state, nil
}

// Reset deletes the persisted snapshot. Used by the operator flag that clears
// a FAULTED state after manual intervention.
func (r *badgerRepository) Reset() error {
	return r.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(r.stateKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

// Close gracefully closes the database.
func (r *badgerRepository) Close() error {
	return r.db.Close()
}
