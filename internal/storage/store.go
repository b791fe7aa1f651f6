package storage

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"
)

// ErrRecordNotFound is returned when an id doesn't exist in the store
var ErrRecordNotFound = errors.New("record not found")

// Store defines the local record store a worker serves requests from.
// All implementations must be thread-safe for concurrent access.
type Store interface {
	// Get retrieves a record by id
	// Returns ErrRecordNotFound if the id doesn't exist
	Get(id string) (Record, error)

	// GetAll returns every record in insertion order
	GetAll() []Record

	// Create stores a new record under a freshly minted id
	Create(data RecordData) Record

	// Update replaces the fields of an existing record, keeping its id
	// Returns ErrRecordNotFound if the id doesn't exist
	Update(id string, data RecordData) (Record, error)

	// Delete removes a record by id
	// Returns ErrRecordNotFound if the id doesn't exist
	Delete(id string) error

	// ReplaceAll swaps the entire contents for the given records
	ReplaceAll(records []Record)

	// Stats returns storage statistics
	Stats() StoreStats
}

// StoreStats contains statistics about the store
type StoreStats struct {
	Records int // Number of records
}

// MemoryStore implements Store with an ordered in-memory slice.
// Uses sync.RWMutex because the worker's HTTP server handles requests
// on many goroutines at once.
type MemoryStore struct {
	mu      sync.RWMutex
	records []Record
}

// NewMemoryStore creates a new, empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: []Record{},
	}
}

func (m *MemoryStore) indexOf(id string) int {
	return slices.IndexFunc(m.records, func(r Record) bool { return r.ID == id })
}

// Get retrieves a record by id
// Returns a copy of the record to prevent external modification
func (m *MemoryStore) Get(id string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx := m.indexOf(id)
	if idx < 0 {
		return Record{}, ErrRecordNotFound
	}
	return m.records[idx].Clone(), nil
}

// GetAll returns a copy of all records in insertion order
func (m *MemoryStore) GetAll() []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return CloneRecords(m.records)
}

// Create appends a new record with a random UUID
func (m *MemoryStore) Create(data RecordData) Record {
	rec := Record{
		ID:       uuid.NewString(),
		Username: data.Username,
		Age:      data.Age,
		Hobbies:  data.Hobbies,
	}.Clone()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = append(m.records, rec)
	return rec.Clone()
}

// Update overwrites username, age and hobbies of an existing record
func (m *MemoryStore) Update(id string, data RecordData) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.indexOf(id)
	if idx < 0 {
		return Record{}, ErrRecordNotFound
	}

	m.records[idx] = Record{
		ID:       id,
		Username: data.Username,
		Age:      data.Age,
		Hobbies:  data.Hobbies,
	}.Clone()
	return m.records[idx].Clone(), nil
}

// Delete removes exactly one record by id
func (m *MemoryStore) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.indexOf(id)
	if idx < 0 {
		return ErrRecordNotFound
	}
	m.records = slices.Delete(m.records, idx, idx+1)
	return nil
}

// ReplaceAll drops the current contents and installs a copy of records.
// Applying the same snapshot twice leaves the store unchanged.
func (m *MemoryStore) ReplaceAll(records []Record) {
	replacement := CloneRecords(records)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = replacement
}

// Stats returns storage statistics
func (m *MemoryStore) Stats() StoreStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return StoreStats{Records: len(m.records)}
}
