package coordinator

import (
	"golang.org/x/exp/slices"

	"github.com/dreamware/usersvc/internal/cluster"
	"github.com/dreamware/usersvc/internal/storage"
)

// Collection is the canonical, insertion-ordered record collection.
// It is owned by the coordinator's event loop and is not safe for
// concurrent use.
type Collection struct {
	records []storage.Record
}

// NewCollection creates an empty canonical collection.
func NewCollection() *Collection {
	return &Collection{records: []storage.Record{}}
}

func (c *Collection) indexOf(id string) int {
	return slices.IndexFunc(c.records, func(r storage.Record) bool { return r.ID == id })
}

// Apply folds one mutation report into the collection and reports
// whether anything changed.
//
//   - DATA_CREATED appends, or replaces in place if the id is already known
//   - DATA_UPDATED replaces by id
//   - DATA_DELETED removes by id
//
// An update or delete for an unknown id is a no-op: replicas can run
// slightly ahead of or behind the canonical collection.
func (c *Collection) Apply(t cluster.MessageType, rec storage.Record) bool {
	idx := c.indexOf(rec.ID)

	switch t {
	case cluster.MessageDataCreated:
		if idx >= 0 {
			c.records[idx] = rec.Clone()
		} else {
			c.records = append(c.records, rec.Clone())
		}
		return true
	case cluster.MessageDataUpdated:
		if idx < 0 {
			return false
		}
		c.records[idx] = rec.Clone()
		return true
	case cluster.MessageDataDeleted:
		if idx < 0 {
			return false
		}
		c.records = slices.Delete(c.records, idx, idx+1)
		return true
	}
	return false
}

// Snapshot returns a deep copy suitable for sending to workers.
func (c *Collection) Snapshot() []storage.Record {
	return storage.CloneRecords(c.records)
}

// Len returns the number of records.
func (c *Collection) Len() int {
	return len(c.records)
}
