package cluster

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/dreamware/usersvc/internal/storage"
)

// WorkerState is the liveness of a forked worker as seen by the coordinator.
type WorkerState string

const (
	// WorkerStarting means the process was spawned but has not announced itself yet
	WorkerStarting WorkerState = "starting"
	// WorkerReady means the worker is listening and can take traffic
	WorkerReady WorkerState = "ready"
	// WorkerDead means the process exited or stopped answering health checks
	WorkerDead WorkerState = "dead"
)

// WorkerInfo identifies a worker and the internal address it serves on.
type WorkerInfo struct {
	ID    string      `json:"id" msgpack:"id"`
	Addr  string      `json:"addr" msgpack:"addr"`
	State WorkerState `json:"state" msgpack:"state"`
}

// MessageType tags every message crossing the coordinator/worker boundary.
type MessageType string

const (
	MessageDataCreated MessageType = "DATA_CREATED"
	MessageDataUpdated MessageType = "DATA_UPDATED"
	MessageDataDeleted MessageType = "DATA_DELETED"
	MessageSyncData    MessageType = "SYNC_DATA"
	MessageWorkerReady MessageType = "WORKER_READY"
)

// IsMutation reports whether t is one of the worker→coordinator mutation reports.
func (t MessageType) IsMutation() bool {
	switch t {
	case MessageDataCreated, MessageDataUpdated, MessageDataDeleted:
		return true
	}
	return false
}

// Message is the envelope sent over a Channel. Data holds the msgpack
// encoding of a storage.Record, a []storage.Record or a WorkerInfo
// depending on Type.
type Message struct {
	Type MessageType        `msgpack:"type"`
	Data msgpack.RawMessage `msgpack:"data"`
}

// NewMessage encodes data into a Message of the given type.
func NewMessage(t MessageType, data any) (Message, error) {
	raw, err := msgpack.Marshal(data)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s: %w", t, err)
	}
	return Message{Type: t, Data: raw}, nil
}

// Decode unpacks the payload into out.
func (m Message) Decode(out any) error {
	if err := msgpack.Unmarshal(m.Data, out); err != nil {
		return fmt.Errorf("decode %s: %w", m.Type, err)
	}
	return nil
}

// Record decodes the payload of a mutation report.
func (m Message) Record() (storage.Record, error) {
	var rec storage.Record
	if err := m.Decode(&rec); err != nil {
		return storage.Record{}, err
	}
	return rec.Clone(), nil
}

// Records decodes the payload of a SYNC_DATA snapshot.
func (m Message) Records() ([]storage.Record, error) {
	var recs []storage.Record
	if err := m.Decode(&recs); err != nil {
		return nil, err
	}
	return storage.CloneRecords(recs), nil
}

// ReportMessage builds a mutation report for rec.
func ReportMessage(t MessageType, rec storage.Record) (Message, error) {
	if !t.IsMutation() {
		return Message{}, fmt.Errorf("%s is not a mutation report", t)
	}
	return NewMessage(t, rec)
}

// SnapshotMessage builds a SYNC_DATA message carrying the full collection.
func SnapshotMessage(records []storage.Record) (Message, error) {
	if records == nil {
		records = []storage.Record{}
	}
	return NewMessage(MessageSyncData, records)
}
