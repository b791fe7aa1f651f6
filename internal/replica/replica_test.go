package replica

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/usersvc/internal/cluster"
	"github.com/dreamware/usersvc/internal/storage"
)

// recordingReporter captures reports instead of sending them anywhere
type recordingReporter struct {
	mu   sync.Mutex
	msgs []cluster.Message
	err  error
}

func (r *recordingReporter) Send(_ context.Context, msg cluster.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recordingReporter) sent() []cluster.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]cluster.Message(nil), r.msgs...)
}

var roby = storage.RecordData{Username: "Roby", Age: 34, Hobbies: []string{"skiing"}}

func TestNew(t *testing.T) {
	r := New("w-1", nil)

	assert.Equal(t, "w-1", r.WorkerID)
	assert.NotNil(t, r.Store)
	assert.NotNil(t, r.Stats)
	assert.Equal(t, ReplicaStateEmpty, r.Info().State)
}

func TestReplicaReportsMutations(t *testing.T) {
	rep := &recordingReporter{}
	r := New("w-1", rep)
	ctx := context.Background()

	created := r.Create(ctx, roby)
	updated, err := r.Update(ctx, created.ID, storage.RecordData{Username: "Rob", Age: 35, Hobbies: []string{}})
	require.NoError(t, err)
	require.NoError(t, r.Delete(ctx, created.ID))

	msgs := rep.sent()
	require.Len(t, msgs, 3)

	wantTypes := []cluster.MessageType{cluster.MessageDataCreated, cluster.MessageDataUpdated, cluster.MessageDataDeleted}
	for i, msg := range msgs {
		assert.Equal(t, wantTypes[i], msg.Type)
		rec, err := msg.Record()
		require.NoError(t, err)
		assert.Equal(t, created.ID, rec.ID)
	}

	rec, _ := msgs[1].Record()
	assert.Equal(t, updated, rec)
	assert.Empty(t, r.GetAll())
}

func TestReplicaMissingIDsAreNotReported(t *testing.T) {
	rep := &recordingReporter{}
	r := New("w-1", rep)
	ctx := context.Background()

	_, err := r.Update(ctx, "missing", roby)
	assert.ErrorIs(t, err, storage.ErrRecordNotFound)
	assert.ErrorIs(t, r.Delete(ctx, "missing"), storage.ErrRecordNotFound)
	assert.Empty(t, rep.sent())
}

func TestReplicaReportFailureKeepsLocalWrite(t *testing.T) {
	rep := &recordingReporter{err: errors.New("pipe gone")}
	r := New("w-1", rep)

	rec := r.Create(context.Background(), roby)

	got, err := r.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec, got)
	assert.Equal(t, uint64(1), r.GetStats().Ops.ReportsFailed)
}

func TestReplicaSync(t *testing.T) {
	r := New("w-1", nil)
	r.Create(context.Background(), roby)

	snapshot := []storage.Record{
		{ID: "a", Username: "a", Age: 1, Hobbies: []string{}},
		{ID: "b", Username: "b", Age: 2, Hobbies: []string{"x"}},
	}

	r.Sync(snapshot)
	once := r.GetAll()
	r.Sync(snapshot)
	twice := r.GetAll()

	assert.Equal(t, snapshot, once)
	assert.Equal(t, once, twice)

	info := r.Info()
	assert.Equal(t, ReplicaStateSynced, info.State)
	assert.Equal(t, 2, info.Records)
	assert.Equal(t, uint64(2), info.Ops.Syncs)
	assert.False(t, info.LastSync.IsZero())
}

func TestReplicaStats(t *testing.T) {
	r := New("w-1", nil)
	ctx := context.Background()

	rec := r.Create(ctx, roby)
	_, _ = r.Get(rec.ID)
	_ = r.GetAll()
	_, _ = r.Update(ctx, rec.ID, roby)
	_ = r.Delete(ctx, rec.ID)

	stats := r.GetStats()
	assert.Equal(t, uint64(1), stats.Ops.Creates)
	assert.Equal(t, uint64(2), stats.Ops.Gets)
	assert.Equal(t, uint64(1), stats.Ops.Updates)
	assert.Equal(t, uint64(1), stats.Ops.Deletes)
	assert.Equal(t, 0, stats.Storage.Records)
}

func TestReplicaConcurrency(t *testing.T) {
	rep := &recordingReporter{}
	r := New("w-1", rep)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Create(context.Background(), roby)
		}()
		go func() {
			defer wg.Done()
			r.Sync(nil)
		}()
	}
	wg.Wait()

	assert.Len(t, rep.sent(), 20)
}
