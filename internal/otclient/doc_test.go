package otclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otsync/internal/ot"
	"otsync/internal/ottypes"
)

const counterURI = "https://otsync.dev/types/counter"

// fakeConn is a connSink test double that records transmitted ops instead
// of going over a real transport.
type fakeConn struct {
	sent         []*ot.Op
	sendErr      error
	connected    bool
	id           string
	seq          int64
	flushQueue   []func()
	resubscribed []string // "collection/id" pairs, in call order
}

func newFakeConn() *fakeConn {
	return &fakeConn{connected: true, id: "c1"}
}

func (f *fakeConn) canSend() bool  { return f.connected }
func (f *fakeConn) clientID() string { return f.id }
func (f *fakeConn) nextSeq() int64 {
	f.seq++
	return f.seq
}
func (f *fakeConn) transmit(collection, id string, op *ot.Op) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, op)
	return nil
}
func (f *fakeConn) scheduleFlush(fn func()) {
	f.flushQueue = append(f.flushQueue, fn)
}
func (f *fakeConn) resubscribe(collection, id string) {
	f.resubscribed = append(f.resubscribed, collection+"/"+id)
}

// runFlushes drains flushQueue, since fakeConn defers rather than running
// synchronously (unlike Connection's default scheduler) to let tests
// observe queueing before delivery.
func (f *fakeConn) runFlushes() {
	for len(f.flushQueue) > 0 {
		fn := f.flushQueue[0]
		f.flushQueue = f.flushQueue[1:]
		fn()
	}
}

func newCounterDoc(t *testing.T, conn *fakeConn) *Doc {
	t.Helper()
	reg := ottypes.NewDefaultRegistry()
	return NewDoc("docs", "doc1", reg, conn, Events{})
}

func TestDocSubmitCreateAppliesOptimisticallyAndQueues(t *testing.T) {
	conn := newFakeConn()
	d := newCounterDoc(t, conn)

	var cbErr error
	called := false
	err := d.SubmitCreate("counter", 5, func(e error) { called = true; cbErr = e })
	require.NoError(t, err)

	snap := d.Snapshot()
	assert.Equal(t, counterURI, snap.Type)
	assert.Equal(t, 5, snap.Data)
	assert.Equal(t, int64(0), snap.V) // optimistic apply never advances version

	conn.runFlushes()
	require.Len(t, conn.sent, 1)
	assert.Equal(t, ot.OpKindCreate, conn.sent[0].Kind)
	assert.False(t, called) // not acked yet
	_ = cbErr
}

func TestDocEditBeforeExistsFails(t *testing.T) {
	conn := newFakeConn()
	d := newCounterDoc(t, conn)

	err := d.SubmitEdit(3, func(error) {})
	require.Error(t, err)
	assert.Equal(t, ot.CodeDoesNotExist, ot.CodeOf(err))
}

func TestDocAckAdvancesVersionAndFiresCallback(t *testing.T) {
	conn := newFakeConn()
	d := newCounterDoc(t, conn)

	var ackErr error
	require.NoError(t, d.SubmitCreate("counter", 5, func(e error) { ackErr = e }))
	conn.runFlushes()
	require.Len(t, conn.sent, 1)

	src, seq := *conn.sent[0].Src, *conn.sent[0].Seq
	assert.True(t, d.Ack(1, src, seq))
	assert.NoError(t, ackErr)
	assert.Equal(t, int64(1), d.Version())
	assert.False(t, d.InflightPresent())
}

func TestDocSingleInflightInvariant(t *testing.T) {
	conn := newFakeConn()
	d := newCounterDoc(t, conn)

	require.NoError(t, d.SubmitCreate("counter", 0, nil))
	conn.runFlushes()
	require.NoError(t, d.SubmitEdit(5, nil))
	conn.runFlushes() // flush attempted but inflight already occupied

	require.Len(t, conn.sent, 1, "second op must not be sent while one is inflight")
	assert.Equal(t, 1, d.PendingCount())

	src, seq := *conn.sent[0].Src, *conn.sent[0].Seq
	d.Ack(1, src, seq)
	conn.runFlushes()
	require.Len(t, conn.sent, 2)
	assert.Equal(t, 0, d.PendingCount())
}

func TestDocRemoteOpRebasesPendingAndApplies(t *testing.T) {
	conn := newFakeConn()
	d := newCounterDoc(t, conn)

	require.NoError(t, d.SubmitCreate("counter", 10, nil))
	conn.runFlushes()
	src, seq := *conn.sent[0].Src, *conn.sent[0].Seq
	d.Ack(1, src, seq)

	require.NoError(t, d.SubmitEdit(5, nil))
	snap := d.Snapshot()
	assert.Equal(t, 15, snap.Data)

	remoteV := int64(1)
	remote := ot.NewEditOp(100, &remoteV)
	var fired *ot.Op
	d2 := newCounterDocWithEvents(t, conn, Events{OnOp: func(op *ot.Op) { fired = op }})
	require.NoError(t, d2.SubmitCreate("counter", 10, nil))
	conn.runFlushes()
	d2.Ack(1, *conn.sent[len(conn.sent)-1].Src, *conn.sent[len(conn.sent)-1].Seq)
	require.NoError(t, d2.SubmitEdit(5, nil))

	d2.RemoteOp(remote)
	require.NotNil(t, fired)
	assert.Equal(t, int64(2), d2.Version())
	// optimistic 10+5 with the remote +100 applied on top
	assert.Equal(t, 115, d2.Snapshot().Data)
	_ = snap
}

func newCounterDocWithEvents(t *testing.T, conn *fakeConn, ev Events) *Doc {
	t.Helper()
	reg := ottypes.NewDefaultRegistry()
	return NewDoc("docs", "doc2", reg, conn, ev)
}

func TestDocOutOfVersionRemoteOpIgnored(t *testing.T) {
	conn := newFakeConn()
	d := newCounterDoc(t, conn)
	require.NoError(t, d.SubmitCreate("counter", 0, nil))
	conn.runFlushes()
	d.Ack(1, *conn.sent[0].Src, *conn.sent[0].Seq)

	// Duplicate: v < current version, silently ignored.
	dupV := int64(0)
	d.RemoteOp(ot.NewEditOp(1, &dupV))
	assert.Equal(t, int64(1), d.Version())

	// Out-of-order: v > current version, dropped with a warning.
	aheadV := int64(5)
	d.RemoteOp(ot.NewEditOp(1, &aheadV))
	assert.Equal(t, int64(1), d.Version())
}

func TestDocHardRollbackOnDocumentWasDeleted(t *testing.T) {
	conn := newFakeConn()
	d := newCounterDoc(t, conn)
	require.NoError(t, d.SubmitCreate("counter", 0, nil))
	conn.runFlushes()
	d.Ack(1, *conn.sent[0].Src, *conn.sent[0].Seq)

	var cbErr error
	require.NoError(t, d.SubmitEdit(5, func(e error) { cbErr = e }))

	var rolledBack error
	d.events.OnHardRollback = func(err error) { rolledBack = err }

	remoteV := int64(1)
	remote := ot.NewDeleteOp(&remoteV)
	d.RemoteOp(remote)

	require.Error(t, cbErr)
	assert.Equal(t, ot.CodeDocumentWasDeleted, ot.CodeOf(cbErr))
	require.Error(t, rolledBack)
	assert.Equal(t, ot.Nonexistent, d.Snapshot().Type)
	assert.False(t, d.Subscribed())
}

func TestDocDisconnectRequeuesInflight(t *testing.T) {
	conn := newFakeConn()
	d := newCounterDoc(t, conn)
	require.NoError(t, d.SubmitCreate("counter", 0, nil))
	conn.runFlushes()
	require.True(t, d.InflightPresent())

	d.HandleDisconnect()
	assert.False(t, d.InflightPresent())
	assert.Equal(t, 1, d.PendingCount())
}

func TestDocHandleConnectResubscribesWantedDoc(t *testing.T) {
	conn := newFakeConn()
	d := newCounterDoc(t, conn)

	d.markWantSubscribed()
	d.HandleDisconnect()
	assert.Empty(t, conn.resubscribed)

	d.HandleConnect()
	require.Len(t, conn.resubscribed, 1)
	assert.Equal(t, "docs/doc1", conn.resubscribed[0])
}

func TestDocHandleConnectSkipsResubscribeWhenNeverSubscribed(t *testing.T) {
	conn := newFakeConn()
	d := newCounterDoc(t, conn)

	d.HandleConnect()
	assert.Empty(t, conn.resubscribed)
}

func TestDocHardRollbackTriggersResubscribeWhenWanted(t *testing.T) {
	conn := newFakeConn()
	d := newCounterDoc(t, conn)
	d.markWantSubscribed()

	require.NoError(t, d.SubmitCreate("counter", 0, nil))
	conn.runFlushes()
	d.Ack(1, *conn.sent[0].Src, *conn.sent[0].Seq)
	require.NoError(t, d.SubmitEdit(5, nil))

	remoteV := int64(1)
	d.RemoteOp(ot.NewDeleteOp(&remoteV))

	require.Len(t, conn.resubscribed, 1)
	assert.Equal(t, "docs/doc1", conn.resubscribed[0])
}

func TestDocUnsubscribeCancelsAutoResubscribe(t *testing.T) {
	conn := newFakeConn()
	d := newCounterDoc(t, conn)
	d.markWantSubscribed()
	d.markUnsubscribed()

	d.HandleConnect()
	assert.Empty(t, conn.resubscribed)
}
