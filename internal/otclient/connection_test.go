package otclient

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otsync/internal/ot"
	"otsync/internal/ottypes"
	"otsync/internal/wireproto"
)

type fakeTransport struct {
	sent []wireproto.Message
}

func (f *fakeTransport) Send(msg wireproto.Message) error {
	f.sent = append(f.sent, msg)
	return nil
}

func TestConnectionHandshakeSetsClientID(t *testing.T) {
	conn := NewConnection(ottypes.NewDefaultRegistry(), Events{}, ConnectionEvents{})
	transport := &fakeTransport{}
	conn.Open(transport)

	conn.Receive(wireproto.Handshake("c42"))
	assert.Equal(t, "c42", conn.clientID())
}

func TestConnectionSubscribeThenSnapshotLoadsDoc(t *testing.T) {
	conn := NewConnection(ottypes.NewDefaultRegistry(), Events{}, ConnectionEvents{})
	transport := &fakeTransport{}
	conn.Open(transport)

	d, err := conn.Subscribe("docs", "doc1")
	require.NoError(t, err)
	require.Len(t, transport.sent, 1)
	assert.Equal(t, wireproto.ActionSubscribe, transport.sent[0].A)

	snapshot := &ot.Snapshot{ID: "doc1", V: 3, Type: counterURI, Data: 7}
	raw, err := json.Marshal(snapshot)
	require.NoError(t, err)
	conn.Receive(wireproto.Message{A: wireproto.ActionSubscribe, C: "docs", D: "doc1", Data: raw})

	assert.Equal(t, int64(3), d.Version())
	assert.Equal(t, float64(7), d.Snapshot().Data) // JSON numbers decode as float64
	assert.True(t, d.Subscribed())
}

func TestConnectionSubmitFlowsThroughTransportAndAck(t *testing.T) {
	conn := NewConnection(ottypes.NewDefaultRegistry(), Events{}, ConnectionEvents{})
	transport := &fakeTransport{}
	conn.Open(transport)

	d := conn.Doc("docs", "doc1")
	var acked bool
	require.NoError(t, d.SubmitCreate("counter", 5, func(error) { acked = true }))

	require.Len(t, transport.sent, 1)
	op := transport.sent[0].Op
	require.NotNil(t, op)

	conn.Receive(wireproto.AckMessage("docs", "doc1", 1, *op.Src, *op.Seq))
	assert.True(t, acked)
	assert.Equal(t, int64(1), d.Version())
}

func TestConnectionReopenResubscribesPreviouslySubscribedDocs(t *testing.T) {
	conn := NewConnection(ottypes.NewDefaultRegistry(), Events{}, ConnectionEvents{})
	transport := &fakeTransport{}
	conn.Open(transport)

	_, err := conn.Subscribe("docs", "doc1")
	require.NoError(t, err)
	require.Len(t, transport.sent, 1)

	conn.Close()
	assert.False(t, conn.Doc("docs", "doc1").Subscribed())

	transport2 := &fakeTransport{}
	conn.Open(transport2)

	require.Len(t, transport2.sent, 1, "reopening must resend a subscribe for the doc that was subscribed before disconnect")
	assert.Equal(t, wireproto.ActionSubscribe, transport2.sent[0].A)
	assert.Equal(t, "docs", transport2.sent[0].C)
	assert.Equal(t, "doc1", transport2.sent[0].D)
}

func TestConnectionCloseRequeuesInflightAcrossDocs(t *testing.T) {
	conn := NewConnection(ottypes.NewDefaultRegistry(), Events{}, ConnectionEvents{})
	transport := &fakeTransport{}
	conn.Open(transport)

	d := conn.Doc("docs", "doc1")
	require.NoError(t, d.SubmitCreate("counter", 0, nil))
	require.True(t, d.InflightPresent())

	conn.Close()
	assert.False(t, d.InflightPresent())
	assert.Equal(t, 1, d.PendingCount())

	_, err := conn.Subscribe("docs", "doc1")
	assert.Error(t, err, "sends must fail while disconnected")
}
