package wireproto

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otsync/internal/ot"
)

func vp(n int64) *int64 { return &n }

func TestAckMessageRoundTrip(t *testing.T) {
	msg := AckMessage("docs", "doc1", 3, "client-1", 2)
	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded Message
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, ActionOp, decoded.A)
	assert.Nil(t, decoded.Op)
	require.NotNil(t, decoded.V)
	assert.Equal(t, int64(3), *decoded.V)
	assert.Equal(t, "client-1", *decoded.Src)
}

func TestOpMessageRoundTrip(t *testing.T) {
	op := ot.NewEditOp(5, vp(1))
	op.WithSource("client-1", 9)
	msg := OpMessage("docs", "doc1", op)

	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded Message
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.NotNil(t, decoded.Op)
	assert.Equal(t, ot.OpKindEdit, decoded.Op.Kind)
	assert.Equal(t, int64(1), *decoded.Op.V)
	assert.Equal(t, "client-1", *decoded.Op.Src)
}

func TestHandshakeMessage(t *testing.T) {
	msg := Handshake("c1")
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":"hs","id":"c1"}`, string(raw))
}
