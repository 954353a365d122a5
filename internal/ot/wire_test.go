package ot

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otsync/internal/ottypes"
)

func TestOpWireRoundTripCreate(t *testing.T) {
	op := NewCreateOp("counter", 5, v(2))
	raw, err := json.Marshal(op)
	require.NoError(t, err)

	var decoded Op
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, OpKindCreate, decoded.Kind)
	assert.Equal(t, "counter", decoded.Create.Type)
	assert.Equal(t, int64(2), *decoded.V)
}

func TestOpWireRoundTripDelete(t *testing.T) {
	op := NewDeleteOp(v(4))
	raw, err := json.Marshal(op)
	require.NoError(t, err)

	var decoded Op
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, OpKindDelete, decoded.Kind)
}

func TestOpWireRoundTripEditWithTypedPayload(t *testing.T) {
	op := NewEditOp(ottypes.TextOp{Insert: &ottypes.InsertOp{Pos: 1, Text: "X"}}, v(1))
	op.WithSource("client-1", 7)

	raw, err := json.Marshal(op)
	require.NoError(t, err)

	var decoded Op
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, OpKindEdit, decoded.Kind)
	assert.True(t, decoded.HasEdit)

	var textOp ottypes.TextOp
	require.NoError(t, DecodeEditAs(decoded.Edit, &textOp))
	assert.Equal(t, 1, textOp.Insert.Pos)
	assert.Equal(t, "X", textOp.Insert.Text)
	assert.Equal(t, "client-1", *decoded.Src)
	assert.Equal(t, int64(7), *decoded.Seq)
}

func TestOpWireMissingShapeIsInvalid(t *testing.T) {
	var decoded Op
	require.NoError(t, json.Unmarshal([]byte(`{"v":1}`), &decoded))
	assert.Equal(t, OpKindInvalid, decoded.Kind)
	assert.Error(t, CheckOp(newRegistry(), &decoded))
}
