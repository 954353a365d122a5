package ottypes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimpleTextApplyInsertAndDelete(t *testing.T) {
	tt := NewSimpleTextType()

	s, err := tt.Apply("hello", TextOp{Insert: &InsertOp{Pos: 1, Text: "X"}})
	require.NoError(t, err)
	assert.Equal(t, "hXello", s)

	s, err = tt.Apply(s, TextOp{Delete: &DeleteOp{Pos: 1, Count: 1}})
	require.NoError(t, err)
	assert.Equal(t, "hello", s)
}

func TestSimpleTextInsertAtLengthAppends(t *testing.T) {
	tt := NewSimpleTextType()
	s, err := tt.Apply("hi", TextOp{Insert: &InsertOp{Pos: 2, Text: "!"}})
	require.NoError(t, err)
	assert.Equal(t, "hi!", s)
}

func TestTransformInsertInsertSamePositionTieBreak(t *testing.T) {
	tt := NewSimpleTextType()
	a := TextOp{Insert: &InsertOp{Pos: 0, Text: "A"}}
	b := TextOp{Insert: &InsertOp{Pos: 0, Text: "B"}}

	// b rebased over a from the right: b shifts past a.
	bPrime, err := tt.Transform(b, a, SideRight)
	require.NoError(t, err)
	assert.Equal(t, 1, bPrime.(TextOp).Insert.Pos)

	// a rebased over b from the left: a does not shift.
	aPrime, err := tt.Transform(a, b, SideLeft)
	require.NoError(t, err)
	assert.Equal(t, 0, aPrime.(TextOp).Insert.Pos)
}

func TestTransformInsertVsDeleteBefore(t *testing.T) {
	tt := NewSimpleTextType()
	// insert at 5, delete [0,3) committed first -> shift left by 3
	ins := TextOp{Insert: &InsertOp{Pos: 5, Text: "x"}}
	del := TextOp{Delete: &DeleteOp{Pos: 0, Count: 3}}
	out, err := tt.Transform(ins, del, SideLeft)
	require.NoError(t, err)
	assert.Equal(t, 2, out.(TextOp).Insert.Pos)
}

func TestTransformInsertVsDeleteContaining(t *testing.T) {
	tt := NewSimpleTextType()
	// insert at 2, delete [0,5) committed first, contains pos -> clamp to 0
	ins := TextOp{Insert: &InsertOp{Pos: 2, Text: "x"}}
	del := TextOp{Delete: &DeleteOp{Pos: 0, Count: 5}}
	out, err := tt.Transform(ins, del, SideLeft)
	require.NoError(t, err)
	assert.Equal(t, 0, out.(TextOp).Insert.Pos)
}

func TestTransformDeleteVsInsertBefore(t *testing.T) {
	tt := NewSimpleTextType()
	del := TextOp{Delete: &DeleteOp{Pos: 2, Count: 2}}
	ins := TextOp{Insert: &InsertOp{Pos: 0, Text: "xy"}}
	out, err := tt.Transform(del, ins, SideLeft)
	require.NoError(t, err)
	assert.Equal(t, 4, out.(TextOp).Delete.Pos)
}

func TestTransformDeleteDeleteFullyContained(t *testing.T) {
	tt := NewSimpleTextType()
	// pending delete [1,3) fully contained by already-applied [0,5)
	pending := TextOp{Delete: &DeleteOp{Pos: 1, Count: 2}}
	applied := TextOp{Delete: &DeleteOp{Pos: 0, Count: 5}}
	out, err := tt.Transform(pending, applied, SideLeft)
	require.NoError(t, err)
	assert.Equal(t, 0, out.(TextOp).Delete.Count)
}

func TestTransformDeleteDeleteDisjointBefore(t *testing.T) {
	tt := NewSimpleTextType()
	pending := TextOp{Delete: &DeleteOp{Pos: 10, Count: 2}}
	applied := TextOp{Delete: &DeleteOp{Pos: 0, Count: 3}}
	out, err := tt.Transform(pending, applied, SideLeft)
	require.NoError(t, err)
	assert.Equal(t, 7, out.(TextOp).Delete.Pos)
	assert.Equal(t, 2, out.(TextOp).Delete.Count)
}

func TestSimpleTextTP1Convergence(t *testing.T) {
	tt := NewSimpleTextType()
	s := "hello"
	a := TextOp{Insert: &InsertOp{Pos: 1, Text: "X"}}
	b := TextOp{Insert: &InsertOp{Pos: 4, Text: "Y"}}

	bPrime, err := tt.Transform(b, a, SideRight)
	require.NoError(t, err)
	aPrime, err := tt.Transform(a, b, SideLeft)
	require.NoError(t, err)

	left, err := tt.Apply(s, a)
	require.NoError(t, err)
	left, err = tt.Apply(left, bPrime)
	require.NoError(t, err)

	right, err := tt.Apply(s, b)
	require.NoError(t, err)
	right, err = tt.Apply(right, aPrime)
	require.NoError(t, err)

	assert.Equal(t, left, right)
	assert.Equal(t, "hXellYo", left)
}
