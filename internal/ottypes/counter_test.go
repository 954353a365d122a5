package ottypes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterCreateDefaultsToZero(t *testing.T) {
	c := NewCounterType()
	v, err := c.Create(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, v)
}

func TestCounterApplyAdds(t *testing.T) {
	c := NewCounterType()
	v, err := c.Apply(5, 3)
	require.NoError(t, err)
	assert.Equal(t, 8, v)
}

func TestCounterTransformIsIdentity(t *testing.T) {
	c := NewCounterType()
	v, err := c.Transform(7, 100, SideLeft)
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	v, err = c.Transform(7, 100, SideRight)
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestCounterComposeAndInvert(t *testing.T) {
	c := NewCounterType()
	composed, err := c.Compose(3, 4)
	require.NoError(t, err)
	assert.Equal(t, 7, composed)

	inv, err := c.Invert(5)
	require.NoError(t, err)
	assert.Equal(t, -5, inv)

	s, err := c.Apply(10, 5)
	require.NoError(t, err)
	undone, err := c.Apply(s, inv)
	require.NoError(t, err)
	assert.Equal(t, 10, undone)
}

// TestCounterTP1Convergence checks apply(apply(s,a),transform(b,a,right)) ==
// apply(apply(s,b),transform(a,b,left)) for arbitrary concurrent deltas.
func TestCounterTP1Convergence(t *testing.T) {
	c := NewCounterType()
	s := 10
	a, b := 5, -3

	bPrime, err := c.Transform(b, a, SideRight)
	require.NoError(t, err)
	aPrime, err := c.Transform(a, b, SideLeft)
	require.NoError(t, err)

	left, err := c.Apply(s, a)
	require.NoError(t, err)
	left, err = c.Apply(left, bPrime)
	require.NoError(t, err)

	right, err := c.Apply(s, b)
	require.NoError(t, err)
	right, err = c.Apply(right, aPrime)
	require.NoError(t, err)

	assert.Equal(t, left, right)
}
