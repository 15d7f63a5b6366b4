package edits

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCorrelationFIFO(t *testing.T) {
	c := NewCorrelation()
	c.Register("call-1", "/tmp/a.go")
	c.Register("call-2", "/tmp/a.go")

	id, ok := c.Claim("/tmp/a.go")
	require.True(t, ok)
	assert.Equal(t, "call-1", id)

	id, ok = c.Claim("/tmp/a.go")
	require.True(t, ok)
	assert.Equal(t, "call-2", id)

	_, ok = c.Claim("/tmp/a.go")
	assert.False(t, ok, "entries are consumed at most once")
}

func TestCorrelationCaseAndSeparatorInsensitive(t *testing.T) {
	c := NewCorrelation()
	c.Register("call-1", "/Tmp/Sub/A.go")

	id, ok := c.Claim("/tmp/sub/a.go")
	require.True(t, ok)
	assert.Equal(t, "call-1", id)
}

func TestCorrelationNearMatchFallback(t *testing.T) {
	c := NewCorrelation()
	c.Register("call-1", "/tmp/project/a.go")

	// Slightly different path (e.g. trailing separator handling upstream)
	// still resolves to the registered entry.
	id, ok := c.Claim("/tmp/project1/a.go")
	require.True(t, ok)
	assert.Equal(t, "call-1", id)
}

func TestCorrelationNeverCrossesUnrelatedFiles(t *testing.T) {
	c := NewCorrelation()
	c.Register("call-1", "/tmp/project/alpha.go")

	_, ok := c.Claim("/tmp/project/beta.go")
	assert.False(t, ok, "different base names must not be correlated")

	_, ok = c.Claim("/completely/elsewhere/alpha.go")
	assert.False(t, ok, "distance bound rejects distant paths")
}

func TestCorrelationReset(t *testing.T) {
	c := NewCorrelation()
	c.Register("call-1", "/tmp/a.go")
	assert.Len(t, c.Files(), 1)

	c.Reset()
	assert.Empty(t, c.Files())

	_, ok := c.Claim("/tmp/a.go")
	assert.False(t, ok)
}
