package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionDeliverResults(t *testing.T) {
	s := newSession("alice", 1)

	ok, full := s.deliver([]byte("one"))
	assert.True(t, ok)
	assert.False(t, full)

	ok, full = s.deliver([]byte("two"))
	assert.False(t, ok)
	assert.True(t, full, "a refused frame on a full queue reports full")

	require.True(t, s.close())
	assert.False(t, s.close())

	ok, full = s.deliver([]byte("three"))
	assert.False(t, ok)
	assert.False(t, full, "a closed session is not a slow peer")

	frame, open := <-s.Outbound()
	require.True(t, open)
	assert.Equal(t, "one", string(frame))
	_, open = <-s.Outbound()
	assert.False(t, open)
}
