package relay

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T, opts Options) *Handler {
	t.Helper()
	if opts.Node == "" {
		opts.Node = "test-node"
	}
	opts.Logger = zerolog.Nop()
	return NewHandler(opts)
}

func admit(t *testing.T, h *Handler, name string) *Session {
	t.Helper()
	s, err := h.Admit(name)
	require.NoError(t, err)
	frame := nextFrame(t, s)
	require.Equal(t, EventSession, frame.Event)
	return s
}

func nextFrame(t *testing.T, s *Session) Frame {
	t.Helper()
	select {
	case raw, ok := <-s.Outbound():
		require.True(t, ok, "outbound closed")
		var f Frame
		require.NoError(t, json.Unmarshal(raw, &f))
		return f
	case <-time.After(time.Second):
		t.Fatalf("no frame for %s", s.Username())
		return Frame{}
	}
}

// drain returns every frame currently queued for s.
func drain(t *testing.T, s *Session) []Frame {
	t.Helper()
	var frames []Frame
	for {
		select {
		case raw, ok := <-s.Outbound():
			if !ok {
				return frames
			}
			var f Frame
			require.NoError(t, json.Unmarshal(raw, &f))
			frames = append(frames, f)
		default:
			return frames
		}
	}
}

func decodeData[T any](t *testing.T, f Frame) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(f.Data, &v))
	return v
}

func eventsOf(frames []Frame) []string {
	events := make([]string, 0, len(frames))
	for _, f := range frames {
		events = append(events, f.Event)
	}
	return events
}
