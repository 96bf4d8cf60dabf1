package realtime

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	recvTimeout    = time.Second
	silenceTimeout = 100 * time.Millisecond
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry(Options{RateBurst: 100}, zap.NewNop())
	t.Cleanup(func() { _ = reg.Shutdown(time.Second) })
	return reg
}

// connect returns a detached connection whose queue the test drains.
func connect(t *testing.T, reg *Registry, h Handler) *Conn {
	t.Helper()
	c := reg.Connect(nil, ConnInfo{Addr: "test"}, h)
	require.NotNil(t, c)
	return c
}

func recvFrame(t *testing.T, c *Conn) Frame {
	t.Helper()
	select {
	case raw, ok := <-c.Send():
		require.True(t, ok, "send queue closed")
		var f Frame
		require.NoError(t, json.Unmarshal(raw, &f))
		return f
	case <-time.After(recvTimeout):
		t.Fatalf("connection %s received nothing", c.ID())
		return Frame{}
	}
}

func expectSilence(t *testing.T, c *Conn) {
	t.Helper()
	select {
	case raw, ok := <-c.Send():
		if ok {
			t.Fatalf("connection %s got unexpected frame %s", c.ID(), raw)
		}
	case <-time.After(silenceTimeout):
	}
}

func frame(t *testing.T, name EventName, data any) []byte {
	t.Helper()
	raw, err := EncodeFrame(name, data)
	require.NoError(t, err)
	return raw
}
