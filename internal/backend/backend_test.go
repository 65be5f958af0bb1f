package backend

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/compozy/redishard/internal/logger"
	"github.com/compozy/redishard/internal/request"
	"github.com/compozy/redishard/internal/resp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialTestBackend(t *testing.T, addr string) (*Backend, chan ConnEvent) {
	t.Helper()
	events := make(chan ConnEvent, 16)
	b := New(1, addr, logger.Discard())
	conn, err := Dial(b.ID, addr, events, nil)
	require.NoError(t, err)
	require.Nil(t, b.AttachConn(conn))
	require.Equal(t, Ready, b.State())
	return b, events
}

func TestBackend_ReadyAndDispatch(t *testing.T) {
	t.Run("Should reach Ready with no auth/db configured and pair a reply to its request", func(t *testing.T) {
		m, err := miniredis.Run()
		require.NoError(t, err)
		defer m.Close()
		m.Set("test_key", "hello")

		b, events := dialTestBackend(t, m.Addr())

		replyCh := make(chan request.Reply, 1)
		req := &request.Request{
			Raw:        resp.EncodeArray([][]byte{resp.EncodeBulkString([]byte("GET")), resp.EncodeBulkString([]byte("test_key"))}),
			EnqueuedAt: time.Now(),
			Deadline:   time.Now().Add(time.Second),
			ReplyTo:    replyCh,
		}
		b.Dispatch(req)

		ev := <-events
		require.Equal(t, EventFrame, ev.Kind)
		readyEv := b.HandleFrame(ev.Frame)
		assert.Nil(t, readyEv)

		select {
		case reply := <-replyCh:
			assert.Contains(t, string(reply.Data), "hello")
		case <-time.After(time.Second):
			t.Fatal("no reply delivered")
		}
		assert.Equal(t, uint32(0), b.ConsecutiveFailures())
	})

	t.Run("Should complete the AUTH and SELECT prelude before Ready", func(t *testing.T) {
		m, err := miniredis.Run()
		require.NoError(t, err)
		defer m.Close()
		m.RequireAuth("secret")

		events := make(chan ConnEvent, 16)
		b := New(2, m.Addr(), logger.Discard())
		b.AuthPassword = "secret"
		b.DBIndex = 3
		conn, err := Dial(b.ID, m.Addr(), events, nil)
		require.NoError(t, err)
		require.NotNil(t, b.AttachConn(conn))
		assert.Equal(t, Authenticating, b.State())

		// AUTH reply -> advances to SelectingDb
		ev := <-events
		readyEv := b.HandleFrame(ev.Frame)
		assert.Nil(t, readyEv)
		assert.Equal(t, SelectingDB, b.State())

		// SELECT reply -> advances to Ready
		ev = <-events
		readyEv = b.HandleFrame(ev.Frame)
		require.NotNil(t, readyEv)
		assert.Equal(t, Ready, b.State())
	})
}

func TestBackend_Timeout(t *testing.T) {
	t.Run("Should fail the head request with ProxyTimedOut once its deadline passes", func(t *testing.T) {
		m, err := miniredis.Run()
		require.NoError(t, err)
		defer m.Close()
		b, _ := dialTestBackend(t, m.Addr())

		replyCh := make(chan request.Reply, 1)
		req := &request.Request{
			Raw:        resp.EncodeArray([][]byte{resp.EncodeBulkString([]byte("PING"))}),
			EnqueuedAt: time.Now().Add(-time.Hour),
			Deadline:   time.Now().Add(-time.Millisecond),
			ReplyTo:    replyCh,
		}
		b.Dispatch(req)

		lost := b.TickExpireDeadline(time.Now())
		require.NotNil(t, lost)
		assert.Equal(t, Failed, b.State())
		assert.Equal(t, uint32(1), b.ConsecutiveFailures())

		select {
		case reply := <-replyCh:
			assert.Equal(t, resp.ProxyTimedOut, reply.Data)
		default:
			t.Fatal("expected an immediate timeout reply")
		}
	})
}

func TestBackend_Ejection(t *testing.T) {
	t.Run("Should eject after consecutive failures reach the limit", func(t *testing.T) {
		b := New(1, "127.0.0.1:1", logger.Discard())
		b.FailureLimit = 2
		b.AutoEject = true
		b.RetryTimeout = 10 * time.Millisecond

		events := make(chan ConnEvent, 1)
		_, err := Dial(b.ID, "127.0.0.1:1", events, nil)
		_ = err // unreachable address; connection attempt isn't exercised here

		b.state = Failed
		b.consecutiveFailures = 1
		assert.False(t, b.ShouldEject())
		b.consecutiveFailures = 2
		assert.True(t, b.ShouldEject())

		lost := b.Eject()
		require.NotNil(t, lost)
		assert.Equal(t, Ejected, b.State())
		assert.False(t, b.ReadyToProbe(time.Now()))
		assert.True(t, b.ReadyToProbe(time.Now().Add(20*time.Millisecond)))
	})
}

func TestBackend_IOError(t *testing.T) {
	t.Run("Should fail all queued requests with Not connected on IO error", func(t *testing.T) {
		m, err := miniredis.Run()
		require.NoError(t, err)
		b, _ := dialTestBackend(t, m.Addr())

		reply1 := make(chan request.Reply, 1)
		reply2 := make(chan request.Reply, 1)
		b.Dispatch(&request.Request{Raw: []byte("*1\r\n$4\r\nPING\r\n"), ReplyTo: reply1, Deadline: time.Now().Add(time.Second)})
		b.Dispatch(&request.Request{Raw: []byte("*1\r\n$4\r\nPING\r\n"), ReplyTo: reply2, Deadline: time.Now().Add(time.Second)})

		m.Close() // force the backend connection to fail

		lost := b.HandleIOError(assertErr{})
		require.NotNil(t, lost)
		assert.Equal(t, Failed, b.State())

		r1 := <-reply1
		r2 := <-reply2
		assert.Equal(t, resp.NotConnected, r1.Data)
		assert.Equal(t, resp.NotConnected, r2.Data)
	})
}

type assertErr struct{}

func (assertErr) Error() string { return "simulated io error" }
