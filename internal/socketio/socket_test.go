package socketio

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type received struct {
	event string
	data  string
}

func newTestServer(t *testing.T, srv *Server) string {
	t.Helper()
	srv.PingInterval = 50 * time.Millisecond
	srv.PingTimeout = 100 * time.Millisecond
	mux := http.NewServeMux()
	mux.Handle("/ws/socket.io/", srv)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(3 * time.Second):
		t.Fatal("timeout")
	}
}

func TestSocket_ConnectAuthAndEvents(t *testing.T) {
	srv := NewServer(nil)
	var gotAuth atomic.Value
	events := make(chan received, 4)

	srv.Authenticate = func(r *http.Request, auth json.RawMessage) (any, error) {
		gotAuth.Store(string(auth))
		return "instance-1", nil
	}
	srv.OnConnect = func(c *Conn) {
		c.Send("metadata-request")
	}
	srv.OnEvent = func(c *Conn, event string, data json.RawMessage) {
		assert.Equal(t, "instance-1", c.Value)
		events <- received{event, string(data)}
	}
	base := newTestServer(t, srv)

	s, err := NewSocket(base, Options{
		Path: "/ws/socket.io",
		Auth: func(ctx context.Context) (any, error) {
			return map[string]string{"publicKey": "PUB_K1_x", "token": "t1"}, nil
		},
	})
	require.NoError(t, err)
	defer s.Close()

	connected := make(chan struct{})
	messages := make(chan string, 1)
	s.On(EventConnect, func(json.RawMessage) { close(connected) })
	s.On("message", func(data json.RawMessage) {
		var msg string
		json.Unmarshal(data, &msg)
		messages <- msg
		s.Emit("instance-metadata", map[string]string{"chain": "wax"})
	})
	s.Open()

	waitFor(t, connected)
	assert.True(t, s.Connected())
	assert.JSONEq(t, `{"publicKey":"PUB_K1_x","token":"t1"}`, gotAuth.Load().(string))

	select {
	case msg := <-messages:
		assert.Equal(t, "metadata-request", msg)
	case <-time.After(3 * time.Second):
		t.Fatal("no message")
	}
	select {
	case ev := <-events:
		assert.Equal(t, "instance-metadata", ev.event)
		assert.JSONEq(t, `{"chain":"wax"}`, ev.data)
	case <-time.After(3 * time.Second):
		t.Fatal("no event on server")
	}

	// Pings at 50ms must be answered for the connection to outlive the timeout.
	time.Sleep(400 * time.Millisecond)
	assert.True(t, s.Connected())
}

func TestSocket_NoAuthPayload(t *testing.T) {
	srv := NewServer(nil)
	authSeen := make(chan json.RawMessage, 1)
	srv.Authenticate = func(r *http.Request, auth json.RawMessage) (any, error) {
		authSeen <- auth
		return nil, nil
	}
	base := newTestServer(t, srv)

	s, err := NewSocket(base, Options{Path: "/ws/socket.io"})
	require.NoError(t, err)
	defer s.Close()
	s.Open()

	select {
	case auth := <-authSeen:
		assert.Nil(t, auth)
	case <-time.After(3 * time.Second):
		t.Fatal("no connect")
	}
}

func TestSocket_ConnectErrorStops(t *testing.T) {
	srv := NewServer(nil)
	var attempts atomic.Int32
	srv.Authenticate = func(r *http.Request, auth json.RawMessage) (any, error) {
		attempts.Add(1)
		return nil, errors.New("INSTANCE_NOT_REGISTERED")
	}
	base := newTestServer(t, srv)

	s, err := NewSocket(base, Options{Path: "/ws/socket.io", ReconnectionDelay: 10 * time.Millisecond})
	require.NoError(t, err)
	defer s.Close()

	msgs := make(chan string, 1)
	s.On(EventConnectError, func(data json.RawMessage) {
		var m string
		json.Unmarshal(data, &m)
		msgs <- m
	})
	s.Open()

	waitFor(t, s.Done())
	assert.Equal(t, "INSTANCE_NOT_REGISTERED", <-msgs)
	assert.EqualValues(t, 1, attempts.Load())
	assert.False(t, s.Connected())
}

func TestSocket_ReconnectsAfterTransportDrop(t *testing.T) {
	srv := NewServer(nil)
	var conns atomic.Int32
	auths := make(chan string, 4)
	srv.Authenticate = func(r *http.Request, auth json.RawMessage) (any, error) {
		auths <- string(auth)
		return nil, nil
	}
	srv.OnConnect = func(c *Conn) {
		if conns.Add(1) == 1 {
			go c.sock.Conn().Close(false)
		}
	}
	base := newTestServer(t, srv)

	var authCalls atomic.Int32
	s, err := NewSocket(base, Options{
		Path:              "/ws/socket.io",
		ReconnectionDelay: 20 * time.Millisecond,
		Auth: func(ctx context.Context) (any, error) {
			return map[string]int32{"n": authCalls.Add(1)}, nil
		},
	})
	require.NoError(t, err)
	defer s.Close()

	reasons := make(chan string, 2)
	second := make(chan struct{})
	var connects atomic.Int32
	s.On(EventDisconnect, func(data json.RawMessage) {
		var r string
		json.Unmarshal(data, &r)
		reasons <- r
	})
	s.On(EventConnect, func(json.RawMessage) {
		if connects.Add(1) == 2 {
			close(second)
		}
	})
	s.Open()

	waitFor(t, second)
	assert.NotEqual(t, ReasonServerDisconnect, <-reasons)
	assert.EqualValues(t, 2, authCalls.Load())
	assert.JSONEq(t, `{"n":1}`, <-auths)
	assert.JSONEq(t, `{"n":2}`, <-auths)
}

func TestSocket_RetriesTransientAuthFailure(t *testing.T) {
	srv := NewServer(nil)
	base := newTestServer(t, srv)

	var authCalls atomic.Int32
	s, err := NewSocket(base, Options{
		Path:              "/ws/socket.io",
		ReconnectionDelay: 10 * time.Millisecond,
		Auth: func(ctx context.Context) (any, error) {
			if authCalls.Add(1) == 1 {
				return nil, errors.New("hub unreachable")
			}
			return map[string]string{"token": "t"}, nil
		},
	})
	require.NoError(t, err)
	defer s.Close()

	errs := make(chan string, 2)
	connected := make(chan struct{})
	s.On(EventConnectError, func(data json.RawMessage) {
		var m string
		json.Unmarshal(data, &m)
		errs <- m
	})
	s.On(EventConnect, func(json.RawMessage) { close(connected) })
	s.Open()

	waitFor(t, connected)
	assert.Equal(t, "hub unreachable", <-errs)
	assert.EqualValues(t, 2, authCalls.Load())
}

func TestConn_EmitRawJSON(t *testing.T) {
	srv := NewServer(nil)
	srv.OnConnect = func(c *Conn) {
		c.Emit("status", json.RawMessage(`{"state":"active"}`))
	}
	base := newTestServer(t, srv)

	s, err := NewSocket(base, Options{Path: "/ws/socket.io"})
	require.NoError(t, err)
	defer s.Close()

	got := make(chan string, 1)
	s.On("status", func(data json.RawMessage) { got <- string(data) })
	s.Open()

	select {
	case data := <-got:
		assert.JSONEq(t, `{"state":"active"}`, data)
	case <-time.After(3 * time.Second):
		t.Fatal("no status event")
	}
}

func TestHandshakeAuth(t *testing.T) {
	assert.Nil(t, handshakeAuth(nil))
	assert.Nil(t, handshakeAuth(map[string]any{}))
	assert.JSONEq(t, `{"token":"t"}`, string(handshakeAuth(map[string]any{"token": "t"})))
}

func TestSocket_ServerDisconnectDoesNotReconnect(t *testing.T) {
	srv := NewServer(nil)
	var conns atomic.Int32
	srv.OnConnect = func(c *Conn) {
		conns.Add(1)
		go c.Disconnect()
	}
	base := newTestServer(t, srv)

	s, err := NewSocket(base, Options{Path: "/ws/socket.io", ReconnectionDelay: 10 * time.Millisecond})
	require.NoError(t, err)
	defer s.Close()

	reasons := make(chan string, 1)
	s.On(EventDisconnect, func(data json.RawMessage) {
		var r string
		json.Unmarshal(data, &r)
		reasons <- r
	})
	s.Open()

	waitFor(t, s.Done())
	assert.Equal(t, ReasonServerDisconnect, <-reasons)
	assert.EqualValues(t, 1, conns.Load())
}

func TestSocket_AuthAbort(t *testing.T) {
	s, err := NewSocket("ws://127.0.0.1:1", Options{
		ReconnectionDelay: 10 * time.Millisecond,
		Auth: func(ctx context.Context) (any, error) {
			return nil, errors.Join(ErrAbort, errors.New("not registered"))
		},
	})
	require.NoError(t, err)
	defer s.Close()
	s.Open()
	waitFor(t, s.Done())
}

func TestSocket_EmitBeforeConnect(t *testing.T) {
	s, err := NewSocket("ws://127.0.0.1:1", Options{})
	require.NoError(t, err)
	assert.ErrorIs(t, s.Emit("instance-data", 1), ErrNotConnected)
	assert.NoError(t, s.Close())
}

func TestNewSocket_URL(t *testing.T) {
	s, err := NewSocket("https://hub.example.com", Options{Path: "/ws/providers/socket.io"})
	require.NoError(t, err)
	assert.Equal(t, "wss://hub.example.com/ws/providers/socket.io/?EIO=4&transport=websocket", s.URL())

	_, err = NewSocket("ftp://hub", Options{})
	assert.Error(t, err)
}
