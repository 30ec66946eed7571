// Package socketio adapts the zishang520 Socket.IO v4 client and server to
// the small surface the hub connection needs: websocket transport only, the
// default namespace, JSON events without acknowledgements.
package socketio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/events"
	"github.com/zishang520/engine.io/v2/types"
	sio "github.com/zishang520/socket.io-client-go/socket"
	"go.uber.org/zap"
)

var (
	// ErrNotConnected is returned by Emit outside of the connected state.
	ErrNotConnected = errors.New("socketio: not connected")
	// ErrAbort can be wrapped by an AuthFunc error to stop reconnecting.
	ErrAbort = errors.New("socketio: reconnection aborted")
)

const DefaultReconnectionDelay = 3 * time.Second

// Reserved event names dispatched by the client.
const (
	EventConnect      = "connect"
	EventDisconnect   = "disconnect"
	EventConnectError = "connect_error"
)

// Disconnect reasons, as reported by the Socket.IO client.
const (
	ReasonServerDisconnect = "io server disconnect"
	ReasonClientDisconnect = "io client disconnect"
	ReasonTransportClose   = "transport close"
	ReasonTransportError   = "transport error"
	ReasonPingTimeout      = "ping timeout"
)

// Handler receives the first argument of an event, or nil.
type Handler func(data json.RawMessage)

// AuthFunc produces the CONNECT payload. It is invoked before every
// connection attempt, including reconnects. The payload must encode to a
// JSON object.
type AuthFunc func(ctx context.Context) (any, error)

// Options configure a client Socket.
type Options struct {
	// Path of the Socket.IO endpoint, e.g. /socket.io
	Path              string
	ReconnectionDelay time.Duration
	// Auth is nil for connections without an auth payload.
	Auth   AuthFunc
	Header http.Header
	Logger *zap.Logger
}

// Socket is a client connection that reconnects with a fixed delay until it
// is closed, the server disconnects it, or the server rejects the CONNECT.
type Socket struct {
	url  string
	opts Options
	log  *zap.Logger

	manager *sio.Manager
	io      *sio.Socket
	auth    map[string]any

	mu       sync.RWMutex
	handlers map[string][]Handler
	bound    map[string]bool

	ctx      context.Context
	cancel   context.CancelFunc
	openOnce sync.Once
	stopOnce sync.Once
	done     chan struct{}
}

// NewSocket prepares a socket for baseURL (ws, wss, http or https). Handlers
// should be registered before Open.
func NewSocket(baseURL string, opts Options) (*Socket, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("socketio: parse url: %w", err)
	}
	secure := false
	switch u.Scheme {
	case "ws", "http":
	case "wss", "https":
		secure = true
	default:
		return nil, fmt.Errorf("socketio: unsupported scheme %q", u.Scheme)
	}
	display := *u
	if u.Port() == "" {
		port := "80"
		if secure {
			port = "443"
		}
		u.Host = u.Hostname() + ":" + port
	}

	path := strings.TrimSuffix(opts.Path, "/")
	if path == "" {
		path = "/socket.io"
	}
	if opts.ReconnectionDelay <= 0 {
		opts.ReconnectionDelay = DefaultReconnectionDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	delay := float64(opts.ReconnectionDelay / time.Millisecond)
	sockOpts := sio.DefaultOptions()
	sockOpts.SetPath(path)
	sockOpts.SetTransports(types.NewSet(transports.WebSocket))
	sockOpts.SetReconnection(true)
	sockOpts.SetReconnectionDelay(delay)
	sockOpts.SetReconnectionDelayMax(delay)
	sockOpts.SetRandomizationFactor(0)
	sockOpts.SetAutoConnect(false)
	sockOpts.SetForceNew(true)
	if opts.Header != nil {
		sockOpts.SetExtraHeaders(opts.Header)
	}

	s := &Socket{
		opts:     opts,
		handlers: make(map[string][]Handler),
		bound:    make(map[string]bool),
		done:     make(chan struct{}),
	}
	if opts.Auth != nil {
		s.auth = make(map[string]any)
		sockOpts.SetAuth(s.auth)
	}

	display.Scheme = "ws"
	if secure {
		display.Scheme = "wss"
	}
	display.Path = path + "/"
	display.RawQuery = url.Values{"EIO": {"4"}, "transport": {"websocket"}}.Encode()
	s.url = display.String()
	s.log = logger.With(zap.String("url", display.Host+display.Path))

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.manager = sio.NewManager(u.String(), sockOpts)
	s.io = s.manager.Socket("/", sockOpts)
	s.bind()
	return s, nil
}

// URL returns the full websocket URL the socket dials.
func (s *Socket) URL() string { return s.url }

func (s *Socket) bind() {
	s.io.On(EventConnect, func(...any) {
		s.dispatch(EventConnect, nil)
	})
	s.io.On(EventDisconnect, func(args ...any) {
		reason := argText(args)
		s.log.Debug("disconnected", zap.String("reason", reason))
		s.dispatch(EventDisconnect, jsonMessage(reason))
		if reason == ReasonServerDisconnect {
			s.stop()
		}
	})
	s.io.On(EventConnectError, func(args ...any) {
		s.dispatch(EventConnectError, jsonMessage(argText(args)))
		if len(args) > 0 {
			if err, ok := args[0].(error); ok {
				var ext *sio.ExtendedError
				if errors.As(err, &ext) {
					// the client gives up after a rejected CONNECT
					s.stop()
				}
			}
		}
	})
	s.manager.On("reconnect_attempt", func(...any) {
		if s.opts.Auth != nil {
			s.refreshAuth()
		}
	})
}

// On registers h for event.
func (s *Socket) On(event string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[event] = append(s.handlers[event], h)

	switch event {
	case EventConnect, EventDisconnect, EventConnectError:
		return
	}
	if !s.bound[event] {
		s.bound[event] = true
		s.io.On(events.EventName(event), func(args ...any) {
			s.dispatch(event, firstArg(args))
		})
	}
}

// OffAll removes every handler.
func (s *Socket) OffAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = make(map[string][]Handler)
}

func (s *Socket) dispatch(event string, data json.RawMessage) {
	s.mu.RLock()
	hs := append([]Handler(nil), s.handlers[event]...)
	s.mu.RUnlock()
	for _, h := range hs {
		h(data)
	}
}

// Open starts connecting in the background. Calling it twice is a no-op.
func (s *Socket) Open() {
	s.openOnce.Do(func() { go s.start() })
}

func (s *Socket) start() {
	if s.opts.Auth != nil && !s.refreshAuth() {
		return
	}
	if s.ctx.Err() != nil {
		return
	}
	s.io.Connect()
}

// refreshAuth runs the auth producer until it yields a payload, aborts, or
// the socket is closed. Transient failures are retried after the
// reconnection delay.
func (s *Socket) refreshAuth() bool {
	for {
		payload, err := s.opts.Auth(s.ctx)
		if err == nil {
			if err := s.setAuth(payload); err != nil {
				s.log.Error("encode auth payload", zap.Error(err))
				s.dispatch(EventConnectError, jsonMessage(err.Error()))
				s.abort()
				return false
			}
			return true
		}
		if s.ctx.Err() != nil {
			return false
		}
		s.log.Warn("auth payload unavailable", zap.Error(err))
		s.dispatch(EventConnectError, jsonMessage(err.Error()))
		if errors.Is(err, ErrAbort) {
			s.abort()
			return false
		}
		select {
		case <-s.ctx.Done():
			return false
		case <-time.After(s.opts.ReconnectionDelay):
		}
	}
}

// setAuth replaces the contents of the map the client sends with CONNECT.
func (s *Socket) setAuth(payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("socketio: auth payload is not an object: %w", err)
	}
	clear(s.auth)
	for k, v := range m {
		s.auth[k] = v
	}
	return nil
}

func (s *Socket) abort() {
	s.io.Disconnect()
	s.stop()
}

func (s *Socket) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

// Connected reports whether the namespace CONNECT was acknowledged and the
// transport is still up.
func (s *Socket) Connected() bool {
	return s.ctx.Err() == nil && s.io.Connected()
}

// Done is closed once the socket stopped for good.
func (s *Socket) Done() <-chan struct{} {
	return s.done
}

// Emit sends event with data to the server.
func (s *Socket) Emit(event string, data any) error {
	if !s.Connected() {
		return ErrNotConnected
	}
	v, err := normalize(data)
	if err != nil {
		return fmt.Errorf("socketio: encode %s: %w", event, err)
	}
	if err := s.io.Emit(event, v); err != nil {
		return fmt.Errorf("socketio: emit %s: %w", event, err)
	}
	return nil
}

// Close detaches all handlers, stops reconnecting and closes the transport.
func (s *Socket) Close() error {
	s.OffAll()
	s.cancel()
	s.io.Disconnect()
	s.stop()
	return nil
}

// normalize turns pre-encoded JSON into plain values so the parser does not
// treat it as binary.
func normalize(data any) (any, error) {
	raw, ok := data.(json.RawMessage)
	if !ok {
		return data, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func firstArg(args []any) json.RawMessage {
	if len(args) == 0 || args[0] == nil {
		return nil
	}
	b, err := json.Marshal(args[0])
	if err != nil {
		return nil
	}
	return b
}

func argText(args []any) string {
	if len(args) == 0 || args[0] == nil {
		return ""
	}
	switch v := args[0].(type) {
	case string:
		return v
	case error:
		return v.Error()
	}
	return fmt.Sprint(args[0])
}

func jsonMessage(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}
