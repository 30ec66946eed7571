package socketio

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/zishang520/engine.io/v2/transports"
	"github.com/zishang520/engine.io/v2/types"
	siosrv "github.com/zishang520/socket.io/v2/socket"
	"go.uber.org/zap"
)

const (
	DefaultPingInterval = 25 * time.Second
	DefaultPingTimeout  = 20 * time.Second
)

// ServerAuthFunc validates the CONNECT payload (nil when the client sent none).
// The returned value is stored on the Conn. A non-nil error is sent back as
// CONNECT_ERROR with the error text as message.
type ServerAuthFunc func(r *http.Request, auth json.RawMessage) (any, error)

// Server accepts Socket.IO websocket connections on the default namespace.
// Fields must be set before the first request is served.
type Server struct {
	PingInterval time.Duration
	PingTimeout  time.Duration

	Authenticate ServerAuthFunc
	OnConnect    func(c *Conn)
	OnEvent      func(c *Conn, event string, data json.RawMessage)
	OnDisconnect func(c *Conn, reason string)

	io      *siosrv.Server
	once    sync.Once
	handler http.Handler
	logger  *zap.Logger
}

func NewServer(logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := siosrv.DefaultServerOptions()
	opts.SetTransports(types.NewSet(transports.WEBSOCKET))

	s := &Server{
		PingInterval: DefaultPingInterval,
		PingTimeout:  DefaultPingTimeout,
		io:           siosrv.NewServer(nil, opts),
		logger:       logger,
	}
	s.io.Use(s.authorize)
	s.io.On("connection", func(args ...any) {
		if sock, ok := args[0].(*siosrv.Socket); ok {
			s.accept(sock)
		}
	})
	return s
}

// Conn is one accepted client.
type Conn struct {
	ID    string
	Value any

	sock *siosrv.Socket
}

// Emit sends event with data to the client.
func (c *Conn) Emit(event string, data any) error {
	v, err := normalize(data)
	if err != nil {
		return err
	}
	return c.sock.Emit(event, v)
}

// Send emits on the message event.
func (c *Conn) Send(data any) error {
	return c.Emit("message", data)
}

// Disconnect sends a namespace DISCONNECT and closes the transport.
func (c *Conn) Disconnect() error {
	c.sock.Disconnect(true)
	return nil
}

// ServeHTTP hands the request to the engine, which upgrades it to a
// websocket.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.once.Do(func() {
		opts := siosrv.DefaultServerOptions()
		opts.SetPingInterval(s.PingInterval)
		opts.SetPingTimeout(s.PingTimeout)
		s.handler = s.io.ServeHandler(opts)
	})
	s.handler.ServeHTTP(w, r)
}

// Close disconnects every client and stops the engine.
func (s *Server) Close() {
	s.io.Close(nil)
}

func (s *Server) authorize(sock *siosrv.Socket, next func(*siosrv.ExtendedError)) {
	if s.Authenticate == nil {
		next(nil)
		return
	}
	v, err := s.Authenticate(sock.Request().Request(), handshakeAuth(sock.Handshake().Auth))
	if err != nil {
		s.logger.Debug("connect rejected", zap.String("sid", string(sock.Id())), zap.Error(err))
		// the client drops CONNECT_ERROR packets without data
		next(siosrv.NewExtendedError(err.Error(), err.Error()))
		return
	}
	sock.SetData(v)
	next(nil)
}

func (s *Server) accept(sock *siosrv.Socket) {
	c := &Conn{ID: string(sock.Id()), Value: sock.Data(), sock: sock}

	sock.OnAny(func(args ...any) {
		if len(args) == 0 || s.OnEvent == nil {
			return
		}
		name, ok := args[0].(string)
		if !ok {
			return
		}
		s.OnEvent(c, name, firstArg(args[1:]))
	})
	sock.On("disconnect", func(args ...any) {
		reason := argText(args)
		s.logger.Debug("socket closed", zap.String("sid", c.ID), zap.String("reason", reason))
		if s.OnDisconnect != nil {
			s.OnDisconnect(c, reason)
		}
	})

	if s.OnConnect != nil {
		s.OnConnect(c)
	}
}

// handshakeAuth re-encodes the decoded CONNECT payload. The client sends an
// empty object when it has no auth, which is reported as nil.
func handshakeAuth(auth any) json.RawMessage {
	if auth == nil {
		return nil
	}
	if m, ok := auth.(map[string]any); ok && len(m) == 0 {
		return nil
	}
	b, err := json.Marshal(auth)
	if err != nil || string(b) == "null" {
		return nil
	}
	return b
}
