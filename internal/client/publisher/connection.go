package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"qrypub/internal/client/challenge"
	"qrypub/internal/keys"
	"qrypub/internal/socketio"
	"qrypub/pkg/protocol"

	"go.uber.org/zap"
)

const (
	DefaultPublishPath = "/ws/providers/"
	socketEndpointName = "socket.io"
)

// Hooks are optional lifecycle callbacks. Nil hooks are skipped.
type Hooks struct {
	OnConnect         func()
	OnMetadataRequest func()
	OnDisconnect      func(reason string)
	// OnNotRegistered fires when the hub reports that it does not know the
	// instance key, either during the challenge or on the socket.
	OnNotRegistered func()
	// OnReconnecting fires before a transport reconnect re-authenticates.
	OnReconnecting func()
	// OnPublish reports every outbound envelope with its type, or the
	// metadata event name, and the emit result.
	OnPublish func(kind string, err error)
}

// Options is the configuration surface of a Publisher.
type Options struct {
	HubAddr    string // host[:port]
	UseTLS     bool
	PrivateKey string
	Metadata   any
	// PublishPath prefixes the socket.io endpoint, default /ws/providers/
	PublishPath       string
	ReconnectionDelay time.Duration

	Hooks

	Logger     *zap.Logger
	HTTPClient *http.Client
	Transport  Transport
}

// Conn is the part of a transport connection the publisher drives.
type Conn interface {
	On(event string, h socketio.Handler)
	Open()
	Emit(event string, data any) error
	Connected() bool
	// Close drops every registered handler and closes the connection.
	Close() error
}

// Transport creates unopened connections.
type Transport interface {
	NewConn(baseURL string, opts socketio.Options) (Conn, error)
}

type socketTransport struct{}

func (socketTransport) NewConn(baseURL string, opts socketio.Options) (Conn, error) {
	s, err := socketio.NewSocket(baseURL, opts)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Publisher owns the hub connection and publishes telemetry over it.
type Publisher struct {
	opts       Options
	credential *keys.Credential
	endpoint   challenge.Endpoint
	exchange   *challenge.Exchange
	transport  Transport
	logger     *zap.Logger

	mu           sync.RWMutex
	conn         Conn
	sessionToken string
	metadata     any
}

// New builds a Publisher. A private key that fails to parse leaves the
// publisher in anonymous mode.
func New(opts Options) *Publisher {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	transport := opts.Transport
	if transport == nil {
		transport = socketTransport{}
	}
	if opts.ReconnectionDelay <= 0 {
		opts.ReconnectionDelay = socketio.DefaultReconnectionDelay
	}

	cred := keys.Load(opts.PrivateKey, logger)
	endpoint := challenge.Endpoint{Addr: opts.HubAddr, UseTLS: opts.UseTLS}
	exOpts := []challenge.Option{challenge.WithLogger(logger)}
	if opts.HTTPClient != nil {
		exOpts = append(exOpts, challenge.WithHTTPClient(opts.HTTPClient))
	}

	return &Publisher{
		opts:       opts,
		credential: cred,
		endpoint:   endpoint,
		exchange:   challenge.New(endpoint, cred, exOpts...),
		transport:  transport,
		logger:     logger,
		metadata:   opts.Metadata,
	}
}

// PublicKey returns the instance identity, or "" in anonymous mode.
func (p *Publisher) PublicKey() string {
	return p.credential.IdentityString()
}

// SessionToken returns the token obtained by the last successful Connect.
func (p *Publisher) SessionToken() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sessionToken
}

// SetMetadata replaces the object sent in answer to metadata requests.
func (p *Publisher) SetMetadata(v any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metadata = v
}

// Connected reports whether the current connection is up.
func (p *Publisher) Connected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.conn != nil && p.conn.Connected()
}

func (p *Publisher) socketPath() string {
	prefix := p.opts.PublishPath
	if prefix == "" {
		prefix = DefaultPublishPath
	}
	return prefix + socketEndpointName
}

// Connect authenticates when a key is configured and opens a new hub
// connection, replacing any previous one. A failed challenge or session
// step aborts the attempt and leaves the current state untouched.
func (p *Publisher) Connect(ctx context.Context) error {
	var token string
	if p.credential.HasKey() {
		t, err := p.exchange.Authenticate(ctx)
		if err != nil {
			if errors.Is(err, challenge.ErrNotRegistered) {
				p.notRegistered()
			} else {
				p.logger.Warn("hub authentication failed", zap.Error(err))
			}
			return fmt.Errorf("connect: %w", err)
		}
		token = t
	}

	sockOpts := socketio.Options{
		Path:              p.socketPath(),
		ReconnectionDelay: p.opts.ReconnectionDelay,
		Logger:            p.logger,
	}
	if p.credential.HasKey() {
		sockOpts.Auth = p.authPayload(token)
	}

	baseURL := p.endpoint.SocketURL()
	p.logger.Info("connecting to hub", zap.String("url", baseURL), zap.String("path", sockOpts.Path),
		zap.Bool("authenticated", p.credential.HasKey()))

	conn, err := p.transport.NewConn(baseURL, sockOpts)
	if err != nil {
		p.logger.Error("create hub connection", zap.Error(err))
		return fmt.Errorf("connect: %w", err)
	}

	// The previous handle is detached and closed before the new one is
	// stored, so none of its late events reach the publisher.
	p.mu.Lock()
	old := p.conn
	p.conn = nil
	p.mu.Unlock()
	if old != nil {
		old.Close()
	}

	p.attach(conn)
	p.mu.Lock()
	p.conn = conn
	if token != "" {
		p.sessionToken = token
	}
	p.mu.Unlock()

	conn.Open()
	return nil
}

// Close tears down the active connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	conn := p.conn
	p.conn = nil
	p.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// authPayload returns the producer invoked by the transport before every
// connection attempt. The token from Connect is used once; transport level
// reconnects run a fresh challenge/session exchange.
func (p *Publisher) authPayload(token string) socketio.AuthFunc {
	var mu sync.Mutex
	return func(ctx context.Context) (any, error) {
		mu.Lock()
		t := token
		token = ""
		mu.Unlock()

		if t == "" {
			if p.opts.OnReconnecting != nil {
				p.opts.OnReconnecting()
			}
			fresh, err := p.exchange.Authenticate(ctx)
			if err != nil {
				if errors.Is(err, challenge.ErrNotRegistered) {
					p.notRegistered()
					return nil, errors.Join(socketio.ErrAbort, err)
				}
				return nil, err
			}
			t = fresh
			p.mu.Lock()
			p.sessionToken = fresh
			p.mu.Unlock()
		}
		return protocol.AuthPayload{PublicKey: p.credential.IdentityString(), Token: t}, nil
	}
}

func (p *Publisher) attach(conn Conn) {
	conn.On(socketio.EventConnect, func(json.RawMessage) {
		p.logger.Info("connected to hub")
		if p.opts.OnConnect != nil {
			p.opts.OnConnect()
		}
	})

	conn.On(protocol.EventMessage, func(data json.RawMessage) {
		switch protocol.ParseControlMessage(data) {
		case protocol.ControlMetadataRequest:
			p.mu.RLock()
			md := p.metadata
			p.mu.RUnlock()
			if md != nil {
				p.SendMetadata(md)
			}
			if p.opts.OnMetadataRequest != nil {
				p.opts.OnMetadataRequest()
			}
		default:
			p.logger.Debug("ignoring hub message", zap.ByteString("payload", data))
		}
	})

	conn.On(socketio.EventDisconnect, func(data json.RawMessage) {
		reason := decodeText(data)
		p.logger.Info("disconnected from hub", zap.String("reason", reason))
		if p.opts.OnDisconnect != nil {
			p.opts.OnDisconnect(reason)
		}
	})

	conn.On(protocol.EventError, p.handleError)
	conn.On(socketio.EventConnectError, p.handleError)
}

func (p *Publisher) handleError(data json.RawMessage) {
	msg := decodeText(data)
	if msg == protocol.NotRegistered {
		p.notRegistered()
		return
	}
	p.logger.Warn("hub connection error", zap.String("error", msg))
}

func (p *Publisher) notRegistered() {
	p.logger.Error("instance not registered with hub", zap.String("public_key", p.PublicKey()))
	if p.opts.OnNotRegistered != nil {
		p.opts.OnNotRegistered()
	}
}

// decodeText unwraps a JSON string or {"message": ...} payload.
func decodeText(data json.RawMessage) string {
	if len(data) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return strings.TrimSpace(string(data))
}
