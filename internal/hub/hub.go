// Package hub is a development counterpart of the telemetry hub. It registers
// instances, runs the challenge/session exchange and accepts their socket
// connections.
package hub

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"qrypub/internal/auth"
	"qrypub/internal/keys"
	"qrypub/internal/socketio"
	"qrypub/pkg/protocol"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	DefaultChallengeTTL = 60 * time.Second
	DefaultSessionTTL   = 60 * time.Second
	DefaultStoreSize    = 1000

	providersPrefix = "/ws/providers"
	SocketPath      = providersPrefix + "/socket.io/"

	anonymousKey = "anonymous"
)

var errAuthRequired = errors.New("authentication required")

type Config struct {
	// AllowAnonymous accepts socket connections without auth payload.
	AllowAnonymous bool
	ChallengeTTL   time.Duration
	SessionTTL     time.Duration
	StoreSize      int
	// PingInterval overrides the engine ping interval, mostly for tests.
	PingInterval time.Duration
}

type Hub struct {
	cfg        Config
	registry   *Registry
	challenges *auth.ChallengeStore
	sessions   *auth.SessionIssuer
	store      Store
	sockets    *socketio.Server
	logger     *zap.Logger

	mu    sync.RWMutex
	conns map[string]*socketio.Conn
}

// session is attached to every accepted socket.
type session struct {
	PublicKey string
}

func New(cfg Config, registry *Registry, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = DefaultChallengeTTL
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	if cfg.StoreSize <= 0 {
		cfg.StoreSize = DefaultStoreSize
	}

	h := &Hub{
		cfg:        cfg,
		registry:   registry,
		challenges: auth.NewChallengeStore(cfg.ChallengeTTL),
		sessions:   auth.NewSessionIssuer(cfg.SessionTTL, logger),
		store:      NewInMemoryStore(cfg.StoreSize),
		logger:     logger,
		conns:      make(map[string]*socketio.Conn),
	}

	srv := socketio.NewServer(logger.Named("socket"))
	if cfg.PingInterval > 0 {
		srv.PingInterval = cfg.PingInterval
	}
	srv.Authenticate = h.authenticate
	srv.OnConnect = h.onConnect
	srv.OnEvent = h.onEvent
	srv.OnDisconnect = h.onDisconnect
	h.sockets = srv
	return h
}

// Router returns the HTTP surface of the hub.
func (h *Hub) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// TLS deployments are reached through the providers prefix.
	for _, prefix := range []string{"", providersPrefix} {
		r.GET(prefix+"/challenge", h.Challenge)
		r.GET(prefix+"/session", h.Session)
	}
	r.GET(SocketPath, gin.WrapH(h.sockets))

	r.POST("/instances", h.RegisterInstance)
	r.GET("/instances", h.ListInstances)
	r.GET("/instances/:key/events", h.InstanceEvents)
	r.GET("/instances/:key/usage", h.InstanceUsage)
	r.POST("/instances/:key/metadata-request", h.MetadataRequest)
	return r
}

func (h *Hub) Store() Store { return h.store }

// Close disconnects every instance socket. Hijacked websockets outlive
// http.Server.Shutdown, so this runs first.
func (h *Hub) Close() {
	h.sockets.Close()
}

// Connected reports whether an instance currently holds a socket.
func (h *Hub) Connected(publicKey string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[publicKey]
	return ok
}

// RequestMetadata asks a connected instance to send its metadata.
func (h *Hub) RequestMetadata(publicKey string) error {
	h.mu.RLock()
	c, ok := h.conns[publicKey]
	h.mu.RUnlock()
	if !ok {
		return socketio.ErrNotConnected
	}
	return c.Send(protocol.ControlMetadataRequest.String())
}

func (h *Hub) authenticate(r *http.Request, raw json.RawMessage) (any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		if h.cfg.AllowAnonymous {
			return session{PublicKey: anonymousKey}, nil
		}
		return nil, errAuthRequired
	}

	var payload protocol.AuthPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, errAuthRequired
	}
	pub, err := keys.NormalizePublicKey(payload.PublicKey)
	if err != nil {
		return nil, errors.New(protocol.NotRegistered)
	}
	if _, err := h.registry.Get(pub); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, errors.New(protocol.NotRegistered)
		}
		h.logger.Error("registry lookup failed", zap.Error(err))
		return nil, err
	}
	if err := h.sessions.Redeem(payload.Token, pub); err != nil {
		h.logger.Info("socket session rejected", zap.String("public_key", pub), zap.Error(err))
		return nil, err
	}
	return session{PublicKey: pub}, nil
}

func (h *Hub) onConnect(c *socketio.Conn) {
	s := c.Value.(session)
	h.logger.Info("instance connected", zap.String("public_key", s.PublicKey), zap.String("sid", c.ID))

	if s.PublicKey != anonymousKey {
		h.mu.Lock()
		prev := h.conns[s.PublicKey]
		h.conns[s.PublicKey] = c
		h.mu.Unlock()
		if prev != nil {
			prev.Disconnect()
		}
		if err := h.registry.Touch(s.PublicKey, time.Now()); err != nil {
			h.logger.Warn("update last seen", zap.Error(err))
		}
	}

	if err := c.Send(protocol.ControlMetadataRequest.String()); err != nil {
		h.logger.Debug("metadata request failed", zap.Error(err))
	}
}

func (h *Hub) onDisconnect(c *socketio.Conn, reason string) {
	s, _ := c.Value.(session)
	h.logger.Info("instance disconnected", zap.String("public_key", s.PublicKey), zap.String("reason", reason))

	h.mu.Lock()
	if h.conns[s.PublicKey] == c {
		delete(h.conns, s.PublicKey)
	}
	h.mu.Unlock()
}

func (h *Hub) onEvent(c *socketio.Conn, event string, data json.RawMessage) {
	s := c.Value.(session)

	switch event {
	case protocol.EventInstanceMetadata:
		if s.PublicKey == anonymousKey {
			return
		}
		if err := h.registry.SetMetadata(s.PublicKey, data); err != nil {
			h.logger.Warn("store metadata", zap.Error(err))
		}

	case protocol.EventInstanceData:
		var env struct {
			Type protocol.EnvelopeType `json:"type"`
			Data json.RawMessage       `json:"data"`
		}
		if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
			h.logger.Debug("malformed envelope", zap.String("public_key", s.PublicKey))
			return
		}
		h.store.Add(Record{PublicKey: s.PublicKey, Type: string(env.Type), Data: env.Data})

		if env.Type == protocol.TypeApiUsageMap && s.PublicKey != anonymousKey {
			var m protocol.ApiUsageMapData
			if err := json.Unmarshal(env.Data, &m); err == nil {
				if err := h.registry.AddUsageReport(s.PublicKey, m); err != nil {
					h.logger.Warn("store usage report", zap.Error(err))
				}
			}
		}

	default:
		h.logger.Debug("ignoring event", zap.String("event", event))
	}
}
