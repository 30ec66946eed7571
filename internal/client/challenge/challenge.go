// Package challenge implements the two step challenge/session exchange an
// instance performs against the hub before opening its socket.
package challenge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"qrypub/internal/keys"
	"qrypub/pkg/protocol"

	"go.uber.org/zap"
)

var (
	// ErrNotRegistered means the hub does not know the instance key. Retrying
	// will not help until the key is registered.
	ErrNotRegistered = errors.New("instance not registered")
	ErrChallenge     = errors.New("challenge request failed")
	ErrSession       = errors.New("session request failed")
)

const (
	defaultTimeout = 10 * time.Second
	maxBodySize    = 64 * 1024

	providersPrefix = "/ws/providers"
)

// Endpoint describes where the hub lives and whether it is reached over TLS.
type Endpoint struct {
	Addr   string // host[:port], no scheme
	UseTLS bool
}

// HTTPURL returns the URL of an HTTP route of the hub. TLS deployments sit
// behind the providers prefix.
func (e Endpoint) HTTPURL(route string) string {
	if e.UseTLS {
		return "https://" + e.Addr + providersPrefix + route
	}
	return "http://" + e.Addr + route
}

// SocketURL returns the websocket base URL of the hub. The scheme follows
// the same TLS flag as the HTTP routes.
func (e Endpoint) SocketURL() string {
	if e.UseTLS {
		return "wss://" + e.Addr
	}
	return "ws://" + e.Addr
}

// Exchange authenticates a credential against the hub. It performs no
// retries; a failed step aborts the current connect attempt.
type Exchange struct {
	endpoint   Endpoint
	credential *keys.Credential
	client     *http.Client
	logger     *zap.Logger
}

// Option configures an Exchange.
type Option func(*Exchange)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Exchange) { e.client = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Exchange) { e.logger = l }
}

func New(endpoint Endpoint, credential *keys.Credential, opts ...Option) *Exchange {
	e := &Exchange{
		endpoint:   endpoint,
		credential: credential,
		client:     &http.Client{Timeout: defaultTimeout},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Authenticate runs both steps and returns the session token.
func (e *Exchange) Authenticate(ctx context.Context) (string, error) {
	challenge, err := e.RequestChallenge(ctx)
	if err != nil {
		return "", err
	}
	return e.RequestSession(ctx, challenge)
}

// RequestChallenge fetches a one time challenge for the instance key.
func (e *Exchange) RequestChallenge(ctx context.Context) (string, error) {
	status, body, err := e.get(ctx, "/challenge", nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrChallenge, err)
	}
	if status != http.StatusOK {
		if body == protocol.NotRegistered {
			e.logger.Debug("hub rejected instance key",
				zap.String("public_key", e.credential.IdentityString()))
			return "", ErrNotRegistered
		}
		e.logger.Warn("failed to get challenge from hub",
			zap.Int("status", status), zap.String("body", body))
		return "", fmt.Errorf("%w: status %d: %s", ErrChallenge, status, body)
	}
	return body, nil
}

// RequestSession signs challenge and exchanges the signature for a session
// token.
func (e *Exchange) RequestSession(ctx context.Context, challenge string) (string, error) {
	signature, err := e.credential.Sign(challenge)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSession, err)
	}

	status, body, err := e.get(ctx, "/session", map[string]string{
		protocol.HeaderSignature: signature,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSession, err)
	}
	if status != http.StatusOK {
		e.logger.Warn("failed to get session token from hub",
			zap.Int("status", status), zap.String("body", body))
		return "", fmt.Errorf("%w: status %d", ErrSession, status)
	}
	return body, nil
}

func (e *Exchange) get(ctx context.Context, route string, headers map[string]string) (int, string, error) {
	if !e.credential.HasKey() {
		return 0, "", keys.ErrNoKey
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.endpoint.HTTPURL(route), nil)
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set(protocol.HeaderInstanceKey, e.credential.IdentityString())
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return resp.StatusCode, "", err
	}
	return resp.StatusCode, strings.TrimSpace(string(body)), nil
}
