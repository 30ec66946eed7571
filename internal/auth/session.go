package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/gorilla/securecookie"
	"go.uber.org/zap"
)

const sessionName = "qry-session"

var (
	ErrSessionInvalid  = errors.New("session token invalid")
	ErrSessionKey      = errors.New("session token issued for another key")
	ErrSessionRedeemed = errors.New("session token already used")
)

// SessionClaims are sealed inside a session token.
type SessionClaims struct {
	PublicKey string `json:"public_key"`
	IssuedAt  int64  `json:"issued_at"`
	Nonce     string `json:"nonce"`
}

// SessionIssuer issues authenticated, encrypted session tokens bound to an
// instance key. Each token can be redeemed once within its lifetime.
type SessionIssuer struct {
	sc  *securecookie.SecureCookie
	ttl time.Duration

	mu       sync.Mutex
	redeemed map[string]time.Time
}

// NewSessionIssuer creates an issuer. Keys are read from QRY_SESSION_HASH_KEY
// and QRY_SESSION_BLOCK_KEY (hex) or generated randomly.
func NewSessionIssuer(ttl time.Duration, logger *zap.Logger) *SessionIssuer {
	if logger == nil {
		logger = zap.NewNop()
	}
	hashKey := getOrGenerateKey("QRY_SESSION_HASH_KEY", 32, logger)
	blockKey := getOrGenerateKey("QRY_SESSION_BLOCK_KEY", 32, logger)

	sc := securecookie.New(hashKey, blockKey)
	sc.SetSerializer(securecookie.JSONEncoder{})
	sc.MaxAge(int(ttl / time.Second))

	return &SessionIssuer{
		sc:       sc,
		ttl:      ttl,
		redeemed: make(map[string]time.Time),
	}
}

// getOrGenerateKey reads key from environment or generates a random one
func getOrGenerateKey(envVar string, length int, logger *zap.Logger) []byte {
	keyHex := os.Getenv(envVar)
	if keyHex != "" {
		key, err := hex.DecodeString(keyHex)
		if err == nil && len(key) >= length {
			return key[:length]
		}
		logger.Warn("invalid session key, generating random key", zap.String("env", envVar))
	}

	key := make([]byte, length)
	if _, err := rand.Read(key); err != nil {
		logger.Fatal("failed to generate session key", zap.Error(err))
	}
	logger.Debug("session key not set, tokens will not survive restarts", zap.String("env", envVar))
	return key
}

// Issue returns a new session token for publicKey.
func (i *SessionIssuer) Issue(publicKey string) (string, error) {
	nonce := make([]byte, 8)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	return i.sc.Encode(sessionName, SessionClaims{
		PublicKey: publicKey,
		IssuedAt:  time.Now().Unix(),
		Nonce:     hex.EncodeToString(nonce),
	})
}

// Redeem validates token for publicKey and marks it used.
func (i *SessionIssuer) Redeem(token, publicKey string) error {
	var claims SessionClaims
	if err := i.sc.Decode(sessionName, token, &claims); err != nil {
		return ErrSessionInvalid
	}
	if claims.PublicKey != publicKey {
		return ErrSessionKey
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	now := time.Now()
	for h, exp := range i.redeemed {
		if now.After(exp) {
			delete(i.redeemed, h)
		}
	}
	h := HashToken(token)
	if _, used := i.redeemed[h]; used {
		return ErrSessionRedeemed
	}
	// Remember past the token's own expiry so a replay is always caught.
	i.redeemed[h] = now.Add(2 * i.ttl)
	return nil
}
