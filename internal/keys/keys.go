// Package keys holds the instance credential: an optional Antelope K1 private
// key and the public identity derived from it.
package keys

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"go.uber.org/zap"
)

const (
	privateKeySize = 32
	publicKeySize  = 33
)

// ErrNoKey is returned when signing with an anonymous credential.
var ErrNoKey = errors.New("credential has no private key")

// Credential is immutable once created. The zero value is anonymous.
type Credential struct {
	key *secp256k1.PrivateKey
	pub *secp256k1.PublicKey
}

// Load parses keyString as a private key. An empty string yields an anonymous
// credential. A key that fails to parse is logged and also yields an anonymous
// credential.
func Load(keyString string, logger *zap.Logger) *Credential {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(keyString) == "" {
		return &Credential{}
	}
	c, err := Parse(keyString)
	if err != nil {
		logger.Error("private key rejected, continuing without authentication", zap.Error(err))
		return &Credential{}
	}
	return c
}

// Parse is the strict form of Load.
func Parse(keyString string) (*Credential, error) {
	raw, err := decodePrivate(keyString)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	var scalar secp256k1.ModNScalar
	if overflow := scalar.SetByteSlice(raw); overflow || scalar.IsZero() {
		return nil, fmt.Errorf("%w: scalar out of range", ErrInvalidKey)
	}
	key := secp256k1.NewPrivateKey(&scalar)
	return &Credential{key: key, pub: key.PubKey()}, nil
}

// Generate creates a credential with a fresh random key.
func Generate() (*Credential, error) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	return &Credential{key: key, pub: key.PubKey()}, nil
}

// HasKey reports whether the credential can authenticate.
func (c *Credential) HasKey() bool {
	return c != nil && c.key != nil
}

// IdentityString returns the PUB_K1_ form of the public key, or "" for an
// anonymous credential.
func (c *Credential) IdentityString() string {
	if !c.HasKey() {
		return ""
	}
	return prefixPublic + encodeK1(c.pub.SerializeCompressed())
}

// PrivateKeyString returns the PVT_K1_ form of the private key.
func (c *Credential) PrivateKeyString() string {
	if !c.HasKey() {
		return ""
	}
	return prefixPrivate + encodeK1(c.key.Serialize())
}

// Sign signs message and returns a SIG_K1_ signature string.
func (c *Credential) Sign(message string) (string, error) {
	if !c.HasKey() {
		return "", ErrNoKey
	}
	digest := messageDigest(message)
	sig, ok := signCanonical(c.key, digest[:])
	if !ok {
		return "", fmt.Errorf("no canonical signature after %d attempts", maxSignAttempts)
	}
	return prefixSignature + encodeK1(sig), nil
}

// NormalizePublicKey accepts a PUB_K1_ or legacy EOS public key and returns
// its PUB_K1_ form.
func NormalizePublicKey(publicKey string) (string, error) {
	raw, err := decodePublic(publicKey)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if _, err := secp256k1.ParsePubKey(raw); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return prefixPublic + encodeK1(raw), nil
}

// VerifyMessage checks that signature was produced over message by the key
// behind publicKey.
func VerifyMessage(publicKey, signature, message string) error {
	want, err := decodePublic(publicKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if !strings.HasPrefix(signature, prefixSignature) {
		return fmt.Errorf("%w: unsupported signature type", ErrInvalidSignature)
	}
	sig, err := decodeK1(strings.TrimPrefix(signature, prefixSignature), compactSignatureSize)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	digest := messageDigest(message)
	recovered, _, err := ecdsa.RecoverCompact(sig, digest[:])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if string(recovered.SerializeCompressed()) != string(want) {
		return fmt.Errorf("%w: key mismatch", ErrInvalidSignature)
	}
	return nil
}

// messageDigest hashes the bytes of message. Even-length hex strings are
// decoded first since hub challenges are issued as hex.
func messageDigest(message string) [32]byte {
	data := []byte(message)
	if len(message) > 0 && len(message)%2 == 0 {
		if b, err := hex.DecodeString(message); err == nil {
			data = b
		}
	}
	return sha256.Sum256(data)
}
