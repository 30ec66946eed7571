package keys

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // Antelope key checksums are ripemd160
)

const (
	curveK1 = "K1"

	prefixPrivate   = "PVT_K1_"
	prefixPublic    = "PUB_K1_"
	prefixSignature = "SIG_K1_"
	prefixLegacyPub = "EOS"

	wifVersion   = 0x80
	checksumSize = 4
)

var (
	ErrInvalidKey       = errors.New("invalid key")
	ErrInvalidSignature = errors.New("invalid signature")
	errChecksum         = errors.New("checksum mismatch")
)

func ripemd160Checksum(parts ...[]byte) []byte {
	h := ripemd160.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)[:checksumSize]
}

// encodeK1 appends ripemd160(data||"K1") and base58 encodes the result.
func encodeK1(data []byte) string {
	sum := ripemd160Checksum(data, []byte(curveK1))
	return base58.Encode(append(append([]byte{}, data...), sum...))
}

func decodeK1(s string, size int) ([]byte, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return nil, err
	}
	if len(raw) != size+checksumSize {
		return nil, fmt.Errorf("want %d bytes, got %d", size+checksumSize, len(raw))
	}
	data, sum := raw[:size], raw[size:]
	if !bytes.Equal(sum, ripemd160Checksum(data, []byte(curveK1))) {
		return nil, errChecksum
	}
	return data, nil
}

func decodeLegacyPublic(s string) ([]byte, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return nil, err
	}
	if len(raw) != publicKeySize+checksumSize {
		return nil, fmt.Errorf("want %d bytes, got %d", publicKeySize+checksumSize, len(raw))
	}
	data, sum := raw[:publicKeySize], raw[publicKeySize:]
	if !bytes.Equal(sum, ripemd160Checksum(data)) {
		return nil, errChecksum
	}
	return data, nil
}

// decodeWIF parses a legacy wallet import format key.
func decodeWIF(s string) ([]byte, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return nil, err
	}
	if len(raw) != 1+privateKeySize+checksumSize {
		return nil, fmt.Errorf("want %d bytes, got %d", 1+privateKeySize+checksumSize, len(raw))
	}
	if raw[0] != wifVersion {
		return nil, fmt.Errorf("unexpected version byte 0x%02x", raw[0])
	}
	payload, sum := raw[:1+privateKeySize], raw[1+privateKeySize:]
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	if !bytes.Equal(sum, second[:checksumSize]) {
		return nil, errChecksum
	}
	return payload[1:], nil
}

func decodePrivate(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, prefixPrivate) {
		return decodeK1(strings.TrimPrefix(s, prefixPrivate), privateKeySize)
	}
	if strings.HasPrefix(s, "PVT_") {
		return nil, errors.New("unsupported private key type")
	}
	return decodeWIF(s)
}

func decodePublic(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(s, prefixPublic):
		return decodeK1(strings.TrimPrefix(s, prefixPublic), publicKeySize)
	case strings.HasPrefix(s, prefixLegacyPub):
		return decodeLegacyPublic(strings.TrimPrefix(s, prefixLegacyPub))
	}
	return nil, fmt.Errorf("unrecognized public key prefix")
}
