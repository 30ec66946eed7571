package keys

import (
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

const (
	compactSignatureSize = 65
	// 27 + 4 marks a recoverable signature over a compressed public key.
	compactHeaderBase = 31
	maxSignAttempts   = 1 << 10
)

// isCanonical reports whether r and s satisfy the Antelope K1 canonical form:
// neither may have the high bit set and neither may carry a redundant leading
// zero byte.
func isCanonical(sig []byte) bool {
	r, s := sig[1:33], sig[33:65]
	return r[0]&0x80 == 0 &&
		!(r[0] == 0 && r[1]&0x80 == 0) &&
		s[0]&0x80 == 0 &&
		!(s[0] == 0 && s[1]&0x80 == 0)
}

// signCanonical produces a 65 byte compact signature of hash. RFC6979 nonces
// are drawn with an increasing iteration count until the result is canonical.
func signCanonical(key *secp256k1.PrivateKey, hash []byte) ([]byte, bool) {
	var keyBytes [32]byte
	key.Key.PutBytes(&keyBytes)
	defer func() {
		for i := range keyBytes {
			keyBytes[i] = 0
		}
	}()

	for iteration := uint32(0); iteration < maxSignAttempts; iteration++ {
		k := secp256k1.NonceRFC6979(keyBytes[:], hash, nil, nil, iteration)
		sig, ok := signWithNonce(&key.Key, k, hash)
		k.Zero()
		if ok && isCanonical(sig) {
			return sig, true
		}
	}
	return nil, false
}

func signWithNonce(d, k *secp256k1.ModNScalar, hash []byte) ([]byte, bool) {
	var kG secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(k, &kG)
	kG.ToAffine()

	var r secp256k1.ModNScalar
	overflow := r.SetByteSlice(kG.X.Bytes()[:])
	if r.IsZero() {
		return nil, false
	}
	recoveryCode := byte(kG.Y.IsOddBit())
	if overflow {
		recoveryCode |= 0x02
	}

	var e secp256k1.ModNScalar
	e.SetByteSlice(hash)

	kinv := new(secp256k1.ModNScalar).InverseValNonConst(k)
	s := new(secp256k1.ModNScalar).Mul2(d, &r).Add(&e).Mul(kinv)
	if s.IsZero() {
		return nil, false
	}
	if s.IsOverHalfOrder() {
		s.Negate()
		recoveryCode ^= 0x01
	}

	out := make([]byte, compactSignatureSize)
	out[0] = compactHeaderBase + recoveryCode
	r.PutBytesUnchecked(out[1:33])
	s.PutBytesUnchecked(out[33:65])
	return out, true
}
