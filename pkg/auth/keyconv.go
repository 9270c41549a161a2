package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"math/big"
	"strings"
)

// minModulusBits is the smallest RSA modulus accepted from a key set.
const minModulusBits = 2048

// maxExponent is the largest public exponent crypto/rsa will verify with.
const maxExponent = 1<<31 - 1

// PublicKey converts an RSA key descriptor into a public key. N and E are
// URL-safe base64 of unsigned big-endian integers; missing padding is
// restored before decoding.
//
// A descriptor that is not RSA, does not decode, or holds an out-of-range
// value yields a [ReasonMalformed] rejection.
func PublicKey(desc KeyDescriptor) (*rsa.PublicKey, error) {
	if desc.Kty != "RSA" {
		return nil, reject(ReasonMalformed, fmt.Errorf("auth: key %q has type %q, want RSA", desc.Kid, desc.Kty))
	}

	nBytes, err := decodeUint(desc.N)
	if err != nil {
		return nil, reject(ReasonMalformed, fmt.Errorf("auth: key %q modulus: %w", desc.Kid, err))
	}
	eBytes, err := decodeUint(desc.E)
	if err != nil {
		return nil, reject(ReasonMalformed, fmt.Errorf("auth: key %q exponent: %w", desc.Kid, err))
	}

	n := new(big.Int).SetBytes(nBytes)
	if n.BitLen() < minModulusBits {
		return nil, reject(ReasonMalformed, fmt.Errorf("auth: key %q modulus is %d bits, want at least %d", desc.Kid, n.BitLen(), minModulusBits))
	}
	e := new(big.Int).SetBytes(eBytes)
	if !e.IsInt64() || e.Int64() <= 1 || e.Int64() > maxExponent {
		return nil, reject(ReasonMalformed, fmt.Errorf("auth: key %q exponent %s is out of range", desc.Kid, e))
	}

	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

// decodeUint pads s to a multiple of four and decodes it as URL-safe base64.
func decodeUint(s string) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("value is empty")
	}
	if r := len(s) % 4; r != 0 {
		s += strings.Repeat("=", 4-r)
	}
	return base64.URLEncoding.DecodeString(s)
}

// EncodePublicKeyPEM serializes pub as a PEM "PUBLIC KEY" block (PKIX).
func EncodePublicKeyPEM(pub *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}
