package wv

import (
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"math/big"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"
)

// KeyMaterial is the numeric form of an RSA key: its modulus and one exponent.
// For a public key Exponent is the public exponent, for a private key the private one.
type KeyMaterial struct {
	Modulus  *big.Int
	Exponent *big.Int
}

// DecodePublicKeyMaterial decodes a DER RSAPublicKey (PKCS#1) into modulus and public exponent.
func DecodePublicKeyMaterial(der []byte) (*KeyMaterial, error) {
	input := cryptobyte.String(der)

	var seq cryptobyte.String
	if !input.ReadASN1(&seq, asn1.SEQUENCE) || !input.Empty() {
		return nil, fmt.Errorf("%w: rsa public key is not a DER sequence", ErrKeyMaterial)
	}

	n, e := new(big.Int), new(big.Int)
	if !seq.ReadASN1Integer(n) || !seq.ReadASN1Integer(e) || !seq.Empty() {
		return nil, fmt.Errorf("%w: malformed rsa public key", ErrKeyMaterial)
	}
	if n.Sign() <= 0 || e.Sign() <= 0 {
		return nil, fmt.Errorf("%w: rsa public key has non-positive fields", ErrKeyMaterial)
	}

	return &KeyMaterial{Modulus: n, Exponent: e}, nil
}

// DecodePrivateKeyMaterial decodes a DER RSAPrivateKey (PKCS#1) into modulus and private exponent.
func DecodePrivateKeyMaterial(der []byte) (*KeyMaterial, error) {
	input := cryptobyte.String(der)

	var seq cryptobyte.String
	if !input.ReadASN1(&seq, asn1.SEQUENCE) || !input.Empty() {
		return nil, fmt.Errorf("%w: rsa private key is not a DER sequence", ErrKeyMaterial)
	}

	var version int64
	n, e, d := new(big.Int), new(big.Int), new(big.Int)
	if !seq.ReadASN1Integer(&version) ||
		!seq.ReadASN1Integer(n) ||
		!seq.ReadASN1Integer(e) ||
		!seq.ReadASN1Integer(d) {
		return nil, fmt.Errorf("%w: malformed rsa private key", ErrKeyMaterial)
	}
	if version > 1 {
		return nil, fmt.Errorf("%w: unsupported rsa private key version %d", ErrKeyMaterial, version)
	}
	if n.Sign() <= 0 || d.Sign() <= 0 {
		return nil, fmt.Errorf("%w: rsa private key has non-positive fields", ErrKeyMaterial)
	}

	return &KeyMaterial{Modulus: n, Exponent: d}, nil
}

// ParsePublicKey parses a DER RSAPublicKey as embedded in a DRM certificate.
func ParsePublicKey(pubKey []byte) (*rsa.PublicKey, error) {
	m, err := DecodePublicKeyMaterial(pubKey)
	if err != nil {
		return nil, err
	}
	if !m.Exponent.IsInt64() || m.Exponent.Int64() > 1<<31-1 {
		return nil, fmt.Errorf("%w: rsa public exponent too large", ErrKeyMaterial)
	}

	return &rsa.PublicKey{N: m.Modulus, E: int(m.Exponent.Int64())}, nil
}

// ParsePrivateKey parses a PKCS#1 or PKCS#8 DER RSA private key.
func ParsePrivateKey(data []byte) (*rsa.PrivateKey, error) {
	if key, err := x509.ParsePKCS1PrivateKey(data); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS8PrivateKey(data); err == nil {
		switch k := key.(type) {
		case *rsa.PrivateKey:
			return k, nil
		default:
			return nil, fmt.Errorf("%w: unsupported private key type: %T", ErrKeyMaterial, k)
		}
	}

	return nil, fmt.Errorf("%w: unsupported private key encoding", ErrKeyMaterial)
}
