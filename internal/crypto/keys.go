// Package crypto contains key parsing, fingerprinting and signature
// verification primitives for the trust engine.
package crypto

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/veritasnet/trustcore/internal/model"
)

var errBadPEM = errors.New("not a PEM public key")

// ParsePublicKey decodes a PEM (PKIX) public key and checks that its
// algorithm matches the declared format tag.
func ParsePublicKey(pemBytes []byte, format model.KeyFormat) (crypto.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil || block.Type != "PUBLIC KEY" {
		return nil, errBadPEM
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	switch format {
	case model.KeyFormatRSASHA256:
		if _, ok := pub.(*rsa.PublicKey); !ok {
			return nil, fmt.Errorf("format %s: key is %T", format, pub)
		}
	case model.KeyFormatEd25519:
		if _, ok := pub.(ed25519.PublicKey); !ok {
			return nil, fmt.Errorf("format %s: key is %T", format, pub)
		}
	default:
		return nil, fmt.Errorf("unknown key format %q", format)
	}
	return pub, nil
}

// Fingerprint derives the key identifier: hex BLAKE2b-256 over the PKIX DER
// bytes. Byte-identical key material always maps to the same id.
func Fingerprint(pemBytes []byte) (string, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil || block.Type != "PUBLIC KEY" {
		return "", errBadPEM
	}
	sum := blake2b.Sum256(block.Bytes)
	return hex.EncodeToString(sum[:]), nil
}

// NormalizePEM re-encodes key material into a single stable PEM form so the
// exported key listing is canonical regardless of submitted line wrapping.
func NormalizePEM(pemBytes []byte) ([]byte, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil || block.Type != "PUBLIC KEY" {
		return nil, errBadPEM
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: block.Bytes}), nil
}

// Verify checks a signature over message with the given key. A false return
// means the signature does not match; errors are reserved for unusable keys.
func Verify(format model.KeyFormat, pub crypto.PublicKey, message, sig []byte) (bool, error) {
	switch format {
	case model.KeyFormatRSASHA256:
		rsaPub, ok := pub.(*rsa.PublicKey)
		if !ok {
			return false, fmt.Errorf("rsa-sha256: key is %T", pub)
		}
		digest := sha256.Sum256(message)
		if err := rsa.VerifyPKCS1v15(rsaPub, crypto.SHA256, digest[:], sig); err != nil {
			return false, nil
		}
		return true, nil
	case model.KeyFormatEd25519:
		edPub, ok := pub.(ed25519.PublicKey)
		if !ok {
			return false, fmt.Errorf("ed25519: key is %T", pub)
		}
		if len(sig) != ed25519.SignatureSize {
			return false, nil
		}
		return ed25519.Verify(edPub, message, sig), nil
	default:
		return false, fmt.Errorf("unknown key format %q", format)
	}
}
