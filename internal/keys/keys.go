// Package keys generates and (de)serializes the relay's RSA keypair.
// Per spec.md §3 invariant I4, the relay keypair is immutable after first
// generation; this package only provides the primitives, Db.SettingsOrInit
// owns the once-only creation.
package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

// KeyBits is the RSA modulus size used for newly generated relay keys.
const KeyBits = 2048

// Generate creates a new RSA private key.
func Generate() (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, KeyBits)
	if err != nil {
		return nil, fmt.Errorf("keys: generate: %w", err)
	}
	return key, nil
}

// EncodePKCS8PEM serializes a private key to PKCS#8 PEM, the format
// Settings.private_key_pem is stored in.
func EncodePKCS8PEM(key *rsa.PrivateKey) (string, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return "", fmt.Errorf("keys: marshal pkcs8: %w", err)
	}
	block := &pem.Block{Type: "PRIVATE KEY", Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}

// DecodePKCS8PEM parses a PKCS#8 PEM-encoded RSA private key.
func DecodePKCS8PEM(pemStr string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("keys: decode pkcs8: no PEM block found")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("keys: parse pkcs8: %w", err)
	}
	rsaKey, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("keys: parse pkcs8: not an RSA key")
	}
	return rsaKey, nil
}

// EncodePublicPKIXPEM serializes a public key to PKIX PEM, the format
// published in the relay's actor document and cached actor descriptors.
func EncodePublicPKIXPEM(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("keys: marshal pkix: %w", err)
	}
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}

// DecodePublicPKIXPEM parses a PKIX PEM-encoded RSA public key, used when
// ActorCache verifies a signature against a fetched actor's publicKeyPem.
func DecodePublicPKIXPEM(pemStr string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("keys: decode pkix: no PEM block found")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		// Some fediverse software publishes PKCS#1 ("RSA PUBLIC KEY") PEM
		// instead of PKIX; fall back before giving up.
		if rsaPub, err2 := x509.ParsePKCS1PublicKey(block.Bytes); err2 == nil {
			return rsaPub, nil
		}
		return nil, fmt.Errorf("keys: parse pkix: %w", err)
	}
	rsaPub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("keys: parse pkix: not an RSA key")
	}
	return rsaPub, nil
}
