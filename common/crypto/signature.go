package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
)

// SignData performs ECDSA signature over the SHA-256 digest of data
func SignData(privateKey *ecdsa.PrivateKey, data []byte) ([]byte, error) {
	if privateKey == nil {
		return nil, fmt.Errorf("private key is nil")
	}

	digest := sha256.Sum256(data)
	signature, err := ecdsa.SignASN1(rand.Reader, privateKey, digest[:])
	if err != nil {
		return nil, fmt.Errorf("failed to sign data: %w", err)
	}
	return signature, nil
}

// VerifySignature verifies an ASN.1 ECDSA signature produced by SignData
func VerifySignature(publicKey *ecdsa.PublicKey, data []byte, sig []byte) bool {
	if publicKey == nil || len(sig) == 0 {
		return false
	}
	digest := sha256.Sum256(data)
	return ecdsa.VerifyASN1(publicKey, digest[:], sig)
}

// PublicKeyToBytes converts public key to its 33 byte compressed form
func PublicKeyToBytes(publicKey *ecdsa.PublicKey) ([]byte, error) {
	if publicKey == nil {
		return nil, fmt.Errorf("public key is nil")
	}
	return elliptic.MarshalCompressed(publicKey.Curve, publicKey.X, publicKey.Y), nil
}

// BytesToPublicKey converts compressed bytes to public key
func BytesToPublicKey(data []byte) (*ecdsa.PublicKey, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("public key bytes is empty")
	}

	curve := elliptic.P256()
	x, y := elliptic.UnmarshalCompressed(curve, data)
	if x == nil {
		return nil, fmt.Errorf("failed to parse public key")
	}
	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}
