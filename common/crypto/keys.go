package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"fmt"
	"math/big"
)

// ScalarLen is the byte length of a P-256 private scalar.
const ScalarLen = 32

func GenerateKeyPair() (*ecdsa.PrivateKey, *ecdsa.PublicKey, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	return privateKey, &privateKey.PublicKey, nil
}

// Derive master key from seed (simple version)
func DeriveMasterKey(seed []byte) (*ecdsa.PrivateKey, error) {
	if len(seed) == 0 {
		return nil, fmt.Errorf("empty seed")
	}

	// Hash seed with SHA256 to use as private key
	hash := sha256.Sum256(seed)
	d := new(big.Int).SetBytes(hash[:])
	return scalarToKey(d)
}

// Derive account key from path (simple version)
func DeriveAccountKey(masterKey *ecdsa.PrivateKey, path string) (*ecdsa.PrivateKey, *ecdsa.PublicKey, error) {
	// Hash path to create unique offset per account
	pathHash := sha256.Sum256([]byte(path))

	// Add offset to master key
	offset := new(big.Int).SetBytes(pathHash[:])
	newD := new(big.Int).Add(masterKey.D, offset)

	privateKey, err := scalarToKey(newD)
	if err != nil {
		return nil, nil, err
	}
	return privateKey, &privateKey.PublicKey, nil
}

// scalarToKey reduces d modulo the curve order and computes the public point.
func scalarToKey(d *big.Int) (*ecdsa.PrivateKey, error) {
	curve := elliptic.P256()
	d = new(big.Int).Mod(d, curve.Params().N)
	if d.Sign() == 0 {
		return nil, fmt.Errorf("derived scalar is zero")
	}

	privateKey := new(ecdsa.PrivateKey)
	privateKey.PublicKey.Curve = curve
	privateKey.D = d

	buf := make([]byte, ScalarLen)
	d.FillBytes(buf)
	privateKey.PublicKey.X, privateKey.PublicKey.Y = curve.ScalarBaseMult(buf)
	Zero(buf)

	return privateKey, nil
}

// PrivateKeyToBytes returns the fixed width big-endian scalar of a private key.
func PrivateKeyToBytes(privateKey *ecdsa.PrivateKey) ([]byte, error) {
	if privateKey == nil {
		return nil, fmt.Errorf("private key is nil")
	}
	buf := make([]byte, ScalarLen)
	privateKey.D.FillBytes(buf)
	return buf, nil
}

// BytesToPrivateKey accepts a raw 32 byte scalar or a SEC1 DER encoded key.
func BytesToPrivateKey(data []byte) (*ecdsa.PrivateKey, error) {
	switch {
	case len(data) == 0:
		return nil, fmt.Errorf("private key bytes is empty")
	case len(data) == ScalarLen:
		d := new(big.Int).SetBytes(data)
		if d.Sign() == 0 || d.Cmp(elliptic.P256().Params().N) >= 0 {
			return nil, fmt.Errorf("private key scalar out of range")
		}
		return scalarToKey(d)
	default:
		key, err := x509.ParseECPrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		if key.Curve != elliptic.P256() {
			return nil, fmt.Errorf("unsupported curve: %s", key.Curve.Params().Name)
		}
		return key, nil
	}
}

// ZeroPrivateKey clears the private scalar in place.
func ZeroPrivateKey(privateKey *ecdsa.PrivateKey) {
	if privateKey == nil || privateKey.D == nil {
		return
	}
	words := privateKey.D.Bits()
	for i := range words {
		words[i] = 0
	}
	privateKey.D.SetInt64(0)
}
