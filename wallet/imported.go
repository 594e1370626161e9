package wallet

import (
	"bytes"
	"crypto/ecdsa"
	"strings"

	"github.com/abcfe/abcfe-wallet/common/crypto"
	"github.com/abcfe/abcfe-wallet/common/utils"
	prt "github.com/abcfe/abcfe-wallet/protocol"
)

// KeyPair is an imported key as supplied by the UI. PublicKey is optional.
type KeyPair struct {
	PrivateKey string `json:"privateKey"`
	PublicKey  string `json:"publicKey,omitempty"`
}

// ImportedKey is a validated private key with its re-derived public half.
type ImportedKey struct {
	PrivateKey *ecdsa.PrivateKey
	Scalar     []byte // 32 byte canonical form, zero after use
	PublicKey  []byte // compressed
	Address    prt.Address
}

func (k *ImportedKey) Zero() {
	if k == nil {
		return
	}
	crypto.ZeroPrivateKey(k.PrivateKey)
	crypto.Zero(k.Scalar)
}

// ParseImportedKey validates kp and re-derives its public key. A supplied
// public key must match the derived one.
func ParseImportedKey(kp KeyPair) (*ImportedKey, error) {
	if strings.TrimSpace(kp.PrivateKey) == "" {
		return nil, prt.ErrInvalidRequest.WithMessage("private key is empty")
	}
	raw, err := utils.HexToBytes(kp.PrivateKey)
	if err != nil {
		return nil, prt.ErrInvalidRequest.WithMessage("private key is not hex")
	}
	defer crypto.Zero(raw)

	priv, err := crypto.BytesToPrivateKey(raw)
	if err != nil {
		return nil, prt.ErrInvalidRequest.WithMessage("invalid private key: %v", err)
	}

	scalar, err := crypto.PrivateKeyToBytes(priv)
	if err != nil {
		return nil, err
	}
	pub, err := crypto.PublicKeyToBytes(&priv.PublicKey)
	if err != nil {
		return nil, err
	}

	if kp.PublicKey != "" {
		supplied, err := utils.HexToBytes(kp.PublicKey)
		if err != nil || !bytes.Equal(supplied, pub) {
			crypto.ZeroPrivateKey(priv)
			crypto.Zero(scalar)
			return nil, prt.ErrInvalidRequest.WithMessage("public key does not match private key")
		}
	}

	addr, err := crypto.CompressedToAddress(pub)
	if err != nil {
		return nil, err
	}
	return &ImportedKey{PrivateKey: priv, Scalar: scalar, PublicKey: pub, Address: addr}, nil
}
