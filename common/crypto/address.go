package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"fmt"

	"github.com/abcfe/abcfe-wallet/common/utils"
	prt "github.com/abcfe/abcfe-wallet/protocol"
)

func PublicKeyToAddress(publicKey *ecdsa.PublicKey) (prt.Address, error) {
	if publicKey == nil {
		return prt.Address{}, fmt.Errorf("public key is nil")
	}

	// Convert public key to compressed format
	pubBytes := elliptic.MarshalCompressed(publicKey.Curve, publicKey.X, publicKey.Y)
	return CompressedToAddress(pubBytes)
}

// CompressedToAddress derives the account id from a 33 byte compressed public key.
func CompressedToAddress(pubBytes []byte) (prt.Address, error) {
	if len(pubBytes) != 33 {
		return prt.Address{}, fmt.Errorf("invalid compressed public key length: %d", len(pubBytes))
	}

	// Keccak256 hash, compression prefix removed
	hashBytes := utils.Keccak256(pubBytes[1:])

	// Convert last 20 bytes to Address type
	var address prt.Address
	copy(address[:], hashBytes[len(hashBytes)-20:])

	return address, nil
}
