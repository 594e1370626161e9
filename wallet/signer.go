package wallet

import (
	"crypto/ecdsa"
	"fmt"
	"sync"

	"github.com/abcfe/abcfe-wallet/common/crypto"
	prt "github.com/abcfe/abcfe-wallet/protocol"
)

// Signer produces signatures for one account. Implementations may be
// external devices; the keyring only depends on this contract.
type Signer interface {
	Address() prt.Address
	Sign(data []byte) ([]byte, error)
}

// KeySigner signs with an in-memory key. It must be closed right after use.
type KeySigner struct {
	mu   sync.Mutex
	addr prt.Address
	key  *ecdsa.PrivateKey
}

var _ Signer = (*KeySigner)(nil)

func NewKeySigner(key *ecdsa.PrivateKey) (*KeySigner, error) {
	addr, err := crypto.PublicKeyToAddress(&key.PublicKey)
	if err != nil {
		return nil, err
	}
	return &KeySigner{addr: addr, key: key}, nil
}

func (s *KeySigner) Address() prt.Address {
	return s.addr
}

func (s *KeySigner) Sign(data []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.key == nil {
		return nil, fmt.Errorf("signer is closed")
	}
	return crypto.SignData(s.key, data)
}

// Close zeroes the key.
func (s *KeySigner) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	crypto.ZeroPrivateKey(s.key)
	s.key = nil
}
