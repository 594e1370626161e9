package wallet

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/abcfe/abcfe-wallet/common/crypto"
	prt "github.com/abcfe/abcfe-wallet/protocol"
	"github.com/tyler-smith/go-bip39"
)

// EntropyBits is the strength of a freshly generated mnemonic (12 words).
const EntropyBits = 128

// DerivedKey is a transient account key. Call Zero when done.
type DerivedKey struct {
	Index      uint32
	Path       string
	PrivateKey *ecdsa.PrivateKey
	PublicKey  []byte // compressed
	Address    prt.Address
}

func (k *DerivedKey) Zero() {
	if k != nil {
		crypto.ZeroPrivateKey(k.PrivateKey)
	}
}

func NewEntropy() ([]byte, error) {
	entropy, err := bip39.NewEntropy(EntropyBits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate entropy: %w", err)
	}
	return entropy, nil
}

// ValidateEntropy checks that entropy has a valid mnemonic length.
func ValidateEntropy(entropy []byte) error {
	if _, err := bip39.NewMnemonic(entropy); err != nil {
		return prt.ErrInvalidRequest.WithMessage("invalid entropy: %v", err)
	}
	return nil
}

func MnemonicFromEntropy(entropy []byte) (string, error) {
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", prt.ErrInvalidRequest.WithMessage("invalid entropy: %v", err)
	}
	return mnemonic, nil
}

// EntropyFromMnemonic validates the phrase and checksum and returns its entropy.
func EntropyFromMnemonic(mnemonic string) ([]byte, error) {
	entropy, err := bip39.EntropyFromMnemonic(mnemonic)
	if err != nil {
		return nil, prt.ErrInvalidRequest.WithMessage("invalid mnemonic: %v", err)
	}
	return entropy, nil
}

// DerivationPath returns m/44'/784'/0'/0'/<index>'.
func DerivationPath(index uint32) string {
	return fmt.Sprintf("m/%d'/%d'/%d'/%d'/%d'", BIP44Purpose, BIP44CoinType, BIP44Account, BIP44Change, index)
}

// DeriveAccount derives the account at index from mnemonic entropy. The same
// (entropy, index) always yields the same key.
func DeriveAccount(entropy []byte, index uint32) (*DerivedKey, error) {
	mnemonic, err := MnemonicFromEntropy(entropy)
	if err != nil {
		return nil, err
	}
	seed := bip39.NewSeed(mnemonic, "")
	defer crypto.Zero(seed)

	master, err := crypto.DeriveMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("failed to derive master key: %w", err)
	}
	defer crypto.ZeroPrivateKey(master)

	path := DerivationPath(index)
	priv, pub, err := crypto.DeriveAccountKey(master, path)
	if err != nil {
		return nil, fmt.Errorf("failed to derive account key: %w", err)
	}

	pubBytes, err := crypto.PublicKeyToBytes(pub)
	if err != nil {
		return nil, err
	}
	addr, err := crypto.CompressedToAddress(pubBytes)
	if err != nil {
		return nil, err
	}

	return &DerivedKey{
		Index:      index,
		Path:       path,
		PrivateKey: priv,
		PublicKey:  pubBytes,
		Address:    addr,
	}, nil
}
