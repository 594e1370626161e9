package wallet

import (
	"github.com/abcfe/abcfe-wallet/common/utils"
)

type SourceType string

const (
	SourceMnemonic SourceType = "mnemonic"
	SourceImported SourceType = "imported"
	SourceExternal SourceType = "external"
)

func (t SourceType) Valid() bool {
	switch t {
	case SourceMnemonic, SourceImported, SourceExternal:
		return true
	}
	return false
}

type AccountType string

const (
	AccountDerived  AccountType = "derived"
	AccountImported AccountType = "imported"
	AccountExternal AccountType = "external"
)

// AccountTypeFor maps a source type to the type of the accounts it owns.
func AccountTypeFor(t SourceType) AccountType {
	switch t {
	case SourceImported:
		return AccountImported
	case SourceExternal:
		return AccountExternal
	default:
		return AccountDerived
	}
}

type LockState string

const (
	Locked   LockState = "locked"
	Unlocked LockState = "unlocked"
)

// Payload encoding generations of a source record
const (
	FormatLegacy  = 1 // scrypt keystore JSON sealed with the password
	FormatCurrent = 2 // XChaCha20-Poly1305 under a vault key subkey
)

// Account is the non-secret projection handed to the UI.
type Account struct {
	ID        string      `json:"id"`
	Type      AccountType `json:"type"`
	PublicKey string      `json:"publicKey,omitempty"`
	Nickname  string      `json:"nickname,omitempty"`
	SourceID  string      `json:"sourceId"`
	Index     uint32      `json:"index,omitempty"`
	LockState LockState   `json:"lockState"`
}

// AccountSource is the non-secret projection of a source.
type AccountSource struct {
	ID                string     `json:"id"`
	Type              SourceType `json:"type"`
	Label             string     `json:"label,omitempty"`
	Counterparty      string     `json:"counterparty,omitempty"`
	DerivationCounter uint32     `json:"derivationCounter"`
	LockState         LockState  `json:"lockState"`
	CreatedAt         int64      `json:"createdAt"`
}

// SourceRecord is the persisted form of an account source.
type SourceRecord struct {
	ID                string
	Type              SourceType
	Format            int
	Payload           []byte // sealed secret, never plaintext
	DerivationCounter uint32
	Label             string `cbor:",omitempty"`
	Counterparty      string `cbor:",omitempty"`
	CreatedAt         int64
}

func (r *SourceRecord) Projection(lock LockState) AccountSource {
	return AccountSource{
		ID:                r.ID,
		Type:              r.Type,
		Label:             r.Label,
		Counterparty:      r.Counterparty,
		DerivationCounter: r.DerivationCounter,
		LockState:         lock,
		CreatedAt:         r.CreatedAt,
	}
}

// AccountRecord is the persisted form of an account. ID is the 0x address.
type AccountRecord struct {
	ID        string
	Type      AccountType
	SourceID  string
	Index     uint32
	PublicKey []byte `cbor:",omitempty"`
	Nickname  string `cbor:",omitempty"`
	CreatedAt int64
}

func (r *AccountRecord) Projection(lock LockState) Account {
	a := Account{
		ID:        r.ID,
		Type:      r.Type,
		Nickname:  r.Nickname,
		SourceID:  r.SourceID,
		Index:     r.Index,
		LockState: lock,
	}
	if len(r.PublicKey) > 0 {
		a.PublicKey = utils.BytesToHex(r.PublicKey)
	}
	return a
}

// ExternalSecret is the sealed payload of an external custodied source.
type ExternalSecret struct {
	Service string
	URL     string
	Token   string
}

// Keystore types of the legacy payload format
type CipherParams struct {
	IV string `json:"iv"` // Initialization vector
}

type KDFParams struct {
	DkLen int    `json:"dklen"` // Derived key length
	N     int    `json:"n"`     // CPU/Memory cost
	P     int    `json:"p"`     // Parallelization parameter
	R     int    `json:"r"`     // Block size
	Salt  string `json:"salt"`  // Salt
}

type Crypto struct {
	Cipher       string       `json:"cipher"`     // "aes-128-ctr"
	CipherText   string       `json:"ciphertext"` // Encrypted secret
	CipherParams CipherParams `json:"cipherparams"`
	KDF          string       `json:"kdf"` // "scrypt"
	KDFParams    KDFParams    `json:"kdfparams"`
	MAC          string       `json:"mac"` // Integrity check
}

// BIP-44 path constants
const (
	BIP44Purpose  = 44
	BIP44CoinType = 784
	BIP44Account  = 0
	BIP44Change   = 0 // External
)
