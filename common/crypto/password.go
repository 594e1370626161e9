package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/scrypt"
)

const (
	AlgoArgon2id = "argon2id"
	AlgoScrypt   = "scrypt"

	saltLen = 16
	hashLen = 32
)

// KDFParams are the argon2id cost parameters of the current vault format.
type KDFParams struct {
	Time      uint32
	MemoryKiB uint32
	Threads   uint8
}

// ScryptParams are the cost parameters of the legacy vault format.
type ScryptParams struct {
	N int
	R int
	P int
}

// PasswordHash is a self-describing password verifier. Only the algorithm
// named by Algo is populated.
type PasswordHash struct {
	Algo      string
	Salt      []byte
	Time      uint32 `cbor:",omitempty"`
	MemoryKiB uint32 `cbor:",omitempty"`
	Threads   uint8  `cbor:",omitempty"`
	N         int    `cbor:",omitempty"`
	R         int    `cbor:",omitempty"`
	P         int    `cbor:",omitempty"`
	Sum       []byte
}

func NewSalt() ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to read salt: %w", err)
	}
	return salt, nil
}

// HashPassword produces an argon2id verifier.
func HashPassword(password []byte, p KDFParams) (*PasswordHash, error) {
	salt, err := NewSalt()
	if err != nil {
		return nil, err
	}
	return &PasswordHash{
		Algo:      AlgoArgon2id,
		Salt:      salt,
		Time:      p.Time,
		MemoryKiB: p.MemoryKiB,
		Threads:   p.Threads,
		Sum:       argon2.IDKey(password, salt, p.Time, p.MemoryKiB, p.Threads, hashLen),
	}, nil
}

// HashPasswordLegacy produces a scrypt verifier as written by the first vault format.
func HashPasswordLegacy(password []byte, p ScryptParams) (*PasswordHash, error) {
	salt, err := NewSalt()
	if err != nil {
		return nil, err
	}
	sum, err := scrypt.Key(password, salt, p.N, p.R, p.P, hashLen)
	if err != nil {
		return nil, fmt.Errorf("scrypt: %w", err)
	}
	return &PasswordHash{Algo: AlgoScrypt, Salt: salt, N: p.N, R: p.R, P: p.P, Sum: sum}, nil
}

// CheckPassword compares password against h in constant time.
func CheckPassword(password []byte, h *PasswordHash) (bool, error) {
	if h == nil {
		return false, fmt.Errorf("no password hash")
	}

	var sum []byte
	switch h.Algo {
	case AlgoArgon2id:
		sum = argon2.IDKey(password, h.Salt, h.Time, h.MemoryKiB, h.Threads, uint32(len(h.Sum)))
	case AlgoScrypt:
		var err error
		sum, err = scrypt.Key(password, h.Salt, h.N, h.R, h.P, len(h.Sum))
		if err != nil {
			return false, fmt.Errorf("scrypt: %w", err)
		}
	default:
		return false, fmt.Errorf("unknown password hash algorithm %q", h.Algo)
	}
	defer Zero(sum)

	return subtle.ConstantTimeCompare(sum, h.Sum) == 1, nil
}

// DeriveVaultKey stretches password into the 32 byte vault key.
func DeriveVaultKey(password, salt []byte, p KDFParams) *Secret {
	return NewSecret(argon2.IDKey(password, salt, p.Time, p.MemoryKiB, p.Threads, KeyLen))
}
