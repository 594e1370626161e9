package wallet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/abcfe/abcfe-wallet/common/crypto"
	"github.com/abcfe/abcfe-wallet/common/utils"
	prt "github.com/abcfe/abcfe-wallet/protocol"
	"golang.org/x/crypto/scrypt"
)

const (
	keystoreCipher = "aes-128-ctr"
	keystoreKDF    = "scrypt"
	keystoreDkLen  = 32
)

// EncryptKeystore seals secret with password in the legacy keystore layout.
func EncryptKeystore(secret, password []byte, p crypto.ScryptParams) (*Crypto, error) {
	salt, err := crypto.NewSalt()
	if err != nil {
		return nil, err
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("failed to read iv: %w", err)
	}

	dk, err := scrypt.Key(password, salt, p.N, p.R, p.P, keystoreDkLen)
	if err != nil {
		return nil, fmt.Errorf("scrypt: %w", err)
	}
	defer crypto.Zero(dk)

	ct, err := aesCTR(dk[:16], iv, secret)
	if err != nil {
		return nil, err
	}

	return &Crypto{
		Cipher:       keystoreCipher,
		CipherText:   hex.EncodeToString(ct),
		CipherParams: CipherParams{IV: hex.EncodeToString(iv)},
		KDF:          keystoreKDF,
		KDFParams: KDFParams{
			DkLen: keystoreDkLen,
			N:     p.N,
			P:     p.P,
			R:     p.R,
			Salt:  hex.EncodeToString(salt),
		},
		MAC: hex.EncodeToString(utils.Keccak256(dk[16:32], ct)),
	}, nil
}

// DecryptKeystore opens a legacy keystore. A MAC mismatch reports InvalidPassword.
func DecryptKeystore(c *Crypto, password []byte) ([]byte, error) {
	if c.Cipher != keystoreCipher || c.KDF != keystoreKDF {
		return nil, fmt.Errorf("unsupported keystore: %s/%s", c.Cipher, c.KDF)
	}
	salt, err := hex.DecodeString(c.KDFParams.Salt)
	if err != nil {
		return nil, fmt.Errorf("invalid keystore salt: %w", err)
	}
	iv, err := hex.DecodeString(c.CipherParams.IV)
	if err != nil {
		return nil, fmt.Errorf("invalid keystore iv: %w", err)
	}
	ct, err := hex.DecodeString(c.CipherText)
	if err != nil {
		return nil, fmt.Errorf("invalid keystore ciphertext: %w", err)
	}
	mac, err := hex.DecodeString(c.MAC)
	if err != nil {
		return nil, fmt.Errorf("invalid keystore mac: %w", err)
	}

	dk, err := scrypt.Key(password, salt, c.KDFParams.N, c.KDFParams.R, c.KDFParams.P, c.KDFParams.DkLen)
	if err != nil {
		return nil, fmt.Errorf("scrypt: %w", err)
	}
	defer crypto.Zero(dk)
	if len(dk) < 32 {
		return nil, fmt.Errorf("keystore dklen too short: %d", len(dk))
	}

	if subtle.ConstantTimeCompare(utils.Keccak256(dk[16:32], ct), mac) != 1 {
		return nil, prt.ErrInvalidPassword
	}
	return aesCTR(dk[:16], iv, ct)
}

// MarshalKeystore and UnmarshalKeystore move the keystore in and out of a
// legacy source payload.
func MarshalKeystore(c *Crypto) ([]byte, error) {
	return json.Marshal(c)
}

func UnmarshalKeystore(b []byte) (*Crypto, error) {
	var c Crypto
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("failed to decode keystore: %w", err)
	}
	return &c, nil
}

func aesCTR(key, iv, in []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	out := make([]byte, len(in))
	cipher.NewCTR(block, iv).XORKeyStream(out, in)
	return out, nil
}
