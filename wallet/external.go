package wallet

import (
	"strings"

	"github.com/abcfe/abcfe-wallet/common/crypto"
	"github.com/abcfe/abcfe-wallet/common/utils"
	prt "github.com/abcfe/abcfe-wallet/protocol"
)

// ExternalAccount is an account proposed by an external custodian. The key
// never leaves the custodian; PublicKey may be filled in later.
type ExternalAccount struct {
	Address   string `json:"address"`
	PublicKey string `json:"publicKey,omitempty"`
	Label     string `json:"label,omitempty"`
}

// NewExternalAccountRecord validates a proposed account and builds its record.
func NewExternalAccountRecord(sourceID string, a ExternalAccount, now int64) (*AccountRecord, error) {
	addr, err := prt.AddressFromHex(a.Address)
	if err != nil {
		return nil, prt.ErrInvalidRequest.WithMessage("invalid external account: %v", err)
	}

	rec := &AccountRecord{
		ID:        addr.Hex(),
		Type:      AccountExternal,
		SourceID:  sourceID,
		Nickname:  strings.TrimSpace(a.Label),
		CreatedAt: now,
	}
	if a.PublicKey != "" {
		pub, err := ExternalPublicKey(addr, a.PublicKey)
		if err != nil {
			return nil, err
		}
		rec.PublicKey = pub
	}
	return rec, nil
}

// ExternalPublicKey checks that pubHex belongs to addr and returns its bytes.
func ExternalPublicKey(addr prt.Address, pubHex string) ([]byte, error) {
	pub, err := utils.HexToBytes(pubHex)
	if err != nil {
		return nil, prt.ErrInvalidRequest.WithMessage("public key is not hex")
	}
	derived, err := crypto.CompressedToAddress(pub)
	if err != nil {
		return nil, prt.ErrInvalidRequest.WithMessage("invalid public key: %v", err)
	}
	if derived != addr {
		return nil, prt.ErrInvalidRequest.WithMessage("public key does not belong to %s", addr.Hex())
	}
	return pub, nil
}
