package protocol

import (
	"encoding/hex"
	"fmt"
	"strings"
)

type Address [20]byte

// Hex returns the 0x prefixed form used as the account id on the wire.
func (a Address) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

func (a Address) String() string {
	return a.Hex()
}

func (a Address) IsZero() bool {
	return a == Address{}
}

// AddressFromHex parses an account id with or without the 0x prefix.
func AddressFromHex(s string) (Address, error) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return Address{}, fmt.Errorf("invalid address %q: %w", s, err)
	}
	if len(b) != len(Address{}) {
		return Address{}, fmt.Errorf("invalid address length: %d (need 20 bytes)", len(b))
	}

	var addr Address
	copy(addr[:], b)
	return addr, nil
}
