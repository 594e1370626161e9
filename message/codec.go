package message

import (
	"encoding/json"

	prt "github.com/abcfe/abcfe-wallet/protocol"
)

func Marshal(e *Envelope) ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal decodes and validates one frame.
func Unmarshal(b []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, prt.ErrInvalidRequest.WithMessage("malformed envelope: %v", err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}
