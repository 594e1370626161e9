package message

import (
	"encoding/json"
	"fmt"

	prt "github.com/abcfe/abcfe-wallet/protocol"
	"github.com/google/uuid"
)

type Kind string

const (
	KindRequest   Kind = "request"
	KindResponse  Kind = "response"
	KindBroadcast Kind = "broadcast"
)

type Origin string

const (
	OriginUI         Origin = "ui"
	OriginBackground Origin = "background"
)

// Envelope is one message on a channel. Responses echo the request ID;
// broadcasts carry a fresh one and expect no answer.
type Envelope struct {
	ID      string          `json:"id"`
	Kind    Kind            `json:"kind"`
	Type    Type            `json:"type"`
	Origin  Origin          `json:"origin"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *prt.Error      `json:"error,omitempty"`
}

func marshalPayload(payload interface{}) (json.RawMessage, error) {
	if payload == nil {
		return nil, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %T payload: %w", payload, err)
	}
	return b, nil
}

// NewRequest builds a UI request with a fresh correlation id.
func NewRequest(t Type, payload interface{}) (*Envelope, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		ID:      uuid.NewString(),
		Kind:    KindRequest,
		Type:    t,
		Origin:  OriginUI,
		Payload: raw,
	}, nil
}

func NewBroadcast(t Type, origin Origin, payload interface{}) (*Envelope, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		ID:      uuid.NewString(),
		Kind:    KindBroadcast,
		Type:    t,
		Origin:  origin,
		Payload: raw,
	}, nil
}

// NewResponse answers req with its registered success discriminant.
func NewResponse(req *Envelope, payload interface{}) (*Envelope, error) {
	t, ok := ResponseTypeFor(req.Type)
	if !ok {
		return nil, fmt.Errorf("no response registered for %s", req.Type)
	}
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		ID:      req.ID,
		Kind:    KindResponse,
		Type:    t,
		Origin:  OriginBackground,
		Payload: raw,
	}, nil
}

// NewErrorResponse answers req with a typed failure.
func NewErrorResponse(req *Envelope, err error) *Envelope {
	return &Envelope{
		ID:     req.ID,
		Kind:   KindResponse,
		Type:   TypeError,
		Origin: OriginBackground,
		Error:  prt.AsError(err),
	}
}

func (e *Envelope) IsError() bool {
	return e.Type == TypeError
}

// Validate checks the fields every envelope must carry.
func (e *Envelope) Validate() error {
	if e.ID == "" {
		return prt.ErrInvalidRequest.WithMessage("envelope has no id")
	}
	if e.Type == "" {
		return prt.ErrInvalidRequest.WithMessage("envelope has no type")
	}
	switch e.Kind {
	case KindRequest, KindResponse, KindBroadcast:
	default:
		return prt.ErrInvalidRequest.WithMessage("unknown envelope kind %q", e.Kind)
	}
	if e.Type == TypeError && e.Error == nil {
		return prt.ErrInvalidRequest.WithMessage("error envelope without error")
	}
	return nil
}

// Decode unmarshals the payload of e into a T.
func Decode[T any](e *Envelope) (*T, error) {
	var v T
	if len(e.Payload) == 0 {
		return &v, nil
	}
	if err := json.Unmarshal(e.Payload, &v); err != nil {
		return nil, prt.ErrInvalidRequest.WithMessage("malformed %s payload: %v", e.Type, err)
	}
	return &v, nil
}
