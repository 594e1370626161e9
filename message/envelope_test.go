package message

import (
	"errors"
	"testing"

	prt "github.com/abcfe/abcfe-wallet/protocol"
)

func TestRequestIDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		req, err := NewRequest(TypeLock, nil)
		if err != nil {
			t.Fatalf("new request: %v", err)
		}
		if seen[req.ID] {
			t.Fatalf("duplicate id %s", req.ID)
		}
		seen[req.ID] = true
	}
}

func TestResponseEchoesRequest(t *testing.T) {
	req, _ := NewRequest(TypeDeriveNextAccount, DeriveNextAccountRequest{SourceID: "s1"})
	resp, err := NewResponse(req, AccountResponse{})
	if err != nil {
		t.Fatalf("new response: %v", err)
	}
	if resp.ID != req.ID || resp.Kind != KindResponse || resp.Type != TypeAccountResponse {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Origin != OriginBackground {
		t.Fatalf("unexpected origin %s", resp.Origin)
	}

	if _, err := NewResponse(&Envelope{ID: "x", Type: "bogus"}, nil); err == nil {
		t.Fatal("unregistered request type should not get a response")
	}
}

func TestErrorResponseKeepsCode(t *testing.T) {
	req, _ := NewRequest(TypeUnlock, PasswordRequest{Password: "pw"})
	resp := NewErrorResponse(req, prt.ErrInvalidPassword)

	raw, err := Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	decoded, err := Unmarshal(raw)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !decoded.IsError() || !errors.Is(decoded.Error, prt.ErrInvalidPassword) {
		t.Fatalf("error code lost: %+v", decoded.Error)
	}

	// details of non-taxonomy errors stay in the background
	leaky := NewErrorResponse(req, errors.New("leveldb: /secret/path corrupted"))
	if leaky.Error.Code != prt.CodeInternal || leaky.Error.Message != prt.ErrInternal.Message {
		t.Fatalf("internal error leaked: %+v", leaky.Error)
	}
}

func TestUnmarshalRejectsMalformed(t *testing.T) {
	cases := []string{
		`not json`,
		`{"kind":"request","type":"keyring:lock"}`,
		`{"id":"1","kind":"request"}`,
		`{"id":"1","kind":"sideways","type":"keyring:lock"}`,
		`{"id":"1","kind":"response","type":"error"}`,
	}
	for _, c := range cases {
		if _, err := Unmarshal([]byte(c)); !errors.Is(err, prt.ErrInvalidRequest) {
			t.Errorf("%s: expected InvalidRequest, got %v", c, err)
		}
	}
}

func TestDecodePayload(t *testing.T) {
	req, _ := NewRequest(TypeExportAccount, ExportAccountRequest{Password: "pw", AccountAddress: "0xabc"})
	got, err := Decode[ExportAccountRequest](req)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.AccountAddress != "0xabc" {
		t.Fatalf("unexpected payload %+v", got)
	}

	bad := &Envelope{ID: "1", Kind: KindRequest, Type: TypeExportAccount, Payload: []byte(`{"password":1}`)}
	if _, err := Decode[ExportAccountRequest](bad); !errors.Is(err, prt.ErrInvalidRequest) {
		t.Fatalf("expected InvalidRequest, got %v", err)
	}
}

func TestPasswordBearingTypesAreRequests(t *testing.T) {
	for _, tp := range RequestTypes() {
		if _, ok := ResponseTypeFor(tp); !ok {
			t.Fatalf("%s has no response", tp)
		}
	}
	if _, ok := ResponseTypeFor(TypeAppStatusUpdate); ok {
		t.Fatal("activity broadcasts must not be answered")
	}
	if !PasswordBearing(TypeUnlock) || PasswordBearing(TypeLock) {
		t.Fatal("unexpected password classification")
	}
}
