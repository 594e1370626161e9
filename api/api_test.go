package api

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/abcfe/abcfe-wallet/common/crypto"
	"github.com/abcfe/abcfe-wallet/config"
	"github.com/abcfe/abcfe-wallet/keyring"
	"github.com/abcfe/abcfe-wallet/message"
	prt "github.com/abcfe/abcfe-wallet/protocol"
	"github.com/abcfe/abcfe-wallet/storage"
	"github.com/abcfe/abcfe-wallet/transport"
)

const testPassword = "correct horse battery staple"

func newTestKeyring(t *testing.T, lockTimeout time.Duration) *keyring.Keyring {
	t.Helper()
	db, err := storage.OpenMem()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	kr, err := keyring.New(db, keyring.Options{
		LockTimeout:    lockTimeout,
		MinLockTimeout: time.Millisecond,
		MaxLockTimeout: time.Hour,
		KDF:            crypto.KDFParams{Time: 1, MemoryKiB: 64, Threads: 1},
		ConnectionTTL:  time.Minute,
	})
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}
	t.Cleanup(kr.Close)
	return kr
}

type testEnv struct {
	kr      *keyring.Keyring
	hub     *Hub
	dapp    *Dapp
	backend *Backend
}

func newTestEnv(t *testing.T, kr *keyring.Keyring, rl *RateLimitConfig) *testEnv {
	t.Helper()
	cfg := config.Default()
	cfg.Features = map[string]bool{"qredo": true}

	hub := NewHub()
	go hub.Run()
	limiter := NewRateLimiter(rl)
	dapp := NewDapp(kr, hub, cfg)
	backend := NewBackend(kr, hub, dapp, limiter)
	t.Cleanup(func() {
		backend.Close()
		limiter.Stop()
		hub.Stop()
	})
	return &testEnv{kr: kr, hub: hub, dapp: dapp, backend: backend}
}

// testClient is a minimal UI end: it correlates responses and records broadcasts.
type testClient struct {
	ch transport.Channel

	mu         sync.Mutex
	pending    map[string]chan *message.Envelope
	broadcasts []*message.Envelope
}

func (e *testEnv) connect(t *testing.T, peer string) *testClient {
	t.Helper()
	ui, bg := transport.Pipe(config.DefaultChannelName)
	ctx, cancel := context.WithCancel(context.Background())
	go e.backend.Serve(ctx, peer, bg)
	t.Cleanup(func() {
		cancel()
		ui.Close()
	})

	c := &testClient{ch: ui, pending: make(map[string]chan *message.Envelope)}
	go c.read()
	return c
}

func (c *testClient) read() {
	for {
		select {
		case e := <-c.ch.Messages():
			c.mu.Lock()
			if e.Kind == message.KindResponse {
				if p, ok := c.pending[e.ID]; ok {
					delete(c.pending, e.ID)
					p <- e
				}
			} else {
				c.broadcasts = append(c.broadcasts, e)
			}
			c.mu.Unlock()
		case <-c.ch.Done():
			return
		}
	}
}

func (c *testClient) send(t *testing.T, req *message.Envelope) *message.Envelope {
	t.Helper()
	p := make(chan *message.Envelope, 1)
	c.mu.Lock()
	c.pending[req.ID] = p
	c.mu.Unlock()

	if err := c.ch.Send(context.Background(), req); err != nil {
		t.Fatalf("send %s: %v", req.Type, err)
	}
	select {
	case resp := <-p:
		return resp
	case <-time.After(5 * time.Second):
		t.Fatalf("no response to %s", req.Type)
		return nil
	}
}

func (c *testClient) call(t *testing.T, typ message.Type, payload interface{}) *message.Envelope {
	t.Helper()
	req, err := message.NewRequest(typ, payload)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	return c.send(t, req)
}

func (c *testClient) mustCall(t *testing.T, typ message.Type, payload interface{}) *message.Envelope {
	t.Helper()
	resp := c.call(t, typ, payload)
	if resp.IsError() {
		t.Fatalf("%s failed: %v", typ, resp.Error)
	}
	want, _ := message.ResponseTypeFor(typ)
	if resp.Type != want {
		t.Fatalf("%s answered with %s, want %s", typ, resp.Type, want)
	}
	return resp
}

func (c *testClient) expectError(t *testing.T, typ message.Type, payload interface{}, want *prt.Error) {
	t.Helper()
	resp := c.call(t, typ, payload)
	if !resp.IsError() || !errors.Is(resp.Error, want) {
		t.Fatalf("%s: expected %s, got %+v", typ, want.Code, resp)
	}
}

func (c *testClient) waitBroadcast(t *testing.T, typ message.Type, match func(*message.Envelope) bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		for _, e := range c.broadcasts {
			if e.Type == typ && (match == nil || match(e)) {
				c.mu.Unlock()
				return
			}
		}
		c.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("broadcast %s never arrived", typ)
}

func TestHandlerTableCoversEveryRequest(t *testing.T) {
	env := newTestEnv(t, newTestKeyring(t, time.Minute), nil)

	for _, typ := range message.RequestTypes() {
		if _, ok := env.backend.handlers[typ]; !ok {
			t.Errorf("no handler for %s", typ)
		}
	}
	for typ := range env.backend.handlers {
		if _, ok := message.ResponseTypeFor(typ); !ok {
			t.Errorf("handler for unregistered request %s", typ)
		}
	}
}

func TestServeVaultLifecycle(t *testing.T) {
	env := newTestEnv(t, newTestKeyring(t, time.Minute), nil)
	c := env.connect(t, "ui-1")

	c.waitBroadcast(t, message.TypeFeaturesLoaded, nil)

	c.mustCall(t, message.TypeCreateVault, message.CreateVaultRequest{Password: testPassword})
	c.expectError(t, message.TypeCreateVault, message.CreateVaultRequest{Password: testPassword}, prt.ErrVaultAlreadyExists)
	c.expectError(t, message.TypeUnlock, message.PasswordRequest{Password: "wrong"}, prt.ErrInvalidPassword)

	c.mustCall(t, message.TypeUnlock, message.PasswordRequest{Password: testPassword})
	c.waitBroadcast(t, message.TypeLockStatusChanged, func(e *message.Envelope) bool {
		p, _ := message.Decode[message.LockStatusChanged](e)
		return !p.Locked
	})

	resp := c.mustCall(t, message.TypeGetStatus, nil)
	st, _ := message.Decode[message.StatusResponse](resp)
	if st.State != message.StateUnlocked {
		t.Fatalf("status %+v", st)
	}

	resp = c.mustCall(t, message.TypeDeriveNextAccount, message.DeriveNextAccountRequest{})
	acct, _ := message.Decode[message.AccountResponse](resp)
	if acct.Account.Index != 1 {
		t.Fatalf("expected the second derived account, got %+v", acct.Account)
	}
	c.waitBroadcast(t, message.TypeEntityUpdated, func(e *message.Envelope) bool {
		p, _ := message.Decode[message.EntityUpdated](e)
		return p.Entity == keyring.EntityAccounts
	})

	resp = c.mustCall(t, message.TypeExportAccount, message.ExportAccountRequest{Password: testPassword, AccountAddress: acct.Account.ID})
	exp, _ := message.Decode[message.ExportAccountResponse](resp)
	if len(exp.PrivateKey) != 2+64 {
		t.Fatalf("unexpected exported key %q", exp.PrivateKey)
	}

	c.mustCall(t, message.TypeLock, nil)
	c.expectError(t, message.TypeExportAccount,
		message.ExportAccountRequest{Password: testPassword, AccountAddress: acct.Account.ID}, prt.ErrWalletLocked)

	// metadata stays readable while locked
	resp = c.mustCall(t, message.TypeGetStoredEntities, message.GetStoredEntitiesRequest{})
	ents, _ := message.Decode[message.StoredEntitiesResponse](resp)
	if len(ents.Accounts) != 2 || len(ents.AccountSources) != 1 {
		t.Fatalf("unexpected entities %+v", ents)
	}
}

func TestUnknownAndMalformedRequests(t *testing.T) {
	env := newTestEnv(t, newTestKeyring(t, time.Minute), nil)
	c := env.connect(t, "ui-1")

	resp := c.send(t, &message.Envelope{ID: "req-1", Kind: message.KindRequest, Type: "keyring:selfDestruct", Origin: message.OriginUI})
	if resp.ID != "req-1" || !errors.Is(resp.Error, prt.ErrInvalidRequest) {
		t.Fatalf("unknown request: %+v", resp)
	}

	resp = c.send(t, &message.Envelope{
		ID: "req-2", Kind: message.KindRequest, Type: message.TypeUnlock, Origin: message.OriginUI,
		Payload: []byte(`{"password": 7}`),
	})
	if resp.ID != "req-2" || !errors.Is(resp.Error, prt.ErrInvalidRequest) {
		t.Fatalf("malformed payload: %+v", resp)
	}
}

func TestHandlerPanicBecomesInternal(t *testing.T) {
	env := newTestEnv(t, newTestKeyring(t, time.Minute), nil)
	env.backend.handlers[message.TypeLock] = func(*message.Envelope) (interface{}, error) {
		panic("boom")
	}

	req, _ := message.NewRequest(message.TypeLock, nil)
	resp := env.backend.respond("ui-1", req)
	if resp.ID != req.ID || !errors.Is(resp.Error, prt.ErrInternal) {
		t.Fatalf("expected an internal error response, got %+v", resp)
	}
	if resp.Error.Message != prt.ErrInternal.Message {
		t.Fatalf("panic detail leaked: %q", resp.Error.Message)
	}
}

func TestPasswordAttemptsRateLimited(t *testing.T) {
	kr := newTestKeyring(t, time.Minute)
	env := newTestEnv(t, kr, &RateLimitConfig{AttemptsPerMinute: 1, BurstSize: 2, BanDuration: time.Minute})
	c := env.connect(t, "ui-1")

	c.mustCall(t, message.TypeCreateVault, message.CreateVaultRequest{Password: testPassword})
	c.expectError(t, message.TypeUnlock, message.PasswordRequest{Password: "a"}, prt.ErrInvalidPassword)
	c.expectError(t, message.TypeUnlock, message.PasswordRequest{Password: "b"}, prt.ErrInvalidPassword)
	c.expectError(t, message.TypeUnlock, message.PasswordRequest{Password: testPassword}, prt.ErrRateLimited)

	// requests without a password are not throttled
	c.mustCall(t, message.TypeGetStatus, nil)

	// another client has its own bucket
	other := env.connect(t, "ui-2")
	other.mustCall(t, message.TypeUnlock, message.PasswordRequest{Password: testPassword})
}

func TestActivityDefersAutoLock(t *testing.T) {
	kr := newTestKeyring(t, 300*time.Millisecond)
	env := newTestEnv(t, kr, nil)
	c := env.connect(t, "ui-1")

	c.mustCall(t, message.TypeCreateVault, message.CreateVaultRequest{Password: testPassword})
	c.mustCall(t, message.TypeUnlock, message.PasswordRequest{Password: testPassword})

	for i := 0; i < 12; i++ {
		ping, _ := message.NewBroadcast(message.TypeAppStatusUpdate, message.OriginUI, message.AppStatusUpdate{Active: true})
		if err := c.ch.Send(context.Background(), ping); err != nil {
			t.Fatalf("ping: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
	}
	if st, _ := kr.State(); st != keyring.Unlocked {
		t.Fatalf("activity should keep the wallet unlocked, got %s", st)
	}

	c.waitBroadcast(t, message.TypeLockStatusChanged, func(e *message.Envelope) bool {
		p, _ := message.Decode[message.LockStatusChanged](e)
		return p.Locked
	})
	if st, _ := kr.State(); st != keyring.Locked {
		t.Fatalf("expected auto lock after activity stopped, got %s", st)
	}
}

func TestConnectionRequestFlow(t *testing.T) {
	kr := newTestKeyring(t, time.Minute)
	env := newTestEnv(t, kr, nil)
	c := env.connect(t, "ui-1")

	c.mustCall(t, message.TypeCreateVault, message.CreateVaultRequest{Password: testPassword})
	c.mustCall(t, message.TypeUnlock, message.PasswordRequest{Password: testPassword})

	info, err := kr.BeginConnection(keyring.ConnectionArgs{
		Service:      "custody",
		URL:          "https://custody.example",
		Token:        "tok",
		Counterparty: "desk-1",
		Accounts:     testExternalAccounts(t, 1),
	})
	if err != nil {
		t.Fatalf("begin connection: %v", err)
	}
	c.waitBroadcast(t, message.TypeEntityUpdated, func(e *message.Envelope) bool {
		p, _ := message.Decode[message.EntityUpdated](e)
		return p.Entity == EntityConnectionRequests
	})

	resp := c.mustCall(t, message.TypeGetPendingRequest, message.ConnectionRequestIDRequest{RequestID: info.ID})
	got, _ := message.Decode[message.ConnectionRequestResponse](resp)
	if got.Request.Status != "pending" || got.Request.Counterparty != "desk-1" {
		t.Fatalf("unexpected request %+v", got.Request)
	}

	c.mustCall(t, message.TypeRejectQredoConnection, message.ConnectionRequestIDRequest{RequestID: info.ID})
	c.expectError(t, message.TypeGetPendingRequest, message.ConnectionRequestIDRequest{RequestID: info.ID}, prt.ErrNotFound)

	resp = c.mustCall(t, message.TypeGetQredoInfo, message.ConnectionRequestIDRequest{RequestID: info.ID})
	got, _ = message.Decode[message.ConnectionRequestResponse](resp)
	if got.Request.Status != "rejected" {
		t.Fatalf("expected rejected, got %s", got.Request.Status)
	}

	resp = c.mustCall(t, message.TypeGetStoredEntities, message.GetStoredEntitiesRequest{Type: keyring.EntityAccounts})
	ents, _ := message.Decode[message.StoredEntitiesResponse](resp)
	if len(ents.Accounts) != 1 {
		t.Fatalf("rejecting must not create accounts, have %d", len(ents.Accounts))
	}
}
