package keyring

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/abcfe/abcfe-wallet/common/crypto"
	"github.com/abcfe/abcfe-wallet/common/utils"
	prt "github.com/abcfe/abcfe-wallet/protocol"
	"github.com/abcfe/abcfe-wallet/wallet"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func proposedAccounts(t *testing.T, n int) []wallet.ExternalAccount {
	t.Helper()
	var out []wallet.ExternalAccount
	for i := 0; i < n; i++ {
		_, pub, err := crypto.GenerateKeyPair()
		if err != nil {
			t.Fatalf("failed to generate key pair: %v", err)
		}
		addr, _ := crypto.PublicKeyToAddress(pub)
		out = append(out, wallet.ExternalAccount{Address: addr.Hex(), Label: "custody"})
	}
	return out
}

func connArgs(t *testing.T, counterparty string) ConnectionArgs {
	return ConnectionArgs{
		Service:      "custody",
		URL:          "https://custody.example",
		Token:        "refresh-token",
		Counterparty: counterparty,
		Accounts:     proposedAccounts(t, 2),
	}
}

func TestRejectConnectionScenario(t *testing.T) {
	k := newUnlocked(t)
	before, _ := k.Accounts()

	req, err := k.BeginConnection(connArgs(t, "https://dapp.example"))
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if req.Status != ConnectionPending {
		t.Fatalf("expected pending, got %s", req.Status)
	}
	if _, err := k.FetchPendingConnection(req.ID); err != nil {
		t.Fatalf("fetch pending: %v", err)
	}

	if err := k.RejectConnection(req.ID); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if _, err := k.FetchPendingConnection(req.ID); !errors.Is(err, prt.ErrNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}

	after, _ := k.Accounts()
	if len(after) != len(before) {
		t.Fatalf("reject created accounts: %d -> %d", len(before), len(after))
	}
	if err := k.RejectConnection(req.ID); !errors.Is(err, prt.ErrNotFound) {
		t.Fatalf("second reject should be NotFound, got %v", err)
	}
}

func TestAcceptConnection(t *testing.T) {
	k := newUnlocked(t)
	args := connArgs(t, "https://dapp.example")
	req, err := k.BeginConnection(args)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	info, err := k.AcceptConnection(req.ID, []string{args.Accounts[1].Address})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if info.Status != ConnectionAccepted || info.SourceID == "" {
		t.Fatalf("unexpected info %+v", info)
	}

	accts, _ := k.Accounts()
	var external []wallet.Account
	for _, a := range accts {
		if a.Type == wallet.AccountExternal {
			external = append(external, a)
		}
	}
	if len(external) != 1 || external[0].SourceID != info.SourceID {
		t.Fatalf("expected one external account, got %+v", external)
	}

	if _, err := k.FetchPendingConnection(req.ID); !errors.Is(err, prt.ErrNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
	if _, err := k.AcceptConnection(req.ID, nil); !errors.Is(err, prt.ErrNotFound) {
		t.Fatalf("second accept should be NotFound, got %v", err)
	}

	got, err := k.ConnectionInfo(req.ID)
	if err != nil || got.Status != ConnectionAccepted {
		t.Fatalf("expected accepted info, got %+v (%v)", got, err)
	}

	// external accounts never release key material
	if _, err := k.ExportAccount(testPassword, external[0].ID); !errors.Is(err, prt.ErrInvalidRequest) {
		t.Fatalf("expected InvalidRequest, got %v", err)
	}
}

func TestAcceptRejectsKnownAccount(t *testing.T) {
	k := newUnlocked(t)
	args := connArgs(t, "https://dapp.example")
	first, err := k.BeginConnection(args)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := k.AcceptConnection(first.ID, []string{args.Accounts[0].Address}); err != nil {
		t.Fatalf("accept: %v", err)
	}

	again := args
	again.Counterparty = "https://other.example"
	second, err := k.BeginConnection(again)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := k.AcceptConnection(second.ID, []string{args.Accounts[0].Address}); !errors.Is(err, prt.ErrAccountAlreadyExists) {
		t.Fatalf("expected AccountAlreadyExists, got %v", err)
	}

	accts, _ := k.Accounts()
	n := 0
	for _, a := range accts {
		if a.Type == wallet.AccountExternal {
			n++
		}
	}
	if n != 1 {
		t.Fatalf("expected one external account, got %d", n)
	}
}

func TestAcceptRacingExpiry(t *testing.T) {
	clock := &testClock{now: time.Unix(1700000000, 0)}
	opts := testOptions()
	opts.Now = clock.Now
	k := newKeyring(t, openStore(t), opts)
	if err := k.CreateVault(testPassword, nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := k.Unlock(testPassword); err != nil {
		t.Fatalf("unlock: %v", err)
	}

	req, err := k.BeginConnection(connArgs(t, "https://dapp.example"))
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	// deadline passed, timer not fired yet
	clock.Advance(opts.ConnectionTTL)

	if _, err := k.AcceptConnection(req.ID, nil); !errors.Is(err, prt.ErrRequestExpired) {
		t.Fatalf("expected RequestExpired, got %v", err)
	}
	if err := k.RejectConnection(req.ID); !errors.Is(err, prt.ErrRequestExpired) {
		t.Fatalf("expected RequestExpired, got %v", err)
	}
	if _, err := k.FetchPendingConnection(req.ID); !errors.Is(err, prt.ErrNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}

	accts, _ := k.Accounts()
	for _, a := range accts {
		if a.Type == wallet.AccountExternal {
			t.Fatal("expired request created accounts")
		}
	}
}

func TestConnectionExpiresAutonomously(t *testing.T) {
	opts := testOptions()
	opts.ConnectionTTL = 20 * time.Millisecond
	k := newKeyring(t, openStore(t), opts)

	changed := make(chan struct{}, 4)
	defer k.Subscribe(func(ev Event) {
		if ev.Kind == EventConnectionRequestsChanged {
			changed <- struct{}{}
		}
	})()

	req, err := k.BeginConnection(connArgs(t, "https://dapp.example"))
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	<-changed

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("request did not expire")
	}
	info, err := k.ConnectionInfo(req.ID)
	if err != nil || info.Status != ConnectionExpired {
		t.Fatalf("expected expired, got %+v (%v)", info, err)
	}
	if len(k.PendingConnections()) != 0 {
		t.Fatal("expired request still listed as pending")
	}
}

func TestBeginConnectionDedupes(t *testing.T) {
	k := newUnlocked(t)
	first, err := k.BeginConnection(connArgs(t, "https://dapp.example"))
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	second, err := k.BeginConnection(connArgs(t, "https://dapp.example"))
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected the pending request to be reused, got %s and %s", first.ID, second.ID)
	}
	other, _ := k.BeginConnection(connArgs(t, "https://other.example"))
	if other.ID == first.ID {
		t.Fatal("different counterparties shared a request")
	}
	if n := len(k.PendingConnections()); n != 2 {
		t.Fatalf("expected 2 pending, got %d", n)
	}

	if _, err := k.BeginConnection(ConnectionArgs{Counterparty: "x"}); !errors.Is(err, prt.ErrInvalidRequest) {
		t.Fatalf("expected InvalidRequest, got %v", err)
	}
}

func TestAcceptWhileLockedStaysPending(t *testing.T) {
	k := newUnlocked(t)
	req, err := k.BeginConnection(connArgs(t, "https://dapp.example"))
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	k.Lock()

	if _, err := k.AcceptConnection(req.ID, nil); !errors.Is(err, prt.ErrWalletLocked) {
		t.Fatalf("expected WalletLocked, got %v", err)
	}
	if _, err := k.FetchPendingConnection(req.ID); err != nil {
		t.Fatalf("request should be pending again: %v", err)
	}

	if err := k.Unlock(testPassword); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if _, err := k.AcceptConnection(req.ID, nil); err != nil {
		t.Fatalf("accept after unlock: %v", err)
	}
}

func TestStoreExternalPublicKeys(t *testing.T) {
	k := newUnlocked(t)

	_, pub, _ := crypto.GenerateKeyPair()
	addr, _ := crypto.PublicKeyToAddress(pub)
	pubBytes, _ := crypto.PublicKeyToBytes(pub)

	args := connArgs(t, "https://dapp.example")
	args.Accounts = []wallet.ExternalAccount{{Address: addr.Hex()}}
	req, _ := k.BeginConnection(args)
	if _, err := k.AcceptConnection(req.ID, nil); err != nil {
		t.Fatalf("accept: %v", err)
	}

	err := k.StoreExternalPublicKeys([]ExternalPublicKey{{AccountID: addr.Hex(), PublicKey: utils.BytesToHex(pubBytes)}})
	if err != nil {
		t.Fatalf("store public keys: %v", err)
	}
	accts, _ := k.Accounts()
	for _, a := range accts {
		if a.ID == addr.Hex() && a.PublicKey == "" {
			t.Fatal("public key not stored")
		}
	}

	vault, _ := k.ActiveAccount()
	err = k.StoreExternalPublicKeys([]ExternalPublicKey{{AccountID: vault.ID, PublicKey: utils.BytesToHex(pubBytes)}})
	if !errors.Is(err, prt.ErrInvalidRequest) {
		t.Fatalf("expected InvalidRequest for a derived account, got %v", err)
	}
}
