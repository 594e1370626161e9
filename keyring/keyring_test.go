package keyring

import (
	"bytes"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/abcfe/abcfe-wallet/common/crypto"
	"github.com/abcfe/abcfe-wallet/common/utils"
	prt "github.com/abcfe/abcfe-wallet/protocol"
	"github.com/abcfe/abcfe-wallet/storage"
	"github.com/abcfe/abcfe-wallet/wallet"
)

const testPassword = "pw1"

func testOptions() Options {
	return Options{
		LockTimeout:    time.Minute,
		MinLockTimeout: time.Millisecond,
		MaxLockTimeout: time.Hour,
		KDF:            crypto.KDFParams{Time: 1, MemoryKiB: 64, Threads: 1},
		ConnectionTTL:  time.Minute,
	}
}

func openStore(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.OpenMem()
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newKeyring(t *testing.T, store storage.KVStore, opts Options) *Keyring {
	t.Helper()
	k, err := New(store, opts)
	if err != nil {
		t.Fatalf("failed to create keyring: %v", err)
	}
	t.Cleanup(k.Close)
	return k
}

// newUnlocked returns a keyring over a fresh vault, already unlocked.
func newUnlocked(t *testing.T) *Keyring {
	t.Helper()
	k := newKeyring(t, openStore(t), testOptions())
	if err := k.CreateVault(testPassword, nil); err != nil {
		t.Fatalf("failed to create vault: %v", err)
	}
	if err := k.Unlock(testPassword); err != nil {
		t.Fatalf("failed to unlock: %v", err)
	}
	return k
}

func mustState(t *testing.T, k *Keyring, want State) {
	t.Helper()
	got, err := k.State()
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if got != want {
		t.Fatalf("expected state %s, got %s", want, got)
	}
}

func TestUnlockScenario(t *testing.T) {
	k := newKeyring(t, openStore(t), testOptions())
	mustState(t, k, Uninitialized)

	if err := k.Unlock(testPassword); !errors.Is(err, prt.ErrInvalidPassword) {
		t.Fatalf("unlock without a vault should look like a wrong password, got %v", err)
	}

	if err := k.CreateVault(testPassword, nil); err != nil {
		t.Fatalf("failed to create vault: %v", err)
	}
	mustState(t, k, Locked)

	if err := k.Unlock(testPassword); err != nil {
		t.Fatalf("failed to unlock: %v", err)
	}
	mustState(t, k, Unlocked)

	if err := k.Unlock("wrong"); !errors.Is(err, prt.ErrInvalidPassword) {
		t.Fatalf("expected InvalidPassword, got %v", err)
	}
	mustState(t, k, Unlocked)

	k.Lock()
	mustState(t, k, Locked)

	if err := k.Unlock("wrong"); !errors.Is(err, prt.ErrInvalidPassword) {
		t.Fatalf("expected InvalidPassword, got %v", err)
	}
	mustState(t, k, Locked)
}

func TestLockUnlockHistory(t *testing.T) {
	k := newKeyring(t, openStore(t), testOptions())
	if err := k.CreateVault(testPassword, nil); err != nil {
		t.Fatalf("failed to create vault: %v", err)
	}

	rng := rand.New(rand.NewSource(7))
	unlocked := false
	for i := 0; i < 40; i++ {
		switch rng.Intn(3) {
		case 0:
			k.Lock()
			unlocked = false
		case 1:
			if err := k.Unlock(testPassword); err != nil {
				t.Fatalf("step %d: unlock failed: %v", i, err)
			}
			unlocked = true
		case 2:
			if err := k.Unlock("not the password"); !errors.Is(err, prt.ErrInvalidPassword) {
				t.Fatalf("step %d: expected InvalidPassword, got %v", i, err)
			}
		}

		want := Locked
		if unlocked {
			want = Unlocked
		}
		mustState(t, k, want)
	}
}

func TestCreateVaultAtMostOnce(t *testing.T) {
	k := newKeyring(t, openStore(t), testOptions())
	if err := k.CreateVault(testPassword, nil); err != nil {
		t.Fatalf("failed to create vault: %v", err)
	}
	before, err := k.Accounts()
	if err != nil || len(before) != 1 {
		t.Fatalf("expected one account after create, got %d (%v)", len(before), err)
	}

	entropy, _ := wallet.NewEntropy()
	for i := 0; i < 3; i++ {
		if err := k.CreateVault("other", entropy); !errors.Is(err, prt.ErrVaultAlreadyExists) {
			t.Fatalf("expected VaultAlreadyExists, got %v", err)
		}
	}

	after, _ := k.Accounts()
	if len(after) != len(before) || after[0].ID != before[0].ID {
		t.Fatalf("accounts changed: %v -> %v", before, after)
	}
	if err := k.Unlock(testPassword); err != nil {
		t.Fatalf("original password should still unlock: %v", err)
	}
}

func TestDeriveResumesAcrossRestart(t *testing.T) {
	entropy, _ := wallet.NewEntropy()
	const n = 4

	// uninterrupted
	k := newKeyring(t, openStore(t), testOptions())
	if err := k.CreateVault(testPassword, entropy); err != nil {
		t.Fatalf("failed to create vault: %v", err)
	}
	if err := k.Unlock(testPassword); err != nil {
		t.Fatalf("failed to unlock: %v", err)
	}
	var straight []string
	for i := 0; i < n; i++ {
		a, err := k.DeriveNextAccount("")
		if err != nil {
			t.Fatalf("derive %d: %v", i, err)
		}
		straight = append(straight, a.ID)
	}

	// restart between every call
	store := openStore(t)
	k2 := newKeyring(t, store, testOptions())
	if err := k2.CreateVault(testPassword, entropy); err != nil {
		t.Fatalf("failed to create vault: %v", err)
	}
	var resumed []string
	for i := 0; i < n; i++ {
		k2.Close()
		k2 = newKeyring(t, store, testOptions())
		if err := k2.Unlock(testPassword); err != nil {
			t.Fatalf("failed to unlock: %v", err)
		}
		a, err := k2.DeriveNextAccount("")
		if err != nil {
			t.Fatalf("derive %d: %v", i, err)
		}
		resumed = append(resumed, a.ID)
	}

	for i := range straight {
		if straight[i] != resumed[i] {
			t.Fatalf("account %d differs: %s != %s", i, straight[i], resumed[i])
		}
	}
}

func TestCreateSourceThenDeriveTwice(t *testing.T) {
	k := newUnlocked(t)

	src, err := k.CreateAccountSource(SourceArgs{Type: wallet.SourceMnemonic, Password: testPassword})
	if err != nil {
		t.Fatalf("failed to create source: %v", err)
	}
	if src.DerivationCounter != 0 {
		t.Fatalf("expected counter 0, got %d", src.DerivationCounter)
	}

	a1, err := k.DeriveNextAccount(src.ID)
	if err != nil {
		t.Fatalf("first derive: %v", err)
	}
	a2, err := k.DeriveNextAccount(src.ID)
	if err != nil {
		t.Fatalf("second derive: %v", err)
	}
	if a1.ID == a2.ID {
		t.Fatal("derived the same account twice")
	}

	sources, _ := k.Sources()
	for _, s := range sources {
		if s.ID == src.ID && s.DerivationCounter != 2 {
			t.Fatalf("expected counter 2, got %d", s.DerivationCounter)
		}
	}
}

func TestDuplicateMnemonicSourceRejected(t *testing.T) {
	k := newUnlocked(t)

	entropy, err := k.GetEntropy(testPassword)
	if err != nil {
		t.Fatalf("get entropy: %v", err)
	}
	before, _ := k.Sources()

	_, err = k.CreateAccountSource(SourceArgs{Type: wallet.SourceMnemonic, Password: testPassword, Entropy: entropy})
	if !errors.Is(err, prt.ErrAccountAlreadyExists) {
		t.Fatalf("expected AccountAlreadyExists, got %v", err)
	}
	after, _ := k.Sources()
	if len(after) != len(before) {
		t.Fatalf("duplicate source was stored: %d sources, want %d", len(after), len(before))
	}

	// a different mnemonic still derives from index 0
	other, _ := wallet.NewEntropy()
	src, err := k.CreateAccountSource(SourceArgs{Type: wallet.SourceMnemonic, Password: testPassword, Entropy: other})
	if err != nil {
		t.Fatalf("create source: %v", err)
	}
	if _, err := k.DeriveNextAccount(src.ID); err != nil {
		t.Fatalf("derive: %v", err)
	}
}

func TestExportAccount(t *testing.T) {
	entropy, _ := wallet.NewEntropy()
	k := newKeyring(t, openStore(t), testOptions())
	if err := k.CreateVault(testPassword, entropy); err != nil {
		t.Fatalf("failed to create vault: %v", err)
	}
	accts, _ := k.Accounts()
	addr := accts[0].ID

	if _, err := k.ExportAccount(testPassword, addr); !errors.Is(err, prt.ErrWalletLocked) {
		t.Fatalf("expected WalletLocked, got %v", err)
	}
	if err := k.Unlock(testPassword); err != nil {
		t.Fatalf("failed to unlock: %v", err)
	}
	if _, err := k.ExportAccount("wrong", addr); !errors.Is(err, prt.ErrInvalidPassword) {
		t.Fatalf("expected InvalidPassword, got %v", err)
	}

	raw, err := k.ExportAccount(testPassword, addr)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	want, _ := wallet.DeriveAccount(entropy, 0)
	wantRaw, _ := crypto.PrivateKeyToBytes(want.PrivateKey)
	if !bytes.Equal(raw, wantRaw) {
		t.Fatal("exported key does not match derivation")
	}

	if _, err := k.ExportAccount(testPassword, "0x0000000000000000000000000000000000000001"); !errors.Is(err, prt.ErrNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}

	if err := k.LockSource(addr); err != nil {
		t.Fatalf("failed to lock source: %v", err)
	}
	if _, err := k.ExportAccount(testPassword, addr); !errors.Is(err, prt.ErrSourceLocked) {
		t.Fatalf("expected SourceLocked, got %v", err)
	}
}

func TestExportLockRace(t *testing.T) {
	k := newUnlocked(t)
	accts, _ := k.Accounts()
	addr := accts[0].ID

	for round := 0; round < 5; round++ {
		if err := k.Unlock(testPassword); err != nil {
			t.Fatalf("failed to unlock: %v", err)
		}

		var (
			lockDone atomic.Bool
			wg       sync.WaitGroup
			failures atomic.Int32
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				startedAfterLock := lockDone.Load()
				raw, err := k.ExportAccount(testPassword, addr)
				switch {
				case err == nil:
					if startedAfterLock {
						failures.Add(1)
					}
					if len(raw) != crypto.ScalarLen {
						failures.Add(1)
					}
				case errors.Is(err, prt.ErrWalletLocked), errors.Is(err, prt.ErrSourceLocked):
				default:
					failures.Add(1)
				}
			}()
		}
		k.Lock()
		lockDone.Store(true)
		wg.Wait()

		if n := failures.Load(); n > 0 {
			t.Fatalf("round %d: %d exports returned key material after lock or failed oddly", round, n)
		}
		if _, err := k.ExportAccount(testPassword, addr); !errors.Is(err, prt.ErrWalletLocked) {
			t.Fatalf("export after lock should fail WalletLocked, got %v", err)
		}
	}
}

func TestImportPrivateKey(t *testing.T) {
	k := newUnlocked(t)

	priv, _, _ := crypto.GenerateKeyPair()
	raw, _ := crypto.PrivateKeyToBytes(priv)
	kp := wallet.KeyPair{PrivateKey: utils.BytesToHex(raw)}

	if _, err := k.ImportPrivateKey("wrong", kp); !errors.Is(err, prt.ErrInvalidPassword) {
		t.Fatalf("expected InvalidPassword, got %v", err)
	}

	acct, err := k.ImportPrivateKey(testPassword, kp)
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if acct.Type != wallet.AccountImported {
		t.Fatalf("unexpected account type %s", acct.Type)
	}

	if _, err := k.ImportPrivateKey(testPassword, kp); !errors.Is(err, prt.ErrAccountAlreadyExists) {
		t.Fatalf("expected AccountAlreadyExists, got %v", err)
	}
	if _, err := k.ImportPrivateKey(testPassword, wallet.KeyPair{PrivateKey: "0x1234"}); !errors.Is(err, prt.ErrInvalidRequest) {
		t.Fatalf("expected InvalidRequest, got %v", err)
	}

	exported, err := k.ExportAccount(testPassword, acct.ID)
	if err != nil || !bytes.Equal(exported, raw) {
		t.Fatalf("export of imported key failed: %v", err)
	}

	if _, err := k.GetAccountSourceEntropy(acct.SourceID, testPassword); !errors.Is(err, prt.ErrMnemonicNotFound) {
		t.Fatalf("expected MnemonicNotFound, got %v", err)
	}
	if _, err := k.CreateAccounts(acct.SourceID); !errors.Is(err, prt.ErrAccountAlreadyExists) {
		t.Fatalf("expected AccountAlreadyExists, got %v", err)
	}
}

func TestGetEntropy(t *testing.T) {
	entropy, _ := wallet.NewEntropy()
	k := newKeyring(t, openStore(t), testOptions())
	if err := k.CreateVault(testPassword, entropy); err != nil {
		t.Fatalf("failed to create vault: %v", err)
	}
	if _, err := k.GetEntropy(testPassword); !errors.Is(err, prt.ErrWalletLocked) {
		t.Fatalf("expected WalletLocked, got %v", err)
	}
	if err := k.Unlock(testPassword); err != nil {
		t.Fatalf("failed to unlock: %v", err)
	}
	if _, err := k.GetEntropy("wrong"); !errors.Is(err, prt.ErrInvalidPassword) {
		t.Fatalf("expected InvalidPassword, got %v", err)
	}
	got, err := k.GetEntropy(testPassword)
	if err != nil {
		t.Fatalf("get entropy: %v", err)
	}
	if !bytes.Equal(got, entropy) {
		t.Fatal("entropy mismatch")
	}

	if _, err := k.DeleteAccountSourceByType(wallet.SourceMnemonic); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := k.GetEntropy(testPassword); !errors.Is(err, prt.ErrMnemonicNotFound) {
		t.Fatalf("expected MnemonicNotFound, got %v", err)
	}
}

func TestVerifyPassword(t *testing.T) {
	k := newKeyring(t, openStore(t), testOptions())
	if err := k.VerifyPassword(testPassword, false); !errors.Is(err, prt.ErrInvalidPassword) {
		t.Fatalf("expected InvalidPassword without a vault, got %v", err)
	}
	if err := k.CreateVault(testPassword, nil); err != nil {
		t.Fatalf("failed to create vault: %v", err)
	}
	for _, legacy := range []bool{false, true} {
		if err := k.VerifyPassword(testPassword, legacy); err != nil {
			t.Fatalf("legacy=%v: %v", legacy, err)
		}
		if err := k.VerifyPassword("wrong", legacy); !errors.Is(err, prt.ErrInvalidPassword) {
			t.Fatalf("legacy=%v: expected InvalidPassword, got %v", legacy, err)
		}
	}
}

func TestSourceLocking(t *testing.T) {
	k := newUnlocked(t)
	src, err := k.CreateAccountSource(SourceArgs{Type: wallet.SourceMnemonic, Password: testPassword})
	if err != nil {
		t.Fatalf("failed to create source: %v", err)
	}
	acct, err := k.DeriveNextAccount(src.ID)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}

	// lock by account id, the owning source follows
	if err := k.LockSource(acct.ID); err != nil {
		t.Fatalf("lock source: %v", err)
	}
	if _, err := k.DeriveNextAccount(src.ID); !errors.Is(err, prt.ErrSourceLocked) {
		t.Fatalf("expected SourceLocked, got %v", err)
	}
	if _, err := k.DeriveNextAccount(""); err != nil {
		t.Fatalf("other sources should stay usable: %v", err)
	}

	if err := k.UnlockSource(src.ID, "wrong"); !errors.Is(err, prt.ErrInvalidPassword) {
		t.Fatalf("expected InvalidPassword, got %v", err)
	}
	if err := k.UnlockSource(src.ID, testPassword); err != nil {
		t.Fatalf("unlock source: %v", err)
	}
	if _, err := k.DeriveNextAccount(src.ID); err != nil {
		t.Fatalf("derive after unlock: %v", err)
	}

	if err := k.LockSource("no-such-source"); !errors.Is(err, prt.ErrNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestLockedWalletPolicy(t *testing.T) {
	k := newUnlocked(t)
	accts, _ := k.Accounts()
	k.Lock()

	if _, err := k.DeriveNextAccount(""); !errors.Is(err, prt.ErrWalletLocked) {
		t.Fatalf("expected WalletLocked, got %v", err)
	}
	if _, _, err := k.SignData(accts[0].ID, []byte("x")); !errors.Is(err, prt.ErrWalletLocked) {
		t.Fatalf("expected WalletLocked, got %v", err)
	}

	// metadata stays reachable
	if err := k.SetAccountNickname(accts[0].ID, " main "); err != nil {
		t.Fatalf("nickname while locked: %v", err)
	}
	ents, err := k.GetStoredEntities("")
	if err != nil {
		t.Fatalf("entities while locked: %v", err)
	}
	if len(ents.Accounts) != 1 || ents.Accounts[0].Nickname != "main" {
		t.Fatalf("unexpected accounts %+v", ents.Accounts)
	}
	if ents.Accounts[0].LockState != wallet.Locked {
		t.Fatalf("expected locked projection, got %s", ents.Accounts[0].LockState)
	}
	if _, err := k.GetStoredEntities("bogus"); !errors.Is(err, prt.ErrInvalidRequest) {
		t.Fatalf("expected InvalidRequest, got %v", err)
	}
}

func TestInactivityLock(t *testing.T) {
	opts := testOptions()
	opts.LockTimeout = 30 * time.Millisecond
	k := newKeyring(t, openStore(t), opts)
	if err := k.CreateVault(testPassword, nil); err != nil {
		t.Fatalf("failed to create vault: %v", err)
	}

	locked := make(chan struct{}, 1)
	cancel := k.Subscribe(func(ev Event) {
		if ev.Kind == EventLockChanged && ev.Locked {
			select {
			case locked <- struct{}{}:
			default:
			}
		}
	})
	defer cancel()

	if err := k.Unlock(testPassword); err != nil {
		t.Fatalf("failed to unlock: %v", err)
	}
	select {
	case <-locked:
	case <-time.After(2 * time.Second):
		t.Fatal("wallet did not lock after inactivity")
	}
	mustState(t, k, Locked)
}

func TestTouchDefersLock(t *testing.T) {
	opts := testOptions()
	opts.LockTimeout = 300 * time.Millisecond
	k := newKeyring(t, openStore(t), opts)
	if err := k.CreateVault(testPassword, nil); err != nil {
		t.Fatalf("failed to create vault: %v", err)
	}
	if err := k.Unlock(testPassword); err != nil {
		t.Fatalf("failed to unlock: %v", err)
	}

	for i := 0; i < 12; i++ {
		time.Sleep(50 * time.Millisecond)
		k.Touch()
	}
	mustState(t, k, Unlocked)
}

func TestSetLockTimeout(t *testing.T) {
	k := newUnlocked(t)
	if err := k.SetLockTimeout(2 * time.Hour); !errors.Is(err, prt.ErrInvalidRequest) {
		t.Fatalf("expected InvalidRequest, got %v", err)
	}
	if err := k.SetLockTimeout(10 * time.Minute); err != nil {
		t.Fatalf("set lock timeout: %v", err)
	}
	d, err := k.LockTimeout()
	if err != nil || d != 10*time.Minute {
		t.Fatalf("expected 10m, got %s (%v)", d, err)
	}
}

func TestSignData(t *testing.T) {
	k := newUnlocked(t)
	acct, err := k.ActiveAccount()
	if err != nil {
		t.Fatalf("active account: %v", err)
	}

	data := []byte("transaction bytes")
	sig, pub, err := k.SignData(acct.ID, data)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	pk, err := crypto.BytesToPublicKey(pub)
	if err != nil {
		t.Fatalf("public key: %v", err)
	}
	if !crypto.VerifySignature(pk, data, sig) {
		t.Fatal("signature does not verify")
	}
	addr, _ := crypto.PublicKeyToAddress(pk)
	if addr.Hex() != acct.ID {
		t.Fatalf("signing key belongs to %s, not %s", addr.Hex(), acct.ID)
	}
}

func TestSwitchAccount(t *testing.T) {
	k := newUnlocked(t)
	next, err := k.DeriveNextAccount("")
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if _, err := k.SwitchAccount(next.ID); err != nil {
		t.Fatalf("switch: %v", err)
	}
	active, err := k.ActiveAccount()
	if err != nil || active.ID != next.ID {
		t.Fatalf("expected active %s, got %+v (%v)", next.ID, active, err)
	}
	if _, err := k.SwitchAccount("0x0000000000000000000000000000000000000002"); !errors.Is(err, prt.ErrNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestDeleteSourceByTypeCascades(t *testing.T) {
	k := newUnlocked(t)
	priv, _, _ := crypto.GenerateKeyPair()
	raw, _ := crypto.PrivateKeyToBytes(priv)
	imported, err := k.ImportPrivateKey(testPassword, wallet.KeyPair{PrivateKey: utils.BytesToHex(raw)})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if _, err := k.SwitchAccount(imported.ID); err != nil {
		t.Fatalf("switch: %v", err)
	}

	n, err := k.DeleteAccountSourceByType(wallet.SourceImported)
	if err != nil || n != 1 {
		t.Fatalf("expected one source deleted, got %d (%v)", n, err)
	}
	accts, _ := k.Accounts()
	for _, a := range accts {
		if a.Type == wallet.AccountImported {
			t.Fatalf("imported account survived: %s", a.ID)
		}
	}
	active, err := k.ActiveAccount()
	if err != nil || active.ID == imported.ID {
		t.Fatalf("active account should fall back, got %+v (%v)", active, err)
	}
}

func TestClearWallet(t *testing.T) {
	k := newUnlocked(t)
	if err := k.ClearWallet(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	mustState(t, k, Uninitialized)
	accts, _ := k.Accounts()
	if len(accts) != 0 {
		t.Fatalf("expected no accounts, got %d", len(accts))
	}
	if err := k.CreateVault("new", nil); err != nil {
		t.Fatalf("create after clear: %v", err)
	}
}

func TestEventsOnMutation(t *testing.T) {
	k := newUnlocked(t)

	var got []Event
	cancel := k.Subscribe(func(ev Event) { got = append(got, ev) })
	if _, err := k.DeriveNextAccount(""); err != nil {
		t.Fatalf("derive: %v", err)
	}
	k.Lock()
	cancel()

	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %+v", got)
	}
	if got[1].Kind != EventEntityUpdated || got[1].Entity != EntityAccounts {
		t.Fatalf("unexpected event %+v", got[1])
	}
	if got[2].Kind != EventLockChanged || !got[2].Locked {
		t.Fatalf("unexpected event %+v", got[2])
	}
}
