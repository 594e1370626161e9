package keyring

import (
	"crypto/ecdsa"
	"strings"

	"github.com/abcfe/abcfe-wallet/common/crypto"
	log "github.com/abcfe/abcfe-wallet/common/logger"
	prt "github.com/abcfe/abcfe-wallet/protocol"
	"github.com/abcfe/abcfe-wallet/storage"
	"github.com/abcfe/abcfe-wallet/wallet"
)

// Entities is the answer of GetStoredEntities.
type Entities struct {
	Accounts       []wallet.Account       `json:"accounts,omitempty"`
	AccountSources []wallet.AccountSource `json:"accountSources,omitempty"`
}

// ExternalPublicKey fills in the public key of an external account.
type ExternalPublicKey struct {
	AccountID string `json:"accountId"`
	PublicKey string `json:"publicKey"`
}

func derivedRecord(sourceID string, key *wallet.DerivedKey, now int64) *wallet.AccountRecord {
	return &wallet.AccountRecord{
		ID:        key.Address.Hex(),
		Type:      wallet.AccountDerived,
		SourceID:  sourceID,
		Index:     key.Index,
		PublicKey: key.PublicKey,
		CreatedAt: now,
	}
}

// DeriveNextAccount derives the account at the source's derivation counter.
// The bumped counter and the account land in one batch, so a crash never
// skips or reuses an index. An empty sourceID picks the primary mnemonic.
func (k *Keyring) DeriveNextAccount(sourceID string) (*wallet.Account, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.requireUnlocked(); err != nil {
		return nil, err
	}

	var (
		src *wallet.SourceRecord
		err error
	)
	if sourceID == "" {
		src, err = k.primaryMnemonic()
	} else {
		src, err = k.loadSource(sourceID)
	}
	if err != nil {
		return nil, err
	}
	if src.Type != wallet.SourceMnemonic {
		return nil, prt.ErrInvalidRequest.WithMessage("account source %s is not a mnemonic", src.ID)
	}
	return k.deriveNext(src)
}

// deriveNext is DeriveNextAccount with mu held and src resolved.
func (k *Keyring) deriveNext(src *wallet.SourceRecord) (*wallet.Account, error) {
	if err := k.requireSource(src); err != nil {
		return nil, err
	}
	secret, err := k.openSource(src)
	if err != nil {
		return nil, err
	}
	defer secret.Zero()

	key, err := wallet.DeriveAccount(secret.Bytes(), src.DerivationCounter)
	if err != nil {
		return nil, internal(err)
	}
	defer key.Zero()

	exists, err := k.hasAccount(key.Address)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, prt.ErrAccountAlreadyExists.WithMessage("account %s already exists", key.Address.Hex())
	}

	acct := derivedRecord(src.ID, key, k.now().UnixNano())
	next := *src
	next.DerivationCounter++

	b := storage.NewBatch()
	if err := putSource(b, &next); err != nil {
		return nil, err
	}
	if err := putAccount(b, acct); err != nil {
		return nil, err
	}
	if err := k.store.Write(b); err != nil {
		return nil, internal(err)
	}

	log.Debug("account derived: ", acct.ID, " index: ", acct.Index)
	k.emitEntities(EntityAccountSources, EntityAccounts)

	p := acct.Projection(wallet.Unlocked)
	return &p, nil
}

// CreateAccounts creates the next accounts of a source: one derived account
// for a mnemonic source. Imported sources are created with their account and
// external ones receive accounts through an accepted connection.
func (k *Keyring) CreateAccounts(sourceID string) ([]wallet.Account, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.requireUnlocked(); err != nil {
		return nil, err
	}
	src, err := k.loadSource(sourceID)
	if err != nil {
		return nil, err
	}

	switch src.Type {
	case wallet.SourceMnemonic:
		a, err := k.deriveNext(src)
		if err != nil {
			return nil, err
		}
		return []wallet.Account{*a}, nil
	case wallet.SourceImported:
		return nil, prt.ErrAccountAlreadyExists.WithMessage("imported source %s already has its account", src.ID)
	default:
		return nil, prt.ErrInvalidRequest.WithMessage("accounts of %s sources come from their custodian", src.Type)
	}
}

// ImportPrivateKey verifies password, validates keyPair and stores it as a
// new imported source with one account.
func (k *Keyring) ImportPrivateKey(password string, keyPair wallet.KeyPair) (*wallet.Account, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.requireUnlocked(); err != nil {
		return nil, err
	}
	meta, err := k.loadMeta()
	if err != nil {
		return nil, err
	}
	if err := k.checkPassword(meta, password); err != nil {
		return nil, err
	}

	src, accts, err := k.newSource(SourceArgs{Type: wallet.SourceImported, KeyPair: keyPair})
	if err != nil {
		return nil, err
	}
	if err := k.writeSource(src, accts); err != nil {
		return nil, err
	}

	p := accts[0].Projection(wallet.Unlocked)
	return &p, nil
}

// ExportAccount re-verifies password and returns the raw 32 byte private
// key of address. It is the only path that releases key material.
func (k *Keyring) ExportAccount(password, address string) ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.requireUnlocked(); err != nil {
		return nil, err
	}
	meta, err := k.loadMeta()
	if err != nil {
		return nil, err
	}
	if err := k.checkPassword(meta, password); err != nil {
		return nil, err
	}

	priv, err := k.accountKey(address)
	if err != nil {
		return nil, err
	}
	defer crypto.ZeroPrivateKey(priv)

	log.Warn("private key exported: ", address)
	return crypto.PrivateKeyToBytes(priv)
}

// accountKey decrypts the private key of an account. Caller holds mu and
// zeroes the key.
func (k *Keyring) accountKey(address string) (*ecdsa.PrivateKey, error) {
	acct, err := k.loadAccount(address)
	if err != nil {
		return nil, err
	}
	src, err := k.loadSource(acct.SourceID)
	if err != nil {
		return nil, err
	}
	if err := k.requireSource(src); err != nil {
		return nil, err
	}
	if src.Type == wallet.SourceExternal {
		return nil, prt.ErrInvalidRequest.WithMessage("external account %s is held by its custodian", acct.ID)
	}

	secret, err := k.openSource(src)
	if err != nil {
		return nil, err
	}
	defer secret.Zero()

	if src.Type == wallet.SourceImported {
		return crypto.BytesToPrivateKey(secret.Bytes())
	}
	key, err := wallet.DeriveAccount(secret.Bytes(), acct.Index)
	if err != nil {
		return nil, internal(err)
	}
	return key.PrivateKey, nil
}

// SignData signs data with the key of address.
func (k *Keyring) SignData(address string, data []byte) (sig []byte, pub []byte, err error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if err := k.requireUnlocked(); err != nil {
		return nil, nil, err
	}
	priv, err := k.accountKey(address)
	if err != nil {
		return nil, nil, err
	}
	signer, err := wallet.NewKeySigner(priv)
	if err != nil {
		crypto.ZeroPrivateKey(priv)
		return nil, nil, internal(err)
	}
	defer signer.Close()

	if pub, err = crypto.PublicKeyToBytes(&priv.PublicKey); err != nil {
		return nil, nil, internal(err)
	}
	if sig, err = signer.Sign(data); err != nil {
		return nil, nil, internal(err)
	}
	return sig, pub, nil
}

// SetAccountNickname is permitted in any lock state.
func (k *Keyring) SetAccountNickname(id, nickname string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	acct, err := k.loadAccount(id)
	if err != nil {
		return err
	}
	acct.Nickname = strings.TrimSpace(nickname)

	b := storage.NewBatch()
	if err := putAccount(b, acct); err != nil {
		return err
	}
	if err := k.store.Write(b); err != nil {
		return internal(err)
	}
	k.emitEntities(EntityAccounts)
	return nil
}

// GetStoredEntities returns the non-secret projections of kind, or both
// kinds when kind is empty. It is permitted in any lock state.
func (k *Keyring) GetStoredEntities(kind string) (*Entities, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	out := &Entities{}
	var err error
	switch kind {
	case EntityAccounts:
		out.Accounts, err = k.accountProjections()
	case EntityAccountSources:
		out.AccountSources, err = k.sourceProjections()
	case "":
		if out.Accounts, err = k.accountProjections(); err == nil {
			out.AccountSources, err = k.sourceProjections()
		}
	default:
		return nil, prt.ErrInvalidRequest.WithMessage("unknown entity kind %q", kind)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (k *Keyring) Accounts() ([]wallet.Account, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.accountProjections()
}

func (k *Keyring) accountProjections() ([]wallet.Account, error) {
	accts, err := k.loadAccounts()
	if err != nil {
		return nil, err
	}
	out := make([]wallet.Account, 0, len(accts))
	for _, a := range accts {
		out = append(out, a.Projection(k.lockStateOf(a.SourceID)))
	}
	return out, nil
}

// SwitchAccount makes id the active account.
func (k *Keyring) SwitchAccount(id string) (*wallet.Account, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	acct, err := k.loadAccount(id)
	if err != nil {
		return nil, err
	}
	settings, err := k.loadSettings()
	if err != nil {
		return nil, err
	}
	settings.ActiveAccount = acct.ID
	if err := k.saveSettings(settings); err != nil {
		return nil, err
	}

	p := acct.Projection(k.lockStateOf(acct.SourceID))
	return &p, nil
}

// ActiveAccount returns the selected account, falling back to the first one.
// It reports NotFound on an empty wallet.
func (k *Keyring) ActiveAccount() (*wallet.Account, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	settings, err := k.loadSettings()
	if err != nil {
		return nil, err
	}
	if settings.ActiveAccount != "" {
		acct, err := k.loadAccount(settings.ActiveAccount)
		if err == nil {
			p := acct.Projection(k.lockStateOf(acct.SourceID))
			return &p, nil
		}
	}

	accts, err := k.loadAccounts()
	if err != nil {
		return nil, err
	}
	if len(accts) == 0 {
		return nil, prt.ErrNotFound.WithMessage("wallet has no accounts")
	}
	p := accts[0].Projection(k.lockStateOf(accts[0].SourceID))
	return &p, nil
}

// StoreExternalPublicKeys records public keys reported by a hardware or
// custodial signer for accounts created without one.
func (k *Keyring) StoreExternalPublicKeys(keys []ExternalPublicKey) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	b := storage.NewBatch()
	for _, in := range keys {
		acct, err := k.loadAccount(in.AccountID)
		if err != nil {
			return err
		}
		if acct.Type != wallet.AccountExternal {
			return prt.ErrInvalidRequest.WithMessage("account %s is not external", acct.ID)
		}
		addr, err := prt.AddressFromHex(acct.ID)
		if err != nil {
			return internal(err)
		}
		pub, err := wallet.ExternalPublicKey(addr, in.PublicKey)
		if err != nil {
			return err
		}
		acct.PublicKey = pub
		if err := putAccount(b, acct); err != nil {
			return err
		}
	}
	if b.Len() == 0 {
		return nil
	}
	if err := k.store.Write(b); err != nil {
		return internal(err)
	}
	k.emitEntities(EntityAccounts)
	return nil
}
