package keyring

import (
	"github.com/abcfe/abcfe-wallet/common/crypto"
	log "github.com/abcfe/abcfe-wallet/common/logger"
	prt "github.com/abcfe/abcfe-wallet/protocol"
	"github.com/abcfe/abcfe-wallet/storage"
	"github.com/abcfe/abcfe-wallet/wallet"
	"github.com/google/uuid"
)

// SourceArgs describes a new account source. Only the fields of Type are read.
type SourceArgs struct {
	Type     wallet.SourceType
	Password string
	Label    string

	Entropy []byte         // mnemonic, nil to generate
	KeyPair wallet.KeyPair // imported

	External     wallet.ExternalSecret // external
	Counterparty string                // external
}

func sealSecret(vek []byte, sourceID string, secret []byte) ([]byte, error) {
	sub, err := crypto.SubKey(vek, sourceID)
	if err != nil {
		return nil, internal(err)
	}
	defer crypto.Zero(sub)

	sealed, err := crypto.Seal(sub, secret, []byte(sourceID))
	if err != nil {
		return nil, internal(err)
	}
	return sealed, nil
}

func openSecret(vek []byte, src *wallet.SourceRecord) ([]byte, error) {
	sub, err := crypto.SubKey(vek, src.ID)
	if err != nil {
		return nil, internal(err)
	}
	defer crypto.Zero(sub)

	plain, err := crypto.Open(sub, src.Payload, []byte(src.ID))
	if err != nil {
		return nil, internal(err)
	}
	return plain, nil
}

// openSource decrypts the payload of src into a guard the caller must zero.
// Caller holds mu and has checked requireSource.
func (k *Keyring) openSource(src *wallet.SourceRecord) (*crypto.Secret, error) {
	if src.Format < wallet.FormatCurrent {
		return nil, prt.ErrMigrationRequired.WithMessage("account source %s uses the legacy format", src.ID)
	}
	vek, err := k.vaultKey()
	if err != nil {
		return nil, err
	}

	var plain []byte
	err = vek.Use(func(key []byte) error {
		var err error
		plain, err = openSecret(key, src)
		return err
	})
	if err != nil {
		return nil, err
	}
	return crypto.NewSecret(plain), nil
}

// seal encrypts secret for a new source under the session vault key.
func (k *Keyring) seal(sourceID string, secret []byte) ([]byte, error) {
	vek, err := k.vaultKey()
	if err != nil {
		return nil, err
	}
	var sealed []byte
	err = vek.Use(func(key []byte) error {
		var err error
		sealed, err = sealSecret(key, sourceID, secret)
		return err
	})
	return sealed, err
}

func (k *Keyring) sourceEntropy(src *wallet.SourceRecord) ([]byte, error) {
	if src.Type != wallet.SourceMnemonic {
		return nil, prt.ErrMnemonicNotFound.WithMessage("account source %s has no mnemonic", src.ID)
	}
	if err := k.requireSource(src); err != nil {
		return nil, err
	}
	secret, err := k.openSource(src)
	if err != nil {
		return nil, err
	}
	defer secret.Zero()

	return append([]byte(nil), secret.Bytes()...), nil
}

// primaryMnemonic returns the oldest mnemonic source.
func (k *Keyring) primaryMnemonic() (*wallet.SourceRecord, error) {
	sources, err := k.loadSources()
	if err != nil {
		return nil, err
	}
	for _, src := range sources {
		if src.Type == wallet.SourceMnemonic {
			return src, nil
		}
	}
	return nil, prt.ErrMnemonicNotFound
}

// resolveSource accepts a source id or an account id and returns the source.
func (k *Keyring) resolveSource(id string) (*wallet.SourceRecord, error) {
	if addr, err := prt.AddressFromHex(id); err == nil {
		if ok, err := k.hasAccount(addr); err != nil {
			return nil, err
		} else if ok {
			acct, err := k.loadAccount(id)
			if err != nil {
				return nil, err
			}
			return k.loadSource(acct.SourceID)
		}
	}
	return k.loadSource(id)
}

// CreateAccountSource verifies password and stores a new sealed source. A
// mnemonic source starts with no accounts; an imported source gets its one
// account.
func (k *Keyring) CreateAccountSource(args SourceArgs) (*wallet.AccountSource, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.requireUnlocked(); err != nil {
		return nil, err
	}
	meta, err := k.loadMeta()
	if err != nil {
		return nil, err
	}
	if err := k.checkPassword(meta, args.Password); err != nil {
		return nil, err
	}

	src, accts, err := k.newSource(args)
	if err != nil {
		return nil, err
	}
	if err := k.writeSource(src, accts); err != nil {
		return nil, err
	}

	p := src.Projection(wallet.Unlocked)
	return &p, nil
}

// newSource builds a sealed source record and the accounts created with it.
// Caller holds mu with the wallet unlocked.
func (k *Keyring) newSource(args SourceArgs) (*wallet.SourceRecord, []*wallet.AccountRecord, error) {
	now := k.now().UnixNano()
	src := &wallet.SourceRecord{
		ID:        uuid.NewString(),
		Type:      args.Type,
		Format:    wallet.FormatCurrent,
		Label:     args.Label,
		CreatedAt: now,
	}

	var (
		secret []byte
		accts  []*wallet.AccountRecord
		err    error
	)
	switch args.Type {
	case wallet.SourceMnemonic:
		if args.Entropy == nil {
			if secret, err = wallet.NewEntropy(); err != nil {
				return nil, nil, internal(err)
			}
		} else {
			if err := wallet.ValidateEntropy(args.Entropy); err != nil {
				return nil, nil, err
			}
			// a mnemonic already backing a source owns its first account
			first, err := wallet.DeriveAccount(args.Entropy, 0)
			if err != nil {
				return nil, nil, internal(err)
			}
			addr := first.Address
			first.Zero()

			exists, err := k.hasAccount(addr)
			if err != nil {
				return nil, nil, err
			}
			if exists {
				return nil, nil, prt.ErrAccountAlreadyExists.WithMessage("mnemonic already backs account %s", addr.Hex())
			}
			secret = append([]byte(nil), args.Entropy...)
		}

	case wallet.SourceImported:
		key, err := wallet.ParseImportedKey(args.KeyPair)
		if err != nil {
			return nil, nil, err
		}
		defer key.Zero()

		exists, err := k.hasAccount(key.Address)
		if err != nil {
			return nil, nil, err
		}
		if exists {
			return nil, nil, prt.ErrAccountAlreadyExists.WithMessage("account %s already exists", key.Address.Hex())
		}
		secret = append([]byte(nil), key.Scalar...)
		accts = append(accts, &wallet.AccountRecord{
			ID:        key.Address.Hex(),
			Type:      wallet.AccountImported,
			SourceID:  src.ID,
			PublicKey: key.PublicKey,
			CreatedAt: now,
		})

	case wallet.SourceExternal:
		if args.External.Token == "" {
			return nil, nil, prt.ErrInvalidRequest.WithMessage("external source needs an access token")
		}
		src.Counterparty = args.Counterparty
		if secret, err = encode(&args.External); err != nil {
			return nil, nil, internal(err)
		}

	default:
		return nil, nil, prt.ErrInvalidRequest.WithMessage("unknown account source type %q", args.Type)
	}
	defer crypto.Zero(secret)

	if src.Payload, err = k.seal(src.ID, secret); err != nil {
		return nil, nil, err
	}
	return src, accts, nil
}

// writeSource persists src with its accounts and unlocks it in the session.
func (k *Keyring) writeSource(src *wallet.SourceRecord, accts []*wallet.AccountRecord) error {
	b := storage.NewBatch()
	if err := putSource(b, src); err != nil {
		return err
	}
	for _, a := range accts {
		if err := putAccount(b, a); err != nil {
			return err
		}
	}
	if err := k.store.Write(b); err != nil {
		return internal(err)
	}

	k.session.sources[src.ID] = true
	log.Info("account source created: ", src.ID, " type: ", src.Type)

	k.emitEntities(EntityAccountSources)
	if len(accts) > 0 {
		k.emitEntities(EntityAccounts)
	}
	return nil
}

// DeleteAccountSourceByType removes every source of type t and cascades to
// their accounts. It returns the number of sources removed.
func (k *Keyring) DeleteAccountSourceByType(t wallet.SourceType) (int, error) {
	if !t.Valid() {
		return 0, prt.ErrInvalidRequest.WithMessage("unknown account source type %q", t)
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.requireUnlocked(); err != nil {
		return 0, err
	}
	sources, err := k.loadSources()
	if err != nil {
		return 0, err
	}
	accts, err := k.loadAccounts()
	if err != nil {
		return 0, err
	}
	settings, err := k.loadSettings()
	if err != nil {
		return 0, err
	}

	doomed := make(map[string]bool)
	b := storage.NewBatch()
	for _, src := range sources {
		if src.Type == t {
			doomed[src.ID] = true
			b.Delete(sourceKey(src.ID))
		}
	}
	if len(doomed) == 0 {
		return 0, nil
	}
	for _, a := range accts {
		if !doomed[a.SourceID] {
			continue
		}
		key, err := accountKey(a)
		if err != nil {
			return 0, err
		}
		b.Delete(key)
		if settings.ActiveAccount == a.ID {
			settings.ActiveAccount = ""
			if err := putRecord(b, settingsKey(), settings); err != nil {
				return 0, err
			}
		}
	}
	if err := k.store.Write(b); err != nil {
		return 0, internal(err)
	}

	for id := range doomed {
		delete(k.session.sources, id)
	}
	log.Info("account sources deleted, type: ", t, " count: ", len(doomed))
	k.emitEntities(EntityAccountSources, EntityAccounts)
	return len(doomed), nil
}

// LockSource locks the source named by id (a source or account id) while
// the vault stays open.
func (k *Keyring) LockSource(id string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	src, err := k.resolveSource(id)
	if err != nil {
		return err
	}
	if k.session == nil || !k.session.sources[src.ID] {
		return nil
	}
	delete(k.session.sources, src.ID)
	k.emitEntities(EntityAccountSources, EntityAccounts)
	return nil
}

// UnlockSource re-verifies password and unlocks one source.
func (k *Keyring) UnlockSource(id, password string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.requireUnlocked(); err != nil {
		return err
	}
	meta, err := k.loadMeta()
	if err != nil {
		return err
	}
	if err := k.checkPassword(meta, password); err != nil {
		return err
	}
	src, err := k.resolveSource(id)
	if err != nil {
		return err
	}
	if k.session.sources[src.ID] {
		return nil
	}
	k.session.sources[src.ID] = true
	k.emitEntities(EntityAccountSources, EntityAccounts)
	return nil
}

// GetAccountSourceEntropy returns the entropy of one mnemonic source after
// a fresh password check. The caller must zero the result.
func (k *Keyring) GetAccountSourceEntropy(sourceID, password string) ([]byte, error) {
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
	src, err := k.loadSource(sourceID)
	if err != nil {
		return nil, err
	}
	return k.sourceEntropy(src)
}

// Sources returns the projections of every source.
func (k *Keyring) Sources() ([]wallet.AccountSource, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.sourceProjections()
}

func (k *Keyring) sourceProjections() ([]wallet.AccountSource, error) {
	sources, err := k.loadSources()
	if err != nil {
		return nil, err
	}
	out := make([]wallet.AccountSource, 0, len(sources))
	for _, src := range sources {
		out = append(out, src.Projection(k.lockStateOf(src.ID)))
	}
	return out, nil
}
