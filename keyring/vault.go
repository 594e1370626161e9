package keyring

import (
	"time"

	"github.com/abcfe/abcfe-wallet/common/crypto"
	log "github.com/abcfe/abcfe-wallet/common/logger"
	prt "github.com/abcfe/abcfe-wallet/protocol"
	"github.com/abcfe/abcfe-wallet/storage"
	"github.com/abcfe/abcfe-wallet/wallet"
	"github.com/google/uuid"
)

// CreateVault initializes the vault with a primary mnemonic source and its
// first account. entropy may be nil to generate a fresh mnemonic. The vault
// is left Locked.
func (k *Keyring) CreateVault(password string, entropy []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	exists, err := k.store.Has(metaKey())
	if err != nil {
		return internal(err)
	}
	if exists {
		return prt.ErrVaultAlreadyExists
	}
	if password == "" {
		return prt.ErrInvalidRequest.WithMessage("password is empty")
	}

	if entropy == nil {
		if entropy, err = wallet.NewEntropy(); err != nil {
			return internal(err)
		}
		defer crypto.Zero(entropy)
	} else if err := wallet.ValidateEntropy(entropy); err != nil {
		return err
	}

	hash, err := crypto.HashPassword([]byte(password), k.opts.KDF)
	if err != nil {
		return internal(err)
	}
	salt, err := crypto.NewSalt()
	if err != nil {
		return internal(err)
	}
	vek := crypto.DeriveVaultKey([]byte(password), salt, k.opts.KDF)
	defer vek.Zero()

	now := k.now().UnixNano()
	meta := &vaultMeta{
		Format:       wallet.FormatCurrent,
		PasswordHash: hash,
		EncSalt:      salt,
		KDF:          k.opts.KDF,
		CreatedAt:    now,
	}

	src := &wallet.SourceRecord{
		ID:        uuid.NewString(),
		Type:      wallet.SourceMnemonic,
		Format:    wallet.FormatCurrent,
		CreatedAt: now,
	}
	if src.Payload, err = sealSecret(vek.Bytes(), src.ID, entropy); err != nil {
		return err
	}

	key, err := wallet.DeriveAccount(entropy, 0)
	if err != nil {
		return internal(err)
	}
	defer key.Zero()
	src.DerivationCounter = 1
	acct := derivedRecord(src.ID, key, now)

	b := storage.NewBatch()
	if err := putRecord(b, metaKey(), meta); err != nil {
		return err
	}
	if err := putRecord(b, settingsKey(), &vaultSettings{ActiveAccount: acct.ID}); err != nil {
		return err
	}
	if err := putSource(b, src); err != nil {
		return err
	}
	if err := putAccount(b, acct); err != nil {
		return err
	}
	if err := k.store.Write(b); err != nil {
		return internal(err)
	}

	log.Info("vault created, primary source: ", src.ID)
	k.emitEntities(EntityAccountSources, EntityAccounts)
	return nil
}

// Unlock verifies password and opens a fresh session with every source
// unlocked. A wrong password never changes the current state.
func (k *Keyring) Unlock(password string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	meta, err := k.loadMeta()
	if err != nil {
		return err
	}
	if err := k.checkPassword(meta, password); err != nil {
		return err
	}

	sources, err := k.loadSources()
	if err != nil {
		return err
	}

	s := &vaultSession{sources: make(map[string]bool, len(sources))}
	if meta.Format >= wallet.FormatCurrent {
		s.vek = crypto.DeriveVaultKey([]byte(password), meta.EncSalt, meta.KDF)
	}
	for _, src := range sources {
		s.sources[src.ID] = true
	}

	k.endSession()
	k.session = s
	k.armTimer()

	log.Info("wallet unlocked")
	k.emit(Event{Kind: EventLockChanged, Locked: false})
	return nil
}

// Lock zeroes the session key. Locking a locked wallet is a no-op.
func (k *Keyring) Lock() {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.endSession() {
		log.Info("wallet locked")
		k.emit(Event{Kind: EventLockChanged, Locked: true})
	}
}

// Touch records UI activity and defers the inactivity lock.
func (k *Keyring) Touch() {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.armTimer()
}

// VerifyPassword checks password against the current stored hash. legacy
// marks a caller still holding a pre-migration credential; both paths use
// the single current hash, never an older one.
func (k *Keyring) VerifyPassword(password string, legacy bool) error {
	k.mu.RLock()
	defer k.mu.RUnlock()

	meta, err := k.loadMeta()
	if err != nil {
		return err
	}
	if legacy && meta != nil && meta.Format >= wallet.FormatCurrent {
		log.Debug("legacy password check against migrated vault")
	}
	return k.checkPassword(meta, password)
}

// SetLockTimeout persists the inactivity timeout and re-arms the timer.
func (k *Keyring) SetLockTimeout(d time.Duration) error {
	if d < k.opts.MinLockTimeout || d > k.opts.MaxLockTimeout {
		return prt.ErrInvalidRequest.WithMessage("lock timeout must be between %s and %s", k.opts.MinLockTimeout, k.opts.MaxLockTimeout)
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	s, err := k.loadSettings()
	if err != nil {
		return err
	}
	s.LockTimeoutSec = int64(d / time.Second)
	if err := k.saveSettings(s); err != nil {
		return err
	}
	k.armTimer()
	return nil
}

func (k *Keyring) LockTimeout() (time.Duration, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.lockTimeout()
}

// GetEntropy returns the entropy of the primary mnemonic source after a
// fresh password check. The caller must zero the result.
func (k *Keyring) GetEntropy(password string) ([]byte, error) {
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

	src, err := k.primaryMnemonic()
	if err != nil {
		return nil, err
	}
	return k.sourceEntropy(src)
}

// ClearWallet erases the vault and every source and account.
func (k *Keyring) ClearWallet() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	keys, err := k.vaultKeys()
	if err != nil {
		return err
	}
	b := storage.NewBatch()
	for _, key := range keys {
		b.Delete(key)
	}
	if err := k.store.Write(b); err != nil {
		return internal(err)
	}

	wasUnlocked := k.endSession()
	log.Warn("wallet cleared, records removed: ", len(keys))
	if wasUnlocked {
		k.emit(Event{Kind: EventLockChanged, Locked: true})
	}
	k.emitEntities(EntityAccountSources, EntityAccounts)
	return nil
}

// Network returns the persisted network selection, empty when unset.
func (k *Keyring) Network() (string, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	s, err := k.loadSettings()
	if err != nil {
		return "", err
	}
	return s.Network, nil
}

func (k *Keyring) SetNetwork(network string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	s, err := k.loadSettings()
	if err != nil {
		return err
	}
	s.Network = network
	return k.saveSettings(s)
}
