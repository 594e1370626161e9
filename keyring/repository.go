package keyring

import (
	"errors"
	"fmt"
	"sort"

	"github.com/abcfe/abcfe-wallet/common/crypto"
	"github.com/abcfe/abcfe-wallet/common/utils"
	prt "github.com/abcfe/abcfe-wallet/protocol"
	"github.com/abcfe/abcfe-wallet/storage"
	"github.com/abcfe/abcfe-wallet/wallet"
)

// vaultMeta is written once by CreateVault and replaced by migration.
type vaultMeta struct {
	Format       int
	PasswordHash *crypto.PasswordHash
	EncSalt      []byte `cbor:",omitempty"`
	KDF          crypto.KDFParams
	CreatedAt    int64
}

type vaultSettings struct {
	LockTimeoutSec int64  `cbor:",omitempty"`
	ActiveAccount  string `cbor:",omitempty"`
	Network        string `cbor:",omitempty"`
}

type MigrationState string

const (
	MigrationNotNeeded  MigrationState = "not-needed"
	MigrationPending    MigrationState = "pending"
	MigrationInProgress MigrationState = "in-progress"
	MigrationDone       MigrationState = "done"
	MigrationFailed     MigrationState = "failed"
)

type migrationRecord struct {
	State     MigrationState
	EncSalt   []byte
	KDF       crypto.KDFParams
	Done      []string // checkpoint: ids of resealed sources
	LastError string `cbor:",omitempty"`
}

func (r *migrationRecord) migrated(id string) bool {
	for _, d := range r.Done {
		if d == id {
			return true
		}
	}
	return false
}

func metaKey() []byte         { return utils.GetVaultMetaKey() }
func sourceKey(id string) []byte { return utils.GetSourceKey(id) }
func settingsKey() []byte  { return utils.GetVaultSettingsKey() }
func migrationKey() []byte { return utils.GetMigrationKey() }

func internal(err error) error {
	if err == nil {
		return nil
	}
	var pe *prt.Error
	if errors.As(err, &pe) {
		return err
	}
	return fmt.Errorf("%w: %v", prt.ErrInternal, err)
}

func encode(v interface{}) ([]byte, error) {
	return utils.SerializeData(v, utils.SerializationFormatCBOR)
}

func decode(b []byte, v interface{}) error {
	return utils.DeserializeData(b, v, utils.SerializationFormatCBOR)
}

func putRecord(b *storage.Batch, key []byte, v interface{}) error {
	raw, err := encode(v)
	if err != nil {
		return internal(err)
	}
	b.Put(key, raw)
	return nil
}

// getRecord decodes key into v. It reports false when the key is absent.
func (k *Keyring) getRecord(key []byte, v interface{}) (bool, error) {
	raw, err := k.store.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, internal(err)
	}
	if err := decode(raw, v); err != nil {
		return false, internal(fmt.Errorf("decode %s: %w", key, err))
	}
	return true, nil
}

func (k *Keyring) loadMeta() (*vaultMeta, error) {
	var m vaultMeta
	ok, err := k.getRecord(metaKey(), &m)
	if err != nil || !ok {
		return nil, err
	}
	return &m, nil
}

func (k *Keyring) loadSettings() (*vaultSettings, error) {
	var s vaultSettings
	if _, err := k.getRecord(settingsKey(), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (k *Keyring) saveSettings(s *vaultSettings) error {
	b := storage.NewBatch()
	if err := putRecord(b, settingsKey(), s); err != nil {
		return err
	}
	return internal(k.store.Write(b))
}

func (k *Keyring) loadMigration() (*migrationRecord, error) {
	var r migrationRecord
	ok, err := k.getRecord(migrationKey(), &r)
	if err != nil || !ok {
		return nil, err
	}
	return &r, nil
}

func (k *Keyring) loadSource(id string) (*wallet.SourceRecord, error) {
	var rec wallet.SourceRecord
	ok, err := k.getRecord(sourceKey(id), &rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, prt.ErrNotFound.WithMessage("account source %s not found", id)
	}
	return &rec, nil
}

// loadSources returns every source, oldest first.
func (k *Keyring) loadSources() ([]*wallet.SourceRecord, error) {
	var (
		out    []*wallet.SourceRecord
		decErr error
	)
	err := k.store.Iterate([]byte(prt.PrefixSource), func(key, value []byte) bool {
		var rec wallet.SourceRecord
		if decErr = decode(value, &rec); decErr != nil {
			return false
		}
		out = append(out, &rec)
		return true
	})
	if err != nil {
		return nil, internal(err)
	}
	if decErr != nil {
		return nil, internal(decErr)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (k *Keyring) loadAccount(id string) (*wallet.AccountRecord, error) {
	addr, err := prt.AddressFromHex(id)
	if err != nil {
		return nil, prt.ErrNotFound.WithMessage("account %s not found", id)
	}
	var rec wallet.AccountRecord
	ok, err := k.getRecord(utils.GetAccountKey(addr), &rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, prt.ErrNotFound.WithMessage("account %s not found", addr.Hex())
	}
	return &rec, nil
}

func (k *Keyring) hasAccount(addr prt.Address) (bool, error) {
	ok, err := k.store.Has(utils.GetAccountKey(addr))
	return ok, internal(err)
}

// loadAccounts returns every account in creation order.
func (k *Keyring) loadAccounts() ([]*wallet.AccountRecord, error) {
	var (
		out    []*wallet.AccountRecord
		decErr error
	)
	err := k.store.Iterate([]byte(prt.PrefixAccount), func(key, value []byte) bool {
		var rec wallet.AccountRecord
		if decErr = decode(value, &rec); decErr != nil {
			return false
		}
		out = append(out, &rec)
		return true
	})
	if err != nil {
		return nil, internal(err)
	}
	if decErr != nil {
		return nil, internal(decErr)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt < b.CreatedAt
		}
		if a.SourceID != b.SourceID {
			return a.SourceID < b.SourceID
		}
		if a.Index != b.Index {
			return a.Index < b.Index
		}
		return a.ID < b.ID
	})
	return out, nil
}

func accountKey(rec *wallet.AccountRecord) ([]byte, error) {
	addr, err := prt.AddressFromHex(rec.ID)
	if err != nil {
		return nil, internal(err)
	}
	return utils.GetAccountKey(addr), nil
}

func putAccount(b *storage.Batch, rec *wallet.AccountRecord) error {
	key, err := accountKey(rec)
	if err != nil {
		return err
	}
	return putRecord(b, key, rec)
}

func putSource(b *storage.Batch, rec *wallet.SourceRecord) error {
	return putRecord(b, sourceKey(rec.ID), rec)
}

// vaultKeys lists every key owned by the vault.
func (k *Keyring) vaultKeys() ([][]byte, error) {
	var keys [][]byte
	for _, prefix := range []string{"vault:", prt.PrefixSource, prt.PrefixAccount} {
		err := k.store.Iterate([]byte(prefix), func(key, _ []byte) bool {
			keys = append(keys, key)
			return true
		})
		if err != nil {
			return nil, internal(err)
		}
	}
	return keys, nil
}
