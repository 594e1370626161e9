package keyring

import (
	"bytes"

	"github.com/abcfe/abcfe-wallet/common/crypto"
	log "github.com/abcfe/abcfe-wallet/common/logger"
	prt "github.com/abcfe/abcfe-wallet/protocol"
	"github.com/abcfe/abcfe-wallet/storage"
	"github.com/abcfe/abcfe-wallet/wallet"
)

// MigrationInputs carries what DoStorageMigration needs to reseal sources.
type MigrationInputs struct {
	Password string `json:"password"`
}

// recoverMigration turns a migration interrupted by a restart into a
// failed one so the next attempt resumes from its checkpoint.
func (k *Keyring) recoverMigration() error {
	rec, err := k.loadMigration()
	if err != nil || rec == nil || rec.State != MigrationInProgress {
		return err
	}
	rec.State = MigrationFailed
	rec.LastError = "interrupted"

	log.Warn("storage migration was interrupted, resumable from ", len(rec.Done), " sources")
	return k.saveMigration(rec)
}

func (k *Keyring) saveMigration(rec *migrationRecord) error {
	b := storage.NewBatch()
	if err := putRecord(b, migrationKey(), rec); err != nil {
		return err
	}
	return internal(k.store.Write(b))
}

// MigrationStatus reports where the vault stands in the format migration.
func (k *Keyring) MigrationStatus() (MigrationState, error) {
	if k.migrationRunning() {
		return MigrationInProgress, nil
	}

	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.migrationStatus()
}

func (k *Keyring) migrationStatus() (MigrationState, error) {
	rec, err := k.loadMigration()
	if err != nil {
		return "", err
	}
	if rec != nil {
		return rec.State, nil
	}
	meta, err := k.loadMeta()
	if err != nil {
		return "", err
	}
	if meta == nil || meta.Format >= wallet.FormatCurrent {
		return MigrationNotNeeded, nil
	}
	return MigrationPending, nil
}

func (k *Keyring) migrationRunning() bool {
	k.migMu.Lock()
	defer k.migMu.Unlock()
	return k.migrating
}

// beginMigration claims the single migration slot.
func (k *Keyring) beginMigration() bool {
	k.migMu.Lock()
	defer k.migMu.Unlock()

	if k.migrating {
		return false
	}
	k.migrating = true
	return true
}

func (k *Keyring) endMigration() {
	k.migMu.Lock()
	k.migrating = false
	k.migMu.Unlock()
}

// DoStorageMigration reseals every legacy source under the current format.
// It is a no-op once done. Each source is committed together with the
// checkpoint that names it, so a retry after a failure skips it.
func (k *Keyring) DoStorageMigration(in MigrationInputs) error {
	if !k.beginMigration() {
		return prt.ErrMigrationAlreadyInProgress
	}
	defer k.endMigration()

	k.mu.Lock()
	defer k.mu.Unlock()

	state, err := k.migrationStatus()
	if err != nil {
		return err
	}
	if state == MigrationDone || state == MigrationNotNeeded {
		return nil
	}

	meta, err := k.loadMeta()
	if err != nil {
		return err
	}
	if err := k.checkPassword(meta, in.Password); err != nil {
		return err
	}

	rec, err := k.loadMigration()
	if err != nil {
		return err
	}
	if rec == nil {
		rec = &migrationRecord{}
	}
	if state == MigrationFailed {
		log.Info("retrying storage migration, checkpoint: ", len(rec.Done), " sources")
	}
	if len(rec.EncSalt) == 0 {
		if rec.EncSalt, err = crypto.NewSalt(); err != nil {
			return internal(err)
		}
		rec.KDF = k.opts.KDF
	}
	rec.State = MigrationInProgress
	rec.LastError = ""
	if err := k.saveMigration(rec); err != nil {
		return err
	}

	vek := crypto.DeriveVaultKey([]byte(in.Password), rec.EncSalt, rec.KDF)
	if err := k.migrate(meta, rec, vek, in.Password); err != nil {
		vek.Zero()
		rec.State = MigrationFailed
		rec.LastError = err.Error()
		if serr := k.saveMigration(rec); serr != nil {
			log.Error("failed to record migration failure: ", serr)
		}
		log.Error("storage migration failed: ", err)
		return err
	}

	// An open session adopts the new vault key.
	if k.session != nil {
		k.session.vek.Zero()
		k.session.vek = vek
	} else {
		vek.Zero()
	}

	log.Info("storage migration done")
	k.emitEntities(EntityAccountSources)
	return nil
}

func (k *Keyring) migrate(meta *vaultMeta, rec *migrationRecord, vek *crypto.Secret, password string) error {
	sources, err := k.loadSources()
	if err != nil {
		return err
	}

	for _, src := range sources {
		if rec.migrated(src.ID) {
			continue
		}
		next := *src
		if src.Format < wallet.FormatCurrent {
			if next.Payload, err = resealLegacy(src, vek.Bytes(), password); err != nil {
				return prt.ErrInternal.WithMessage("migration failed at account source %s", src.ID)
			}
			next.Format = wallet.FormatCurrent
		}

		rec.Done = append(rec.Done, src.ID)
		b := storage.NewBatch()
		if err := putSource(b, &next); err != nil {
			return err
		}
		if err := putRecord(b, migrationKey(), rec); err != nil {
			return err
		}
		if err := k.store.Write(b); err != nil {
			rec.Done = rec.Done[:len(rec.Done)-1]
			return internal(err)
		}
		log.Debug("account source migrated: ", src.ID)
	}

	hash, err := crypto.HashPassword([]byte(password), rec.KDF)
	if err != nil {
		return internal(err)
	}
	next := *meta
	next.Format = wallet.FormatCurrent
	next.PasswordHash = hash
	next.EncSalt = rec.EncSalt
	next.KDF = rec.KDF

	rec.State = MigrationDone
	b := storage.NewBatch()
	if err := putRecord(b, metaKey(), &next); err != nil {
		return err
	}
	if err := putRecord(b, migrationKey(), rec); err != nil {
		return err
	}
	if err := k.store.Write(b); err != nil {
		rec.State = MigrationInProgress
		return internal(err)
	}
	return nil
}

// resealLegacy opens a keystore payload with the password and seals the
// secret under the vault key.
func resealLegacy(src *wallet.SourceRecord, vek []byte, password string) ([]byte, error) {
	ks, err := wallet.UnmarshalKeystore(src.Payload)
	if err != nil {
		return nil, err
	}
	secret, err := wallet.DecryptKeystore(ks, []byte(password))
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(secret)

	sealed, err := sealSecret(vek, src.ID, secret)
	if err != nil {
		return nil, err
	}

	// the new payload must open to the same secret before it replaces the old one
	check, err := openSecret(vek, &wallet.SourceRecord{ID: src.ID, Payload: sealed})
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(check)
	if !bytes.Equal(check, secret) {
		return nil, prt.ErrInternal
	}
	return sealed, nil
}
