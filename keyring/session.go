package keyring

import (
	"time"

	"github.com/abcfe/abcfe-wallet/common/crypto"
	log "github.com/abcfe/abcfe-wallet/common/logger"
	prt "github.com/abcfe/abcfe-wallet/protocol"
	"github.com/abcfe/abcfe-wallet/wallet"
)

// vaultSession exists only while the wallet is unlocked.
type vaultSession struct {
	vek     *crypto.Secret  // nil for a vault still in the legacy format
	sources map[string]bool // unlocked source ids
	timer   *time.Timer
	gen     uint64
}

func (s *vaultSession) zero() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.vek.Zero()
	s.sources = nil
}

// endSession zeroes the session key. Caller holds mu.
func (k *Keyring) endSession() bool {
	if k.session == nil {
		return false
	}
	k.session.zero()
	k.session = nil
	return true
}

// armTimer (re)starts the inactivity timer. Caller holds mu.
func (k *Keyring) armTimer() {
	s := k.session
	if s == nil {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	gen := s.gen

	timeout, err := k.lockTimeout()
	if err != nil {
		log.Warn("failed to read lock timeout, using default: ", err)
		timeout = k.opts.LockTimeout
	}
	s.timer = time.AfterFunc(timeout, func() { k.expire(gen) })
}

// expire locks the wallet unless activity re-armed the timer since gen.
func (k *Keyring) expire(gen uint64) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.session == nil || k.session.gen != gen {
		return
	}
	k.endSession()
	log.Info("wallet locked after inactivity")
	k.emit(Event{Kind: EventLockChanged, Locked: true})
}

func (k *Keyring) lockTimeout() (time.Duration, error) {
	s, err := k.loadSettings()
	if err != nil {
		return 0, err
	}
	if s.LockTimeoutSec <= 0 {
		return k.opts.LockTimeout, nil
	}
	return time.Duration(s.LockTimeoutSec) * time.Second, nil
}

func (k *Keyring) requireUnlocked() error {
	if k.session == nil {
		return prt.ErrWalletLocked
	}
	return nil
}

// requireSource fails unless both the wallet and src are unlocked.
func (k *Keyring) requireSource(src *wallet.SourceRecord) error {
	if k.session == nil {
		return prt.ErrWalletLocked
	}
	if !k.session.sources[src.ID] {
		return prt.ErrSourceLocked.WithMessage("account source %s is locked", src.ID)
	}
	return nil
}

func (k *Keyring) lockStateOf(sourceID string) wallet.LockState {
	if k.session != nil && k.session.sources[sourceID] {
		return wallet.Unlocked
	}
	return wallet.Locked
}

// vaultKey returns the session vault key.
func (k *Keyring) vaultKey() (*crypto.Secret, error) {
	if k.session == nil {
		return nil, prt.ErrWalletLocked
	}
	if k.session.vek == nil {
		return nil, prt.ErrMigrationRequired
	}
	return k.session.vek, nil
}

// checkPassword verifies password against the current stored hash. A
// missing vault reports the same error as a wrong password.
func (k *Keyring) checkPassword(meta *vaultMeta, password string) error {
	if meta == nil {
		return prt.ErrInvalidPassword
	}
	ok, err := crypto.CheckPassword([]byte(password), meta.PasswordHash)
	if err != nil {
		return internal(err)
	}
	if !ok {
		return prt.ErrInvalidPassword
	}
	return nil
}
