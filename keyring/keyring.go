package keyring

import (
	"sync"
	"time"

	"github.com/abcfe/abcfe-wallet/common/crypto"
	log "github.com/abcfe/abcfe-wallet/common/logger"
	"github.com/abcfe/abcfe-wallet/config"
	"github.com/abcfe/abcfe-wallet/storage"
)

type State string

const (
	Uninitialized State = "Uninitialized"
	Locked        State = "Locked"
	Unlocked      State = "Unlocked"
)

type Options struct {
	LockTimeout    time.Duration
	MinLockTimeout time.Duration
	MaxLockTimeout time.Duration
	KDF            crypto.KDFParams
	ConnectionTTL  time.Duration
	Now            func() time.Time
}

func DefaultOptions() Options {
	return Options{
		LockTimeout:    15 * time.Minute,
		MinLockTimeout: time.Minute,
		MaxLockTimeout: 24 * time.Hour,
		KDF:            crypto.KDFParams{Time: 3, MemoryKiB: 64 * 1024, Threads: 4},
		ConnectionTTL:  5 * time.Minute,
		Now:            time.Now,
	}
}

func OptionsFromConfig(cfg *config.Config) Options {
	kc := cfg.Keyring
	return Options{
		LockTimeout:    cfg.LockTimeout(),
		MinLockTimeout: time.Duration(kc.MinLockTimeoutMin) * time.Minute,
		MaxLockTimeout: time.Duration(kc.MaxLockTimeoutMin) * time.Minute,
		KDF:            crypto.KDFParams{Time: kc.Argon2Time, MemoryKiB: kc.Argon2MemoryKiB, Threads: kc.Argon2Threads},
		ConnectionTTL:  cfg.ConnectionRequestTTL(),
		Now:            time.Now,
	}
}

// Keyring is the privileged owner of every account, source and the vault
// session. All vault mutations go through mu; reads take it shared.
type Keyring struct {
	mu      sync.RWMutex
	store   storage.KVStore
	opts    Options
	session *vaultSession

	// migrating is the compare-and-set guard that keeps a second migration
	// from queueing behind mu.
	migMu     sync.Mutex
	migrating bool

	conns *connRegistry

	subsMu  sync.RWMutex
	subs    map[int]func(Event)
	nextSub int
}

func New(store storage.KVStore, opts Options) (*Keyring, error) {
	def := DefaultOptions()
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = def.LockTimeout
	}
	if opts.MinLockTimeout <= 0 {
		opts.MinLockTimeout = def.MinLockTimeout
	}
	if opts.MaxLockTimeout <= 0 {
		opts.MaxLockTimeout = def.MaxLockTimeout
	}
	if opts.KDF.Time == 0 {
		opts.KDF = def.KDF
	}
	if opts.ConnectionTTL <= 0 {
		opts.ConnectionTTL = def.ConnectionTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	k := &Keyring{
		store: store,
		opts:  opts,
		subs:  make(map[int]func(Event)),
	}
	k.conns = newConnRegistry(k)

	if err := k.recoverMigration(); err != nil {
		return nil, err
	}

	state, _ := k.State()
	log.Info("keyring ready, state: ", state)
	return k, nil
}

// State reports the lifecycle state from persisted meta and the session.
func (k *Keyring) State() (State, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.state()
}

func (k *Keyring) state() (State, error) {
	if k.session != nil {
		return Unlocked, nil
	}
	ok, err := k.store.Has(metaKey())
	if err != nil {
		return "", internal(err)
	}
	if !ok {
		return Uninitialized, nil
	}
	return Locked, nil
}

// Close locks the vault and stops every timer.
func (k *Keyring) Close() {
	k.mu.Lock()
	k.endSession()
	k.mu.Unlock()

	k.conns.stop()
}

func (k *Keyring) now() time.Time {
	return k.opts.Now()
}
