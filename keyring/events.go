package keyring

type EventKind int

const (
	EventLockChanged EventKind = iota
	EventEntityUpdated
	EventConnectionRequestsChanged
)

// Entities named by EventEntityUpdated
const (
	EntityAccounts       = "accounts"
	EntityAccountSources = "accountSources"
)

type Event struct {
	Kind   EventKind
	Locked bool   // EventLockChanged
	Entity string // EventEntityUpdated
}

// Subscribe registers fn for keyring events and returns its cancel func.
// fn runs synchronously in emission order and must not call back into the Keyring.
func (k *Keyring) Subscribe(fn func(Event)) func() {
	k.subsMu.Lock()
	id := k.nextSub
	k.nextSub++
	k.subs[id] = fn
	k.subsMu.Unlock()

	return func() {
		k.subsMu.Lock()
		delete(k.subs, id)
		k.subsMu.Unlock()
	}
}

func (k *Keyring) emit(ev Event) {
	k.subsMu.RLock()
	defer k.subsMu.RUnlock()

	for _, fn := range k.subs {
		fn(ev)
	}
}

func (k *Keyring) emitEntities(entities ...string) {
	for _, e := range entities {
		k.emit(Event{Kind: EventEntityUpdated, Entity: e})
	}
}
