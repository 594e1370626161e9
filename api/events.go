package api

import (
	"github.com/abcfe/abcfe-wallet/keyring"
	"github.com/abcfe/abcfe-wallet/message"
)

// EntityConnectionRequests is the entity-updated tag for external
// connection request changes.
const EntityConnectionRequests = "connectionRequests"

func (b *Backend) onKeyringEvent(ev keyring.Event) {
	switch ev.Kind {
	case keyring.EventLockChanged:
		b.hub.BroadcastPayload(message.TypeLockStatusChanged, message.LockStatusChanged{Locked: ev.Locked})
	case keyring.EventEntityUpdated:
		b.hub.BroadcastPayload(message.TypeEntityUpdated, message.EntityUpdated{Entity: ev.Entity})
	case keyring.EventConnectionRequestsChanged:
		b.hub.BroadcastPayload(message.TypeEntityUpdated, message.EntityUpdated{Entity: EntityConnectionRequests})
	}
}
