package session

import (
	"github.com/abcfe/abcfe-wallet/common/logger"
	"github.com/abcfe/abcfe-wallet/message"
)

const subscriberBuffer = 16

// State is the non-secret view of the background mirrored by the facade.
type State struct {
	Connected           bool
	Locked              bool
	Network             string
	ActiveOrigin        string
	Features            map[string]bool
	PermissionRequests  []message.PermissionRequest
	TransactionRequests []message.TransactionRequest
	LastEntityUpdate    string
}

func (s State) clone() State {
	c := s
	if s.Features != nil {
		c.Features = make(map[string]bool, len(s.Features))
		for k, v := range s.Features {
			c.Features[k] = v
		}
	}
	c.PermissionRequests = append([]message.PermissionRequest(nil), s.PermissionRequests...)
	c.TransactionRequests = append([]message.TransactionRequest(nil), s.TransactionRequests...)
	return c
}

// State returns a snapshot of the mirrored state.
func (f *Facade) State() State {
	f.stateMu.Lock()
	defer f.stateMu.Unlock()
	return f.state.clone()
}

// Subscribe returns a channel receiving a snapshot after every change,
// starting with the current one. Slow subscribers only see the latest.
func (f *Facade) Subscribe() (<-chan State, func()) {
	ch := make(chan State, subscriberBuffer)

	f.stateMu.Lock()
	id := f.nextSub
	f.nextSub++
	f.subs[id] = ch
	ch <- f.state.clone()
	f.stateMu.Unlock()

	return ch, func() {
		f.stateMu.Lock()
		defer f.stateMu.Unlock()
		if c, ok := f.subs[id]; ok {
			close(c)
			delete(f.subs, id)
		}
	}
}

func (f *Facade) update(fn func(*State)) {
	f.stateMu.Lock()
	defer f.stateMu.Unlock()

	fn(&f.state)
	for _, ch := range f.subs {
		publish(ch, f.state.clone())
	}
}

func publish(ch chan State, s State) {
	select {
	case ch <- s:
		return
	default:
	}
	// full: drop the oldest snapshot
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- s:
	default:
	}
}

// route applies one broadcast to the mirrored state. Unknown discriminants
// are ignored.
func (f *Facade) route(e *message.Envelope) {
	switch e.Type {
	case message.TypePermissionRequestsUpdated:
		if p, ok := decode[message.PermissionRequestsUpdated](e); ok {
			f.update(func(s *State) { s.PermissionRequests = p.Requests })
		}
	case message.TypeTransactionRequestsUpdated:
		if p, ok := decode[message.TransactionRequestsUpdated](e); ok {
			f.update(func(s *State) { s.TransactionRequests = p.Requests })
		}
	case message.TypeActiveOriginChanged:
		if p, ok := decode[message.ActiveOriginChanged](e); ok {
			f.update(func(s *State) { s.ActiveOrigin = p.Origin })
		}
	case message.TypeFeaturesLoaded:
		if p, ok := decode[message.FeaturesLoaded](e); ok {
			f.update(func(s *State) { s.Features = p.Features })
		}
	case message.TypeNetworkChanged:
		if p, ok := decode[message.NetworkChanged](e); ok {
			f.update(func(s *State) { s.Network = p.Network })
		}
	case message.TypeEntityUpdated:
		if p, ok := decode[message.EntityUpdated](e); ok {
			f.update(func(s *State) { s.LastEntityUpdate = p.Entity })
		}
	case message.TypeLockStatusChanged:
		if p, ok := decode[message.LockStatusChanged](e); ok {
			f.update(func(s *State) { s.Locked = p.Locked })
		}
	default:
		logger.Debug("ignoring broadcast ", e.Type)
	}
}

func decode[T any](e *message.Envelope) (*T, bool) {
	p, err := message.Decode[T](e)
	if err != nil {
		logger.Warn("bad ", e.Type, " broadcast: ", err)
		return nil, false
	}
	return p, true
}
