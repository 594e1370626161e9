package transport

import (
	"context"
	"sync"

	"github.com/abcfe/abcfe-wallet/message"
)

const pipeBuffer = 64

type pipe struct {
	done      chan struct{}
	closeOnce sync.Once
}

type pipeEnd struct {
	name string
	in   chan *message.Envelope
	peer *pipeEnd
	p    *pipe
}

// Pipe returns two connected in-memory channel ends. Closing either end
// disconnects both.
func Pipe(name string) (Channel, Channel) {
	p := &pipe{done: make(chan struct{})}
	a := &pipeEnd{name: name, in: make(chan *message.Envelope, pipeBuffer), p: p}
	b := &pipeEnd{name: name, in: make(chan *message.Envelope, pipeBuffer), p: p}
	a.peer, b.peer = b, a
	return a, b
}

func (e *pipeEnd) Name() string { return e.name }

func (e *pipeEnd) Send(ctx context.Context, env *message.Envelope) error {
	select {
	case <-e.p.done:
		return ErrChannelNotConnected
	default:
	}

	select {
	case e.peer.in <- env:
		return nil
	case <-e.p.done:
		return ErrChannelNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *pipeEnd) Messages() <-chan *message.Envelope { return e.in }

func (e *pipeEnd) Done() <-chan struct{} { return e.p.done }

func (e *pipeEnd) Close() error {
	e.p.closeOnce.Do(func() { close(e.p.done) })
	return nil
}
