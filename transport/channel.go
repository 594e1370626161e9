package transport

import (
	"context"

	"github.com/abcfe/abcfe-wallet/message"
	prt "github.com/abcfe/abcfe-wallet/protocol"
)

// MaxFrameSize caps one encoded envelope on every transport.
const MaxFrameSize = 10 * 1024 * 1024

// ErrChannelNotConnected is returned by Send once the channel is gone.
var ErrChannelNotConnected = prt.ErrChannelNotConnected

// Channel is one bidirectional, ordered envelope stream between a UI and the
// background. Messages is never closed; Done closes when the peer is gone.
type Channel interface {
	Name() string
	Send(ctx context.Context, e *message.Envelope) error
	Messages() <-chan *message.Envelope
	Done() <-chan struct{}
	Close() error
}

// Dialer opens a channel to the background under the given name.
type Dialer func(ctx context.Context, name string) (Channel, error)
