package transport

import (
	"context"
	"sync"
	"time"

	"github.com/abcfe/abcfe-wallet/common/logger"
	"github.com/abcfe/abcfe-wallet/message"
	prt "github.com/abcfe/abcfe-wallet/protocol"
)

type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Resubscriber refreshes remote state after a connection is (re)established.
type Resubscriber func(ctx context.Context) error

type ReconnectOptions struct {
	MinBackoff         time.Duration
	MaxBackoff         time.Duration
	MaxResubscriptions int
	// OnState is called from the run loop on every transition, in order.
	OnState func(ConnState)
}

func DefaultReconnectOptions() ReconnectOptions {
	return ReconnectOptions{
		MinBackoff:         250 * time.Millisecond,
		MaxBackoff:         10 * time.Second,
		MaxResubscriptions: 8,
	}
}

// Inbound is one item of a Reconnector's merged stream. Exactly one of
// Envelope and EndOfChannel is set.
type Inbound struct {
	Envelope *message.Envelope
	// EndOfChannel follows the last envelope of a physical channel. The
	// consumer closes it once work tied to that channel is settled; the run
	// loop does not redial before then.
	EndOfChannel chan struct{}
}

// Reconnector keeps one logical channel alive over successive physical ones.
// Inbound envelopes from every physical channel are merged into Messages.
type Reconnector struct {
	name string
	dial Dialer
	opts ReconnectOptions

	mu     sync.Mutex
	state  ConnState
	ch     Channel
	resubs []Resubscriber

	msgs     chan Inbound
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewReconnector(name string, dial Dialer, opts ReconnectOptions) *Reconnector {
	def := DefaultReconnectOptions()
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = def.MinBackoff
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = opts.MinBackoff
	}
	if opts.MaxResubscriptions <= 0 {
		opts.MaxResubscriptions = def.MaxResubscriptions
	}
	return &Reconnector{
		name:   name,
		dial:   dial,
		opts:   opts,
		msgs:   make(chan Inbound, sendQueue),
		stopCh: make(chan struct{}),
	}
}

// AddResubscription registers fn to run after every successful connect.
func (r *Reconnector) AddResubscription(fn Resubscriber) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.resubs) >= r.opts.MaxResubscriptions {
		return prt.ErrInvalidRequest.WithMessage("too many resubscriptions (max %d)", r.opts.MaxResubscriptions)
	}
	r.resubs = append(r.resubs, fn)
	return nil
}

func (r *Reconnector) State() ConnState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Reconnector) Messages() <-chan Inbound { return r.msgs }

// Send writes on the current physical channel.
func (r *Reconnector) Send(ctx context.Context, e *message.Envelope) error {
	r.mu.Lock()
	ch := r.ch
	r.mu.Unlock()

	if ch == nil {
		return ErrChannelNotConnected
	}
	return ch.Send(ctx, e)
}

// Run dials, pumps and redials with exponential backoff until ctx is done
// or Close is called.
func (r *Reconnector) Run(ctx context.Context) {
	backoff := r.opts.MinBackoff
	for {
		if r.stopped(ctx) {
			r.setState(StateDisconnected)
			return
		}

		r.setState(StateConnecting)
		ch, err := r.dial(ctx, r.name)
		if err != nil {
			logger.Debug("dial ", r.name, " failed, retry in ", backoff, ": ", err)
			r.setState(StateDisconnected)
			if !r.sleep(ctx, backoff) {
				return
			}
			backoff *= 2
			if backoff > r.opts.MaxBackoff {
				backoff = r.opts.MaxBackoff
			}
			continue
		}
		backoff = r.opts.MinBackoff

		r.mu.Lock()
		r.ch = ch
		r.mu.Unlock()
		r.setState(StateConnected)
		logger.Info("channel ", r.name, " connected")

		go r.resubscribe(ctx)
		r.pump(ctx, ch)

		r.mu.Lock()
		r.ch = nil
		r.mu.Unlock()
		ch.Close()
		r.endOfChannel(ctx)
		r.setState(StateDisconnected)
		logger.Info("channel ", r.name, " disconnected")
	}
}

// Close stops the run loop and drops the current channel.
func (r *Reconnector) Close() {
	r.stopOnce.Do(func() { close(r.stopCh) })

	r.mu.Lock()
	ch := r.ch
	r.mu.Unlock()
	if ch != nil {
		ch.Close()
	}
}

func (r *Reconnector) pump(ctx context.Context, ch Channel) {
	for {
		select {
		case e := <-ch.Messages():
			if !r.forward(ctx, e) {
				return
			}
		case <-ch.Done():
			// deliver what arrived before the disconnect
			for {
				select {
				case e := <-ch.Messages():
					if !r.forward(ctx, e) {
						return
					}
				default:
					return
				}
			}
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		}
	}
}

func (r *Reconnector) forward(ctx context.Context, e *message.Envelope) bool {
	return r.push(ctx, Inbound{Envelope: e})
}

// endOfChannel queues the marker behind everything already forwarded and
// waits for the consumer to settle it.
func (r *Reconnector) endOfChannel(ctx context.Context) {
	done := make(chan struct{})
	if !r.push(ctx, Inbound{EndOfChannel: done}) {
		return
	}
	select {
	case <-done:
	case <-ctx.Done():
	case <-r.stopCh:
	}
}

func (r *Reconnector) push(ctx context.Context, in Inbound) bool {
	select {
	case r.msgs <- in:
		return true
	case <-ctx.Done():
		return false
	case <-r.stopCh:
		return false
	}
}

func (r *Reconnector) resubscribe(ctx context.Context) {
	r.mu.Lock()
	resubs := append([]Resubscriber(nil), r.resubs...)
	r.mu.Unlock()

	for _, fn := range resubs {
		if err := fn(ctx); err != nil {
			logger.Warn("resubscription on ", r.name, " failed: ", err)
		}
	}
}

func (r *Reconnector) setState(s ConnState) {
	r.mu.Lock()
	changed := r.state != s
	r.state = s
	r.mu.Unlock()

	if changed && r.opts.OnState != nil {
		r.opts.OnState(s)
	}
}

func (r *Reconnector) stopped(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-r.stopCh:
		return true
	default:
		return false
	}
}

func (r *Reconnector) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	case <-r.stopCh:
		return false
	}
}
