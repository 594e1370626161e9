package session

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/abcfe/abcfe-wallet/common/logger"
	"github.com/abcfe/abcfe-wallet/config"
	"github.com/abcfe/abcfe-wallet/message"
	prt "github.com/abcfe/abcfe-wallet/protocol"
	"github.com/abcfe/abcfe-wallet/transport"
)

type Options struct {
	ChannelName      string
	RequestTimeout   time.Duration
	ActivityInterval time.Duration
	Reconnect        transport.ReconnectOptions
}

func DefaultOptions() Options {
	return Options{
		ChannelName:      config.DefaultChannelName,
		RequestTimeout:   time.Minute,
		ActivityInterval: 30 * time.Second,
		Reconnect:        transport.DefaultReconnectOptions(),
	}
}

func OptionsFromConfig(cfg *config.Config) Options {
	s := cfg.Session
	return Options{
		ChannelName:      cfg.Server.ChannelName,
		RequestTimeout:   time.Duration(s.RequestTimeoutSec) * time.Second,
		ActivityInterval: time.Duration(s.ActivityIntervalSec) * time.Second,
		Reconnect: transport.ReconnectOptions{
			MinBackoff:         time.Duration(s.ReconnectMinMs) * time.Millisecond,
			MaxBackoff:         time.Duration(s.ReconnectMaxMs) * time.Millisecond,
			MaxResubscriptions: s.MaxResubscriptions,
		},
	}
}

// Facade is the UI side of one channel: typed calls correlated by envelope
// id, plus local state mirrored from background broadcasts. It never holds
// secret material beyond the lifetime of a call.
type Facade struct {
	opts Options
	conn *transport.Reconnector

	pendMu  sync.Mutex
	pending map[string]chan *message.Envelope

	stateMu sync.Mutex
	state   State
	subs    map[int]chan State
	nextSub int

	active atomic.Bool

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func New(dial transport.Dialer, opts Options) *Facade {
	def := DefaultOptions()
	if opts.ChannelName == "" {
		opts.ChannelName = def.ChannelName
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = def.RequestTimeout
	}
	if opts.ActivityInterval <= 0 {
		opts.ActivityInterval = def.ActivityInterval
	}

	f := &Facade{
		opts:    opts,
		pending: make(map[string]chan *message.Envelope),
		subs:    make(map[int]chan State),
	}
	f.active.Store(true)

	ropts := opts.Reconnect
	ropts.OnState = f.onConnState
	f.conn = transport.NewReconnector(opts.ChannelName, dial, ropts)

	for _, fn := range []transport.Resubscriber{
		f.refreshStatus,
		f.refreshPermissionRequests,
		f.refreshTransactionRequests,
		f.refreshNetwork,
		f.refreshFeatures,
	} {
		if err := f.conn.AddResubscription(fn); err != nil {
			logger.Warn("resubscription dropped: ", err)
		}
	}
	return f
}

// Start connects in the background and begins routing inbound envelopes.
func (f *Facade) Start(ctx context.Context) {
	ctx, f.cancel = context.WithCancel(ctx)

	f.wg.Add(3)
	go func() {
		defer f.wg.Done()
		f.conn.Run(ctx)
	}()
	go func() {
		defer f.wg.Done()
		f.dispatchLoop(ctx)
	}()
	go func() {
		defer f.wg.Done()
		f.activityLoop(ctx)
	}()
}

// Close tears the facade down. Pending calls fail with ChannelNotConnected.
func (f *Facade) Close() {
	f.closeOnce.Do(func() {
		if f.cancel != nil {
			f.cancel()
		}
		f.conn.Close()
		f.wg.Wait()
		f.failPending()

		f.stateMu.Lock()
		for id, ch := range f.subs {
			close(ch)
			delete(f.subs, id)
		}
		f.stateMu.Unlock()
	})
}

// WaitConnected blocks until the channel is up or ctx is done.
func (f *Facade) WaitConnected(ctx context.Context) error {
	states, cancel := f.Subscribe()
	defer cancel()

	for {
		select {
		case s, ok := <-states:
			if !ok {
				return prt.ErrChannelNotConnected
			}
			if s.Connected {
				return nil
			}
		case <-ctx.Done():
			return prt.ErrChannelNotConnected.WithMessage("background not reachable: %v", ctx.Err())
		}
	}
}

// SetActive controls whether activity pings are sent, e.g. while the UI is visible.
func (f *Facade) SetActive(active bool) {
	f.active.Store(active)
}

// call sends one request and waits for its correlated response. out, when
// non-nil, receives the decoded success payload.
func (f *Facade) call(ctx context.Context, t message.Type, payload, out interface{}) error {
	want, ok := message.ResponseTypeFor(t)
	if !ok {
		return prt.ErrInvalidRequest.WithMessage("%s is not a request", t)
	}
	req, err := message.NewRequest(t, payload)
	if err != nil {
		return err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.opts.RequestTimeout)
		defer cancel()
	}

	ch := make(chan *message.Envelope, 1)
	f.pendMu.Lock()
	f.pending[req.ID] = ch
	f.pendMu.Unlock()
	defer f.forget(req.ID)

	if err := f.conn.Send(ctx, req); err != nil {
		return err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return prt.ErrChannelNotConnected
		}
		if resp.IsError() {
			return resp.Error
		}
		if resp.Type != want {
			logger.Error("unexpected response to ", t, ": got ", resp.Type, ", want ", want)
			return prt.ErrUnexpectedResponseShape.WithMessage("%s answered with %s", t, resp.Type)
		}
		if out != nil && len(resp.Payload) > 0 {
			if err := json.Unmarshal(resp.Payload, out); err != nil {
				logger.Error("malformed ", resp.Type, " payload: ", err)
				return prt.ErrUnexpectedResponseShape.WithMessage("malformed %s payload", resp.Type)
			}
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Facade) forget(id string) {
	f.pendMu.Lock()
	delete(f.pending, id)
	f.pendMu.Unlock()
}

// resolve hands a response to its waiting call at most once.
func (f *Facade) resolve(e *message.Envelope) {
	f.pendMu.Lock()
	ch, ok := f.pending[e.ID]
	if ok {
		delete(f.pending, e.ID)
	}
	f.pendMu.Unlock()

	if !ok {
		logger.Debug("dropping response for unknown request ", e.ID, " (", e.Type, ")")
		return
	}
	ch <- e
}

func (f *Facade) failPending() {
	f.pendMu.Lock()
	defer f.pendMu.Unlock()

	for id, ch := range f.pending {
		close(ch)
		delete(f.pending, id)
	}
}

func (f *Facade) onConnState(s transport.ConnState) {
	switch s {
	case transport.StateConnected:
		f.update(func(st *State) { st.Connected = true })
	case transport.StateDisconnected:
		f.update(func(st *State) { st.Connected = false })
	}
}

func (f *Facade) dispatchLoop(ctx context.Context) {
	for {
		select {
		case in := <-f.conn.Messages():
			if in.EndOfChannel != nil {
				// everything the old channel delivered is already routed
				f.failPending()
				close(in.EndOfChannel)
				continue
			}
			e := in.Envelope
			switch e.Kind {
			case message.KindResponse:
				f.resolve(e)
			case message.KindBroadcast:
				f.route(e)
			default:
				logger.Debug("ignoring ", e.Kind, " envelope ", e.Type)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (f *Facade) activityLoop(ctx context.Context) {
	ticker := time.NewTicker(f.opts.ActivityInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !f.active.Load() || f.conn.State() != transport.StateConnected {
				continue
			}
			ping, err := message.NewBroadcast(message.TypeAppStatusUpdate, message.OriginUI, message.AppStatusUpdate{Active: true})
			if err != nil {
				logger.Error("activity ping: ", err)
				continue
			}
			if err := f.conn.Send(ctx, ping); err != nil {
				logger.Debug("activity ping not sent: ", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
