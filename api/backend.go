package api

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/abcfe/abcfe-wallet/common/logger"
	"github.com/abcfe/abcfe-wallet/keyring"
	"github.com/abcfe/abcfe-wallet/message"
	prt "github.com/abcfe/abcfe-wallet/protocol"
	"github.com/abcfe/abcfe-wallet/transport"
)

// handlerFunc answers one request; the returned payload becomes the body of
// the registered success response.
type handlerFunc func(req *message.Envelope) (interface{}, error)

// Backend serves UI channels against the keyring.
type Backend struct {
	kr      *keyring.Keyring
	hub     *Hub
	dapp    *Dapp
	limiter *RateLimiter

	handlers    map[message.Type]handlerFunc
	unsubscribe func()
	wg          sync.WaitGroup
}

func NewBackend(kr *keyring.Keyring, hub *Hub, dapp *Dapp, limiter *RateLimiter) *Backend {
	b := &Backend{
		kr:      kr,
		hub:     hub,
		dapp:    dapp,
		limiter: limiter,
	}
	b.handlers = b.handlerTable()
	b.unsubscribe = kr.Subscribe(b.onKeyringEvent)
	return b
}

// Close detaches from keyring events and waits for in-flight requests.
func (b *Backend) Close() {
	b.unsubscribe()
	b.wg.Wait()
}

// Serve runs one UI channel until it disconnects. peer keys the password
// attempt limiter, so it should survive reconnects of the same client.
func (b *Backend) Serve(ctx context.Context, peer string, ch transport.Channel) {
	b.hub.Register(ch)
	defer func() {
		b.hub.Unregister(ch)
		ch.Close()
	}()

	logger.Info("UI channel ", ch.Name(), " opened by ", peer)
	b.push(ctx, ch, message.TypeFeaturesLoaded, message.FeaturesLoaded{Features: b.dapp.Features()})

	for {
		select {
		case e := <-ch.Messages():
			b.handle(ctx, peer, ch, e)
		case <-ch.Done():
			logger.Info("UI channel ", ch.Name(), " closed by ", peer)
			return
		case <-ctx.Done():
			return
		}
	}
}

func (b *Backend) push(ctx context.Context, ch transport.Channel, t message.Type, payload interface{}) {
	env, err := message.NewBroadcast(t, message.OriginBackground, payload)
	if err != nil {
		logger.Error("Failed to build ", t, " broadcast: ", err)
		return
	}
	if err := ch.Send(ctx, env); err != nil {
		logger.Debug("push ", t, " failed: ", err)
	}
}

func (b *Backend) handle(ctx context.Context, peer string, ch transport.Channel, e *message.Envelope) {
	switch e.Kind {
	case message.KindRequest:
		// requests run concurrently; the keyring serializes mutations
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			resp := b.respond(peer, e)
			if err := ch.Send(ctx, resp); err != nil {
				logger.Debug("response to ", e.Type, " not delivered: ", err)
			}
		}()
	case message.KindBroadcast:
		if e.Type != message.TypeAppStatusUpdate {
			logger.Debug("ignoring UI broadcast ", e.Type)
			return
		}
		p, err := message.Decode[message.AppStatusUpdate](e)
		if err != nil {
			logger.Debug("bad activity ping: ", err)
			return
		}
		if p.Active {
			b.kr.Touch()
		}
	default:
		logger.Debug("ignoring ", e.Kind, " envelope ", e.Type, " from UI")
	}
}

// respond always produces a response correlated to req.
func (b *Backend) respond(peer string, req *message.Envelope) (resp *message.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("handler panic on ", req.Type, ": ", r)
			resp = message.NewErrorResponse(req, prt.ErrInternal)
		}
	}()

	h, ok := b.handlers[req.Type]
	if !ok {
		return message.NewErrorResponse(req, prt.ErrInvalidRequest.WithMessage("unknown request %s", req.Type))
	}
	if message.PasswordBearing(req.Type) && !b.limiter.Allow(peer) {
		logger.Warn("password attempts throttled for ", peer)
		return message.NewErrorResponse(req, prt.ErrRateLimited)
	}

	payload, err := h(req)
	if err != nil {
		var pe *prt.Error
		if !errors.As(err, &pe) || errors.Is(err, prt.ErrInternal) {
			logger.Error(req.Type, " failed: ", err)
		}
		return message.NewErrorResponse(req, err)
	}

	resp, err = message.NewResponse(req, payload)
	if err != nil {
		logger.Error(fmt.Sprintf("building %s response: %v", req.Type, err))
		return message.NewErrorResponse(req, prt.ErrInternal)
	}
	return resp
}
