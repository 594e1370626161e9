package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/abcfe/abcfe-wallet/message"
	prt "github.com/abcfe/abcfe-wallet/protocol"
	"github.com/gorilla/websocket"
)

func request(t *testing.T, i int) *message.Envelope {
	t.Helper()
	req, err := message.NewRequest(message.TypeSetAccountNickname, message.SetAccountNicknameRequest{ID: "a", Nickname: fmt.Sprint(i)})
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	return req
}

func receive(t *testing.T, ch <-chan *message.Envelope) *message.Envelope {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for envelope")
		return nil
	}
}

func receiveInbound(t *testing.T, r *Reconnector) Inbound {
	t.Helper()
	select {
	case in := <-r.Messages():
		return in
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for inbound item")
		return Inbound{}
	}
}

// sendInOrder checks that n envelopes arrive in send order with their ids intact.
func sendInOrder(t *testing.T, from, to Channel, n int) {
	t.Helper()
	ctx := context.Background()
	envs := make([]*message.Envelope, n)
	for i := range envs {
		envs[i] = request(t, i)
	}
	go func() {
		for i, e := range envs {
			if err := from.Send(ctx, e); err != nil {
				t.Errorf("send %d: %v", i, err)
				return
			}
		}
	}()

	for i := 0; i < n; i++ {
		e := receive(t, to.Messages())
		p, err := message.Decode[message.SetAccountNicknameRequest](e)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if p.Nickname != fmt.Sprint(i) {
			t.Fatalf("envelope %d arrived out of order: %s", i, p.Nickname)
		}
	}
}

func TestPipeOrderAndClose(t *testing.T) {
	a, b := Pipe("ui")
	sendInOrder(t, a, b, 100)
	sendInOrder(t, b, a, 100)

	b.Close()
	select {
	case <-a.Done():
	case <-time.After(time.Second):
		t.Fatal("closing one end should disconnect the other")
	}
	if err := a.Send(context.Background(), request(t, 0)); !errors.Is(err, prt.ErrChannelNotConnected) {
		t.Fatalf("send after close: %v", err)
	}
}

func TestStreamFraming(t *testing.T) {
	c1, c2 := net.Pipe()
	a := NewStreamChannel("ui", c1)
	b := NewStreamChannel("ui", c2)
	defer a.Close()
	defer b.Close()

	sendInOrder(t, a, b, 50)
	sendInOrder(t, b, a, 50)
}

func writeRaw(t *testing.T, conn net.Conn, body []byte) {
	t.Helper()
	packet := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(packet, uint32(len(body)))
	copy(packet[4:], body)
	if _, err := conn.Write(packet); err != nil {
		t.Fatalf("write raw: %v", err)
	}
}

func TestStreamDropsMalformedFrame(t *testing.T) {
	raw, c2 := net.Pipe()
	ch := NewStreamChannel("ui", c2)
	defer ch.Close()
	defer raw.Close()

	writeRaw(t, raw, []byte("{not json"))
	good, _ := message.Marshal(request(t, 7))
	writeRaw(t, raw, good)

	e := receive(t, ch.Messages())
	p, _ := message.Decode[message.SetAccountNicknameRequest](e)
	if p.Nickname != "7" {
		t.Fatalf("expected the well formed frame, got %+v", p)
	}
}

func TestStreamRejectsOversizedFrame(t *testing.T) {
	raw, c2 := net.Pipe()
	ch := NewStreamChannel("ui", c2)
	defer raw.Close()

	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, MaxFrameSize+1)
	go raw.Write(header)

	select {
	case <-ch.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("oversized frame should close the channel")
	}
}

func wsServer(t *testing.T, accepted chan<- Channel) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		accepted <- NewWSChannel(strings.TrimPrefix(r.URL.Path, "/port/"), conn)
	}))
}

func TestWebSocketChannel(t *testing.T) {
	accepted := make(chan Channel, 1)
	srv := wsServer(t, accepted)
	defer srv.Close()

	dial := DialWS("ws" + strings.TrimPrefix(srv.URL, "http"))
	client, err := dial(context.Background(), "ui")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	var server Channel
	select {
	case server = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("server never accepted")
	}
	if server.Name() != "ui" {
		t.Fatalf("server saw channel name %q", server.Name())
	}

	sendInOrder(t, client, server, 100)
	sendInOrder(t, server, client, 100)

	server.Close()
	select {
	case <-client.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client should observe the disconnect")
	}
	if err := client.Send(context.Background(), request(t, 0)); !errors.Is(err, prt.ErrChannelNotConnected) {
		t.Fatalf("send after disconnect: %v", err)
	}
}

// pipeDialer hands the far end of every dialed pipe to the test.
type pipeDialer struct {
	fail  int32
	dials int32
	peers chan Channel
}

func newPipeDialer() *pipeDialer {
	return &pipeDialer{peers: make(chan Channel, 16)}
}

func (d *pipeDialer) dial(ctx context.Context, name string) (Channel, error) {
	atomic.AddInt32(&d.dials, 1)
	if atomic.LoadInt32(&d.fail) > 0 {
		atomic.AddInt32(&d.fail, -1)
		return nil, errors.New("connection refused")
	}
	a, b := Pipe(name)
	d.peers <- b
	return a, nil
}

func (d *pipeDialer) next(t *testing.T) Channel {
	t.Helper()
	select {
	case p := <-d.peers:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("no connection")
		return nil
	}
}

type stateLog struct {
	mu     sync.Mutex
	states []ConnState
}

func (l *stateLog) add(s ConnState) {
	l.mu.Lock()
	l.states = append(l.states, s)
	l.mu.Unlock()
}

func (l *stateLog) waitFor(t *testing.T, s ConnState, count int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		l.mu.Lock()
		n := 0
		for _, x := range l.states {
			if x == s {
				n++
			}
		}
		l.mu.Unlock()
		if n >= count {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state %s not reached %d times", s, count)
}

func TestReconnectorRedialsAndResubscribes(t *testing.T) {
	d := newPipeDialer()
	d.fail = 2
	log := &stateLog{}

	r := NewReconnector("ui", d.dial, ReconnectOptions{
		MinBackoff: time.Millisecond,
		MaxBackoff: 4 * time.Millisecond,
		OnState:    log.add,
	})
	var resubs int32
	if err := r.AddResubscription(func(ctx context.Context) error {
		atomic.AddInt32(&resubs, 1)
		return nil
	}); err != nil {
		t.Fatalf("add resubscription: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	peer := d.next(t)
	log.waitFor(t, StateConnected, 1)
	if got := atomic.LoadInt32(&d.dials); got != 3 {
		t.Fatalf("expected 3 dials after 2 failures, got %d", got)
	}

	if err := r.Send(ctx, request(t, 1)); err != nil {
		t.Fatalf("send: %v", err)
	}
	receive(t, peer.Messages())
	if err := peer.Send(ctx, request(t, 2)); err != nil {
		t.Fatalf("peer send: %v", err)
	}
	if in := receiveInbound(t, r); in.Envelope == nil {
		t.Fatal("expected the peer's envelope")
	}

	// drop the connection, expect a fresh one and another resubscription
	peer.Close()
	in := receiveInbound(t, r)
	if in.EndOfChannel == nil {
		t.Fatalf("expected end of channel, got %+v", in)
	}
	if got := atomic.LoadInt32(&d.dials); got != 3 {
		t.Fatalf("redialed before the end of channel was settled: %d dials", got)
	}
	close(in.EndOfChannel)
	log.waitFor(t, StateDisconnected, 3)
	peer = d.next(t)
	log.waitFor(t, StateConnected, 2)

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&resubs) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := atomic.LoadInt32(&resubs); got != 2 {
		t.Fatalf("expected a resubscription per connect, got %d", got)
	}

	if err := r.Send(ctx, request(t, 3)); err != nil {
		t.Fatalf("send after reconnect: %v", err)
	}
	receive(t, peer.Messages())

	r.Close()
	log.waitFor(t, StateDisconnected, 4)
}

func TestReconnectorSendWhileDisconnected(t *testing.T) {
	r := NewReconnector("ui", func(ctx context.Context, name string) (Channel, error) {
		return nil, errors.New("no background")
	}, ReconnectOptions{MinBackoff: time.Millisecond})

	if r.State() != StateDisconnected {
		t.Fatalf("initial state %s", r.State())
	}
	if err := r.Send(context.Background(), request(t, 0)); !errors.Is(err, prt.ErrChannelNotConnected) {
		t.Fatalf("expected ChannelNotConnected, got %v", err)
	}
}

func TestReconnectorBoundsResubscriptions(t *testing.T) {
	r := NewReconnector("ui", newPipeDialer().dial, ReconnectOptions{MaxResubscriptions: 2})
	noop := func(context.Context) error { return nil }

	for i := 0; i < 2; i++ {
		if err := r.AddResubscription(noop); err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
	}
	if err := r.AddResubscription(noop); !errors.Is(err, prt.ErrInvalidRequest) {
		t.Fatalf("expected the list to be bounded, got %v", err)
	}
}
