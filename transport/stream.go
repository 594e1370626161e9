package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/abcfe/abcfe-wallet/common/logger"
	"github.com/abcfe/abcfe-wallet/message"
)

// StreamChannel frames envelopes over a byte stream: a 4 byte big-endian
// length followed by the JSON envelope.
type StreamChannel struct {
	name string
	rwc  io.ReadWriteCloser

	wmu  sync.Mutex
	recv chan *message.Envelope
	done chan struct{}

	closeOnce sync.Once
}

var _ Channel = (*StreamChannel)(nil)

func NewStreamChannel(name string, rwc io.ReadWriteCloser) *StreamChannel {
	c := &StreamChannel{
		name: name,
		rwc:  rwc,
		recv: make(chan *message.Envelope, sendQueue),
		done: make(chan struct{}),
	}
	go c.readLoop()
	return c
}

type stdio struct{}

func (stdio) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdio) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
func (stdio) Close() error                { return os.Stdin.Close() }

// Stdio returns the process stdin/stdout pair for native messaging hosts.
func Stdio() io.ReadWriteCloser { return stdio{} }

func (c *StreamChannel) Name() string { return c.name }

func (c *StreamChannel) Send(ctx context.Context, e *message.Envelope) error {
	select {
	case <-c.done:
		return ErrChannelNotConnected
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	data, err := message.Marshal(e)
	if err != nil {
		return err
	}
	return c.writeFrame(data)
}

// writeFrame writes header and body in one call so concurrent senders
// never interleave.
func (c *StreamChannel) writeFrame(data []byte) error {
	if len(data) > MaxFrameSize {
		return fmt.Errorf("envelope too large: %d bytes", len(data))
	}
	packet := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(packet, uint32(len(data)))
	copy(packet[4:], data)

	c.wmu.Lock()
	defer c.wmu.Unlock()

	if _, err := c.rwc.Write(packet); err != nil {
		c.Close()
		return ErrChannelNotConnected
	}
	return nil
}

func (c *StreamChannel) Messages() <-chan *message.Envelope { return c.recv }

func (c *StreamChannel) Done() <-chan struct{} { return c.done }

func (c *StreamChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.rwc.Close()
	})
	return err
}

func (c *StreamChannel) readLoop() {
	defer c.Close()

	header := make([]byte, 4)
	for {
		// 1. 4바이트 길이 헤더
		if _, err := io.ReadFull(c.rwc, header); err != nil {
			if err != io.EOF {
				logger.Debug("stream ", c.name, " read header error: ", err)
			}
			return
		}

		// 2. 크기 검증
		msgLen := binary.BigEndian.Uint32(header)
		if msgLen > MaxFrameSize {
			logger.Error("stream ", c.name, " frame too large: ", msgLen, " bytes")
			return
		}

		// 3. 본문
		buffer := make([]byte, msgLen)
		if _, err := io.ReadFull(c.rwc, buffer); err != nil {
			logger.Debug("stream ", c.name, " read body error: ", err)
			return
		}

		env, err := message.Unmarshal(buffer)
		if err != nil {
			logger.Warn("dropping malformed frame on ", c.name, ": ", err)
			continue
		}

		select {
		case c.recv <- env:
		case <-c.done:
			return
		}
	}
}
