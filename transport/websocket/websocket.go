// Package websocket provides a connection.Transport implementation over
// raw WebSocket frames using manual gobwas/ws frame reading and masking.
// Close takes a close code and reason so the server can carry the 1013
// overload code on capacity rejection.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/SubbaMooney/vibecoding-demo/logx"
)

// Transport implements connection.Transport over a raw net.Conn already
// upgraded to WebSocket by the caller (server/websocket.go uses
// ws.UpgradeHTTP).
type Transport struct {
	conn  net.Conn
	state ws.State
	log   logx.Logger

	writeMu sync.Mutex
	readMu  sync.Mutex

	closeMu sync.Mutex
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New wraps conn, which must already be WebSocket-upgraded, as a
// server-side transport.
func New(conn net.Conn, log logx.Logger) *Transport {
	if log == nil {
		log = logx.Noop{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Transport{
		conn:   conn,
		state:  ws.StateServerSide,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Send writes data as one text frame.
func (t *Transport) Send(ctx context.Context, data []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if t.IsClosed() {
		return errors.New("transport is closed")
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(30 * time.Second)
	}
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		t.log.Warn("websocket transport: set write deadline: %v", err)
	}
	defer t.conn.SetWriteDeadline(time.Time{})

	if err := wsutil.WriteMessage(t.conn, t.state, ws.OpText, data); err != nil {
		go t.Close(1011, "write failed")
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

type frameResult struct {
	data []byte
	err  error
}

// Receive blocks for the next complete text frame, transparently
// answering pings and skipping pongs, until a data frame, a close
// frame, or ctx cancellation arrives.
func (t *Transport) Receive(ctx context.Context) ([]byte, error) {
	if t.IsClosed() {
		return nil, errors.New("transport is closed")
	}

	ch := make(chan frameResult, 1)
	go t.readLoop(ch)

	select {
	case <-ctx.Done():
		go t.Close(1001, "context cancelled")
		return nil, ctx.Err()
	case <-t.ctx.Done():
		return nil, errors.New("transport closed")
	case res := <-ch:
		if res.err != nil {
			if !t.IsClosed() {
				go t.Close(1006, "read error")
			}
			if errors.Is(res.err, io.EOF) || errors.Is(res.err, net.ErrClosed) || strings.Contains(res.err.Error(), "use of closed network connection") {
				return nil, fmt.Errorf("websocket closed: %w", res.err)
			}
			if closeErr, ok := res.err.(wsutil.ClosedError); ok {
				return nil, fmt.Errorf("websocket closed by peer with code %d: %w", closeErr.Code, res.err)
			}
			return nil, fmt.Errorf("websocket read: %w", res.err)
		}
		return res.data, nil
	}
}

// readLoop reads frames until it has a data frame or a fatal error,
// continuing past ping/pong control frames instead of surfacing them
// as errors.
func (t *Transport) readLoop(ch chan<- frameResult) {
	t.readMu.Lock()
	defer t.readMu.Unlock()

	for {
		header, err := ws.ReadHeader(t.conn)
		if err != nil {
			ch <- frameResult{err: fmt.Errorf("read header: %w", err)}
			return
		}

		payload := make([]byte, header.Length)
		if _, err := io.ReadFull(t.conn, payload); err != nil {
			ch <- frameResult{err: fmt.Errorf("read payload: %w", err)}
			return
		}

		if header.Masked {
			ws.Cipher(payload, header.Mask, 0)
		} else {
			ch <- frameResult{err: ws.ErrProtocolMaskRequired}
			return
		}

		if header.OpCode.IsControl() {
			switch header.OpCode {
			case ws.OpClose:
				code, reason := ws.ParseCloseFrameDataUnsafe(payload)
				ch <- frameResult{err: wsutil.ClosedError{Code: code, Reason: reason}}
				return
			case ws.OpPing:
				pong := ws.NewPongFrame(payload)
				if err := ws.WriteFrame(t.conn, pong); err != nil {
					t.log.Warn("websocket transport: write pong: %v", err)
				}
				continue
			case ws.OpPong:
				continue
			}
			continue
		}

		if !header.Fin {
			ch <- frameResult{err: errors.New("fragmented frames not supported")}
			return
		}

		ch <- frameResult{data: payload}
		return
	}
}

// Close sends a close frame carrying code and reason, then closes the
// underlying connection. Idempotent.
func (t *Transport) Close(code int, reason string) error {
	t.closeMu.Lock()
	if t.closed {
		t.closeMu.Unlock()
		return nil
	}
	t.closed = true
	t.closeMu.Unlock()
	t.cancel()

	deadline := time.Now().Add(2 * time.Second)
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		t.log.Warn("websocket transport: set close deadline: %v", err)
	}

	payload := ws.NewCloseFrameBody(ws.StatusCode(code), reason)
	if err := wsutil.WriteMessage(t.conn, t.state, ws.OpClose, payload); err != nil {
		t.log.Warn("websocket transport: write close frame: %v", err)
	}

	return t.conn.Close()
}

// IsClosed reports whether Close has run.
func (t *Transport) IsClosed() bool {
	t.closeMu.Lock()
	defer t.closeMu.Unlock()
	return t.closed
}
