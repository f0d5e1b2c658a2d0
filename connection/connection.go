package connection

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/SubbaMooney/vibecoding-demo/logx"
)

// State is one of the five connection lifecycle states.
type State int

const (
	StateAccepted State = iota
	StateNegotiating
	StateHelloSent
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAccepted:
		return "accepted"
	case StateNegotiating:
		return "negotiating"
	case StateHelloSent:
		return "hello_sent"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MetricsSnapshot is a point-in-time copy of a Connection's counters. It
// never aliases the live Connection's internal maps.
type MetricsSnapshot struct {
	ID                string
	State             string
	NegotiatedVersion string
	ConnectedAt       time.Time
	LastActivity      time.Time
	MessageCount      uint64
	BytesSent         uint64
	BytesReceived     uint64
	ErrorCount        uint64
	ToolCallCounts    map[string]uint64
	ClientInfo        map[string]any
}

// Connection owns one client's transport and state machine: the
// negotiated version, stored client capabilities, and the monotonic
// counters the monitor reads, all guarded by a single mutex.
type Connection struct {
	id        string
	transport Transport
	log       logx.Logger

	mu                sync.Mutex
	state             State
	negotiatedVersion string
	clientInfo        map[string]any
	connectedAt       time.Time
	lastActivity      time.Time
	messageCount      uint64
	bytesSent         uint64
	bytesReceived     uint64
	errorCount        uint64
	toolCallCounts    map[string]uint64
}

// New creates a Connection in StateAccepted, wrapping transport under id.
func New(id string, transport Transport, log logx.Logger) *Connection {
	if log == nil {
		log = logx.Noop{}
	}
	now := time.Now()
	return &Connection{
		id:             id,
		transport:      transport,
		log:            log,
		state:          StateAccepted,
		connectedAt:    now,
		lastActivity:   now,
		toolCallCounts: make(map[string]uint64),
	}
}

// ID returns the connection's identifier.
func (c *Connection) ID() string { return c.id }

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// transitions enumerates the legal state transitions: Accepted ->
// Negotiating -> HelloSent -> Ready -> Closed, plus any state -> Closed
// on error or disconnect.
var transitions = map[State]map[State]bool{
	StateAccepted:    {StateNegotiating: true, StateClosed: true},
	StateNegotiating: {StateHelloSent: true, StateClosed: true},
	StateHelloSent:   {StateReady: true, StateClosed: true},
	StateReady:       {StateClosed: true},
	StateClosed:      {},
}

// ErrInvalidTransition is returned by SetState on an illegal transition.
type ErrInvalidTransition struct {
	From, To State
}

func (e *ErrInvalidTransition) Error() string {
	return "connection: invalid state transition " + e.From.String() + " -> " + e.To.String()
}

// SetState advances the connection's state, rejecting transitions not in
// the table above. A connection already Closed cannot transition further.
func (c *Connection) SetState(to State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == to {
		return nil
	}
	if !transitions[c.state][to] {
		return &ErrInvalidTransition{From: c.state, To: to}
	}
	c.state = to
	return nil
}

// SetNegotiatedVersion records the protocol version chosen during
// handshake. It is set once, when the connection moves past Negotiating.
func (c *Connection) SetNegotiatedVersion(version string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.negotiatedVersion = version
}

// NegotiatedVersion returns the negotiated protocol version, or "" if the
// handshake has not completed.
func (c *Connection) NegotiatedVersion() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.negotiatedVersion
}

// SetClientInfo records the client_info document sent with hello.
func (c *Connection) SetClientInfo(info map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clientInfo = info
}

// touch bumps last-activity and the message counter. Callers hold no lock.
func (c *Connection) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.messageCount++
	c.mu.Unlock()
}

// RecordError increments the connection's error counter.
func (c *Connection) RecordError() {
	c.mu.Lock()
	c.errorCount++
	c.mu.Unlock()
}

// RecordToolCall increments the per-tool call count for tool.
func (c *Connection) RecordToolCall(tool string) {
	c.mu.Lock()
	c.toolCallCounts[tool]++
	c.mu.Unlock()
}

// Receive reads one message off the transport, updating activity and
// byte counters. It returns the raw JSON payload for the caller to
// unmarshal as a message envelope.
func (c *Connection) Receive(ctx context.Context) ([]byte, error) {
	data, err := c.transport.Receive(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.bytesReceived += uint64(len(data))
	c.mu.Unlock()
	c.touch()
	return data, nil
}

// Send marshals v to JSON and writes it to the transport, updating the
// bytes-sent counter. It does not count toward messageCount, which is
// defined over inbound messages only.
func (c *Connection) Send(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := c.transport.Send(ctx, data); err != nil {
		return err
	}
	c.mu.Lock()
	c.bytesSent += uint64(len(data))
	c.mu.Unlock()
	return nil
}

// Close transitions the connection to Closed and closes its transport.
func (c *Connection) Close(code int, reason string) error {
	_ = c.SetState(StateClosed)
	if c.transport.IsClosed() {
		return nil
	}
	return c.transport.Close(code, reason)
}

// Snapshot returns a copy-out view of the connection's metrics, safe to
// hold after the connection has moved on; it never returns references
// into live maps.
func (c *Connection) Snapshot() MetricsSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	toolCalls := make(map[string]uint64, len(c.toolCallCounts))
	for k, v := range c.toolCallCounts {
		toolCalls[k] = v
	}
	var clientInfo map[string]any
	if c.clientInfo != nil {
		clientInfo = make(map[string]any, len(c.clientInfo))
		for k, v := range c.clientInfo {
			clientInfo[k] = v
		}
	}

	return MetricsSnapshot{
		ID:                c.id,
		State:             c.state.String(),
		NegotiatedVersion: c.negotiatedVersion,
		ConnectedAt:       c.connectedAt,
		LastActivity:      c.lastActivity,
		MessageCount:      c.messageCount,
		BytesSent:         c.bytesSent,
		BytesReceived:     c.bytesReceived,
		ErrorCount:        c.errorCount,
		ToolCallCounts:    toolCalls,
		ClientInfo:        clientInfo,
	}
}
