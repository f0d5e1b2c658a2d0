// Package server wires the protocol registry, negotiator, monitor, and
// the live connection set into one accept/drive/cleanup loop: explicit
// constructor injection, no package-level state, functional options for
// configuration.
package server

import (
	"context"
	"sync"
	"time"

	"github.com/SubbaMooney/vibecoding-demo/connection"
	"github.com/SubbaMooney/vibecoding-demo/logx"
	"github.com/SubbaMooney/vibecoding-demo/monitor"
	"github.com/SubbaMooney/vibecoding-demo/protocol"
)

const (
	defaultMaxConnections = 100
	defaultMaxMessageSize = 10 * 1024 * 1024
)

// Info describes this server deployment for the hello reply.
type Info struct {
	Name        string
	Version     string
	Description string
}

// Server owns the registry, negotiator, monitor, and the live connection
// set. It accepts transports, drives the handshake and steady-state loop
// per connection, and aggregates results into the monitor.
type Server struct {
	registry   *protocol.Registry
	negotiator *protocol.Negotiator
	monitor    *monitor.Monitor
	log        logx.Logger
	info       Info

	maxConnections int
	maxMessageSize int

	mu          sync.Mutex
	connections map[string]*connection.Connection
	startedAt   time.Time
	totalLifetimeConns uint64
}

// Option configures a Server at construction time.
type Option func(*Server)

// WithLogger overrides the default no-op logger.
func WithLogger(log logx.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// WithMaxConnections overrides the default connection cap (100).
func WithMaxConnections(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxConnections = n
		}
	}
}

// WithMaxMessageSize overrides the advertised max_message_size (default 10 MiB).
func WithMaxMessageSize(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxMessageSize = n
		}
	}
}

// WithInfo sets the server_info record advertised at handshake.
func WithInfo(info Info) Option {
	return func(s *Server) { s.info = info }
}

// New constructs a Server around the given registry, negotiator, and
// monitor. None of the three may be nil.
func New(registry *protocol.Registry, negotiator *protocol.Negotiator, mon *monitor.Monitor, opts ...Option) *Server {
	s := &Server{
		registry:       registry,
		negotiator:     negotiator,
		monitor:        mon,
		log:            logx.Noop{},
		maxConnections: defaultMaxConnections,
		maxMessageSize: defaultMaxMessageSize,
		info:           Info{Name: "protocolsrv", Version: "1.0"},
		connections:    make(map[string]*connection.Connection),
		startedAt:      time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ErrAtCapacity is returned by tryAdmit when max_connections is already reached.
type ErrAtCapacity struct{ MaxConnections int }

func (e *ErrAtCapacity) Error() string {
	return "server: at capacity"
}

// tryAdmit atomically checks the cap and inserts id into the live set,
// so the check and the insertion never race under burst load.
func (s *Server) tryAdmit(conn *connection.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.connections) >= s.maxConnections {
		return &ErrAtCapacity{MaxConnections: s.maxConnections}
	}
	s.connections[conn.ID()] = conn
	s.totalLifetimeConns++
	return nil
}

func (s *Server) remove(id string) {
	s.mu.Lock()
	delete(s.connections, id)
	s.mu.Unlock()
}

// snapshot returns a point-in-time copy of the live connection slice,
// safe to range over without holding the lock during I/O.
func (s *Server) snapshot() []*connection.Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*connection.Connection, 0, len(s.connections))
	for _, c := range s.connections {
		out = append(out, c)
	}
	return out
}

// Broadcast sends message to every live connection whose negotiated
// version matches versionFilter (empty = all), logging but not
// aborting on a per-connection send failure. It returns the number of
// successful sends.
func (s *Server) Broadcast(ctx context.Context, message any, versionFilter string) int {
	sent := 0
	for _, c := range s.snapshot() {
		if versionFilter != "" && c.NegotiatedVersion() != versionFilter {
			continue
		}
		if err := c.Send(ctx, message); err != nil {
			s.log.Warn("broadcast: send to %s failed: %v", c.ID(), err)
			continue
		}
		sent++
	}
	return sent
}

// Stats is the result of a Stats() query.
type Stats struct {
	UptimeSeconds     float64
	ActiveConnections int
	TotalConnections  uint64
	TotalMessages     uint64
	ActiveByVersion   map[string]int
	Compatibility     map[string]map[string]bool
}

// Stats reports server uptime, connection counts, and a copy of the
// compatibility matrix.
func (s *Server) Stats() Stats {
	s.mu.Lock()
	activeByVersion := make(map[string]int)
	for _, c := range s.connections {
		if v := c.NegotiatedVersion(); v != "" {
			activeByVersion[v]++
		}
	}
	active := len(s.connections)
	total := s.totalLifetimeConns
	started := s.startedAt
	s.mu.Unlock()

	summary := s.monitor.Summary()

	return Stats{
		UptimeSeconds:     time.Since(started).Seconds(),
		ActiveConnections: active,
		TotalConnections:  total,
		TotalMessages:     summary.TotalMessages,
		ActiveByVersion:   activeByVersion,
		Compatibility:     s.registry.CompatibilityMatrix(),
	}
}
