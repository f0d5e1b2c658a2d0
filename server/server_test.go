package server

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	v1adapter "github.com/SubbaMooney/vibecoding-demo/adapter/v1"
	"github.com/SubbaMooney/vibecoding-demo/monitor"
	"github.com/SubbaMooney/vibecoding-demo/protocol"
	"github.com/SubbaMooney/vibecoding-demo/rag"
)

// scenarioTransport is a scripted, channel-backed connection.Transport
// used to drive Server.Accept through end-to-end handshake and
// steady-state scenarios.
type scenarioTransport struct {
	mu          sync.Mutex
	in          chan []byte
	sent        [][]byte
	closed      bool
	closeCode   int
	closeReason string
}

func newScenarioTransport(msgs ...string) *scenarioTransport {
	ch := make(chan []byte, len(msgs)+1)
	for _, m := range msgs {
		ch <- []byte(m)
	}
	return &scenarioTransport{in: ch}
}

func (t *scenarioTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case m, ok := <-t.in:
		if !ok {
			return nil, io.EOF
		}
		return m, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *scenarioTransport) Send(ctx context.Context, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, append([]byte(nil), data...))
	return nil
}

func (t *scenarioTransport) Close(code int, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.closeCode = code
	t.closeReason = reason
	close(t.in)
	return nil
}

func (t *scenarioTransport) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *scenarioTransport) sentMessages() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.sent))
	copy(out, t.sent)
	return out
}

func waitForSent(t *testing.T, tr *scenarioTransport, n int) [][]byte {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if msgs := tr.sentMessages(); len(msgs) >= n {
			return msgs
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d sent message(s), got %d", n, len(tr.sentMessages()))
	return nil
}

// stubAdapter is a minimal protocol.Adapter/adapter.Adapter used to stand
// in for a second registered protocol version in tests, since this repo
// ships only one concrete version adapter.
type stubAdapter struct {
	version string
	tools   []string
}

func (s *stubAdapter) Version() string { return s.version }
func (s *stubAdapter) Tools() []string { return s.tools }
func (s *stubAdapter) Dispatch(toolName string, parameters map[string]any) (map[string]any, error) {
	return map[string]any{"tool": toolName}, nil
}

// fixtureServer builds a registry with two adapter versions, 1.0 and
// 1.1, and compatibility edges (1.0,1.0), (1.0,0.9), (1.1,1.1), (1.1,1.0).
func fixtureServer(t *testing.T, opts ...Option) (*Server, *monitor.Monitor) {
	t.Helper()
	registry := protocol.NewRegistry()
	store := rag.NewInMemory()
	if err := registry.Register(v1adapter.New(store, store, store, nil)); err != nil {
		t.Fatal(err)
	}
	if err := registry.Register(&stubAdapter{version: "1.1", tools: []string{"rag_search", "rag_summarize", "document_upload", "document_list", "document_get", "document_delete"}}); err != nil {
		t.Fatal(err)
	}
	registry.SetCompatibility("1.0", "1.0", true)
	registry.SetCompatibility("1.0", "0.9", true)
	registry.SetCompatibility("1.1", "1.1", true)
	registry.SetCompatibility("1.1", "1.0", true)

	negotiator := protocol.NewNegotiator(registry)
	mon := monitor.New(nil)
	srv := New(registry, negotiator, mon, opts...)
	return srv, mon
}

func decodeEnvelope(t *testing.T, raw []byte) protocol.Envelope {
	t.Helper()
	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("failed to decode envelope: %v", err)
	}
	return env
}

func TestScenario1_ExactMatch(t *testing.T) {
	srv, _ := fixtureServer(t)
	tr := newScenarioTransport(`{"type":"hello","capabilities":{"protocolVersion":"1.0","features":[]},"client_info":{}}`)

	go srv.Accept(tr)

	msgs := waitForSent(t, tr, 1)
	env := decodeEnvelope(t, msgs[0])
	if env.Type != protocol.TypeHello {
		t.Fatalf("expected hello reply, got %q", env.Type)
	}
	var hello protocol.HelloOut
	if err := json.Unmarshal(msgs[0], &hello); err != nil {
		t.Fatal(err)
	}
	if hello.ProtocolVersion != "1.0" {
		t.Errorf("got protocol_version %q, want 1.0", hello.ProtocolVersion)
	}
	tr.Close(1000, "test done")
}

func TestScenario2_NewestFirst(t *testing.T) {
	srv, _ := fixtureServer(t)
	tr := newScenarioTransport(`{"type":"hello","capabilities":{"supportedVersions":["1.0","1.1"]},"client_info":{}}`)

	go srv.Accept(tr)

	msgs := waitForSent(t, tr, 1)
	var hello protocol.HelloOut
	if err := json.Unmarshal(msgs[0], &hello); err != nil {
		t.Fatal(err)
	}
	if hello.ProtocolVersion != "1.1" {
		t.Errorf("got protocol_version %q, want 1.1", hello.ProtocolVersion)
	}
	tr.Close(1000, "test done")
}

func TestScenario3_CompatibleFallback(t *testing.T) {
	srv, _ := fixtureServer(t)
	tr := newScenarioTransport(`{"type":"hello","capabilities":{"supportedVersions":["0.9"],"features":[]},"client_info":{}}`)

	go srv.Accept(tr)

	msgs := waitForSent(t, tr, 1)
	var hello protocol.HelloOut
	if err := json.Unmarshal(msgs[0], &hello); err != nil {
		t.Fatal(err)
	}
	if hello.ProtocolVersion != "1.0" {
		t.Errorf("got protocol_version %q, want 1.0", hello.ProtocolVersion)
	}
	tr.Close(1000, "test done")
}

func TestScenario4_NegotiationFailure(t *testing.T) {
	srv, mon := fixtureServer(t)
	tr := newScenarioTransport(`{"type":"hello","capabilities":{"supportedVersions":["0.5"]},"client_info":{}}`)

	srv.Accept(tr) // synchronous: the connection closes itself on failure

	msgs := tr.sentMessages()
	if len(msgs) != 1 {
		t.Fatalf("expected exactly one reply, got %d", len(msgs))
	}
	var errOut protocol.ErrorOut
	if err := json.Unmarshal(msgs[0], &errOut); err != nil {
		t.Fatal(err)
	}
	if errOut.Error.Code != protocol.CodeNegotiationFailed {
		t.Errorf("got code %q, want %q", errOut.Error.Code, protocol.CodeNegotiationFailed)
	}
	want := map[string]bool{"1.0": true, "1.1": true}
	if len(errOut.Error.SupportedVersions) != len(want) {
		t.Errorf("got supported_versions %v, want %v", errOut.Error.SupportedVersions, want)
	}
	if !tr.IsClosed() {
		t.Error("expected connection to be closed after negotiation failure")
	}

	summary := mon.Summary()
	if summary.Versions["1.0"].NegotiationFailures != 1 {
		t.Error("expected a negotiation failure to be recorded against 1.0")
	}
}

func TestScenario5_ProtocolViolation(t *testing.T) {
	srv, _ := fixtureServer(t)
	tr := newScenarioTransport(`{"type":"tool_call","tool":"rag_search","parameters":{},"id":"1"}`)

	srv.Accept(tr)

	msgs := tr.sentMessages()
	if len(msgs) != 1 {
		t.Fatalf("expected exactly one reply, got %d", len(msgs))
	}
	var errOut protocol.ErrorOut
	if err := json.Unmarshal(msgs[0], &errOut); err != nil {
		t.Fatal(err)
	}
	if errOut.Error.Code != protocol.CodeProtocolViolation {
		t.Errorf("got code %q, want %q", errOut.Error.Code, protocol.CodeProtocolViolation)
	}
	if !tr.IsClosed() {
		t.Error("expected connection to be closed after a protocol violation")
	}
}

func TestScenario6_ToolErrorAccounting(t *testing.T) {
	srv, mon := fixtureServer(t)
	tr := newScenarioTransport(
		`{"type":"hello","capabilities":{"protocolVersion":"1.0"},"client_info":{}}`,
		`{"type":"ready"}`,
		`{"type":"tool_call","tool":"rag_search","parameters":{},"id":"1"}`,
		`{"type":"tool_call","tool":"rag_search","parameters":{"query":"widgets"},"id":"2"}`,
	)

	go srv.Accept(tr)

	msgs := waitForSent(t, tr, 3) // hello, tool_error, tool_response
	var toolErr protocol.ToolErrorOut
	if err := json.Unmarshal(msgs[1], &toolErr); err != nil {
		t.Fatal(err)
	}
	if toolErr.Error.Code != protocol.CodeToolExecutionError && toolErr.Error.Code != protocol.CodeInvalidArgument {
		t.Errorf("unexpected tool_error code: %q", toolErr.Error.Code)
	}

	var toolResp protocol.ToolResponseOut
	if err := json.Unmarshal(msgs[2], &toolResp); err != nil {
		t.Fatal(err)
	}
	if toolResp.Tool != "rag_search" {
		t.Errorf("got tool %q, want rag_search", toolResp.Tool)
	}

	deadline := time.Now().Add(2 * time.Second)
	var summary monitor.Summary
	for time.Now().Before(deadline) {
		summary = mon.Summary()
		if tm, ok := summary.Tools["rag_search"]; ok && tm.TotalCalls == 2 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	tm := summary.Tools["rag_search"]
	if tm.TotalCalls != 2 || tm.FailedCalls != 1 || tm.SuccessfulCalls != 1 {
		t.Fatalf("unexpected tool metrics: %+v", tm)
	}
	if tm.SuccessRate != 0.5 {
		t.Errorf("got success_rate %v, want 0.5", tm.SuccessRate)
	}
	tr.Close(1000, "test done")
}

func TestScenario7_CapacityOverflow(t *testing.T) {
	srv, mon := fixtureServer(t, WithMaxConnections(1))

	tr1 := newScenarioTransport(`{"type":"hello","capabilities":{"protocolVersion":"1.0"},"client_info":{}}`, `{"type":"ready"}`)
	go srv.Accept(tr1)
	waitForSent(t, tr1, 1)

	tr2 := newScenarioTransport()
	srv.Accept(tr2) // synchronous: rejected before any message is read

	if !tr2.IsClosed() || tr2.closeCode != 1013 {
		t.Fatalf("expected the transport past the cap closed with code 1013, got closed=%v code=%d", tr2.IsClosed(), tr2.closeCode)
	}
	if len(tr2.sentMessages()) != 0 {
		t.Error("a capacity-rejected transport must not receive any protocol messages")
	}

	summary := mon.Summary()
	if summary.ActiveConnections != 1 {
		t.Errorf("expected exactly 1 active connection (the admitted one), got %d", summary.ActiveConnections)
	}
	tr1.Close(1000, "test done")
}

func TestServer_PingEchoesID(t *testing.T) {
	srv, _ := fixtureServer(t)
	tr := newScenarioTransport(
		`{"type":"hello","capabilities":{"protocolVersion":"1.0"},"client_info":{}}`,
		`{"type":"ready"}`,
		`{"type":"ping","id":"ping-1"}`,
	)

	go srv.Accept(tr)

	msgs := waitForSent(t, tr, 2)
	var pong protocol.PongOut
	if err := json.Unmarshal(msgs[1], &pong); err != nil {
		t.Fatal(err)
	}
	if string(pong.ID) != `"ping-1"` {
		t.Errorf("got id %s, want \"ping-1\"", pong.ID)
	}
	tr.Close(1000, "test done")
}

func TestServer_UnknownMessageTypeStaysReady(t *testing.T) {
	srv, _ := fixtureServer(t)
	tr := newScenarioTransport(
		`{"type":"hello","capabilities":{"protocolVersion":"1.0"},"client_info":{}}`,
		`{"type":"ready"}`,
		`{"type":"not_a_real_type","id":"x"}`,
		`{"type":"ping","id":"after"}`,
	)

	go srv.Accept(tr)

	msgs := waitForSent(t, tr, 3)
	var errOut protocol.ErrorOut
	if err := json.Unmarshal(msgs[1], &errOut); err != nil {
		t.Fatal(err)
	}
	if errOut.Error.Code != protocol.CodeUnknownMessageType {
		t.Errorf("got code %q, want %q", errOut.Error.Code, protocol.CodeUnknownMessageType)
	}
	if tr.IsClosed() {
		t.Error("an unknown message type must not close the connection")
	}
	tr.Close(1000, "test done")
}

func TestServer_NonReadyFirstSteadyMessageIsNonFatal(t *testing.T) {
	srv, _ := fixtureServer(t)
	tr := newScenarioTransport(
		`{"type":"hello","capabilities":{"protocolVersion":"1.0"},"client_info":{}}`,
		`{"type":"ping","id":"instead-of-ready"}`,
	)

	go srv.Accept(tr)

	msgs := waitForSent(t, tr, 2)
	var pong protocol.PongOut
	if err := json.Unmarshal(msgs[1], &pong); err != nil {
		t.Fatal(err)
	}
	if string(pong.ID) != `"instead-of-ready"` {
		t.Errorf("expected the non-ready message to still be processed, got %s", msgs[1])
	}
	tr.Close(1000, "test done")
}

func TestServer_StatsReflectsActiveConnections(t *testing.T) {
	srv, _ := fixtureServer(t)
	tr := newScenarioTransport(
		`{"type":"hello","capabilities":{"protocolVersion":"1.0"},"client_info":{}}`,
		`{"type":"ready"}`,
	)
	go srv.Accept(tr)
	waitForSent(t, tr, 1)

	stats := srv.Stats()
	if stats.ActiveConnections != 1 {
		t.Errorf("got %d active connections, want 1", stats.ActiveConnections)
	}
	if stats.Compatibility["1.0"] == nil {
		t.Error("expected a compatibility matrix entry for 1.0")
	}
	tr.Close(1000, "test done")
}

func TestServer_StatsTotalMessagesCountsBothDirections(t *testing.T) {
	srv, _ := fixtureServer(t)
	tr := newScenarioTransport(
		`{"type":"hello","capabilities":{"protocolVersion":"1.0"},"client_info":{}}`,
		`{"type":"ready"}`,
		`{"type":"ping","id":"p1"}`,
	)
	go srv.Accept(tr)

	// hello(in), hello(out), ready(in), ping(in), pong(out) = 5 messages.
	waitForSent(t, tr, 2)

	stats := srv.Stats()
	if stats.TotalMessages < 5 {
		t.Errorf("got %d total messages, want at least 5", stats.TotalMessages)
	}
	tr.Close(1000, "test done")
}
