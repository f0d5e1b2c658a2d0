package server

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/SubbaMooney/vibecoding-demo/adapter"
	"github.com/SubbaMooney/vibecoding-demo/connection"
	"github.com/SubbaMooney/vibecoding-demo/protocol"
)

// Accept admits a new transport, enforcing the capacity cap before any
// message is read, then drives the four-step handshake and the
// steady-state loop to completion. Accept returns once the connection
// is closed; callers typically invoke it in its own goroutine per
// transport.
func (s *Server) Accept(transport connection.Transport) {
	id := uuid.NewString()
	conn := connection.New(id, transport, s.log)

	if err := s.tryAdmit(conn); err != nil {
		s.log.Warn("connection %s rejected: %v", id, err)
		_ = transport.Close(connection.CloseOverload, "server overloaded")
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("connection %s panicked: %v", id, r)
			s.sendError(context.Background(), conn, nil, protocol.NewError(protocol.CodeServerError, "internal server error"))
		}
		s.remove(id)
		s.monitor.TrackConnectionEnded(id)
		_ = conn.Close(connection.CloseNormal, "connection closed")
	}()

	ctx := context.Background()
	ad, firstSteadyMessage, ok := s.runHandshake(ctx, conn)
	if !ok {
		return
	}

	if firstSteadyMessage != nil {
		s.handleSteadyState(ctx, conn, ad, firstSteadyMessage)
	}

	for {
		raw, err := conn.Receive(ctx)
		if err != nil {
			return
		}
		s.handleSteadyState(ctx, conn, ad, raw)
	}
}

// runHandshake executes the four handshake steps: read hello, negotiate
// a version, send hello back, then read ready. It returns the
// negotiated adapter and ok=true on success. If the client's post-hello
// message was not "ready", that message is returned as
// firstSteadyMessage so the caller can dispatch it instead of
// discarding it.
func (s *Server) runHandshake(ctx context.Context, conn *connection.Connection) (ad adapter.Adapter, firstSteadyMessage []byte, ok bool) {
	raw, err := conn.Receive(ctx)
	if err != nil {
		return nil, nil, false
	}

	var envelope protocol.Envelope
	jsonErr := json.Unmarshal(raw, &envelope)
	if jsonErr != nil || envelope.Type != protocol.TypeHello {
		msgType := "unknown"
		if jsonErr == nil {
			msgType = envelope.Type
		}
		s.monitor.TrackMessage(conn.ID(), msgType, len(raw), "in")
		s.monitor.TrackHandshakeFailure("", "first message was not hello")
		s.sendError(ctx, conn, nil, protocol.NewError(protocol.CodeProtocolViolation, "first message must be hello"))
		return nil, nil, false
	}
	s.monitor.TrackMessage(conn.ID(), protocol.TypeHello, len(raw), "in")

	_ = conn.SetState(connection.StateNegotiating)

	var hello protocol.HelloIn
	_ = json.Unmarshal(raw, &hello)

	caps := protocol.ExtractClientCapabilities(hello.Capabilities)
	version, negErr := s.negotiator.Negotiate(caps)
	if negErr != nil {
		serverVersions := s.registry.Versions()
		s.monitor.TrackNegotiationFailure(caps.Versions, serverVersions, negErr.Error())
		var supported []string
		if ne, isNegErr := negErr.(*protocol.NegotiationError); isNegErr {
			supported = ne.SupportedVersions
		} else {
			supported = serverVersions
		}
		s.sendError(ctx, conn, nil, protocol.NewNegotiationFailed(negErr.Error(), supported))
		return nil, nil, false
	}

	adapterInstance, found := s.registry.Get(version)
	if !found {
		s.monitor.TrackHandshakeFailure(version, "negotiated version has no registered adapter")
		s.sendError(ctx, conn, nil, protocol.NewError(protocol.CodeServerError, "internal: negotiated version unavailable"))
		return nil, nil, false
	}
	ad, ok = adapterInstance.(adapter.Adapter)
	if !ok {
		s.monitor.TrackHandshakeFailure(version, "registered adapter does not satisfy adapter.Adapter")
		s.sendError(ctx, conn, nil, protocol.NewError(protocol.CodeServerError, "internal: adapter type mismatch"))
		return nil, nil, false
	}

	conn.SetNegotiatedVersion(version)
	conn.SetClientInfo(hello.ClientInfo)
	_ = conn.SetState(connection.StateHelloSent)
	s.monitor.TrackConnectionStarted(conn.ID(), version, hello.ClientInfo)

	helloOut := protocol.HelloOut{
		Type:            protocol.TypeHello,
		ProtocolVersion: version,
		ServerInfo:      protocol.ServerInfo{Name: s.info.Name, Version: s.info.Version, Description: s.info.Description},
		Capabilities: protocol.HelloCapabilities{
			Tools:          ad.Tools(),
			Features:       []string{"async_tools", "error_handling", "progress_tracking"},
			MaxMessageSize: s.maxMessageSize,
		},
	}
	if err := s.send(ctx, conn, protocol.TypeHello, helloOut); err != nil {
		return nil, nil, false
	}

	raw, err = conn.Receive(ctx)
	if err != nil {
		return nil, nil, false
	}
	_ = conn.SetState(connection.StateReady)

	var readyEnvelope protocol.Envelope
	if jsonErr := json.Unmarshal(raw, &readyEnvelope); jsonErr == nil && readyEnvelope.Type == protocol.TypeReady {
		s.monitor.TrackMessage(conn.ID(), protocol.TypeReady, len(raw), "in")
		return ad, nil, true
	}

	// Not a ready message: leave it untracked here and hand it to
	// handleSteadyState, which records it as the first steady-state message.
	s.log.Warn("connection %s: expected ready, got %q; proceeding anyway", conn.ID(), readyEnvelope.Type)
	return ad, raw, true
}

func (s *Server) sendError(ctx context.Context, conn *connection.Connection, id json.RawMessage, perr *protocol.Error) {
	out := protocol.ErrorOut{
		Type: protocol.TypeError,
		ID:   id,
		Error: protocol.ErrorDetail{
			Code:              perr.Code,
			Message:           perr.Message,
			Timestamp:         time.Now().UTC().Format(time.RFC3339),
			SupportedVersions: perr.SupportedVersions,
		},
	}
	if err := s.send(ctx, conn, protocol.TypeError, out); err != nil {
		s.log.Warn("connection %s: failed to send error reply, closing: %v", conn.ID(), err)
		_ = conn.Close(connection.CloseNormal, "failed to send error reply")
	}
}
