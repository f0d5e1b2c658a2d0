package server

import (
	"context"
	"encoding/json"
	"time"

	"github.com/SubbaMooney/vibecoding-demo/adapter"
	"github.com/SubbaMooney/vibecoding-demo/connection"
	"github.com/SubbaMooney/vibecoding-demo/protocol"
)

// handleSteadyState decodes one Ready-state message and dispatches it by
// type. It never closes the connection on a dispatch error; only a failed
// send of an error reply does that (sendError closes the connection, and
// the caller's Receive loop then ends). Send failures of other replies
// are ignored here.
func (s *Server) handleSteadyState(ctx context.Context, conn *connection.Connection, ad adapter.Adapter, raw []byte) {
	var envelope protocol.Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		conn.RecordError()
		s.monitor.TrackMessage(conn.ID(), "unknown", len(raw), "in")
		s.sendError(ctx, conn, nil, protocol.NewError(protocol.CodeProtocolViolation, "malformed message envelope"))
		return
	}
	s.monitor.TrackMessage(conn.ID(), envelope.Type, len(raw), "in")

	switch envelope.Type {
	case protocol.TypeToolCall:
		s.handleToolCall(ctx, conn, ad, raw)
	case protocol.TypePing:
		s.handlePing(ctx, conn, envelope.ID)
	case protocol.TypeGetCapabilities:
		s.handleGetCapabilities(ctx, conn, ad, envelope.ID)
	case protocol.TypeGetProtocolInfo:
		s.handleGetProtocolInfo(ctx, conn, ad, envelope.ID)
	default:
		conn.RecordError()
		s.sendError(ctx, conn, envelope.ID, protocol.NewError(protocol.CodeUnknownMessageType, "unknown message type: "+envelope.Type))
	}
}

func (s *Server) handlePing(ctx context.Context, conn *connection.Connection, id json.RawMessage) {
	_ = s.send(ctx, conn, protocol.TypePong, protocol.PongOut{Type: protocol.TypePong, ID: id})
}

// send marshals v, writes it via conn.Send, and on success records it with
// the monitor under msgType so outbound message/byte counts reflect every
// reply the server sends, not just inbound traffic.
func (s *Server) send(ctx context.Context, conn *connection.Connection, msgType string, v any) error {
	if err := conn.Send(ctx, v); err != nil {
		return err
	}
	if data, err := json.Marshal(v); err == nil {
		s.monitor.TrackMessage(conn.ID(), msgType, len(data), "out")
	}
	return nil
}

// handleToolCall validates the tool name, dispatches, and replies with
// tool_response or tool_error, always threading the connection's real
// id into the monitor.
func (s *Server) handleToolCall(ctx context.Context, conn *connection.Connection, ad adapter.Adapter, raw []byte) {
	var in protocol.ToolCallIn
	if err := json.Unmarshal(raw, &in); err != nil {
		conn.RecordError()
		s.sendError(ctx, conn, nil, protocol.NewError(protocol.CodeProtocolViolation, "malformed tool_call"))
		return
	}

	start := time.Now()

	if err := s.registry.Validate(conn.NegotiatedVersion(), in.Tool); err != nil {
		elapsed := msSince(start)
		perr := protocol.AsError(err)
		s.monitor.TrackToolCall(conn.ID(), in.Tool, elapsed, false, string(perr.Code))
		conn.RecordToolCall(in.Tool)
		conn.RecordError()
		s.sendToolError(ctx, conn, in.ID, in.Tool, perr, elapsed)
		return
	}

	result, err := ad.Dispatch(in.Tool, in.Parameters)
	elapsed := msSince(start)
	conn.RecordToolCall(in.Tool)

	if err != nil {
		perr := protocol.AsError(err)
		s.monitor.TrackToolCall(conn.ID(), in.Tool, elapsed, false, string(perr.Code))
		conn.RecordError()
		s.sendToolError(ctx, conn, in.ID, in.Tool, perr, elapsed)
		return
	}

	s.monitor.TrackToolCall(conn.ID(), in.Tool, elapsed, true, "")
	_ = s.send(ctx, conn, protocol.TypeToolResponse, protocol.ToolResponseOut{
		Type:            protocol.TypeToolResponse,
		ID:              in.ID,
		Tool:            in.Tool,
		Result:          result,
		ExecutionTimeMS: elapsed,
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) sendToolError(ctx context.Context, conn *connection.Connection, id json.RawMessage, tool string, perr *protocol.Error, elapsedMS float64) {
	_ = s.send(ctx, conn, protocol.TypeToolError, protocol.ToolErrorOut{
		Type: protocol.TypeToolError,
		ID:   id,
		Tool: tool,
		Error: protocol.ToolErrorDetail{
			Code:            perr.Code,
			Message:         perr.Message,
			ExecutionTimeMS: elapsedMS,
			Timestamp:       time.Now().UTC().Format(time.RFC3339),
		},
	})
}

func (s *Server) handleGetCapabilities(ctx context.Context, conn *connection.Connection, ad adapter.Adapter, id json.RawMessage) {
	_ = s.send(ctx, conn, protocol.TypeCapabilities, protocol.CapabilitiesOut{
		Type: protocol.TypeCapabilities,
		ID:   id,
		Capabilities: protocol.CapabilitiesDetail{
			ProtocolVersion: conn.NegotiatedVersion(),
			Tools:           ad.Tools(),
			Features:        []string{"async_tools", "error_handling", "progress_tracking"},
			Limits: protocol.QuotaLimits{
				MaxMessageSize:        s.maxMessageSize,
				MaxToolCallsPerMinute: defaultMaxToolCallsPerMinute,
				MaxConcurrentCalls:    defaultMaxConcurrentCalls,
			},
		},
	})
}

func (s *Server) handleGetProtocolInfo(ctx context.Context, conn *connection.Connection, ad adapter.Adapter, id json.RawMessage) {
	version := conn.NegotiatedVersion()
	compatibleWith := s.registry.CompatibleClientVersions(version)
	tools := ad.Tools()

	_ = s.send(ctx, conn, protocol.TypeProtocolInfo, protocol.ProtocolInfoOut{
		Type: protocol.TypeProtocolInfo,
		ID:   id,
		Info: protocol.ProtocolInfoDetail{
			Version:        version,
			SupportedTools: tools,
			CompatibleWith: compatibleWith,
			Features: protocol.ProtocolInfoFeatures{
				ToolCount:          len(tools),
				BackwardCompatible: len(compatibleWith) > 0,
			},
		},
	})
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}

const (
	defaultMaxToolCallsPerMinute = 60
	defaultMaxConcurrentCalls    = 10
)
