package protocol

import "encoding/json"

// Message type discriminators carried in every envelope's "type" field.
const (
	TypeHello             = "hello"
	TypeReady             = "ready"
	TypePing              = "ping"
	TypePong              = "pong"
	TypeToolCall          = "tool_call"
	TypeToolResponse      = "tool_response"
	TypeToolError         = "tool_error"
	TypeGetCapabilities   = "get_capabilities"
	TypeCapabilities      = "capabilities"
	TypeGetProtocolInfo   = "get_protocol_info"
	TypeProtocolInfo      = "protocol_info"
	TypeError             = "error"
)

// Envelope is the minimal shape every message (either direction) must
// satisfy: a type discriminator and an optional request id echoed back in
// replies.
type Envelope struct {
	Type string          `json:"type"`
	ID   json.RawMessage `json:"id,omitempty"`
}

// HelloIn is the client->server hello payload.
type HelloIn struct {
	Type         string         `json:"type"`
	Capabilities map[string]any `json:"capabilities"`
	ClientInfo   map[string]any `json:"client_info"`
}

// ToolCallIn is the client->server tool_call payload.
type ToolCallIn struct {
	Type       string          `json:"type"`
	ID         json.RawMessage `json:"id,omitempty"`
	Tool       string          `json:"tool"`
	Parameters map[string]any  `json:"parameters"`
}

// IDIn carries just type + id, enough to drive ping/get_capabilities/
// get_protocol_info/ready dispatch.
type IDIn struct {
	Type string          `json:"type"`
	ID   json.RawMessage `json:"id,omitempty"`
}

// HelloOut is the server->client hello reply.
type HelloOut struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	ServerInfo      ServerInfo     `json:"server_info"`
	Capabilities    HelloCapabilities `json:"capabilities"`
}

// ServerInfo identifies this server implementation.
type ServerInfo struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
}

// HelloCapabilities is the capability advertisement carried in the
// server's hello reply.
type HelloCapabilities struct {
	Tools          []string `json:"tools"`
	Features       []string `json:"features"`
	MaxMessageSize int      `json:"max_message_size"`
}

// PongOut echoes a ping.
type PongOut struct {
	Type string          `json:"type"`
	ID   json.RawMessage `json:"id,omitempty"`
}

// ToolResponseOut is a successful tool_call reply.
type ToolResponseOut struct {
	Type            string          `json:"type"`
	ID              json.RawMessage `json:"id,omitempty"`
	Tool            string          `json:"tool"`
	Result          map[string]any  `json:"result"`
	ExecutionTimeMS float64         `json:"execution_time_ms"`
	Timestamp       string          `json:"timestamp"`
}

// ToolErrorOut is a failed tool_call reply.
type ToolErrorOut struct {
	Type  string          `json:"type"`
	ID    json.RawMessage `json:"id,omitempty"`
	Tool  string          `json:"tool"`
	Error ToolErrorDetail `json:"error"`
}

// ToolErrorDetail is the nested error object of a tool_error reply.
type ToolErrorDetail struct {
	Code            ErrorCode `json:"code"`
	Message         string    `json:"message"`
	ExecutionTimeMS float64   `json:"execution_time_ms"`
	Timestamp       string    `json:"timestamp"`
}

// CapabilitiesOut is the reply to get_capabilities.
type CapabilitiesOut struct {
	Type         string              `json:"type"`
	ID           json.RawMessage     `json:"id,omitempty"`
	Capabilities CapabilitiesDetail  `json:"capabilities"`
}

// CapabilitiesDetail carries the negotiated version, tool set, feature
// list and quota limits, including the informational quota fields.
type CapabilitiesDetail struct {
	ProtocolVersion string       `json:"protocol_version"`
	Tools           []string     `json:"tools"`
	Features        []string     `json:"features"`
	Limits          QuotaLimits  `json:"limits"`
}

// QuotaLimits are static, advertised-only limits; nothing enforces them
// here — rate limiting is left to an external collaborator.
type QuotaLimits struct {
	MaxMessageSize        int `json:"max_message_size"`
	MaxToolCallsPerMinute int `json:"max_tool_calls_per_minute"`
	MaxConcurrentCalls    int `json:"max_concurrent_calls"`
}

// ProtocolInfoOut is the reply to get_protocol_info.
type ProtocolInfoOut struct {
	Type string              `json:"type"`
	ID   json.RawMessage     `json:"id,omitempty"`
	Info ProtocolInfoDetail  `json:"info"`
}

// ProtocolInfoDetail carries the negotiated version's tool surface and
// compatibility relation, plus the derived tool_count/backward_compatible
// fields.
type ProtocolInfoDetail struct {
	Version         string              `json:"version"`
	SupportedTools  []string            `json:"supported_tools"`
	CompatibleWith  []string            `json:"compatible_with"`
	Features        ProtocolInfoFeatures `json:"features"`
}

// ProtocolInfoFeatures holds the derived feature summary.
type ProtocolInfoFeatures struct {
	ToolCount          int  `json:"tool_count"`
	BackwardCompatible bool `json:"backward_compatible"`
}

// ErrorOut is a top-level (non tool-scoped) error reply.
type ErrorOut struct {
	Type  string          `json:"type"`
	ID    json.RawMessage `json:"id,omitempty"`
	Error ErrorDetail     `json:"error"`
}

// ErrorDetail is the nested error object of a top-level error reply.
type ErrorDetail struct {
	Code              ErrorCode `json:"code"`
	Message           string    `json:"message"`
	Timestamp         string    `json:"timestamp"`
	SupportedVersions []string  `json:"supported_versions,omitempty"`
}
