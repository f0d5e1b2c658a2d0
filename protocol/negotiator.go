package protocol

// ClientCapabilities is the parsed shape of the client's declared
// capabilities document, extracted following a fixed precedence order
// plus a "none of the above" default.
type ClientCapabilities struct {
	Versions []string
	Features []string
}

// ExtractClientCapabilities parses a raw capabilities document (as
// decoded from the client's hello message) into a ClientCapabilities,
// following this precedence order:
//
//  1. a single field naming the preferred version ("protocolVersion"),
//  2. an array field listing supported versions ("supportedVersions" or
//     "versions"),
//  3. a legacy single-version field ("version"),
//  4. none of the above -> default to "1.0".
//
// Features are extracted analogously from "features", "tools", and
// "capabilities" (list or map); missing yields an empty set.
func ExtractClientCapabilities(doc map[string]any) ClientCapabilities {
	return ClientCapabilities{
		Versions: extractVersions(doc),
		Features: extractFeatures(doc),
	}
}

func extractVersions(doc map[string]any) []string {
	if v, ok := doc["protocolVersion"]; ok {
		if s, ok := v.(string); ok && s != "" {
			return []string{s}
		}
	}
	if v, ok := doc["supportedVersions"]; ok {
		if list := toStringSlice(v); len(list) > 0 {
			return list
		}
	}
	if v, ok := doc["versions"]; ok {
		if list := toStringSlice(v); len(list) > 0 {
			return list
		}
	}
	if v, ok := doc["version"]; ok {
		if s, ok := v.(string); ok && s != "" {
			return []string{s}
		}
	}
	return []string{"1.0"}
}

func extractFeatures(doc map[string]any) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	if v, ok := doc["features"]; ok {
		for _, s := range toStringSlice(v) {
			add(s)
		}
	}
	if v, ok := doc["tools"]; ok {
		for _, s := range toStringSlice(v) {
			add(s)
		}
	}
	if v, ok := doc["capabilities"]; ok {
		switch c := v.(type) {
		case []any:
			for _, s := range toStringSlice(c) {
				add(s)
			}
		case map[string]any:
			for k := range c {
				add(k)
			}
		}
	}
	return out
}

func toStringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// NegotiationError is raised when no server version can be selected. It
// carries the server's supported versions for the
// PROTOCOL_NEGOTIATION_FAILED reply.
type NegotiationError struct {
	SupportedVersions []string
}

func (e *NegotiationError) Error() string {
	return "no compatible protocol version found"
}

// Negotiator selects a server version given a client's declared
// capabilities.
type Negotiator struct {
	registry *Registry
}

// NewNegotiator builds a Negotiator backed by registry.
func NewNegotiator(registry *Registry) *Negotiator {
	return &Negotiator{registry: registry}
}

// Negotiate runs the four-step selection algorithm and returns the
// chosen server version, or a *NegotiationError.
func (n *Negotiator) Negotiate(caps ClientCapabilities) (string, error) {
	serverVersions := n.registry.Versions() // ascending

	// Step 1: exact matches, prefer the maximum.
	serverSet := make(map[string]bool, len(serverVersions))
	for _, v := range serverVersions {
		serverSet[v] = true
	}
	var exact []Version
	for _, cv := range caps.Versions {
		if serverSet[cv] {
			exact = append(exact, Version(cv))
		}
	}
	if len(exact) > 0 {
		return string(Max(exact)), nil
	}

	// Step 2: compatibility + feature scan, server versions descending,
	// client versions in the order the client listed them.
	for i := len(serverVersions) - 1; i >= 0; i-- {
		sv := serverVersions[i]
		adapter, ok := n.registry.Get(sv)
		if !ok {
			continue
		}
		for _, cv := range caps.Versions {
			if !n.registry.Compatible(sv, cv) {
				continue
			}
			if hasAllFeatures(adapter.Tools(), caps.Features) {
				return sv, nil
			}
		}
	}

	// Step 3: fallback to the oldest registered server version, if it is
	// <= some client-declared version under the total order. Incomparable
	// client versions never satisfy this.
	if len(serverVersions) > 0 {
		vMin := serverVersions[0]
		for _, cv := range caps.Versions {
			if Comparable(Version(vMin), Version(cv)) && LessOrEqual(Version(vMin), Version(cv)) {
				return vMin, nil
			}
		}
	}

	return "", &NegotiationError{SupportedVersions: serverVersions}
}

func hasAllFeatures(supportedTools, required []string) bool {
	if len(required) == 0 {
		return true
	}
	supported := make(map[string]bool, len(supportedTools))
	for _, t := range supportedTools {
		supported[t] = true
	}
	for _, f := range required {
		if !supported[f] {
			return false
		}
	}
	return true
}
