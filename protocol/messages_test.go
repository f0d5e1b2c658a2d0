package protocol

import (
	"encoding/json"
	"testing"
)

func TestToolResponseOut_RoundTrip(t *testing.T) {
	original := ToolResponseOut{
		Type:            TypeToolResponse,
		ID:              json.RawMessage(`"req-1"`),
		Tool:            "rag_search",
		Result:          map[string]any{"total_results": float64(2)},
		ExecutionTimeMS: 12.5,
		Timestamp:       "2026-08-01T00:00:00Z",
	}

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatal(err)
	}

	var decoded ToolResponseOut
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}

	if decoded.Tool != original.Tool || decoded.ExecutionTimeMS != original.ExecutionTimeMS {
		t.Errorf("round-trip mismatch: got %+v, want %+v", decoded, original)
	}
	if string(decoded.ID) != string(original.ID) {
		t.Errorf("id not preserved: got %s want %s", decoded.ID, original.ID)
	}
}

func TestErrorOut_RoundTrip(t *testing.T) {
	original := ErrorOut{
		Type: TypeError,
		ID:   json.RawMessage(`42`),
		Error: ErrorDetail{
			Code:              CodeNegotiationFailed,
			Message:           "no compatible version",
			Timestamp:         "2026-08-01T00:00:00Z",
			SupportedVersions: []string{"1.0", "1.1"},
		},
	}

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatal(err)
	}
	var decoded ErrorOut
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Error.Code != original.Error.Code || len(decoded.Error.SupportedVersions) != 2 {
		t.Errorf("round-trip mismatch: got %+v", decoded)
	}
}

func TestEnvelope_DecodesJustTypeAndID(t *testing.T) {
	raw := []byte(`{"type":"ping","id":"abc","tool":"ignored"}`)
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatal(err)
	}
	if env.Type != "ping" || string(env.ID) != `"abc"` {
		t.Errorf("got %+v", env)
	}
}
