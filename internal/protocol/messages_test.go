package protocol

import (
	"encoding/json"
	"testing"
)

func TestDecodeBaseRoutesByType(t *testing.T) {
	raw := []byte(`{"type":"SUBMIT","protocol_version":"1.0","req_id":"01J0000000000000000000000A","batch":{"chs":[]}}`)
	base, err := DecodeBase(raw)
	if err != nil || base.Type != TypeSubmit || base.ProtocolVersion != Version {
		t.Fatalf("base = %+v, %v", base, err)
	}
	var sub SubmitMsg
	if err := json.Unmarshal(raw, &sub); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(sub.Batch) != `{"chs":[]}` {
		t.Fatalf("batch kept as %s", sub.Batch)
	}
}

func TestNewAck(t *testing.T) {
	if a := NewAck("r1", "", ""); !a.Accepted || a.Type != TypeAck {
		t.Fatalf("accepted ack = %+v", a)
	}
	a := NewAck("r2", ErrConflict, "duplicate")
	if a.Accepted || !IsKnownCode(a.Code) {
		t.Fatalf("refused ack = %+v", a)
	}
}
