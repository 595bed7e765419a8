package realtime

import (
	"encoding/json"
	"testing"
)

func TestClassifyInbound(t *testing.T) {
	cases := []struct {
		name string
		data string
		kind inboundKind
		text string
	}{
		{name: "human mode", data: `{"mode":"HUMAN_ACTIVE"}`, kind: inboundHumanActive},
		{name: "human type", data: `{"type":"HUMAN_ACTIVE","message":"agent here"}`, kind: inboundHumanActive},
		{name: "staff joined", data: `{"type":"staff_joined"}`, kind: inboundHumanActive},
		{name: "ai active", data: `{"mode":"AI_ACTIVE","message":"hello"}`, kind: inboundIgnored},
		{name: "message field", data: `{"type":"message","message":"hello"}`, kind: inboundMessage, text: "hello"},
		{name: "content fallback", data: `{"content":"from content"}`, kind: inboundMessage, text: "from content"},
		{name: "blank", data: `{"message":"  ","content":""}`, kind: inboundIgnored},
		{name: "malformed", data: `{"message":`, kind: inboundIgnored},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			kind, msg := classifyInbound([]byte(tc.data))
			if kind != tc.kind {
				t.Fatalf("expected kind %d, got %d", tc.kind, kind)
			}
			if msg.Text != tc.text {
				t.Fatalf("expected text %q, got %q", tc.text, msg.Text)
			}
		})
	}
}

func TestJoinFrameOmitsEmptyToken(t *testing.T) {
	var frame map[string]any
	if err := json.Unmarshal(joinFrame("rs_1", ""), &frame); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := frame["readinessToken"]; ok {
		t.Fatalf("expected token to be omitted, got %#v", frame)
	}
	if frame["sessionId"] != "rs_1" || frame["type"] != "join" {
		t.Fatalf("unexpected frame %#v", frame)
	}
}
