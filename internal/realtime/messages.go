package realtime

import (
	"encoding/json"
	"strings"
)

const (
	markerHumanActive = "HUMAN_ACTIVE"
	markerStaffJoined = "staff_joined"
	markerAIActive    = "AI_ACTIVE"
)

// Message is an inbound chat message with non-empty text.
type Message struct {
	Type string
	Text string
	Raw  json.RawMessage
}

type outboundFrame struct {
	Type           string `json:"type"`
	SessionID      string `json:"sessionId"`
	ReadinessToken string `json:"readinessToken,omitempty"`
	Message        string `json:"message,omitempty"`
}

type inboundFrame struct {
	Type    string `json:"type"`
	Mode    string `json:"mode"`
	Message string `json:"message"`
	Content string `json:"content"`
}

type inboundKind int

const (
	inboundIgnored inboundKind = iota
	inboundHumanActive
	inboundMessage
)

func classifyInbound(data []byte) (inboundKind, Message) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return inboundIgnored, Message{}
	}

	for _, marker := range []string{frame.Type, frame.Mode} {
		switch marker {
		case markerHumanActive, markerStaffJoined:
			return inboundHumanActive, Message{}
		case markerAIActive:
			return inboundIgnored, Message{}
		}
	}

	text := frame.Message
	if strings.TrimSpace(text) == "" {
		text = frame.Content
	}
	if strings.TrimSpace(text) == "" {
		return inboundIgnored, Message{}
	}
	return inboundMessage, Message{
		Type: frame.Type,
		Text: text,
		Raw:  append(json.RawMessage(nil), data...),
	}
}

func joinFrame(sessionID, token string) []byte {
	return mustMarshal(outboundFrame{Type: "join", SessionID: sessionID, ReadinessToken: token})
}

func chatFrame(sessionID, token, text string) []byte {
	return mustMarshal(outboundFrame{Type: "message", SessionID: sessionID, ReadinessToken: token, Message: text})
}

func mustMarshal(value any) []byte {
	raw, err := json.Marshal(value)
	if err != nil {
		panic(err)
	}
	return raw
}
