package protocol

import (
	"encoding/json"

	"wallandshadow.io/internal/maps/feature"
)

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	MapID           string `json:"map_id"`
	// UserID is taken on trust; authentication happens in front of the feed.
	UserID   string `json:"user_id"`
	MaxQueue int    `json:"max_queue,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	SessionID       string      `json:"session_id"`
	Map             feature.Map `json:"map"`
}

// CHANGES (server -> client): one stored batch. The base batch always comes
// first; after a consolidation the feed restarts with the new base.
type ChangesMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	DocID           string          `json:"doc_id"`
	Seq             int64           `json:"seq"`
	Batch           json.RawMessage `json:"batch"`
}

// SUBMIT (client -> server). ReqID becomes the stored document id, so it must
// be a ULID.
type SubmitMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	ReqID           string          `json:"req_id"`
	Batch           json.RawMessage `json:"batch"`
}

type AckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AckFor          string `json:"ack_for"`
	Accepted        bool   `json:"accepted"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
	Timestamp       int64  `json:"timestamp,omitempty"`
}

// ERROR (server -> client) ends the connection.
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message,omitempty"`
}

func NewAck(reqID string, code, message string) AckMsg {
	return AckMsg{
		Type:            TypeAck,
		ProtocolVersion: Version,
		AckFor:          reqID,
		Accepted:        code == "",
		Code:            code,
		Message:         message,
	}
}

func NewError(code, message string) ErrorMsg {
	return ErrorMsg{Type: TypeError, ProtocolVersion: Version, Code: code, Message: message}
}
