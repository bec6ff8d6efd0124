// Package wire defines the JSON frames exchanged over the live-query websocket.
package wire

import (
	"encoding/json"

	"github.com/mahaj/livechat/pkg/model"
)

type FrameType string

const (
	// Server to client.
	TypeSnapshot FrameType = "snapshot"
	TypeAck      FrameType = "ack"
	TypeError    FrameType = "error"

	// Client to server.
	TypeAppend FrameType = "append"
)

// Error codes carried by error frames.
const (
	CodeInvalid          = "invalid-argument"
	CodePermissionDenied = "permission-denied"
	CodeUnauthenticated  = "unauthenticated"
	CodeUnavailable      = "unavailable"
)

type Frame struct {
	Type       FrameType         `json:"type"`
	Collection string            `json:"collection,omitempty"`
	RequestID  string            `json:"request_id,omitempty"`
	Token      string            `json:"token,omitempty"`
	Append     *model.NewMessage `json:"append,omitempty"`
	Messages   []model.Message   `json:"messages,omitempty"`
	MessageID  int64             `json:"message_id,omitempty"`
	Code       string            `json:"code,omitempty"`
	Error      string            `json:"error,omitempty"`
}

func Snapshot(collection string, messages []model.Message) Frame {
	return Frame{Type: TypeSnapshot, Collection: collection, Messages: messages}
}

func Ack(requestID string, messageID int64) Frame {
	return Frame{Type: TypeAck, RequestID: requestID, MessageID: messageID}
}

func Error(requestID, code, msg string) Frame {
	return Frame{Type: TypeError, RequestID: requestID, Code: code, Error: msg}
}

func Encode(f Frame) ([]byte, error) {
	return json.Marshal(f)
}

func Decode(data []byte) (Frame, error) {
	var f Frame
	err := json.Unmarshal(data, &f)
	return f, err
}
