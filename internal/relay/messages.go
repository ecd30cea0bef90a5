// ABOUTME: Wire messages exchanged between callers, the relay and execution clients.
// ABOUTME: All frames are JSON text; replies from execution clients pass through verbatim.

package relay

import (
	"encoding/json"
	"errors"
)

// TypeSender marks a message as a caller command.
const TypeSender = "sender"

// Failure texts sent to callers.
const (
	ErrTextNoClients = "No clients connected"
	ErrTextTimeout   = "request timed out"
	ErrTextShutdown  = "relay shutting down"
)

// CallerMessage is what a caller sends: either a legacy code body or a
// command with params, plus the request id that correlates the reply.
type CallerMessage struct {
	Type      string          `json:"type"`
	Code      string          `json:"code,omitempty"`
	Command   string          `json:"command,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	RequestID string          `json:"request_id"`
}

func (m *CallerMessage) validate() error {
	if m.RequestID == "" {
		return errors.New("request_id is required")
	}
	if m.Code == "" && m.Command == "" {
		return errors.New("code or command is required")
	}
	return nil
}

// forward builds the message relayed to execution clients.
func (m *CallerMessage) forward() any {
	if m.Command == "" {
		return codeMessage{Code: m.Code, RequestID: m.RequestID}
	}
	params := m.Params
	if len(params) == 0 || string(params) == "null" {
		params = json.RawMessage(`{}`)
	}
	return commandMessage{Command: m.Command, Params: params, RequestID: m.RequestID}
}

type codeMessage struct {
	Code      string `json:"code"`
	RequestID string `json:"request_id"`
}

type commandMessage struct {
	Command   string          `json:"command"`
	Params    json.RawMessage `json:"params"`
	RequestID string          `json:"request_id"`
}

// Failure is the relay's own reply to a caller when no execution client answers.
type Failure struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func failure(msg string) Failure {
	return Failure{Success: false, Error: msg}
}

// firstMessage is decoded from a connection's first frame to pick its role.
type firstMessage struct {
	Type string `json:"type"`
}

// isCallerMessage reports whether data is a JSON object tagged as a caller command.
func isCallerMessage(data []byte) bool {
	var m firstMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return false
	}
	return m.Type == TypeSender
}

// replyEnvelope is the part of an execution client message the relay inspects.
type replyEnvelope struct {
	RequestID json.RawMessage `json:"request_id"`
}

// replyRequestID extracts the request id from an execution client message.
// ok is false when data is not a JSON object.
func replyRequestID(data []byte) (id string, ok bool) {
	var env replyEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", false
	}
	if len(env.RequestID) == 0 || string(env.RequestID) == "null" {
		return "", true
	}
	if err := json.Unmarshal(env.RequestID, &id); err != nil {
		return string(env.RequestID), true
	}
	return id, true
}
