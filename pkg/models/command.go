package models

import "encoding/json"

// CommandRequest invokes one namespaced session command, e.g. "navigation.back".
type CommandRequest struct {
	ID      string          `json:"id,omitempty"`
	Command string          `json:"command"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// CommandResponse carries either a result or an error for a CommandRequest.
type CommandResponse struct {
	ID     string        `json:"id,omitempty"`
	Result any           `json:"result,omitempty"`
	Error  *CommandError `json:"error,omitempty"`
}

// CommandError is the wire form of a failed command.
type CommandError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// LogEntry is one record from a session log sink.
type LogEntry struct {
	Timestamp int64  `json:"timestamp"`
	Level     string `json:"level"`
	Source    string `json:"source"`
	Message   string `json:"message"`
}

// Element is a snapshot of a located element.
type Element struct {
	Tag        string            `json:"tag"`
	Text       string            `json:"text"`
	Attributes map[string]string `json:"attributes,omitempty"`
	OuterHTML  string            `json:"outerHTML"`
}
