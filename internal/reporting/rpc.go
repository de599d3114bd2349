// Package reporting is the worker's asynchronous result channel. A small
// JSON-RPC 1.1 endpoint receives "test finished" notifications and forwards
// them to the issue tracker and the report database, so slow reporting
// never stalls the consume loop.
package reporting

import (
	"encoding/json"
	"errors"
	"fmt"
)

// JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeServerError    = -32000
)

// MethodTestFinished is the method name of the "test finished" handler.
const MethodTestFinished = "Reporter.TestFinished"

// Request is a JSON-RPC 1.1 request envelope.
type Request struct {
	ID      string            `json:"id"`
	Method  string            `json:"method"`
	Version string            `json:"version"`
	Params  []json.RawMessage `json:"params"`
}

// Response is a JSON-RPC 1.1 response envelope.
type Response struct {
	ID      string          `json:"id"`
	Version string          `json:"version"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Fault          `json:"error,omitempty"`
}

// Fault is a JSON-RPC error object.
type Fault struct {
	Name    string `json:"name"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (f *Fault) Error() string {
	return fmt.Sprintf("rpc fault %d: %s", f.Code, f.Message)
}

// IsFault reports whether err carries an RPC fault with the given code.
func IsFault(err error, code int) bool {
	var f *Fault
	return errors.As(err, &f) && f.Code == code
}
