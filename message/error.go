package message

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Error codes used by this module. Handlers may use any other integer.
const (
	CodeBadRequest      = 400
	CodeNotFound        = 404
	CodeTooManyRequests = 429
	CodeInternal        = 500
	CodeTimeout         = 504
)

// ErrorInfo is the error member of a Response. It is also a Go error, so a
// handler can return one to control the code and data sent back to the caller,
// and a caller can errors.As the error returned by a call to inspect it.
type ErrorInfo struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *ErrorInfo) Error() string {
	if e == nil {
		return "rpc error: <nil>"
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// NewError returns an ErrorInfo without data.
func NewError(code int, msg string) *ErrorInfo {
	return &ErrorInfo{Code: code, Message: msg}
}

// NewErrorWithData returns an ErrorInfo whose data is the JSON encoding of data.
func NewErrorWithData(code int, msg string, data any) (*ErrorInfo, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal error data: %w", err)
	}
	return &ErrorInfo{Code: code, Message: msg, Data: raw}, nil
}

// ErrorFrom converts a handler failure into the ErrorInfo sent to the caller.
// An ErrorInfo anywhere in the chain is kept as is (a zero code becomes
// CodeInternal); any other error becomes CodeInternal with err's text.
func ErrorFrom(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	var info *ErrorInfo
	if errors.As(err, &info) {
		if info == nil {
			// a typed nil *ErrorInfo returned as a non-nil error
			return &ErrorInfo{Code: CodeInternal, Message: "nil error"}
		}
		if info.Code == 0 {
			return &ErrorInfo{Code: CodeInternal, Message: info.Message, Data: info.Data}
		}
		return info
	}
	return &ErrorInfo{Code: CodeInternal, Message: err.Error()}
}
