package llm

import (
	"encoding/json"
	"strings"
)

// BadResponseError indicates an upstream response that does not match the expected shape
type BadResponseError struct {
	Msg string
	Err error
}

func (e *BadResponseError) Error() string {
	if e.Err != nil {
		return "bad upstream response: " + e.Msg + ": " + e.Err.Error()
	}
	return "bad upstream response: " + e.Msg
}

func (e *BadResponseError) Unwrap() error {
	return e.Err
}

// NewBadResponseError creates BadResponseError
func NewBadResponseError(msg string) error {
	return &BadResponseError{Msg: msg}
}

// DecodeJSON parses the outermost JSON object of the content into T.
// Keys T does not know are ignored, callers validate the values.
func DecodeJSON[T any](content string) (*T, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, &BadResponseError{Msg: "no json object in response"}
	}
	var res T
	if err := json.Unmarshal([]byte(content[start:end+1]), &res); err != nil {
		return nil, &BadResponseError{Msg: "can't decode json", Err: err}
	}
	return &res, nil
}
