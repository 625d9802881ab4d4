package client

import (
	"fmt"
	"net/http"
)

var ErrNotFound = fmt.Errorf("not found")
var ErrRequest = fmt.Errorf("request error")
var ErrBadResponse = fmt.Errorf("bad response")
var ErrUnauthorized = fmt.Errorf("unauthorized")
var ErrInternal = fmt.Errorf("internal error")

type brokerError struct {
	msg    string
	target error
}

func (b brokerError) Error() string        { return b.msg }
func (b brokerError) Is(target error) bool { return target == b.target }

// NewErrorFromResponse maps a non-2xx broker response to an errors.Is
// matchable error carrying the status and body.
func NewErrorFromResponse(statusCode int, body []byte) error {
	target := ErrBadResponse

	switch {
	case statusCode == http.StatusNotFound:
		target = ErrNotFound
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		target = ErrUnauthorized
	case statusCode >= http.StatusInternalServerError:
		target = ErrInternal
	}

	return &brokerError{
		msg:    fmt.Sprintf("context broker returned status code %d (body: %s)", statusCode, string(body)),
		target: target,
	}
}
