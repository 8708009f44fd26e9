package transport

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrTransportFailure   = errors.New("transport failure")
	ErrExecutionHandleNil = errors.New("execution handle is nil")
	// ErrBusy is returned when an exchange is started while another is loading.
	ErrBusy = errors.New("an exchange is already in flight")
	// ErrStopped is recorded when an exchange is stopped explicitly.
	ErrStopped = errors.New("exchange stopped")
)

// TransportError reports a network or server failure of an exchange.
type TransportError struct {
	StatusCode int
	Reason     string
	Err        error
}

func (e *TransportError) Error() string {
	if e == nil {
		return ErrTransportFailure.Error()
	}
	msg := ErrTransportFailure.Error()
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s: status %d", msg, e.StatusCode)
	}
	if e.Reason != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Reason)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Err)
	}
	return msg
}

func (e *TransportError) Is(target error) bool { return target == ErrTransportFailure }

func (e *TransportError) Unwrap() error { return e.Err }

// asTransportError wraps err as a TransportError unless it already is one.
func asTransportError(err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Err: err}
}
