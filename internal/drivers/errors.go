package drivers

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindTransport     ErrorKind = "transport"
	KindAuth          ErrorKind = "auth"
	KindUnsupported   ErrorKind = "unsupported"
	KindUnknownDriver ErrorKind = "unknown_driver"
)

// DriverError is the only error type drivers return.
type DriverError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Kind, e.Op, e.Err)
}

func (e *DriverError) Unwrap() error {
	return e.Err
}

// KindOf extracts the kind of a driver error, or "" for anything else.
func KindOf(err error) ErrorKind {
	var de *DriverError
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

func unsupported(driverType, actionKey string) error {
	return &DriverError{
		Kind: KindUnsupported,
		Op:   "execute",
		Err:  fmt.Errorf("action %q not supported by %s", actionKey, driverType),
	}
}

func transportErr(op string, err error) error {
	return &DriverError{Kind: KindTransport, Op: op, Err: err}
}
