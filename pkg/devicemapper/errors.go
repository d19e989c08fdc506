package devicemapper

import (
	"fmt"

	"github.com/fly-io/thinp-harness/pkg/errors"
)

// ErrPoolNotActive is returned when a message is sent to a pool that has
// been deactivated.
var ErrPoolNotActive = errors.New("pool is not active")

// InvalidParametersError means a table failed validation. It is always
// produced before any driver call.
type InvalidParametersError struct {
	Target string
	Reason string
}

func (e *InvalidParametersError) Error() string {
	return fmt.Sprintf("invalid %s parameters: %s", e.Target, e.Reason)
}

func invalid(target, format string, args ...any) error {
	return &InvalidParametersError{Target: target, Reason: fmt.Sprintf(format, args...)}
}

// IsInvalidParameters reports whether err was rejected by table validation.
func IsInvalidParameters(err error) bool {
	var ipe *InvalidParametersError
	return errors.As(err, &ipe)
}

// DriverError is a rejection reported by the device-mapper driver, either
// while loading a table or while handling a message. The harness does not
// classify it further.
type DriverError struct {
	// Op is "create", "remove" or "message".
	Op     string
	Device string
	// Message is the driver's own diagnostic output.
	Message string
	Err     error
}

func (e *DriverError) Error() string {
	msg := fmt.Sprintf("dm %s on %s rejected", e.Op, e.Device)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *DriverError) Unwrap() error { return e.Err }

// IsDriverError reports whether err is a driver-level rejection.
func IsDriverError(err error) bool {
	var de *DriverError
	return errors.As(err, &de)
}
