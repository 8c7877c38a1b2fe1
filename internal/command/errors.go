package command

import (
	"errors"
	"fmt"

	"github.com/tublink/tublink-core/internal/gateway"
)

// Common errors returned by command execution.
var (
	// ErrUnsupportedProperty indicates a property no executor path knows
	// how to write.
	ErrUnsupportedProperty = errors.New("command: unsupported property")

	// ErrInvalidValue indicates a command value of the wrong type for
	// its property.
	ErrInvalidValue = errors.New("command: invalid value for property")
)

// ConcurrentAccessError reports a command rejected because another
// command for the same (target, property) pair is still in flight.
type ConcurrentAccessError struct {
	Target   gateway.TargetID
	Property string
}

func (e *ConcurrentAccessError) Error() string {
	return fmt.Sprintf("command: %s %s already in flight", e.Target, e.Property)
}

// IsConcurrentAccess reports whether err is (or wraps) a
// ConcurrentAccessError.
func IsConcurrentAccess(err error) bool {
	var cae *ConcurrentAccessError
	return errors.As(err, &cae)
}
