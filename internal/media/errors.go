// Package media owns local capture: acquiring tracks, mute/video toggles and
// release. Tracks are lent to peer links; only this package may stop them.
package media

import "fmt"

type Reason int

const (
	PermissionDenied Reason = iota
	DeviceNotFound
	DeviceBusy
	Overconstrained
	InsecureContext
	Unsupported
)

func (r Reason) String() string {
	switch r {
	case PermissionDenied:
		return "permission_denied"
	case DeviceNotFound:
		return "device_not_found"
	case DeviceBusy:
		return "device_busy"
	case Overconstrained:
		return "overconstrained"
	case InsecureContext:
		return "insecure_context"
	case Unsupported:
		return "unsupported"
	}
	return "unknown"
}

// Error is the typed acquisition failure. It always aborts the start/answer
// operation that requested the media, before any signaling write happens.
type Error struct {
	Reason Reason
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("media: %s", e.Reason)
	}
	return fmt.Sprintf("media: %s: %v", e.Reason, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(reason Reason, err error) *Error {
	return &Error{Reason: reason, Err: err}
}
