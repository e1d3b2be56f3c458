package app

import "errors"

var (
	ErrUnknownSession = errors.New("unknown session")
	ErrNotRinging     = errors.New("session not ringing")
	ErrNoOffer        = errors.New("no offer addressed to participant")
	// ErrSignalingWrite marks a failed channel write. It is propagated to the
	// caller of the operation that triggered the write.
	ErrSignalingWrite = errors.New("signaling write failed")
)
