package orch

import "errors"

var (
	// ErrProtocolViolation is a signaling operation requested in an illegal
	// link state. The session as a whole keeps going; only the offending
	// operation is rejected.
	ErrProtocolViolation = errors.New("protocol violation")
	ErrNoLink            = errors.New("no link for remote")
)
