package core

import "errors"

var (
	// ErrDisabled is returned by every request while the subsystem is disabled.
	ErrDisabled = errors.New("update subsystem is disabled")
	// ErrSessionActive is returned when a session already holds the device.
	ErrSessionActive = errors.New("update process ongoing")
	// ErrTimeout marks a request that got no answer before its deadline.
	ErrTimeout = errors.New("request timed out")
	// ErrUnreachable marks an endpoint that could not be reached at all.
	ErrUnreachable = errors.New("endpoint unreachable")
	// ErrRejected marks a request the component answered with an error.
	ErrRejected = errors.New("request rejected")
	// ErrChecksumMismatch marks a payload whose digest differs from the release.
	ErrChecksumMismatch = errors.New("payload checksum mismatch")
	// ErrNoRelease marks a component the update server has nothing for.
	ErrNoRelease = errors.New("no release published")
)
