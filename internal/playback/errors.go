package playback

import "errors"

var (
	// ErrUnauthorized is returned when no valid token could be obtained.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrDeviceNotFound is returned by RemoteAPI when the target device is gone.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrCommandRejected is returned when the server currently disallows a command.
	ErrCommandRejected = errors.New("command rejected")

	// ErrNoLocalDevice is returned when an operation needs the local engine's
	// device id before the engine reported ready.
	ErrNoLocalDevice = errors.New("local device not ready")

	// ErrNoTrack is returned by track operations when nothing is playing.
	ErrNoTrack = errors.New("no track")
)
