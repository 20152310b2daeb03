package playback

import "context"

// Payload is the service's view of current playback.
type Payload struct {
	Device               Device
	IsPlaying            bool
	ProgressMs           int
	ShuffleState         bool
	RepeatState          RepeatMode
	ContextURI           string
	Item                 *Track // nil for episodes, ads and unknown items
	CurrentlyPlayingType string
	Disallows            Disallows
}

// Offset selects where in a context playback starts: by index into the
// context or list, or by track uri.
type Offset struct {
	Position *int
	URI      string
}

// PlayRequest is sent to RemoteAPI.Play. A request with no context, uris or
// offset resumes the current item at PositionMs.
type PlayRequest struct {
	DeviceID   string
	ContextURI string
	URIs       []string
	Offset     *Offset
	PositionMs int
}

// IsResume reports whether the request only carries a position.
func (r PlayRequest) IsResume() bool {
	return r.ContextURI == "" && r.URIs == nil && r.Offset == nil
}

// RemoteAPI is the remote playback service.
type RemoteAPI interface {
	// CurrentPlayback returns (nil, nil) when no device is active.
	CurrentPlayback(ctx context.Context, market string) (*Payload, error)
	TransferPlayback(ctx context.Context, deviceID string, play bool) error
	Play(ctx context.Context, req PlayRequest) error
	Pause(ctx context.Context) error
	Seek(ctx context.Context, positionMs int) error
	Next(ctx context.Context) error
	Previous(ctx context.Context) error
	Shuffle(ctx context.Context, on bool) error
	Repeat(ctx context.Context, mode RepeatMode) error
	SetVolume(ctx context.Context, percent int) error
	Devices(ctx context.Context) ([]Device, error)
	IsSaved(ctx context.Context, trackID string) (bool, error)
	SetSaved(ctx context.Context, trackID string, saved bool) error
}

// Authorizer is consulted before every remote call.
type Authorizer interface {
	Authorize(ctx context.Context) error
}

// SessionControl is the part of the token guard the player lifecycle needs.
type SessionControl interface {
	Authorizer
	Reauthorize(ctx context.Context) error
	Logout(ctx context.Context) error
}
