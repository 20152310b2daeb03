package playback

import "context"

// EventType tags an Event from the local engine.
type EventType int

const (
	EventReady EventType = iota + 1
	EventNotReady
	EventStateChanged
	EventPlaybackError
	EventAuthenticationError
	EventInitializationError
	EventAccountError
)

func (t EventType) String() string {
	switch t {
	case EventReady:
		return "ready"
	case EventNotReady:
		return "not_ready"
	case EventStateChanged:
		return "player_state_changed"
	case EventPlaybackError:
		return "playback_error"
	case EventAuthenticationError:
		return "authentication_error"
	case EventInitializationError:
		return "initialization_error"
	case EventAccountError:
		return "account_error"
	default:
		return "unknown"
	}
}

// Event is pushed by the local engine. DeviceID is set for ready/not_ready,
// State for player_state_changed (nil when the engine has nothing loaded),
// Err for the error variants.
type Event struct {
	Type     EventType
	DeviceID string
	State    *EngineState
	Err      error
}

// EngineState is a state delta pushed by the local engine while it renders audio.
type EngineState struct {
	Paused         bool
	PositionMs     int
	DurationMs     int
	Shuffle        bool
	Repeat         RepeatMode
	ContextURI     string
	Track          *Track
	NextTracks     []Track
	PreviousTracks []Track
	Disallows      Disallows
}

// LocalEngine is the in-process playback engine (render owner when active).
type LocalEngine interface {
	Connect(ctx context.Context) error
	Disconnect()
	// Volume returns the engine's volume in percent.
	Volume(ctx context.Context) (int, error)
	Events() <-chan Event
}

// TokenFunc hands the engine a bearer token on demand.
type TokenFunc func(ctx context.Context) (string, error)
