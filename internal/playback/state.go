// Package playback keeps one consistent view of what is playing by merging
// user commands, remote polls and push events from the local engine.
package playback

import (
	"fmt"
	"slices"
	"time"
)

// RepeatMode is the repeat setting, cycling off → context → track → off.
type RepeatMode int

const (
	RepeatOff RepeatMode = iota
	RepeatContext
	RepeatTrack
)

var repeatNames = [...]string{"off", "context", "track"}

func (m RepeatMode) String() string {
	if m < 0 || int(m) >= len(repeatNames) {
		return fmt.Sprintf("RepeatMode(%d)", int(m))
	}
	return repeatNames[m]
}

// Next returns the following mode in the cycle.
func (m RepeatMode) Next() RepeatMode {
	return (m + 1) % RepeatMode(len(repeatNames))
}

// ParseRepeatMode parses "off", "context" or "track".
func ParseRepeatMode(s string) (RepeatMode, error) {
	for i, name := range repeatNames {
		if s == name {
			return RepeatMode(i), nil
		}
	}
	return RepeatOff, fmt.Errorf("unknown repeat mode %q", s)
}

// Command names a server-side restriction flag.
type Command string

const (
	CmdResuming              Command = "resuming"
	CmdPausing               Command = "pausing"
	CmdSeeking               Command = "seeking"
	CmdSkippingNext          Command = "skipping_next"
	CmdSkippingPrev          Command = "skipping_prev"
	CmdTogglingShuffle       Command = "toggling_shuffle"
	CmdTogglingRepeatContext Command = "toggling_repeat_context"
	CmdTogglingRepeatTrack   Command = "toggling_repeat_track"
	CmdTransferringPlayback  Command = "transferring_playback"
	CmdInterruptingPlayback  Command = "interrupting_playback"

	// CmdVolume and CmdSaving are never disallowed by the server; they only
	// label notices.
	CmdVolume Command = "volume"
	CmdSaving Command = "saving"
)

// Disallows is the set of commands the server currently refuses.
type Disallows map[Command]bool

// Has reports whether c is disallowed.
func (d Disallows) Has(c Command) bool {
	return d[c]
}

func (d Disallows) clone() Disallows {
	out := make(Disallows, len(d))
	for k, v := range d {
		if v {
			out[k] = true
		}
	}
	return out
}

type Track struct {
	ID         string
	URI        string
	Name       string
	Artists    []string
	DurationMs int
}

func (t *Track) clone() *Track {
	if t == nil {
		return nil
	}
	c := *t
	c.Artists = slices.Clone(t.Artists)
	return &c
}

// Device is a Spotify Connect device.
type Device struct {
	ID            string
	Name          string
	Type          string
	IsActive      bool
	VolumePercent int
}

// CustomContext is a client-built playback context that overrides what the
// service reports as the current context.
type CustomContext struct {
	ContextURI string
	TrackURIs  []string
	TrackIndex *int
}

func (c CustomContext) clone() CustomContext {
	out := CustomContext{ContextURI: c.ContextURI, TrackURIs: slices.Clone(c.TrackURIs)}
	if c.TrackIndex != nil {
		i := *c.TrackIndex
		out.TrackIndex = &i
	}
	return out
}

// State is the merged view of playback.
type State struct {
	IsPlaying  bool
	PositionMs int
	DurationMs int // 0 when unknown
	Track      *Track
	ContextURI string
	IsShuffled bool

	Repeat      RepeatMode
	RepeatKnown bool

	Disallows     Disallows
	VolumePercent int
	IsMuted       bool

	ActiveDeviceID string
	LocalDeviceID  string
	Devices        []Device

	NextTracks     []Track
	PreviousTracks []Track
	IsSaved        bool
	PlayingType    string
	Custom         CustomContext
}

// DefaultState returns the state of a fresh or torn-down session.
func DefaultState() State {
	return State{
		Repeat:         RepeatOff,
		Disallows:      Disallows{},
		Devices:        []Device{},
		NextTracks:     []Track{},
		PreviousTracks: []Track{},
	}
}

// Clone returns a deep copy.
func (s State) Clone() State {
	c := s
	c.Track = s.Track.clone()
	c.Disallows = s.Disallows.clone()
	c.Devices = slices.Clone(s.Devices)
	c.NextTracks = cloneTracks(s.NextTracks)
	c.PreviousTracks = cloneTracks(s.PreviousTracks)
	c.Custom = s.Custom.clone()
	return c
}

func cloneTracks(ts []Track) []Track {
	if ts == nil {
		return []Track{}
	}
	out := make([]Track, len(ts))
	for i := range ts {
		out[i] = *ts[i].clone()
	}
	return out
}

// HasTrack reports whether a track is set.
func (s State) HasTrack() bool {
	return s.Track != nil
}

// TrackID returns the current track id or "".
func (s State) TrackID() string {
	if s.Track == nil {
		return ""
	}
	return s.Track.ID
}

// TrackURI returns the current track uri or "".
func (s State) TrackURI() string {
	if s.Track == nil {
		return ""
	}
	return s.Track.URI
}

// IsThisAppPlaying reports whether the local engine is the render owner.
func (s State) IsThisAppPlaying() bool {
	return s.LocalDeviceID != "" && s.ActiveDeviceID == s.LocalDeviceID
}

// Remaining returns the time left in the current track, if known.
func (s State) Remaining() (time.Duration, bool) {
	if s.DurationMs <= 0 {
		return 0, false
	}
	return time.Duration(max(s.DurationMs-s.PositionMs, 0)) * time.Millisecond, true
}

// ActiveDevice returns the device marked active, if any.
func (s State) ActiveDevice() (Device, bool) {
	for _, d := range s.Devices {
		if d.IsActive {
			return d, true
		}
	}
	return Device{}, false
}
