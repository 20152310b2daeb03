package spotify

import (
	"github.com/justestif/go-spotify-playback/internal/playback"
)

// playerResponse is GET /me/player. The library's PlayerState does not carry
// currently_playing_type or actions, so the endpoint is decoded here.
type playerResponse struct {
	Device               deviceJSON   `json:"device"`
	ShuffleState         bool         `json:"shuffle_state"`
	RepeatState          string       `json:"repeat_state"`
	Context              *contextJSON `json:"context"`
	ProgressMs           *float64     `json:"progress_ms"`
	IsPlaying            bool         `json:"is_playing"`
	Item                 *itemJSON    `json:"item"`
	CurrentlyPlayingType string       `json:"currently_playing_type"`
	Actions              struct {
		Disallows map[string]bool `json:"disallows"`
	} `json:"actions"`
}

type deviceJSON struct {
	ID            *string  `json:"id"`
	IsActive      bool     `json:"is_active"`
	Name          string   `json:"name"`
	Type          string   `json:"type"`
	VolumePercent *float64 `json:"volume_percent"`
}

type contextJSON struct {
	URI string `json:"uri"`
}

type itemJSON struct {
	ID         *string `json:"id"`
	URI        string  `json:"uri"`
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	DurationMs float64 `json:"duration_ms"`
	Artists    []struct {
		Name string `json:"name"`
	} `json:"artists"`
}

// toPayload converts the wire response. Items that are not tracks are
// dropped; the playing type still says what they were.
func (r *playerResponse) toPayload() *playback.Payload {
	p := &playback.Payload{
		Device:               r.Device.toDevice(),
		IsPlaying:            r.IsPlaying,
		ShuffleState:         r.ShuffleState,
		CurrentlyPlayingType: r.CurrentlyPlayingType,
		Disallows:            playback.Disallows{},
	}
	if r.ProgressMs != nil {
		p.ProgressMs = int(*r.ProgressMs)
	}
	if r.Context != nil {
		p.ContextURI = r.Context.URI
	}
	if mode, err := playback.ParseRepeatMode(r.RepeatState); err == nil {
		p.RepeatState = mode
	}
	for name, on := range r.Actions.Disallows {
		if on {
			p.Disallows[playback.Command(name)] = true
		}
	}
	if r.Item != nil && (r.Item.Type == "" || r.Item.Type == "track") {
		p.Item = r.Item.toTrack()
	}
	return p
}

func (d deviceJSON) toDevice() playback.Device {
	dev := playback.Device{
		ID:       deref(d.ID),
		Name:     d.Name,
		Type:     d.Type,
		IsActive: d.IsActive,
	}
	if d.VolumePercent != nil {
		dev.VolumePercent = int(*d.VolumePercent)
	}
	return dev
}

func (i *itemJSON) toTrack() *playback.Track {
	artists := make([]string, len(i.Artists))
	for n, a := range i.Artists {
		artists[n] = a.Name
	}
	return &playback.Track{
		ID:         deref(i.ID),
		URI:        i.URI,
		Name:       i.Name,
		Artists:    artists,
		DurationMs: int(i.DurationMs),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
