package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/justestif/go-spotify-playback/internal/playback"
)

// statusView is the JSON form of playback state.
type statusView struct {
	Playing    bool     `json:"playing"`
	Track      string   `json:"track,omitempty"`
	TrackURI   string   `json:"track_uri,omitempty"`
	Artists    []string `json:"artists,omitempty"`
	PositionMs int      `json:"position_ms"`
	DurationMs int      `json:"duration_ms"`
	Context    string   `json:"context_uri,omitempty"`
	Shuffle    bool     `json:"shuffle"`
	Repeat     string   `json:"repeat"`
	Volume     int      `json:"volume"`
	Muted      bool     `json:"muted"`
	Saved      bool     `json:"saved"`
	Device     string   `json:"device,omitempty"`
	Type       string   `json:"type,omitempty"`
}

func newStatusView(st playback.State) statusView {
	v := statusView{
		Playing:    st.IsPlaying,
		PositionMs: st.PositionMs,
		DurationMs: st.DurationMs,
		Context:    st.ContextURI,
		Shuffle:    st.IsShuffled,
		Repeat:     st.Repeat.String(),
		Volume:     st.VolumePercent,
		Muted:      st.IsMuted,
		Saved:      st.IsSaved,
		Type:       st.PlayingType,
	}
	if st.Track != nil {
		v.Track = st.Track.Name
		v.TrackURI = st.Track.URI
		v.Artists = st.Track.Artists
	}
	if d, ok := st.ActiveDevice(); ok {
		v.Device = d.Name
	}
	return v
}

func formatStatusLine(st playback.State) string {
	if !st.HasTrack() {
		if st.PlayingType == "episode" {
			return "Playing a podcast episode"
		}
		return "Nothing playing"
	}
	icon := "||"
	if st.IsPlaying {
		icon = "|>"
	}
	line := fmt.Sprintf("%s %s", icon, st.Track.Name)
	if len(st.Track.Artists) > 0 {
		line += " - " + strings.Join(st.Track.Artists, ", ")
	}
	return line
}

func formatStatus(st playback.State) string {
	var b strings.Builder
	b.WriteString(formatStatusLine(st))
	b.WriteString("\n")
	if st.HasTrack() {
		fmt.Fprintf(&b, "   %s / %s\n", formatDuration(st.PositionMs), formatDuration(st.DurationMs))
	}
	repeat := "unknown"
	if st.RepeatKnown {
		repeat = st.Repeat.String()
	}
	fmt.Fprintf(&b, "   shuffle %s, repeat %s, volume %d%%", onOff(st.IsShuffled), repeat, st.VolumePercent)
	if st.IsMuted {
		b.WriteString(" (muted)")
	}
	b.WriteString("\n")
	if d, ok := st.ActiveDevice(); ok {
		fmt.Fprintf(&b, "   on %s (%s)\n", d.Name, d.Type)
	}
	return b.String()
}

func formatDuration(ms int) string {
	d := time.Duration(ms) * time.Millisecond
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}

// parsePosition accepts seconds ("90", "12.5") or minutes and seconds ("1:30")
// and returns milliseconds.
func parsePosition(s string) (int, error) {
	var secs float64
	if m, sec, ok := strings.Cut(s, ":"); ok {
		mins, err := strconv.Atoi(m)
		if err != nil {
			return 0, fmt.Errorf("invalid position %q", s)
		}
		rest, err := strconv.ParseFloat(sec, 64)
		if err != nil || rest >= 60 {
			return 0, fmt.Errorf("invalid position %q", s)
		}
		secs = float64(mins)*60 + rest
	} else {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid position %q", s)
		}
		secs = v
	}
	if secs < 0 {
		return 0, fmt.Errorf("invalid position %q", s)
	}
	return int(secs * 1000), nil
}

// findDevice matches by id, then by case-insensitive name.
func findDevice(devices []playback.Device, target string) (playback.Device, bool) {
	for _, d := range devices {
		if d.ID == target {
			return d, true
		}
	}
	for _, d := range devices {
		if strings.EqualFold(d.Name, target) {
			return d, true
		}
	}
	return playback.Device{}, false
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
