package playback

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepeatMode_Cycle(t *testing.T) {
	tests := []struct {
		from RepeatMode
		want RepeatMode
	}{
		{RepeatOff, RepeatContext},
		{RepeatContext, RepeatTrack},
		{RepeatTrack, RepeatOff},
	}

	for _, tt := range tests {
		t.Run(tt.from.String(), func(t *testing.T) {
			if got := tt.from.Next(); got != tt.want {
				t.Errorf("Next() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseRepeatMode(t *testing.T) {
	for _, name := range []string{"off", "context", "track"} {
		m, err := ParseRepeatMode(name)
		require.NoError(t, err)
		assert.Equal(t, name, m.String())
	}

	_, err := ParseRepeatMode("all")
	assert.Error(t, err)
	assert.Equal(t, "RepeatMode(7)", RepeatMode(7).String())
}

func TestDefaultState(t *testing.T) {
	s := DefaultState()

	assert.False(t, s.IsPlaying)
	assert.Nil(t, s.Track)
	assert.Equal(t, RepeatOff, s.Repeat)
	assert.False(t, s.RepeatKnown)
	assert.NotNil(t, s.Disallows)
	assert.NotNil(t, s.Devices)
	assert.NotNil(t, s.NextTracks)
	assert.NotNil(t, s.PreviousTracks)
	assert.Empty(t, s.ActiveDeviceID)
	assert.Empty(t, s.LocalDeviceID)
}

func TestState_CloneIsDeep(t *testing.T) {
	s := DefaultState()
	s.Track = &Track{ID: "t1", Artists: []string{"a"}}
	s.Disallows[CmdSeeking] = true
	s.Devices = []Device{{ID: "d1"}}
	s.NextTracks = []Track{{ID: "n", Artists: []string{"b"}}}
	s.Custom = CustomContext{TrackURIs: []string{"x"}, TrackIndex: intPtr(2)}

	c := s.Clone()
	c.Track.Artists[0] = "changed"
	c.Disallows[CmdPausing] = true
	c.Devices[0].ID = "changed"
	c.NextTracks[0].Artists[0] = "changed"
	c.Custom.TrackURIs[0] = "changed"
	*c.Custom.TrackIndex = 9

	assert.Equal(t, "a", s.Track.Artists[0])
	assert.False(t, s.Disallows.Has(CmdPausing))
	assert.Equal(t, "d1", s.Devices[0].ID)
	assert.Equal(t, "b", s.NextTracks[0].Artists[0])
	assert.Equal(t, "x", s.Custom.TrackURIs[0])
	assert.Equal(t, 2, *s.Custom.TrackIndex)
}

func TestState_IsThisAppPlaying(t *testing.T) {
	tests := []struct {
		name   string
		local  string
		active string
		want   bool
	}{
		{"same device", "a", "a", true},
		{"other device", "a", "b", false},
		{"no local device", "", "", false},
		{"nothing active", "a", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := State{LocalDeviceID: tt.local, ActiveDeviceID: tt.active}
			if got := s.IsThisAppPlaying(); got != tt.want {
				t.Errorf("IsThisAppPlaying() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestState_Remaining(t *testing.T) {
	s := State{DurationMs: 10000, PositionMs: 2500}
	d, ok := s.Remaining()
	assert.True(t, ok)
	assert.Equal(t, 7500*time.Millisecond, d)

	_, ok = State{PositionMs: 10}.Remaining()
	assert.False(t, ok)
}

func TestState_ActiveDevice(t *testing.T) {
	s := State{Devices: []Device{{ID: "a"}, {ID: "b", IsActive: true}}}
	d, ok := s.ActiveDevice()
	require.True(t, ok)
	assert.Equal(t, "b", d.ID)

	_, ok = State{}.ActiveDevice()
	assert.False(t, ok)
}

func TestPlayRequest_IsResume(t *testing.T) {
	assert.True(t, PlayRequest{PositionMs: 1000}.IsResume())
	assert.False(t, PlayRequest{ContextURI: "spotify:album:a"}.IsResume())
	assert.False(t, PlayRequest{URIs: []string{}}.IsResume())
	assert.False(t, PlayRequest{Offset: &Offset{URI: "x"}}.IsResume())
}
