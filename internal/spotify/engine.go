package spotify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/justestif/go-spotify-playback/internal/playback"
)

// DefaultWatchInterval is how often ConnectEngine looks at its device.
const DefaultWatchInterval = 2 * time.Second

// ErrNoDeviceName is returned by Connect when no device name is configured.
var ErrNoDeviceName = errors.New("no device name configured")

// DeviceAPI is the part of Client a ConnectEngine needs.
type DeviceAPI interface {
	Devices(ctx context.Context) ([]playback.Device, error)
	CurrentPlayback(ctx context.Context, market string) (*playback.Payload, error)
}

// ConnectEngine treats a named Spotify Connect device running next to this
// process (spotifyd, librespot) as the local playback engine. It reports the
// device as ready once it appears and pushes state while it is the active
// device.
type ConnectEngine struct {
	api      DeviceAPI
	name     string
	token    playback.TokenFunc
	interval time.Duration
	log      *log.Logger
	events   chan playback.Event

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	deviceID string
}

// EngineOption configures a ConnectEngine.
type EngineOption func(*ConnectEngine)

// WithWatchInterval sets how often the device is checked.
func WithWatchInterval(d time.Duration) EngineOption {
	return func(e *ConnectEngine) {
		if d > 0 {
			e.interval = d
		}
	}
}

// WithEngineLogger sets the logger.
func WithEngineLogger(l *log.Logger) EngineOption {
	return func(e *ConnectEngine) { e.log = l }
}

// NewConnectEngine creates an engine for the device called name. token is
// asked for a bearer token before each check; failures surface as
// authentication errors.
func NewConnectEngine(api DeviceAPI, name string, token playback.TokenFunc, opts ...EngineOption) *ConnectEngine {
	e := &ConnectEngine{
		api:      api,
		name:     name,
		token:    token,
		interval: DefaultWatchInterval,
		log:      log.New(io.Discard),
		events:   make(chan playback.Event, 16),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Events returns the event channel. It is never closed.
func (e *ConnectEngine) Events() <-chan playback.Event {
	return e.events
}

// Connect starts watching the device. Calling it while connected is a no-op.
func (e *ConnectEngine) Connect(ctx context.Context) error {
	if e.name == "" {
		return ErrNoDeviceName
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	go e.watch(ctx, e.done)
	return nil
}

// Disconnect stops watching and reports the device as gone.
func (e *ConnectEngine) Disconnect() {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	e.mu.Lock()
	id := e.deviceID
	e.deviceID = ""
	e.mu.Unlock()

	if id != "" {
		select {
		case e.events <- playback.Event{Type: playback.EventNotReady, DeviceID: id}:
		default:
		}
	}
}

// Volume returns the device's current volume.
func (e *ConnectEngine) Volume(ctx context.Context) (int, error) {
	devices, err := e.api.Devices(ctx)
	if err != nil {
		return 0, err
	}
	dev, ok := e.find(devices)
	if !ok {
		return 0, fmt.Errorf("%w: %s", playback.ErrDeviceNotFound, e.name)
	}
	return dev.VolumePercent, nil
}

func (e *ConnectEngine) watch(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	reportedMissing := false
	for {
		reportedMissing = e.check(ctx, reportedMissing)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// check runs one observation of the device and returns whether a missing
// device has already been reported.
func (e *ConnectEngine) check(ctx context.Context, reportedMissing bool) bool {
	if _, err := e.token(ctx); err != nil {
		e.emit(ctx, playback.Event{Type: playback.EventAuthenticationError, Err: err})
		return reportedMissing
	}

	devices, err := e.api.Devices(ctx)
	if err != nil {
		if errors.Is(err, playback.ErrUnauthorized) {
			e.emit(ctx, playback.Event{Type: playback.EventAuthenticationError, Err: err})
		} else if ctx.Err() == nil {
			e.log.Warn("listing devices failed", "err", err)
		}
		return reportedMissing
	}

	dev, found := e.find(devices)

	e.mu.Lock()
	prev := e.deviceID
	if found {
		e.deviceID = dev.ID
	} else {
		e.deviceID = ""
	}
	e.mu.Unlock()

	switch {
	case !found && prev != "":
		e.log.Info("device went away", "name", e.name)
		e.emit(ctx, playback.Event{Type: playback.EventNotReady, DeviceID: prev})
		return false
	case !found:
		if !reportedMissing {
			e.emit(ctx, playback.Event{
				Type: playback.EventInitializationError,
				Err:  fmt.Errorf("%w: no device named %q", playback.ErrDeviceNotFound, e.name),
			})
		}
		return true
	case dev.ID != prev:
		e.log.Info("device ready", "name", dev.Name, "id", dev.ID)
		e.emit(ctx, playback.Event{Type: playback.EventReady, DeviceID: dev.ID})
	}

	if dev.IsActive {
		e.pushState(ctx, dev.ID)
	}
	return false
}

func (e *ConnectEngine) pushState(ctx context.Context, deviceID string) {
	p, err := e.api.CurrentPlayback(ctx, "")
	if err != nil {
		if ctx.Err() == nil {
			e.log.Debug("reading playback failed", "err", err)
		}
		return
	}
	if p == nil || p.Device.ID != deviceID {
		return
	}
	e.emit(ctx, playback.Event{Type: playback.EventStateChanged, State: engineState(p)})
}

func engineState(p *playback.Payload) *playback.EngineState {
	es := &playback.EngineState{
		Paused:     !p.IsPlaying,
		PositionMs: p.ProgressMs,
		Shuffle:    p.ShuffleState,
		Repeat:     p.RepeatState,
		ContextURI: p.ContextURI,
		Track:      p.Item,
		Disallows:  p.Disallows,
	}
	if p.Item != nil {
		es.DurationMs = p.Item.DurationMs
	}
	return es
}

func (e *ConnectEngine) find(devices []playback.Device) (playback.Device, bool) {
	for _, d := range devices {
		if d.ID != "" && strings.EqualFold(d.Name, e.name) {
			return d, true
		}
	}
	return playback.Device{}, false
}

func (e *ConnectEngine) emit(ctx context.Context, ev playback.Event) {
	select {
	case e.events <- ev:
	case <-ctx.Done():
	}
}
