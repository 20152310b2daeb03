package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

const (
	// trackEndSlack lets a poll land just after the current track ends.
	trackEndSlack = 500 * time.Millisecond

	playingTypeEpisode = "episode"
)

// Outcome describes what one reconciliation did.
type Outcome int

const (
	// OutcomeFailed: the fetch failed or retries ran out.
	OutcomeFailed Outcome = iota
	// OutcomeUnauthorized: no usable token, or the service rejected it.
	OutcomeUnauthorized
	// OutcomeNoDevice: no device is active; a short retry follows.
	OutcomeNoDevice
	// OutcomeTransientMiss: the item vanished mid-track; a short retry follows.
	OutcomeTransientMiss
	// OutcomeApplied: the payload was merged.
	OutcomeApplied
	// OutcomeStale: the session was reset during the fetch; nothing applied.
	OutcomeStale
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFailed:
		return "failed"
	case OutcomeUnauthorized:
		return "unauthorized"
	case OutcomeNoDevice:
		return "no_device"
	case OutcomeTransientMiss:
		return "transient_miss"
	case OutcomeApplied:
		return "applied"
	case OutcomeStale:
		return "stale"
	default:
		return "unknown"
	}
}

// ReconcilerConfig sets poll cadence.
type ReconcilerConfig struct {
	OwnerInterval       time.Duration // this device renders audio
	RemoteInterval      time.Duration // another device renders audio
	RetryInterval       time.Duration
	MaxTransientRetries int
	Market              string
}

// DefaultReconcilerConfig returns the standard cadence.
func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		OwnerInterval:       30 * time.Second,
		RemoteInterval:      10 * time.Second,
		RetryInterval:       2 * time.Second,
		MaxTransientRetries: 5,
	}
}

func (c ReconcilerConfig) withDefaults() ReconcilerConfig {
	def := DefaultReconcilerConfig()
	if c.OwnerInterval <= 0 {
		c.OwnerInterval = def.OwnerInterval
	}
	if c.RemoteInterval <= 0 {
		c.RemoteInterval = def.RemoteInterval
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = def.RetryInterval
	}
	if c.MaxTransientRetries < 0 {
		c.MaxTransientRetries = 0
	}
	return c
}

// Reconciler fetches remote playback, merges it into the Store and owns the
// adaptive poll loop.
type Reconciler struct {
	store   *Store
	remote  RemoteAPI
	auth    Authorizer
	devices *Devices
	cfg     ReconcilerConfig
	log     *log.Logger

	timer PollTimer

	mu       sync.Mutex
	ctx      context.Context
	stopped  bool
	visible  bool
	parked   bool
	inFlight bool
	rerun    bool
	retries  int
}

// NewReconciler creates a Reconciler. devices may be nil when device-lost
// recovery and mismatch refresh are not wanted.
func NewReconciler(store *Store, remote RemoteAPI, auth Authorizer, devices *Devices, cfg ReconcilerConfig, logger *log.Logger) *Reconciler {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Reconciler{
		store:   store,
		remote:  remote,
		auth:    auth,
		devices: devices,
		cfg:     cfg.withDefaults(),
		log:     logger,
		ctx:     context.Background(),
		visible: true,
	}
}

// Start binds the poll loop to ctx. Ticks scheduled afterwards run with ctx.
func (r *Reconciler) Start(ctx context.Context) {
	r.mu.Lock()
	r.ctx = ctx
	r.stopped = false
	r.retries = 0
	r.mu.Unlock()
}

// Stop cancels the pending tick and refuses new ones until Start.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	r.stopped = true
	r.parked = false
	r.mu.Unlock()
	r.timer.Stop()
}

// SchedulePoll arms the next tick at the normal cadence.
func (r *Reconciler) SchedulePoll() {
	r.schedule(nil)
}

// SchedulePollIn arms the next tick after d (still cut short by the end of
// the current track).
func (r *Reconciler) SchedulePollIn(d time.Duration) {
	r.schedule(&d)
}

// Pending returns the delay of the armed tick.
func (r *Reconciler) Pending() (time.Duration, bool) {
	return r.timer.Pending()
}

// SetVisible gates polling on app visibility. While hidden no timer is
// re-armed; becoming visible after a parked tick reconciles immediately.
func (r *Reconciler) SetVisible(visible bool) {
	r.mu.Lock()
	r.visible = visible
	resume := visible && r.parked && !r.stopped
	if visible {
		r.parked = false
	}
	r.mu.Unlock()

	if resume {
		r.timer.Arm(0, r.tick)
	}
}

func (r *Reconciler) schedule(override *time.Duration) {
	r.mu.Lock()
	stopped := r.stopped
	r.mu.Unlock()
	if stopped {
		return
	}

	d := nextDelay(r.store.Snapshot(), override, r.cfg)
	r.log.Debug("poll scheduled", "in", d)
	r.timer.Arm(d, r.tick)
}

// nextDelay picks the poll delay: the override or the base cadence, cut
// short to fire just after a playing track ends.
func nextDelay(s State, override *time.Duration, cfg ReconcilerConfig) time.Duration {
	d := cfg.RemoteInterval
	if s.IsThisAppPlaying() {
		d = cfg.OwnerInterval
	}
	if override != nil {
		d = *override
	}
	if s.HasTrack() && s.IsPlaying {
		if remaining, ok := s.Remaining(); ok {
			d = min(remaining+trackEndSlack, d)
		}
	}
	return max(d, 0)
}

func (r *Reconciler) tick() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	if !r.visible {
		r.parked = true
		r.mu.Unlock()
		return
	}
	if r.inFlight {
		// fold into one rerun once the running fetch returns
		r.rerun = true
		r.mu.Unlock()
		return
	}
	r.inFlight = true
	ctx := r.ctx
	r.mu.Unlock()

	outcome, err := r.Reconcile(ctx)
	if err != nil {
		r.log.Debug("reconcile failed", "err", err)
	}

	r.mu.Lock()
	r.inFlight = false
	rerun := r.rerun
	r.rerun = false
	r.mu.Unlock()

	if ctx.Err() != nil || outcome == OutcomeStale {
		return
	}
	if rerun {
		r.SchedulePollIn(0)
		return
	}
	if _, armed := r.timer.Pending(); armed {
		// a command asked for a follow-up while the fetch ran
		return
	}

	switch outcome {
	case OutcomeNoDevice, OutcomeTransientMiss:
		r.SchedulePollIn(r.cfg.RetryInterval)
	default:
		r.SchedulePoll()
	}
}

// Reconcile performs one remote fetch and merges the result.
func (r *Reconciler) Reconcile(ctx context.Context) (Outcome, error) {
	if err := r.auth.Authorize(ctx); err != nil {
		return OutcomeUnauthorized, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	epoch := r.store.Epoch()
	before := r.store.Snapshot()

	payload, err := r.remote.CurrentPlayback(ctx, r.cfg.Market)
	if r.store.Epoch() != epoch {
		r.log.Debug("dropping reconciliation from previous session")
		return OutcomeStale, nil
	}
	if err != nil {
		r.resetRetries()
		if errors.Is(err, ErrUnauthorized) {
			return OutcomeUnauthorized, err
		}
		return OutcomeFailed, fmt.Errorf("fetching playback: %w", err)
	}

	if payload == nil {
		r.deviceLost(ctx, before)
		if r.bumpRetries() {
			return OutcomeNoDevice, nil
		}
		return OutcomeFailed, nil
	}

	var checkID string
	applied := r.store.UpdateAt(epoch, func(s *State) {
		checkID = mergePayload(s, payload)
	})
	if !applied {
		return OutcomeStale, nil
	}

	if checkID != "" {
		r.CheckSaved(ctx, checkID)
	}

	if payload.Device.ID != "" && payload.Device.ID != before.ActiveDeviceID {
		r.deviceChanged(ctx, payload.Device)
	}

	transient := before.HasTrack() && payload.Item == nil &&
		payload.CurrentlyPlayingType != playingTypeEpisode
	if !transient {
		r.resetRetries()
		return OutcomeApplied, nil
	}
	if r.bumpRetries() {
		return OutcomeTransientMiss, nil
	}
	r.log.Warn("playback item still missing, falling back to normal cadence", "retries", r.cfg.MaxTransientRetries)
	return OutcomeApplied, nil
}

// bumpRetries counts one short retry; false once the cap is reached, which
// also resets the counter.
func (r *Reconciler) bumpRetries() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.retries >= r.cfg.MaxTransientRetries {
		r.retries = 0
		return false
	}
	r.retries++
	return true
}

func (r *Reconciler) resetRetries() {
	r.mu.Lock()
	r.retries = 0
	r.mu.Unlock()
}

// mergePayload folds a remote payload into s and returns the track id whose
// saved state needs checking, or "".
func mergePayload(s *State, p *Payload) string {
	var checkID string

	// the engine's own view wins when it renders audio and the service omits the item
	if !(p.Item == nil && s.IsThisAppPlaying()) {
		if p.Item != nil && p.Item.ID != "" && p.Item.ID != s.TrackID() {
			checkID = p.Item.ID
		}
		s.Track = p.Item.clone()
		s.DurationMs = 0
		if p.Item != nil {
			s.DurationMs = p.Item.DurationMs
		}
	}

	s.IsPlaying = p.IsPlaying
	s.ContextURI = p.ContextURI
	s.IsShuffled = p.ShuffleState
	s.Disallows = p.Disallows.clone()
	s.PositionMs = max(p.ProgressMs, 0)
	s.Repeat = p.RepeatState
	s.RepeatKnown = true
	s.PlayingType = p.CurrentlyPlayingType

	if p.Device.ID != "" {
		s.ActiveDeviceID = p.Device.ID
		for i := range s.Devices {
			s.Devices[i].IsActive = s.Devices[i].ID == p.Device.ID
		}
		// the engine reports its own volume while it renders
		if !s.IsThisAppPlaying() {
			s.VolumePercent = p.Device.VolumePercent
		}
	}

	if p.Device.ID == "" || p.Device.ID != s.LocalDeviceID {
		s.NextTracks = []Track{}
		s.PreviousTracks = []Track{}
	}
	return checkID
}

func (r *Reconciler) deviceLost(ctx context.Context, before State) {
	// without a local device there is nowhere to move playback to
	if r.devices == nil || before.LocalDeviceID == "" {
		return
	}
	play := false
	if err := r.devices.Transfer(ctx, "", TransferOptions{Play: &play, Refetch: true}); err != nil {
		r.log.Warn("transfer to this device failed", "err", err)
	}
	if before.ActiveDeviceID != "" && before.ActiveDeviceID != before.LocalDeviceID {
		r.store.Notify(Notice{
			Kind:    NoticeDeviceLost,
			Message: "the playing device disappeared, switching to this device",
		})
	}
}

func (r *Reconciler) deviceChanged(ctx context.Context, remote Device) {
	if r.devices != nil {
		if _, err := r.devices.List(ctx); err != nil {
			r.log.Warn("refreshing devices failed", "err", err)
			return
		}
	}
	r.log.Info("active device changed", "device", remote.ID, "name", remote.Name)
	r.store.Notify(Notice{
		Kind:    NoticeDeviceChanged,
		Message: fmt.Sprintf("playback moved to %s", nameOr(remote)),
	})
}

// ApplyEngineState merges a push delta from the local engine.
func (r *Reconciler) ApplyEngineState(ctx context.Context, es EngineState) {
	var checkID string
	r.store.Update(func(s *State) {
		if es.Track != nil && es.Track.ID != "" && es.Track.ID != s.TrackID() {
			checkID = es.Track.ID
		}
		s.IsPlaying = !es.Paused
		s.DurationMs = es.DurationMs
		s.PositionMs = es.PositionMs
		s.IsShuffled = es.Shuffle
		s.ContextURI = es.ContextURI
		s.Track = es.Track.clone()
		s.NextTracks = cloneTracks(es.NextTracks)
		s.PreviousTracks = cloneTracks(es.PreviousTracks)
		s.Disallows = es.Disallows.clone()
		if !s.RepeatKnown {
			s.Repeat = es.Repeat
			s.RepeatKnown = true
		}
		resetCustomContext(s, es.ContextURI)
	})

	if checkID != "" {
		r.CheckSaved(ctx, checkID)
	}
}

// resetCustomContext drops a client-built context once the engine reports a
// different one. Playlist contexts keep the track index.
func resetCustomContext(s *State, uri string) {
	if uri == "" || uri == s.Custom.ContextURI {
		return
	}
	s.Custom.ContextURI = ""
	s.Custom.TrackURIs = nil
	if !strings.Contains(uri, "playlist") {
		s.Custom.TrackIndex = nil
	}
}

// CheckSaved asks whether trackID is in the user's library.
func (r *Reconciler) CheckSaved(ctx context.Context, trackID string) {
	if trackID == "" {
		return
	}
	if err := r.auth.Authorize(ctx); err != nil {
		return
	}
	saved, err := r.remote.IsSaved(ctx, trackID)
	if err != nil {
		r.log.Warn("checking saved state failed", "track", trackID, "err", err)
		return
	}
	MarkSaved(r.store, trackID, saved)
}

// MarkSaved records the saved state of trackID if it is still current.
func MarkSaved(store *Store, trackID string, saved bool) {
	store.Update(func(s *State) {
		if s.TrackID() == trackID {
			s.IsSaved = saved
		}
	})
}

func nameOr(d Device) string {
	if d.Name != "" {
		return d.Name
	}
	return d.ID
}
