package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
)

// commandSettle is how soon to poll after a command when another device
// renders audio and will not push its new state to us.
const commandSettle = 500 * time.Millisecond

// PlayOptions selects what to play. A nil *PlayOptions resumes.
type PlayOptions struct {
	ContextURI string
	URIs       []string
	Offset     *Offset
}

// Dispatcher executes user commands against the remote service with
// optimistic local updates.
type Dispatcher struct {
	store   *Store
	remote  RemoteAPI
	auth    Authorizer
	devices *Devices
	poller  poller
	log     *log.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(store *Store, remote RemoteAPI, auth Authorizer, devices *Devices, p poller, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Dispatcher{store: store, remote: remote, auth: auth, devices: devices, poller: p, log: logger}
}

// Play starts or resumes playback.
func (d *Dispatcher) Play(ctx context.Context, opts *PlayOptions) error {
	if err := d.authorize(ctx, CmdResuming); err != nil {
		return err
	}

	s := d.store.Snapshot()
	if opts == nil && s.Disallows.Has(CmdResuming) {
		return d.reject(CmdResuming, "playback cannot be resumed right now")
	}

	req := buildPlayRequest(s, opts)
	err := d.remote.Play(ctx, req)
	if errors.Is(err, ErrDeviceNotFound) && d.devices != nil {
		d.log.Info("no playback device, transferring to this device and retrying")
		if terr := d.devices.Transfer(ctx, "", TransferOptions{}); terr != nil {
			d.log.Warn("transfer before retry failed", "err", terr)
		}
		err = d.remote.Play(ctx, req)
	}
	if err != nil {
		return d.fail(CmdResuming, "playback could not start", err)
	}

	d.store.Update(func(s *State) { s.IsPlaying = true })
	d.followUp()
	return nil
}

func buildPlayRequest(s State, opts *PlayOptions) PlayRequest {
	if opts == nil || isResume(s, opts) {
		return PlayRequest{PositionMs: s.PositionMs}
	}
	return PlayRequest{
		ContextURI: opts.ContextURI,
		URIs:       opts.URIs,
		Offset:     opts.Offset,
	}
}

// isResume reports whether opts names nothing new: no context and no uris,
// or an offset pointing at the track that is already loaded.
func isResume(s State, opts *PlayOptions) bool {
	if opts.ContextURI == "" && opts.URIs == nil {
		return true
	}
	current := s.TrackURI()
	if current == "" || opts.Offset == nil {
		return false
	}
	if opts.Offset.URI == current {
		return true
	}
	if pos := opts.Offset.Position; opts.URIs != nil && pos != nil && *pos >= 0 && *pos < len(opts.URIs) {
		return opts.URIs[*pos] == current
	}
	return false
}

// Pause pauses playback. The local view always ends up paused.
func (d *Dispatcher) Pause(ctx context.Context) error {
	if err := d.authorize(ctx, CmdPausing); err != nil {
		return err
	}
	defer d.store.Update(func(s *State) { s.IsPlaying = false })

	if d.store.Snapshot().Disallows.Has(CmdPausing) {
		return d.reject(CmdPausing, "playback cannot be paused right now")
	}

	if err := d.remote.Pause(ctx); err != nil {
		return d.fail(CmdPausing, "pause failed", err)
	}
	d.followUp()
	return nil
}

// Seek moves to positionMs. The new position is shown before the call
// completes and rolled back to fallback (or the previous position) on failure.
func (d *Dispatcher) Seek(ctx context.Context, positionMs int, fallback *int) error {
	if err := d.authorize(ctx, CmdSeeking); err != nil {
		return err
	}

	s := d.store.Snapshot()
	if s.Disallows.Has(CmdSeeking) {
		return d.reject(CmdSeeking, "seeking is not allowed right now")
	}

	positionMs = max(positionMs, 0)
	prev := s.PositionMs
	d.store.Update(func(s *State) { s.PositionMs = positionMs })

	if err := d.remote.Seek(ctx, positionMs); err != nil {
		restore := prev
		if fallback != nil {
			restore = *fallback
		}
		d.store.Update(func(s *State) { s.PositionMs = restore })
		return d.fail(CmdSeeking, "seek failed", err)
	}
	d.followUp()
	return nil
}

// Next skips to the next track.
func (d *Dispatcher) Next(ctx context.Context) error {
	return d.skip(ctx, CmdSkippingNext, d.remote.Next)
}

// Previous skips to the previous track.
func (d *Dispatcher) Previous(ctx context.Context) error {
	return d.skip(ctx, CmdSkippingPrev, d.remote.Previous)
}

func (d *Dispatcher) skip(ctx context.Context, cmd Command, call func(context.Context) error) error {
	if err := d.authorize(ctx, cmd); err != nil {
		return err
	}
	if d.store.Snapshot().Disallows.Has(cmd) {
		return d.reject(cmd, "skipping is not allowed right now")
	}
	if err := call(ctx); err != nil {
		return d.fail(cmd, "skip failed", err)
	}
	d.followUp()
	return nil
}

// Shuffle toggles shuffle.
func (d *Dispatcher) Shuffle(ctx context.Context) error {
	if err := d.authorize(ctx, CmdTogglingShuffle); err != nil {
		return err
	}
	s := d.store.Snapshot()
	if s.Disallows.Has(CmdTogglingShuffle) {
		return d.reject(CmdTogglingShuffle, "shuffle cannot be changed right now")
	}

	next := !s.IsShuffled
	if err := d.remote.Shuffle(ctx, next); err != nil {
		return d.fail(CmdTogglingShuffle, "changing shuffle failed", err)
	}
	d.store.Update(func(s *State) { s.IsShuffled = next })
	d.followUp()
	return nil
}

// Repeat advances the repeat mode one step in the cycle.
func (d *Dispatcher) Repeat(ctx context.Context) error {
	if err := d.authorize(ctx, CmdTogglingRepeatContext); err != nil {
		return err
	}
	s := d.store.Snapshot()
	if !s.RepeatKnown {
		return d.reject(CmdTogglingRepeatContext, "repeat mode is not known yet")
	}
	if s.Disallows.Has(CmdTogglingRepeatContext) || s.Disallows.Has(CmdTogglingRepeatTrack) {
		return d.reject(CmdTogglingRepeatContext, "repeat cannot be changed right now")
	}

	next := s.Repeat.Next()
	if err := d.remote.Repeat(ctx, next); err != nil {
		return d.fail(CmdTogglingRepeatContext, "changing repeat failed", err)
	}
	d.store.Update(func(s *State) {
		s.Repeat = next
		s.RepeatKnown = true
	})
	d.followUp()
	return nil
}

// Volume sets the volume in percent, clamped to 0..100.
func (d *Dispatcher) Volume(ctx context.Context, percent int) error {
	percent = min(max(percent, 0), 100)
	if d.store.Snapshot().VolumePercent == percent {
		return nil
	}
	if err := d.authorize(ctx, CmdVolume); err != nil {
		return err
	}

	if err := d.remote.SetVolume(ctx, percent); err != nil {
		return d.fail(CmdVolume, "changing volume failed", err)
	}
	d.store.Update(func(s *State) { s.VolumePercent = percent })
	d.followUp()
	return nil
}

// Mute toggles mute. The stored volume is kept so unmuting restores it; with
// volume already at 0 there is nothing to toggle.
func (d *Dispatcher) Mute(ctx context.Context) error {
	s := d.store.Snapshot()
	if s.VolumePercent == 0 {
		return nil
	}
	if err := d.authorize(ctx, CmdVolume); err != nil {
		return err
	}

	muted := !s.IsMuted
	send := s.VolumePercent
	if muted {
		send = 0
	}
	if err := d.remote.SetVolume(ctx, send); err != nil {
		return d.fail(CmdVolume, "changing mute failed", err)
	}
	d.store.Update(func(s *State) { s.IsMuted = muted })
	d.followUp()
	return nil
}

// SetCustomContext records a client-built context for later Play calls.
func (d *Dispatcher) SetCustomContext(c CustomContext) {
	d.store.Update(func(s *State) {
		if c.ContextURI != "" {
			s.Custom.ContextURI = c.ContextURI
		}
		s.Custom.TrackURIs = append([]string(nil), c.TrackURIs...)
		s.Custom.TrackIndex = c.TrackIndex
	})
}

// SaveTrack adds the current track to, or removes it from, the library.
func (d *Dispatcher) SaveTrack(ctx context.Context, saved bool) error {
	if err := d.authorize(ctx, CmdSaving); err != nil {
		return err
	}
	id := d.store.Snapshot().TrackID()
	if id == "" {
		return ErrNoTrack
	}
	if err := d.remote.SetSaved(ctx, id, saved); err != nil {
		d.notifyError(CmdSaving, "updating library failed", err)
		return fmt.Errorf("saving track %s: %w", id, err)
	}
	MarkSaved(d.store, id, saved)
	return nil
}

func (d *Dispatcher) authorize(ctx context.Context, cmd Command) error {
	if err := d.auth.Authorize(ctx); err != nil {
		d.notifyError(cmd, "not signed in", err)
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	return nil
}

func (d *Dispatcher) reject(cmd Command, msg string) error {
	d.store.Notify(Notice{Kind: NoticeCommandRejected, Command: cmd, Message: msg})
	return fmt.Errorf("%w: %s", ErrCommandRejected, cmd)
}

// fail reports err and polls right away so the view does not drift.
func (d *Dispatcher) fail(cmd Command, msg string, err error) error {
	d.notifyError(cmd, msg, err)
	if d.poller != nil {
		d.poller.SchedulePollIn(0)
	}
	return fmt.Errorf("%s: %w", cmd, err)
}

func (d *Dispatcher) notifyError(cmd Command, msg string, err error) {
	d.log.Error(msg, "command", cmd, "err", err)
	d.store.Notify(Notice{Kind: NoticeError, Command: cmd, Message: msg, Err: err})
}

func (d *Dispatcher) followUp() {
	if d.poller != nil && !d.store.Snapshot().IsThisAppPlaying() {
		d.poller.SchedulePollIn(commandSettle)
	}
}
