package playback

import (
	"context"
	"errors"
	"sync"
	"time"
)

var errBoom = errors.New("boom")

type transferCall struct {
	DeviceID string
	Play     bool
}

type fakeRemote struct {
	mu sync.Mutex

	payload     *Payload
	playbackErr error
	onPlayback  func()
	playbacks   int

	devices    []Device
	devicesErr error
	listCalls  int

	plays    []PlayRequest
	playErrs []error // consumed in order, nil once exhausted

	transfers   []transferCall
	transferErr error

	pauseErr   error
	pauses     int
	seekErr    error
	seeks      []int
	nexts      int
	previouses int
	shuffles   []bool
	repeats    []RepeatMode
	volumes    []int

	saved      map[string]bool
	savedCalls []string
	setSaved   []string
}

func (f *fakeRemote) CurrentPlayback(context.Context, string) (*Payload, error) {
	f.mu.Lock()
	f.playbacks++
	hook := f.onPlayback
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.payload == nil {
		return nil, f.playbackErr
	}
	p := *f.payload
	return &p, f.playbackErr
}

func (f *fakeRemote) TransferPlayback(_ context.Context, id string, play bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transfers = append(f.transfers, transferCall{id, play})
	return f.transferErr
}

func (f *fakeRemote) Play(_ context.Context, req PlayRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plays = append(f.plays, req)
	if len(f.playErrs) == 0 {
		return nil
	}
	err := f.playErrs[0]
	f.playErrs = f.playErrs[1:]
	return err
}

func (f *fakeRemote) Pause(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauses++
	return f.pauseErr
}

func (f *fakeRemote) Seek(_ context.Context, ms int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seeks = append(f.seeks, ms)
	return f.seekErr
}

func (f *fakeRemote) Next(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nexts++
	return nil
}

func (f *fakeRemote) Previous(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.previouses++
	return nil
}

func (f *fakeRemote) Shuffle(_ context.Context, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shuffles = append(f.shuffles, on)
	return nil
}

func (f *fakeRemote) Repeat(_ context.Context, m RepeatMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.repeats = append(f.repeats, m)
	return nil
}

func (f *fakeRemote) SetVolume(_ context.Context, pct int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volumes = append(f.volumes, pct)
	return nil
}

func (f *fakeRemote) Devices(context.Context) ([]Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	return append([]Device(nil), f.devices...), f.devicesErr
}

func (f *fakeRemote) IsSaved(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.savedCalls = append(f.savedCalls, id)
	return f.saved[id], nil
}

func (f *fakeRemote) SetSaved(_ context.Context, id string, saved bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saved == nil {
		f.saved = map[string]bool{}
	}
	f.saved[id] = saved
	f.setSaved = append(f.setSaved, id)
	return nil
}

func (f *fakeRemote) setPayload(p *Payload) {
	f.mu.Lock()
	f.payload = p
	f.mu.Unlock()
}

func (f *fakeRemote) playbackCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.playbacks
}

func (f *fakeRemote) transferCalls() []transferCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transferCall(nil), f.transfers...)
}

func (f *fakeRemote) listCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

type fakeSession struct {
	mu           sync.Mutex
	err          error
	authorizes   int
	reauthorizes int
	logouts      int
}

func (f *fakeSession) Authorize(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authorizes++
	return f.err
}

func (f *fakeSession) Reauthorize(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reauthorizes++
	return f.err
}

func (f *fakeSession) Logout(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logouts++
	return nil
}

func (f *fakeSession) reauthorizeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reauthorizes
}

type fakePoller struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (p *fakePoller) SchedulePollIn(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delays = append(p.delays, d)
}

func (p *fakePoller) scheduled() []time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]time.Duration(nil), p.delays...)
}

type fakeEngine struct {
	mu          sync.Mutex
	events      chan Event
	volume      int
	connects    int
	disconnects int
	connectErr  error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{events: make(chan Event, 8), volume: 40}
}

func (e *fakeEngine) Connect(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connects++
	return e.connectErr
}

func (e *fakeEngine) Disconnect() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.disconnects++
}

func (e *fakeEngine) Volume(context.Context) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.volume, nil
}

func (e *fakeEngine) Events() <-chan Event { return e.events }

// rig is a dispatcher and device registry wired to fakes, with a recording
// poller in place of the reconciler.
type rig struct {
	store   *Store
	remote  *fakeRemote
	session *fakeSession
	poller  *fakePoller
	devices *Devices
	disp    *Dispatcher
	reinits int
}

func newRig() *rig {
	r := &rig{
		store:   NewStore(),
		remote:  &fakeRemote{},
		session: &fakeSession{},
		poller:  &fakePoller{},
	}
	r.devices = NewDevices(r.store, r.remote, r.session, nil)
	r.devices.poller = r.poller
	r.devices.reinitialize = func() { r.reinits++ }
	r.disp = NewDispatcher(r.store, r.remote, r.session, r.devices, r.poller, nil)
	return r
}

func (r *rig) set(fn func(*State)) {
	r.store.Update(fn)
}

func track(id string, durationMs int) *Track {
	return &Track{ID: id, URI: "spotify:track:" + id, Name: "Track " + id, DurationMs: durationMs}
}

func intPtr(i int) *int { return &i }

func drainNotices(sub *Subscription) []Notice {
	var out []Notice
	for {
		select {
		case n := <-sub.Notices:
			out = append(out, n)
		default:
			return out
		}
	}
}
