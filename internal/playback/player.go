package playback

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/log"
)

// Options configure a Player.
type Options struct {
	Remote  RemoteAPI
	Session SessionControl
	// Engine is the local playback engine; nil runs as a pure remote control.
	Engine LocalEngine
	Config ReconcilerConfig
	Logger *log.Logger
}

// Player wires the store, reconciler, dispatcher and device registry to the
// local engine and runs the engine's event loop.
type Player struct {
	store      *Store
	session    SessionControl
	engine     LocalEngine
	reconciler *Reconciler
	dispatcher *Dispatcher
	devices    *Devices
	log        *log.Logger

	mu     sync.Mutex
	runCtx context.Context
}

// New creates a Player.
func New(opts Options) *Player {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	store := NewStore()
	devices := NewDevices(store, opts.Remote, opts.Session, logger.With("component", "devices"))
	reconciler := NewReconciler(store, opts.Remote, opts.Session, devices, opts.Config, logger.With("component", "reconciler"))
	dispatcher := NewDispatcher(store, opts.Remote, opts.Session, devices, reconciler, logger.With("component", "dispatcher"))

	p := &Player{
		store:      store,
		session:    opts.Session,
		engine:     opts.Engine,
		reconciler: reconciler,
		dispatcher: dispatcher,
		devices:    devices,
		log:        logger,
		runCtx:     context.Background(),
	}

	devices.poller = reconciler
	if p.engine != nil {
		devices.engineVolume = p.engine.Volume
		devices.reinitialize = p.reinitialize
	}
	return p
}

// Store returns the state owner.
func (p *Player) Store() *Store { return p.store }

// Reconciler returns the poll loop owner.
func (p *Player) Reconciler() *Reconciler { return p.reconciler }

// Dispatcher returns the command dispatcher.
func (p *Player) Dispatcher() *Dispatcher { return p.dispatcher }

// Devices returns the device registry.
func (p *Player) Devices() *Devices { return p.devices }

// Subscribe registers for state changes and notices.
func (p *Player) Subscribe() *Subscription { return p.store.Subscribe() }

// Unsubscribe removes a subscription.
func (p *Player) Unsubscribe(s *Subscription) { p.store.Unsubscribe(s) }

// Run connects the engine and consumes its events until ctx is done. Without
// an engine it only polls.
func (p *Player) Run(ctx context.Context) error {
	p.mu.Lock()
	p.runCtx = ctx
	p.mu.Unlock()

	if p.engine == nil {
		p.reconciler.Start(ctx)
		if _, err := p.devices.List(ctx); err != nil {
			p.log.Warn("listing devices failed", "err", err)
		}
		p.reconciler.SchedulePollIn(0)
		<-ctx.Done()
		p.reconciler.Stop()
		return nil
	}

	if err := p.engine.Connect(ctx); err != nil {
		return fmt.Errorf("connecting engine: %w", err)
	}

	events := p.engine.Events()
	for {
		select {
		case <-ctx.Done():
			p.Disconnect()
			return nil
		case ev, ok := <-events:
			if !ok {
				p.reconciler.Stop()
				return nil
			}
			p.handle(ctx, ev)
		}
	}
}

func (p *Player) handle(ctx context.Context, ev Event) {
	switch ev.Type {
	case EventReady:
		p.onReady(ctx, ev.DeviceID)

	case EventNotReady:
		p.log.Info("device went offline", "device", ev.DeviceID)

	case EventStateChanged:
		if ev.State == nil {
			return
		}
		p.reconciler.ApplyEngineState(ctx, *ev.State)

	case EventPlaybackError:
		p.log.Error("playback error", "err", ev.Err)
		p.store.Update(func(s *State) { s.IsPlaying = false })
		p.store.Notify(Notice{Kind: NoticeError, Message: "the track cannot be played", Err: ev.Err})

	case EventAuthenticationError:
		p.log.Warn("engine rejected token", "err", ev.Err)
		if err := p.session.Reauthorize(ctx); err != nil {
			p.log.Error("reauthorizing failed", "err", err)
		}

	case EventInitializationError, EventAccountError:
		p.log.Error("engine error", "type", ev.Type, "err", ev.Err)
		p.store.Notify(Notice{Kind: NoticeError, Message: ev.Type.String(), Err: ev.Err})

	default:
		p.log.Debug("ignoring engine event", "type", ev.Type)
	}
}

// onReady adopts the engine's device, takes over playback when no device is
// active and starts polling: soon when another device plays, at the owner
// cadence when this one does.
func (p *Player) onReady(ctx context.Context, deviceID string) {
	p.log.Info("engine ready", "device", deviceID)
	p.store.Update(func(s *State) { s.LocalDeviceID = deviceID })

	if _, err := p.devices.List(ctx); err != nil {
		p.log.Warn("listing devices failed", "err", err)
	}

	if _, ok := p.store.Snapshot().ActiveDevice(); !ok {
		play := false
		if err := p.devices.Transfer(ctx, deviceID, TransferOptions{Play: &play}); err != nil {
			p.log.Warn("initial transfer failed", "err", err)
		}
	}

	p.reconciler.Start(ctx)
	if p.store.Snapshot().ActiveDeviceID == deviceID {
		p.reconciler.SchedulePollIn(p.reconciler.cfg.OwnerInterval)
		return
	}
	p.reconciler.SchedulePollIn(0)
}

// Disconnect stops polling, disconnects the engine and resets state.
func (p *Player) Disconnect() {
	p.reconciler.Stop()
	if p.engine != nil {
		p.engine.Disconnect()
	}
	p.store.Reset()
}

// reinitialize restarts a wedged engine. The new ready event restarts polling.
func (p *Player) reinitialize() {
	if p.engine == nil {
		return
	}
	p.mu.Lock()
	ctx := p.runCtx
	p.mu.Unlock()

	p.Disconnect()
	if err := p.engine.Connect(ctx); err != nil {
		p.log.Error("reconnecting engine failed", "err", err)
	}
}

// Logout ends the session: polling stops, state resets and the session
// authority forgets the token.
func (p *Player) Logout(ctx context.Context) error {
	p.Disconnect()
	err := p.session.Logout(ctx)
	p.store.Notify(Notice{Kind: NoticeSessionEnded, Message: "logged out"})
	if err != nil {
		return fmt.Errorf("logging out: %w", err)
	}
	return nil
}

// Terminate is the token guard's termination hook: the session could not be
// kept alive, so everything is torn down without contacting the service.
func (p *Player) Terminate(cause error) {
	p.log.Warn("session terminated", "err", cause)
	p.Disconnect()
	p.store.Notify(Notice{Kind: NoticeSessionEnded, Message: "signed out because the token could not be refreshed", Err: cause})
}
