package playback

import (
	"context"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/charmbracelet/log"
)

// transferSettle is how soon to poll after handing playback to another device.
const transferSettle = time.Second

type poller interface {
	SchedulePollIn(d time.Duration)
}

// TransferOptions tune Devices.Transfer.
type TransferOptions struct {
	Play    *bool // nil keeps the current IsPlaying
	Refetch bool  // re-list devices instead of marking the target locally
}

// Devices tracks known Connect devices and which one is active.
type Devices struct {
	store  *Store
	remote RemoteAPI
	auth   Authorizer
	log    *log.Logger

	poller       poller
	engineVolume func(ctx context.Context) (int, error)
	reinitialize func()
}

// NewDevices creates a device registry.
func NewDevices(store *Store, remote RemoteAPI, auth Authorizer, logger *log.Logger) *Devices {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Devices{store: store, remote: remote, auth: auth, log: logger}
}

// List fetches the devices and adopts the active one's id and volume.
func (d *Devices) List(ctx context.Context) ([]Device, error) {
	if err := d.auth.Authorize(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	devices, err := d.remote.Devices(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	if devices == nil {
		devices = []Device{}
	}

	d.store.Update(func(s *State) {
		s.Devices = slices.Clone(devices)
		if active, ok := s.ActiveDevice(); ok {
			s.VolumePercent = active.VolumePercent
			if active.ID != "" {
				s.ActiveDeviceID = active.ID
			}
		}
	})
	return devices, nil
}

// SetActive marks id as the only active device.
func (d *Devices) SetActive(id string) {
	d.store.Update(func(s *State) { setActive(s, id) })
}

func setActive(s *State, id string) {
	s.ActiveDeviceID = id
	for i := range s.Devices {
		s.Devices[i].IsActive = s.Devices[i].ID == id
	}
}

// Transfer moves playback to id ("" means this device). When the local
// device refuses, the engine is reinitialized.
func (d *Devices) Transfer(ctx context.Context, id string, opts TransferOptions) error {
	s := d.store.Snapshot()
	local := s.LocalDeviceID
	if id == "" {
		id = local
	}
	if id == "" {
		return ErrNoLocalDevice
	}

	play := s.IsPlaying
	if opts.Play != nil {
		play = *opts.Play
	}

	if err := d.auth.Authorize(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	if err := d.remote.TransferPlayback(ctx, id, play); err != nil {
		if id == local && d.reinitialize != nil {
			d.log.Warn("transfer to this device failed, restarting engine", "err", err)
			d.reinitialize()
		}
		return fmt.Errorf("transferring playback to %s: %w", id, err)
	}

	d.store.Update(func(s *State) { s.ActiveDeviceID = id })

	if opts.Refetch {
		if _, err := d.List(ctx); err != nil {
			d.log.Warn("refreshing devices after transfer failed", "err", err)
		}
	} else {
		d.SetActive(id)
		d.adoptVolume(ctx, id, local)
	}

	if id != local && d.poller != nil {
		d.poller.SchedulePollIn(transferSettle)
	}
	return nil
}

func (d *Devices) adoptVolume(ctx context.Context, id, local string) {
	if id == local && d.engineVolume != nil {
		v, err := d.engineVolume(ctx)
		if err != nil {
			d.log.Debug("reading engine volume failed", "err", err)
			return
		}
		d.store.Update(func(s *State) { s.VolumePercent = v })
		return
	}

	d.store.Update(func(s *State) {
		for _, dev := range s.Devices {
			if dev.ID == id {
				s.VolumePercent = dev.VolumePercent
				return
			}
		}
	})
}
