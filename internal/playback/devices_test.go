package playback

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func threeDevices() []Device {
	return []Device{
		{ID: "local", Name: "This computer", IsActive: true, VolumePercent: 40},
		{ID: "phone", Name: "Phone", VolumePercent: 65},
		{ID: "speaker", Name: "Kitchen", VolumePercent: 20},
	}
}

func activeIDs(devices []Device) []string {
	var ids []string
	for _, d := range devices {
		if d.IsActive {
			ids = append(ids, d.ID)
		}
	}
	return ids
}

func TestDevices_ListAdoptsActiveDevice(t *testing.T) {
	r := newRig()
	r.remote.devices = []Device{
		{ID: "phone", Name: "Phone", VolumePercent: 65},
		{ID: "speaker", IsActive: true, VolumePercent: 20},
	}

	got, err := r.devices.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 2)

	s := r.store.Snapshot()
	assert.Equal(t, "speaker", s.ActiveDeviceID)
	assert.Equal(t, 20, s.VolumePercent)
	assert.Len(t, s.Devices, 2)
}

func TestDevices_ListEmpty(t *testing.T) {
	r := newRig()
	r.set(func(s *State) { s.ActiveDeviceID = "gone" })

	got, err := r.devices.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NotNil(t, r.store.Snapshot().Devices)
	assert.Equal(t, "gone", r.store.Snapshot().ActiveDeviceID)
}

func TestDevices_ListUnauthorized(t *testing.T) {
	r := newRig()
	r.session.err = errBoom

	_, err := r.devices.List(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Zero(t, r.remote.listCalls)
}

func TestDevices_SetActive(t *testing.T) {
	r := newRig()
	r.set(func(s *State) { s.Devices = threeDevices() })

	r.devices.SetActive("speaker")

	s := r.store.Snapshot()
	assert.Equal(t, []string{"speaker"}, activeIDs(s.Devices))
	assert.Equal(t, "speaker", s.ActiveDeviceID)
}

func TestDevices_TransferToOtherDevice(t *testing.T) {
	r := newRig()
	r.set(func(s *State) {
		s.LocalDeviceID = "local"
		s.ActiveDeviceID = "local"
		s.Devices = threeDevices()
		s.IsPlaying = true
	})

	require.NoError(t, r.devices.Transfer(context.Background(), "phone", TransferOptions{}))

	require.Len(t, r.remote.transfers, 1)
	assert.Equal(t, transferCall{DeviceID: "phone", Play: true}, r.remote.transfers[0])

	s := r.store.Snapshot()
	assert.Equal(t, []string{"phone"}, activeIDs(s.Devices))
	assert.Equal(t, "phone", s.ActiveDeviceID)
	assert.Equal(t, 65, s.VolumePercent)
	assert.Equal(t, []time.Duration{transferSettle}, r.poller.scheduled())
}

func TestDevices_TransferToLocalUsesEngineVolume(t *testing.T) {
	r := newRig()
	r.devices.engineVolume = func(context.Context) (int, error) { return 33, nil }
	r.set(func(s *State) {
		s.LocalDeviceID = "local"
		s.ActiveDeviceID = "phone"
		s.Devices = threeDevices()
	})

	play := true
	require.NoError(t, r.devices.Transfer(context.Background(), "", TransferOptions{Play: &play}))

	assert.Equal(t, transferCall{DeviceID: "local", Play: true}, r.remote.transfers[0])
	s := r.store.Snapshot()
	assert.Equal(t, "local", s.ActiveDeviceID)
	assert.Equal(t, 33, s.VolumePercent)
	assert.Empty(t, r.poller.scheduled(), "no poll when this device takes over")
}

func TestDevices_TransferWithRefetch(t *testing.T) {
	r := newRig()
	r.set(func(s *State) { s.LocalDeviceID = "local" })
	r.remote.devices = threeDevices()

	require.NoError(t, r.devices.Transfer(context.Background(), "", TransferOptions{Refetch: true}))

	assert.Equal(t, 1, r.remote.listCalls)
	s := r.store.Snapshot()
	assert.Equal(t, "local", s.ActiveDeviceID)
	assert.Equal(t, 40, s.VolumePercent)
}

func TestDevices_TransferLocalFailureReinitializes(t *testing.T) {
	r := newRig()
	r.set(func(s *State) { s.LocalDeviceID = "local" })
	r.remote.transferErr = errBoom

	err := r.devices.Transfer(context.Background(), "", TransferOptions{})
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, 1, r.reinits)
}

func TestDevices_TransferRemoteFailureDoesNotReinitialize(t *testing.T) {
	r := newRig()
	r.set(func(s *State) {
		s.LocalDeviceID = "local"
		s.ActiveDeviceID = "local"
	})
	r.remote.transferErr = errBoom

	require.Error(t, r.devices.Transfer(context.Background(), "phone", TransferOptions{}))
	assert.Zero(t, r.reinits)
	assert.Equal(t, "local", r.store.Snapshot().ActiveDeviceID)
	assert.Empty(t, r.poller.scheduled())
}

func TestDevices_TransferWithoutLocalDevice(t *testing.T) {
	r := newRig()
	err := r.devices.Transfer(context.Background(), "", TransferOptions{})
	assert.ErrorIs(t, err, ErrNoLocalDevice)
	assert.Empty(t, r.remote.transfers)
}
