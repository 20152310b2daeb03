package playback

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_UpdatePublishes(t *testing.T) {
	store := NewStore()
	sub := store.Subscribe()

	store.Update(func(s *State) { s.PositionMs = 10 })

	select {
	case st := <-sub.Changed:
		assert.Equal(t, 10, st.PositionMs)
	default:
		t.Fatal("no state published")
	}
}

func TestStore_SnapshotIsIsolated(t *testing.T) {
	store := NewStore()
	store.Update(func(s *State) { s.Devices = []Device{{ID: "a"}} })

	snap := store.Snapshot()
	snap.Devices[0].ID = "changed"

	assert.Equal(t, "a", store.Snapshot().Devices[0].ID)
}

func TestStore_ResetStartsNewEpoch(t *testing.T) {
	store := NewStore()
	epoch := store.Epoch()
	store.Update(func(s *State) {
		s.IsPlaying = true
		s.Track = track("t1", 1000)
		s.ActiveDeviceID = "phone"
		s.LocalDeviceID = "local"
		s.RepeatKnown = true
		s.VolumePercent = 80
	})

	store.Reset()

	assert.Equal(t, epoch+1, store.Epoch())
	s := store.Snapshot()
	assert.Equal(t, DefaultState(), s)

	applied := store.UpdateAt(epoch, func(s *State) { s.IsPlaying = true })
	assert.False(t, applied)
	assert.False(t, store.Snapshot().IsPlaying)

	require.True(t, store.UpdateAt(store.Epoch(), func(s *State) { s.IsPlaying = true }))
	assert.True(t, store.Snapshot().IsPlaying)
}

func TestStore_NotifyAndUnsubscribe(t *testing.T) {
	store := NewStore()
	a := store.Subscribe()
	b := store.Subscribe()

	store.Notify(Notice{Kind: NoticeInfo, Message: "hello"})
	assert.Len(t, drainNotices(a), 1)
	assert.Len(t, drainNotices(b), 1)

	store.Unsubscribe(a)
	store.Unsubscribe(a)
	select {
	case <-a.Done:
	default:
		t.Fatal("Done not closed")
	}

	store.Notify(Notice{Kind: NoticeInfo})
	assert.Empty(t, drainNotices(a))
	assert.Len(t, drainNotices(b), 1)
}

func TestStore_SlowSubscriberDoesNotBlock(t *testing.T) {
	store := NewStore()
	sub := store.Subscribe()

	for i := range eventBufferSize * 3 {
		store.Update(func(s *State) { s.PositionMs = i })
	}

	assert.Len(t, sub.Changed, eventBufferSize)
	assert.Equal(t, eventBufferSize*3-1, store.Snapshot().PositionMs)
}

func TestStore_ConcurrentUpdates(t *testing.T) {
	store := NewStore()

	var wg sync.WaitGroup
	for range 50 {
		wg.Go(func() {
			store.Update(func(s *State) { s.PositionMs++ })
			_ = store.Snapshot()
		})
	}
	wg.Wait()

	assert.Equal(t, 50, store.Snapshot().PositionMs)
}
