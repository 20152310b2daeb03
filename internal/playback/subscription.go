package playback

const eventBufferSize = 16

// Subscription provides event channels for a subscriber.
type Subscription struct {
	Changed <-chan State
	Notices <-chan Notice
	Done    <-chan struct{}

	changedCh chan State
	noticeCh  chan Notice
	doneCh    chan struct{}
}

func newSubscription() *Subscription {
	s := &Subscription{
		changedCh: make(chan State, eventBufferSize),
		noticeCh:  make(chan Notice, eventBufferSize),
		doneCh:    make(chan struct{}),
	}
	s.Changed = s.changedCh
	s.Notices = s.noticeCh
	s.Done = s.doneCh
	return s
}

func (s *Subscription) close() {
	close(s.doneCh)
}

// sendState sends a snapshot (non-blocking).
func (s *Subscription) sendState(st State) {
	select {
	case s.changedCh <- st:
	default:
		// Drop if buffer full
	}
}

// sendNotice sends a notice (non-blocking).
func (s *Subscription) sendNotice(n Notice) {
	select {
	case s.noticeCh <- n:
	default:
	}
}
