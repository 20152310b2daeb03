package playback

// NoticeKind classifies a user-facing notice.
type NoticeKind int

const (
	NoticeInfo NoticeKind = iota
	NoticeError
	NoticeCommandRejected
	NoticeDeviceChanged
	NoticeDeviceLost
	NoticeSessionEnded
)

func (k NoticeKind) String() string {
	switch k {
	case NoticeInfo:
		return "info"
	case NoticeError:
		return "error"
	case NoticeCommandRejected:
		return "rejected"
	case NoticeDeviceChanged:
		return "device_changed"
	case NoticeDeviceLost:
		return "device_lost"
	case NoticeSessionEnded:
		return "session_ended"
	default:
		return "unknown"
	}
}

// Notice is a message for whoever displays the session to the user.
type Notice struct {
	Kind    NoticeKind
	Command Command
	Message string
	Err     error
}
