package voip

// IncomingCall is what the system call UI is asked to present.
type IncomingCall struct {
	UUID        string
	Handle      string
	DisplayName string
}

// EndReason tells the system call UI why a presented call went away.
type EndReason string

const (
	EndRemoteEnded EndReason = "remoteEnded"
	EndUnanswered  EndReason = "unanswered"
	EndSuperseded  EndReason = "superseded"
)

// CallUI is the host's native call-management facility. Methods are called
// from the service worker and must return promptly.
type CallUI interface {
	ReportIncoming(call IncomingCall) error
	ReportEnded(uuid string, reason EndReason)
}

// RecordingPaths resolves the output file for a recorded call.
type RecordingPaths interface {
	RecordingPath(correlationID string) string
}

// NopCallUI accepts every presentation and ignores end reports.
type NopCallUI struct{}

func (NopCallUI) ReportIncoming(IncomingCall) error { return nil }
func (NopCallUI) ReportEnded(string, EndReason)     {}
