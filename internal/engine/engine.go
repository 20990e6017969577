// Package engine describes the contract with the external SIP/media engine.
// The engine owns protocol, transport and media. Implementations are not
// required to be safe for concurrent use; callers serialize access.
package engine

import (
	"context"
	"time"
)

// HeaderCorrelationID carries the correlation identifier end to end.
const HeaderCorrelationID = "X-UUID"

// Engine is the call-control surface of the telephony engine.
type Engine interface {
	// Start creates and starts the core. Calling Start on a started engine
	// is a no-op.
	Start(ctx context.Context) error
	Stop() error
	AddListener(l Listener)
	RemoveListener(l Listener)

	CreateAccount(p AccountParams) (Account, error)
	SetDefaultAccount(id string) error
	DefaultAccount() (Account, bool)
	// DisableRegistration unregisters the account without removing it.
	DisableRegistration(id string) error
	RemoveAccount(id string) error
	ClearAccounts()
	ClearAuthInfo()
	RefreshRegisters() error
	SetKeepAlive(enabled bool)

	Invite(address string, p CallParams) (Call, error)
	Calls() []Call
	CurrentCall() (Call, bool)
	Accept(callID string) error
	Decline(callID string, reason DeclineReason) error
	Terminate(callID string) error
	Pause(callID string) error
	Resume(callID string) error
	TransferTo(callID, address string) error
	SendDTMF(callID string, digit rune) error
	CustomHeader(callID, name string) string

	StartRecording(callID string) error
	StopRecording(callID string) error
	IsRecording(callID string) bool

	AudioDevices() []AudioDevice
	OutputDevice(callID string) (AudioDevice, bool)
	SetOutputDevice(callID string, d AudioDevice) error
	MicEnabled() bool
	SetMicEnabled(enabled bool)
	ActivateAudioSession(active bool)

	MissedCallsCount() int
	ResetMissedCallsCount() error
	CallLogs(limit int) ([]CallLog, error)
}

// Listener receives engine notifications in emission order. Implementations
// must not call back into the engine from OnNotification.
type Listener interface {
	OnNotification(n Notification)
}

// AccountParams holds what is needed to create a registering account.
type AccountParams struct {
	Username  string
	Password  string
	Domain    string
	Port      int
	Transport Transport
}

// Account is a snapshot of an engine account.
type Account struct {
	ID              string
	Username        string
	Domain          string
	Port            int
	Transport       Transport
	RegisterEnabled bool
	State           RegistrationState
}

// CallParams are applied to an outgoing INVITE.
type CallParams struct {
	Headers    map[string]string
	RecordFile string
}

// Call is a snapshot of an engine call object.
type Call struct {
	ID            string // engine handle, the SIP Call-ID
	Dir           Direction
	State         CallState
	RemoteUser    string
	RemoteAddress string
	DisplayName   string
	RecordFile    string
	Status        CallStatus
	Duration      time.Duration
}

// CallLog is one entry from the engine's persistent call history.
type CallLog struct {
	CallID        string
	CorrelationID string
	Dir           Direction
	Status        CallStatus
	RemoteUser    string
	RemoteAddress string
	StartedAt     time.Time
	Duration      time.Duration
	RecordFile    string
}
