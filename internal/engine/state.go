package engine

import "fmt"

// CallState is a call state as reported by the engine.
type CallState int

const (
	CallIdle CallState = iota
	CallIncomingReceived
	CallPushIncomingReceived
	CallOutgoingInit
	CallOutgoingProgress
	CallOutgoingRinging
	CallOutgoingEarlyMedia
	CallConnected
	CallStreamsRunning
	CallPausing
	CallPaused
	CallResuming
	CallReferred
	CallError
	CallEnd
	CallPausedByRemote
	CallUpdatedByRemote
	CallIncomingEarlyMedia
	CallUpdating
	CallReleased
	CallEarlyUpdatedByRemote
	CallEarlyUpdating

	callStateCount
)

var callStateNames = [...]string{
	CallIdle:                 "Idle",
	CallIncomingReceived:     "IncomingReceived",
	CallPushIncomingReceived: "PushIncomingReceived",
	CallOutgoingInit:         "OutgoingInit",
	CallOutgoingProgress:     "OutgoingProgress",
	CallOutgoingRinging:      "OutgoingRinging",
	CallOutgoingEarlyMedia:   "OutgoingEarlyMedia",
	CallConnected:            "Connected",
	CallStreamsRunning:       "StreamsRunning",
	CallPausing:              "Pausing",
	CallPaused:               "Paused",
	CallResuming:             "Resuming",
	CallReferred:             "Referred",
	CallError:                "Error",
	CallEnd:                  "End",
	CallPausedByRemote:       "PausedByRemote",
	CallUpdatedByRemote:      "UpdatedByRemote",
	CallIncomingEarlyMedia:   "IncomingEarlyMedia",
	CallUpdating:             "Updating",
	CallReleased:             "Released",
	CallEarlyUpdatedByRemote: "EarlyUpdatedByRemote",
	CallEarlyUpdating:        "EarlyUpdating",
}

// String returns the string representation of the state.
func (s CallState) String() string {
	if s >= 0 && s < callStateCount {
		return callStateNames[s]
	}
	return fmt.Sprintf("Unknown(%d)", int(s))
}

// AllCallStates returns every declared call state in declaration order.
func AllCallStates() []CallState {
	states := make([]CallState, 0, callStateCount)
	for s := CallIdle; s < callStateCount; s++ {
		states = append(states, s)
	}
	return states
}

// IsTerminal returns true for states after which the call object is gone
// or about to be.
func (s CallState) IsTerminal() bool {
	return s == CallEnd || s == CallError || s == CallReleased
}

// IsIncomingUnanswered returns true while an inbound call is still ringing.
func (s CallState) IsIncomingUnanswered() bool {
	return s == CallIncomingReceived || s == CallIncomingEarlyMedia || s == CallPushIncomingReceived
}

// RegistrationState is the account registration state reported by the engine.
type RegistrationState int

const (
	RegistrationNone RegistrationState = iota
	RegistrationProgress
	RegistrationOk
	RegistrationCleared
	RegistrationFailed
	RegistrationRefreshing
)

// String returns the wire name of the registration state. Values outside the
// declared range report as failed.
func (s RegistrationState) String() string {
	switch s {
	case RegistrationNone:
		return "Registration.None"
	case RegistrationProgress:
		return "Registration.Progress"
	case RegistrationOk:
		return "Registration.Ok"
	case RegistrationCleared:
		return "Registration.Cleared"
	case RegistrationRefreshing:
		return "Registration.Refreshing"
	default:
		return "Registration.Failed"
	}
}

// Direction of a call.
type Direction int

const (
	Outgoing Direction = iota
	Incoming
)

// String returns the wire name of the direction.
func (d Direction) String() string {
	if d == Incoming {
		return "Call.Inbound"
	}
	return "Call.Outbound"
}

// CallStatus is the final disposition recorded in the engine call log.
type CallStatus int

const (
	StatusSuccess CallStatus = iota
	StatusAborted
	StatusMissed
	StatusDeclined
	StatusEarlyAborted
	StatusAcceptedElsewhere
	StatusDeclinedElsewhere
)

func (s CallStatus) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusAborted:
		return "aborted"
	case StatusMissed:
		return "missed"
	case StatusDeclined:
		return "declined"
	case StatusEarlyAborted:
		return "early_aborted"
	case StatusAcceptedElsewhere:
		return "accepted_elsewhere"
	case StatusDeclinedElsewhere:
		return "declined_elsewhere"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// ParseCallStatus maps a stored status name back to a CallStatus.
func ParseCallStatus(s string) CallStatus {
	for st := StatusSuccess; st <= StatusDeclinedElsewhere; st++ {
		if st.String() == s {
			return st
		}
	}
	return StatusAborted
}

// DeclineReason is passed to Decline.
type DeclineReason int

const (
	ReasonDeclined DeclineReason = iota
	ReasonBusy
	ReasonForbidden
)

// SIPStatus returns the SIP response code used to decline with this reason.
func (r DeclineReason) SIPStatus() (int, string) {
	switch r {
	case ReasonBusy:
		return 486, "Busy Here"
	case ReasonForbidden:
		return 403, "Forbidden"
	default:
		return 603, "Decline"
	}
}

// Transport to reach the registrar.
type Transport int

const (
	TransportUDP Transport = iota
	TransportTCP
	TransportTLS
)

// ParseTransport maps the host transport names. Anything other than "Tcp"
// or "Tls" selects UDP.
func ParseTransport(s string) Transport {
	switch s {
	case "Tcp":
		return TransportTCP
	case "Tls":
		return TransportTLS
	default:
		return TransportUDP
	}
}

// Network returns the transport name used by the SIP stack.
func (t Transport) Network() string {
	switch t {
	case TransportTCP:
		return "tcp"
	case TransportTLS:
		return "tls"
	default:
		return "udp"
	}
}
