package engine

// Notification is an engine state-change notification. The set of variants
// is closed: only types in this package implement it.
type Notification interface {
	notification()
}

// CallStateChanged reports a call entering a new state.
type CallStateChanged struct {
	Call    Call
	State   CallState
	Message string
}

// RegistrationStateChanged reports an account registration transition.
type RegistrationStateChanged struct {
	AccountID string
	State     RegistrationState
	Message   string
}

func (CallStateChanged) notification()         {}
func (RegistrationStateChanged) notification() {}
