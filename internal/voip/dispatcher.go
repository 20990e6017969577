package voip

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/tiensd92/voip-linphone-sdk/internal/engine"
)

const defaultSIPPort = 5060

// InitParams configures the SIP account, mirroring the host initModule call.
type InitParams struct {
	Extension     string
	Password      string
	Domain        string
	Port          int
	TransportType string
	KeepAlive     bool
}

// Dispatcher validates commands and forwards them to the engine. Engine
// failures surface as EngineRejected. It is not safe for concurrent use.
type Dispatcher struct {
	eng     engine.Engine
	tracker *Tracker
	paths   RecordingPaths
	logger  *slog.Logger
}

// NewDispatcher returns a dispatcher. paths may be nil, in which case
// recorded calls get no output file.
func NewDispatcher(eng engine.Engine, tracker *Tracker, paths RecordingPaths, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{eng: eng, tracker: tracker, paths: paths, logger: logger}
}

// InitModule starts the engine and replaces the default account.
func (d *Dispatcher) InitModule(ctx context.Context, p InitParams) error {
	if p.Extension == "" || p.Domain == "" {
		return newError(CodeInvalidAddress, "extension and domain are required")
	}
	if p.Port == 0 {
		p.Port = defaultSIPPort
	}
	if err := d.eng.Start(ctx); err != nil {
		return engineRejected(err)
	}
	if acct, ok := d.eng.DefaultAccount(); ok {
		if err := d.eng.RemoveAccount(acct.ID); err != nil {
			return engineRejected(err)
		}
	}

	d.eng.SetKeepAlive(p.KeepAlive)
	acct, err := d.eng.CreateAccount(engine.AccountParams{
		Username:  p.Extension,
		Password:  p.Password,
		Domain:    p.Domain,
		Port:      p.Port,
		Transport: engine.ParseTransport(p.TransportType),
	})
	if err != nil {
		return engineRejected(err)
	}
	if err := d.eng.SetDefaultAccount(acct.ID); err != nil {
		return engineRejected(err)
	}
	d.logger.Info("sip account configured",
		"extension", p.Extension,
		"domain", p.Domain,
		"port", p.Port,
		"transport", engine.ParseTransport(p.TransportType).Network(),
	)
	return nil
}

// PlaceCall begins an outbound session and issues the engine invite.
func (d *Dispatcher) PlaceCall(recipient string, record bool) error {
	acct, ok := d.eng.DefaultAccount()
	if !ok {
		return ErrNoAccount
	}
	addr, err := sipAddress(recipient, acct.Domain)
	if err != nil {
		return err
	}

	correlationID := uuid.NewString()
	sess, err := d.tracker.Begin(engine.Outgoing, correlationID)
	if err != nil {
		return err
	}
	sess.RemoteUser = strings.TrimSpace(recipient)
	sess.RecordingRequested = record

	params := engine.CallParams{
		Headers: map[string]string{engine.HeaderCorrelationID: correlationID},
	}
	if record && d.paths != nil {
		params.RecordFile = d.paths.RecordingPath(correlationID)
		sess.RecordingFile = params.RecordFile
	}

	call, err := d.eng.Invite(addr, params)
	if err != nil {
		d.tracker.End()
		return engineRejected(err)
	}
	sess.CallID = call.ID
	d.logger.Info("call session started",
		"uuid", correlationID,
		"direction", engine.Outgoing,
		"remote", sess.RemoteUser,
		"call_id", call.ID,
	)
	return nil
}

// Answer accepts the current call.
func (d *Dispatcher) Answer() error {
	call, err := d.currentCall()
	if err != nil {
		return err
	}
	return d.AnswerCall(call.ID)
}

// AnswerCall accepts the engine call with the given id.
func (d *Dispatcher) AnswerCall(callID string) error {
	if callID == "" {
		return ErrNoActiveCall
	}
	if err := d.eng.Accept(callID); err != nil {
		return engineRejected(err)
	}
	return nil
}

// Hangup declines a ringing inbound call and terminates anything else.
func (d *Dispatcher) Hangup() error {
	call, err := d.anyCall()
	if err != nil {
		return err
	}
	if call.Dir == engine.Incoming && call.State.IsIncomingUnanswered() {
		err = d.eng.Decline(call.ID, engine.ReasonDeclined)
	} else {
		err = d.eng.Terminate(call.ID)
	}
	if err != nil {
		return engineRejected(err)
	}
	return nil
}

// Reject declines the current call as forbidden and terminates it.
func (d *Dispatcher) Reject() error {
	call, err := d.currentCall()
	if err != nil {
		return err
	}
	if err := d.eng.Decline(call.ID, engine.ReasonForbidden); err != nil {
		return engineRejected(err)
	}
	if err := d.eng.Terminate(call.ID); err != nil {
		d.logger.Debug("terminate after decline", "call_id", call.ID, "error", err)
	}
	return nil
}

// Pause holds the current call.
func (d *Dispatcher) Pause() error {
	call, err := d.anyCall()
	if err != nil {
		return err
	}
	if err := d.eng.Pause(call.ID); err != nil {
		return engineRejected(err)
	}
	return nil
}

// Resume resumes the current call.
func (d *Dispatcher) Resume() error {
	call, err := d.anyCall()
	if err != nil {
		return err
	}
	if err := d.eng.Resume(call.ID); err != nil {
		return engineRejected(err)
	}
	return nil
}

// Transfer blind-transfers the current call to an extension in the account
// domain.
func (d *Dispatcher) Transfer(extension string) error {
	call, err := d.anyCall()
	if err != nil {
		return err
	}
	acct, ok := d.eng.DefaultAccount()
	if !ok || acct.Domain == "" {
		return ErrNoDomain
	}
	addr, err := sipAddress(extension, acct.Domain)
	if err != nil {
		return err
	}
	if err := d.eng.TransferTo(call.ID, addr); err != nil {
		return engineRejected(err)
	}
	return nil
}

// SendTones sends the first character of digits as DTMF. Empty input or a
// character outside 0-9, *, # and A-D is rejected as InvalidAddress.
func (d *Dispatcher) SendTones(digits string) error {
	call, err := d.currentCall()
	if err != nil {
		return err
	}
	if digits == "" {
		return newError(CodeInvalidAddress, "no digits to send")
	}
	digit := rune(digits[0])
	if !strings.ContainsRune("0123456789*#ABCDabcd", digit) {
		return newError(CodeInvalidAddress, "invalid dtmf digit %q", digit)
	}
	if err := d.eng.SendDTMF(call.ID, digit); err != nil {
		return engineRejected(err)
	}
	return nil
}

// SwitchAudioRoute routes the current call's output to the first
// enumerated device of the named kind.
func (d *Dispatcher) SwitchAudioRoute(kind string) error {
	call, err := d.currentCall()
	if err != nil {
		return err
	}
	want, ok := engine.ParseAudioDeviceKind(kind)
	if !ok {
		return newError(CodeDeviceNotFound, "unknown device kind %q", kind)
	}
	for _, dev := range d.eng.AudioDevices() {
		if dev.Kind != want {
			continue
		}
		if err := d.eng.SetOutputDevice(call.ID, dev); err != nil {
			return engineRejected(err)
		}
		return nil
	}
	return newError(CodeDeviceNotFound, "no %s device available", kind)
}

// ToggleMute flips the microphone and returns the new microphone-enabled
// state.
func (d *Dispatcher) ToggleMute() (bool, error) {
	if _, err := d.currentCall(); err != nil {
		return false, err
	}
	d.eng.SetMicEnabled(!d.eng.MicEnabled())
	return d.eng.MicEnabled(), nil
}

// RefreshRegistration triggers a re-register. Failures are only logged;
// they reach the host through the registration event.
func (d *Dispatcher) RefreshRegistration() {
	if err := d.eng.RefreshRegisters(); err != nil {
		d.logger.Warn("refresh registers failed", "error", err)
	}
}

// Unregister disables registration and clears accounts and credentials.
// It reports false when there is no account.
func (d *Dispatcher) Unregister() (bool, error) {
	acct, ok := d.eng.DefaultAccount()
	if !ok {
		return false, nil
	}
	if err := d.eng.DisableRegistration(acct.ID); err != nil {
		return false, engineRejected(err)
	}
	if err := d.eng.RemoveAccount(acct.ID); err != nil {
		return false, engineRejected(err)
	}
	d.eng.ClearAccounts()
	d.eng.ClearAuthInfo()
	d.logger.Info("sip account unregistered", "extension", acct.Username)
	return true, nil
}

// CallID returns the engine id of the current call, empty when idle.
func (d *Dispatcher) CallID() string {
	if sess, ok := d.tracker.Current(); ok && sess.CallID != "" {
		return sess.CallID
	}
	if call, ok := d.eng.CurrentCall(); ok {
		return call.ID
	}
	return ""
}

// AudioDevices maps device kind names to device names.
func (d *Dispatcher) AudioDevices() map[string]string {
	devices := make(map[string]string)
	for _, dev := range d.eng.AudioDevices() {
		devices[dev.Kind.String()] = dev.Name
	}
	return devices
}

// CurrentAudioDevice returns the kind of the current call's output device.
func (d *Dispatcher) CurrentAudioDevice() string {
	call, ok := d.eng.CurrentCall()
	if !ok {
		return ""
	}
	dev, ok := d.eng.OutputDevice(call.ID)
	if !ok {
		return ""
	}
	return dev.Kind.String()
}

// SpeakerEnabled reports whether the current call plays through the speaker.
func (d *Dispatcher) SpeakerEnabled() bool {
	return d.CurrentAudioDevice() == engine.DeviceSpeaker.String()
}

func (d *Dispatcher) currentCall() (engine.Call, error) {
	call, ok := d.eng.CurrentCall()
	if !ok {
		return engine.Call{}, ErrNoActiveCall
	}
	return call, nil
}

// anyCall prefers the current call but falls back to any live call.
func (d *Dispatcher) anyCall() (engine.Call, error) {
	if call, ok := d.eng.CurrentCall(); ok {
		return call, nil
	}
	calls := d.eng.Calls()
	if len(calls) == 0 {
		return engine.Call{}, ErrNoActiveCall
	}
	return calls[0], nil
}

// sipAddress builds sip:user@domain from a dialled user part.
func sipAddress(user, domain string) (string, error) {
	user = strings.TrimSpace(user)
	if user == "" {
		return "", newError(CodeInvalidAddress, "recipient is empty")
	}
	if strings.ContainsAny(user, " \t@:;<>\"") {
		return "", newError(CodeInvalidAddress, "invalid recipient %q", user)
	}
	if domain == "" {
		return "", ErrNoDomain
	}
	return "sip:" + user + "@" + domain, nil
}
