// Package enginetest provides a scriptable in-memory engine.Engine.
package enginetest

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/tiensd92/voip-linphone-sdk/internal/engine"
)

// Engine records every operation and lets tests inject notifications and
// failures. It is safe for concurrent use.
type Engine struct {
	mu        sync.Mutex
	started   bool
	listeners []engine.Listener
	accounts  []engine.Account
	defaultID string
	nextID    int
	calls     []engine.Call
	params    map[string]engine.CallParams
	headers   map[string]map[string]string
	devices   []engine.AudioDevice
	output    map[string]engine.AudioDevice
	recording map[string]bool
	mic       bool
	missed    int
	keepAlive bool
	logs      []engine.CallLog
	ops       []string
	errs      map[string]error
}

// New returns an engine with microphone enabled and an earpiece plus
// microphone device list.
func New() *Engine {
	return &Engine{
		params:    make(map[string]engine.CallParams),
		headers:   make(map[string]map[string]string),
		output:    make(map[string]engine.AudioDevice),
		recording: make(map[string]bool),
		errs:      make(map[string]error),
		mic:       true,
		devices: []engine.AudioDevice{
			{ID: "mic", Name: "Built-in Microphone", Kind: engine.DeviceMicrophone},
			{ID: "earpiece", Name: "Earpiece", Kind: engine.DeviceEarpiece},
		},
	}
}

// FailOn makes the named operation (e.g. "Invite") return err.
func (e *Engine) FailOn(op string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errs[op] = err
}

// Ops returns the operations performed so far, e.g. "Accept call-1".
func (e *Engine) Ops() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.ops)
}

// HasOp reports whether op was performed.
func (e *Engine) HasOp(op string) bool {
	return slices.Contains(e.Ops(), op)
}

// SetDevices replaces the enumerated audio devices.
func (e *Engine) SetDevices(devices ...engine.AudioDevice) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.devices = devices
}

// SetMissed sets the missed call counter.
func (e *Engine) SetMissed(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.missed = n
}

// SetHeader sets a custom header on a call.
func (e *Engine) SetHeader(callID, name, value string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.headers[callID] == nil {
		e.headers[callID] = make(map[string]string)
	}
	e.headers[callID][name] = value
}

// Params returns the parameters an outgoing call was placed with.
func (e *Engine) Params(callID string) engine.CallParams {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.params[callID]
}

// KeepAlive reports the last keep-alive setting.
func (e *Engine) KeepAlive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.keepAlive
}

// Emit delivers n to every listener synchronously. Call state changes also
// update the engine's call list; released calls are removed.
func (e *Engine) Emit(n engine.Notification) {
	e.mu.Lock()
	if csc, ok := n.(engine.CallStateChanged); ok {
		e.trackCall(csc)
	}
	if rsc, ok := n.(engine.RegistrationStateChanged); ok {
		for i := range e.accounts {
			if e.accounts[i].ID == rsc.AccountID {
				e.accounts[i].State = rsc.State
			}
		}
	}
	listeners := slices.Clone(e.listeners)
	e.mu.Unlock()

	for _, l := range listeners {
		l.OnNotification(n)
	}
}

// EmitCall is shorthand for emitting a CallStateChanged for call.
func (e *Engine) EmitCall(call engine.Call, state engine.CallState) {
	call.State = state
	e.Emit(engine.CallStateChanged{Call: call, State: state, Message: state.String()})
}

func (e *Engine) trackCall(n engine.CallStateChanged) {
	idx := slices.IndexFunc(e.calls, func(c engine.Call) bool { return c.ID == n.Call.ID })
	if n.State == engine.CallReleased {
		if idx >= 0 {
			e.calls = slices.Delete(e.calls, idx, idx+1)
		}
		return
	}
	c := n.Call
	c.State = n.State
	if idx >= 0 {
		e.calls[idx] = c
		return
	}
	e.calls = append(e.calls, c)
}

func (e *Engine) record(op string, args ...any) error {
	entry := op
	for _, a := range args {
		entry += fmt.Sprintf(" %v", a)
	}
	e.ops = append(e.ops, entry)
	return e.errs[op]
}

func (e *Engine) findCall(id string) (int, error) {
	idx := slices.IndexFunc(e.calls, func(c engine.Call) bool { return c.ID == id })
	if idx < 0 {
		return -1, fmt.Errorf("enginetest: no call %q", id)
	}
	return idx, nil
}

func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record("Start"); err != nil {
		return err
	}
	e.started = true
	return nil
}

func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.started = false
	return e.record("Stop")
}

func (e *Engine) AddListener(l engine.Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, l)
}

func (e *Engine) RemoveListener(l engine.Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = slices.DeleteFunc(e.listeners, func(x engine.Listener) bool { return x == l })
}

func (e *Engine) CreateAccount(p engine.AccountParams) (engine.Account, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record("CreateAccount", p.Username+"@"+p.Domain); err != nil {
		return engine.Account{}, err
	}
	e.nextID++
	acct := engine.Account{
		ID:              fmt.Sprintf("acct-%d", e.nextID),
		Username:        p.Username,
		Domain:          p.Domain,
		Port:            p.Port,
		Transport:       p.Transport,
		RegisterEnabled: true,
		State:           engine.RegistrationProgress,
	}
	e.accounts = append(e.accounts, acct)
	return acct, nil
}

func (e *Engine) SetDefaultAccount(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record("SetDefaultAccount", id); err != nil {
		return err
	}
	e.defaultID = id
	return nil
}

func (e *Engine) DefaultAccount() (engine.Account, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, a := range e.accounts {
		if a.ID == e.defaultID {
			return a, true
		}
	}
	return engine.Account{}, false
}

func (e *Engine) DisableRegistration(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record("DisableRegistration", id); err != nil {
		return err
	}
	for i := range e.accounts {
		if e.accounts[i].ID == id {
			e.accounts[i].RegisterEnabled = false
		}
	}
	return nil
}

func (e *Engine) RemoveAccount(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record("RemoveAccount", id); err != nil {
		return err
	}
	e.accounts = slices.DeleteFunc(e.accounts, func(a engine.Account) bool { return a.ID == id })
	if e.defaultID == id {
		e.defaultID = ""
	}
	return nil
}

func (e *Engine) ClearAccounts() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("ClearAccounts")
	e.accounts = nil
	e.defaultID = ""
}

func (e *Engine) ClearAuthInfo() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("ClearAuthInfo")
}

func (e *Engine) RefreshRegisters() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.record("RefreshRegisters")
}

func (e *Engine) SetKeepAlive(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("SetKeepAlive", enabled)
	e.keepAlive = enabled
}

func (e *Engine) Invite(address string, p engine.CallParams) (engine.Call, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record("Invite", address); err != nil {
		return engine.Call{}, err
	}
	e.nextID++
	call := engine.Call{
		ID:            fmt.Sprintf("call-%d", e.nextID),
		Dir:           engine.Outgoing,
		State:         engine.CallOutgoingInit,
		RemoteAddress: address,
		RecordFile:    p.RecordFile,
	}
	e.calls = append(e.calls, call)
	e.params[call.ID] = p
	for k, v := range p.Headers {
		if e.headers[call.ID] == nil {
			e.headers[call.ID] = make(map[string]string)
		}
		e.headers[call.ID][k] = v
	}
	return call, nil
}

func (e *Engine) Calls() []engine.Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.calls)
}

func (e *Engine) CurrentCall() (engine.Call, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.calls) == 0 {
		return engine.Call{}, false
	}
	return e.calls[len(e.calls)-1], true
}

func (e *Engine) callOp(op, callID string, args ...any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record(op, append([]any{callID}, args...)...); err != nil {
		return err
	}
	_, err := e.findCall(callID)
	return err
}

func (e *Engine) Accept(callID string) error    { return e.callOp("Accept", callID) }
func (e *Engine) Terminate(callID string) error { return e.callOp("Terminate", callID) }
func (e *Engine) Pause(callID string) error     { return e.callOp("Pause", callID) }
func (e *Engine) Resume(callID string) error    { return e.callOp("Resume", callID) }

func (e *Engine) Decline(callID string, reason engine.DeclineReason) error {
	code, _ := reason.SIPStatus()
	return e.callOp("Decline", callID, code)
}

func (e *Engine) TransferTo(callID, address string) error {
	return e.callOp("TransferTo", callID, address)
}

func (e *Engine) SendDTMF(callID string, digit rune) error {
	return e.callOp("SendDTMF", callID, string(digit))
}

func (e *Engine) CustomHeader(callID, name string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.headers[callID][name]
}

func (e *Engine) StartRecording(callID string) error {
	if err := e.callOp("StartRecording", callID); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recording[callID] = true
	return nil
}

func (e *Engine) StopRecording(callID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record("StopRecording", callID); err != nil {
		return err
	}
	delete(e.recording, callID)
	return nil
}

func (e *Engine) IsRecording(callID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.recording[callID]
}

func (e *Engine) AudioDevices() []engine.AudioDevice {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.devices)
}

func (e *Engine) OutputDevice(callID string) (engine.AudioDevice, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.output[callID]
	return d, ok
}

func (e *Engine) SetOutputDevice(callID string, d engine.AudioDevice) error {
	if err := e.callOp("SetOutputDevice", callID, d.Kind); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.output[callID] = d
	return nil
}

func (e *Engine) MicEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mic
}

func (e *Engine) SetMicEnabled(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("SetMicEnabled", enabled)
	e.mic = enabled
}

func (e *Engine) ActivateAudioSession(active bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("ActivateAudioSession", active)
}

func (e *Engine) MissedCallsCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.missed
}

func (e *Engine) ResetMissedCallsCount() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record("ResetMissedCallsCount"); err != nil {
		return err
	}
	e.missed = 0
	return nil
}

// AddCallLog appends an entry returned by CallLogs.
func (e *Engine) AddCallLog(l engine.CallLog) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.logs = append(e.logs, l)
}

func (e *Engine) CallLogs(limit int) ([]engine.CallLog, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record("CallLogs", limit); err != nil {
		return nil, err
	}
	if limit > 0 && len(e.logs) > limit {
		return slices.Clone(e.logs[:limit]), nil
	}
	return slices.Clone(e.logs), nil
}

var _ engine.Engine = (*Engine)(nil)
