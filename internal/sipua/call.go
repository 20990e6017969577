package sipua

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"

	"github.com/tiensd92/voip-linphone-sdk/internal/engine"
)

const (
	// inviteTimeout bounds an outgoing INVITE without a final response.
	inviteTimeout = 90 * time.Second
	// incomingTimeout is how long an unanswered inbound call rings.
	incomingTimeout = 60 * time.Second
	inDialogTimeout = 10 * time.Second
)

// call is the runtime state of one SIP call, keyed by its Call-ID.
type call struct {
	id            string
	dir           engine.Direction
	state         engine.CallState
	remoteUser    string
	remoteAddress string
	displayName   string
	recordFile    string
	status        engine.CallStatus
	correlationID string
	acct          *account

	startedAt   time.Time
	connectedAt time.Time
	duration    time.Duration

	// invite is the INVITE sent (outbound) or received (inbound).
	invite   *sip.Request
	serverTx sip.ServerTransaction
	localTag string
	// hangup is set once the local side asked to end a pending outbound call.
	hangup  bool
	settled chan struct{}

	dlg        *dialog
	media      *rtpStream
	remote     remoteMedia
	mediaHost  string
	sdpSession uint64
	sdpVersion uint64
	paused     bool
	output     engine.AudioDevice
	ended      bool
}

func (c *call) snapshot() engine.Call {
	d := c.duration
	if !c.ended && !c.connectedAt.IsZero() {
		d = time.Since(c.connectedAt)
	}
	return engine.Call{
		ID:            c.id,
		Dir:           c.dir,
		State:         c.state,
		RemoteUser:    c.remoteUser,
		RemoteAddress: c.remoteAddress,
		DisplayName:   c.displayName,
		RecordFile:    c.recordFile,
		Status:        c.status,
		Duration:      d,
	}
}

func (c *call) established() bool {
	return c.dlg != nil && !c.ended
}

func (c *call) settle() {
	select {
	case <-c.settled:
	default:
		close(c.settled)
	}
}

// localSDP renders the next version of our session description.
func (c *call) localSDP(direction string) ([]byte, error) {
	c.sdpVersion++
	return buildSDP(c.mediaHost, c.media.port(), c.sdpSession, c.sdpVersion, direction)
}

// setState records and emits a transition. Called with u.mu held.
func (u *UA) setState(c *call, st engine.CallState, msg string) {
	c.state = st
	u.emit(engine.CallStateChanged{Call: c.snapshot(), State: st, Message: msg})
}

func (u *UA) lookup(id string) (*call, error) {
	c, ok := u.calls[id]
	if !ok || c.ended {
		return nil, errNoCall
	}
	return c, nil
}

func (u *UA) addCall(c *call) {
	u.calls[c.id] = c
	u.order = append(u.order, c.id)
}

// finish moves c through its terminal state and Released. The call log entry
// is written between the two so the missed counter is current once Released
// is observed.
func (u *UA) finish(c *call, terminal engine.CallState, status engine.CallStatus, msg string) {
	u.mu.Lock()
	if c.ended {
		u.mu.Unlock()
		return
	}
	if !c.connectedAt.IsZero() {
		c.duration = time.Since(c.connectedAt)
	}
	c.status = status
	u.setState(c, terminal, msg)
	c.ended = true
	c.settle()
	u.mu.Unlock()

	if c.media != nil {
		c.media.close()
	}
	u.logCall(c)

	u.mu.Lock()
	if c.media != nil {
		u.rtpClosed += c.media.packets()
	}
	u.setState(c, engine.CallReleased, "")
	delete(u.calls, c.id)
	for i, id := range u.order {
		if id == c.id {
			u.order = append(u.order[:i], u.order[i+1:]...)
			break
		}
	}
	u.mu.Unlock()

	u.logger.Info("call released",
		"call_id", c.id,
		"direction", c.dir,
		"status", status,
		"duration", c.duration.String(),
	)
}

// Invite places an outgoing call from the default account.
func (u *UA) Invite(address string, p engine.CallParams) (engine.Call, error) {
	var target sip.Uri
	if err := sip.ParseUri(address, &target); err != nil {
		return engine.Call{}, fmt.Errorf("sipua: parsing address %q: %w", address, err)
	}

	u.mu.Lock()
	if u.ctx == nil {
		u.mu.Unlock()
		return engine.Call{}, errNotStarted
	}
	acct, ok := u.accounts[u.defaultID]
	if !ok {
		u.mu.Unlock()
		return engine.Call{}, errNoAccount
	}
	ctx := u.ctx
	contact := u.contactURI(acct)
	u.mu.Unlock()

	media, err := listenRTP(contact.Host, u.logger)
	if err != nil {
		return engine.Call{}, fmt.Errorf("sipua: %w", err)
	}

	c := &call{
		id:            uuid.NewString(),
		dir:           engine.Outgoing,
		remoteUser:    target.User,
		remoteAddress: target.String(),
		recordFile:    p.RecordFile,
		status:        engine.StatusAborted,
		correlationID: p.Headers[engine.HeaderCorrelationID],
		acct:          acct,
		startedAt:     time.Now(),
		localTag:      newTag(),
		settled:       make(chan struct{}),
		media:         media,
		mediaHost:     contact.Host,
		sdpSession:    uint64(time.Now().Unix()),
		output:        u.devices[1],
	}

	body, err := c.localSDP(dirSendRecv)
	if err != nil {
		media.close()
		return engine.Call{}, fmt.Errorf("sipua: %w", err)
	}

	req := sip.NewRequest(sip.INVITE, target)
	req.SetTransport(strings.ToUpper(acct.Transport.Network()))

	var fromURI sip.Uri
	if err := sip.ParseUri(acct.aor(), &fromURI); err != nil {
		media.close()
		return engine.Call{}, fmt.Errorf("sipua: parsing account uri: %w", err)
	}
	from := &sip.FromHeader{Address: fromURI, Params: sip.NewParams()}
	from.Params.Add("tag", c.localTag)
	req.AppendHeader(from)
	req.AppendHeader(&sip.ToHeader{Address: target, Params: sip.NewParams()})
	callID := sip.CallIDHeader(c.id)
	req.AppendHeader(&callID)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: 1, MethodName: sip.INVITE})
	req.AppendHeader(&sip.ContactHeader{Address: contact})
	for name, value := range p.Headers {
		req.AppendHeader(sip.NewHeader(name, value))
	}
	ct := sip.ContentTypeHeader("application/sdp")
	req.AppendHeader(&ct)
	req.SetBody(body)
	c.invite = req

	u.mu.Lock()
	u.addCall(c)
	u.setState(c, engine.CallOutgoingInit, "")
	snap := c.snapshot()
	u.wg.Add(1)
	u.mu.Unlock()

	go func() {
		defer u.wg.Done()
		u.runOutbound(ctx, c)
	}()

	u.logger.Info("outgoing call started", "call_id", c.id, "to", target.String())
	return snap, nil
}

// runOutbound drives an outgoing INVITE to its final response.
func (u *UA) runOutbound(ctx context.Context, c *call) {
	ctx, cancel := context.WithTimeout(ctx, inviteTimeout)
	defer cancel()

	client := u.sipClient()
	if client == nil {
		u.finish(c, engine.CallError, engine.StatusAborted, errNotStarted.Error())
		return
	}

	req := c.invite
	tx, err := client.TransactionRequest(ctx, req, sipgo.ClientRequestBuild)
	if err != nil {
		u.finish(c, engine.CallError, engine.StatusAborted, fmt.Sprintf("sending invite: %v", err))
		return
	}

	u.mu.Lock()
	u.setState(c, engine.CallOutgoingProgress, "")
	u.mu.Unlock()

	authTried := false
	for {
		var res *sip.Response
		select {
		case <-ctx.Done():
			tx.Terminate()
			u.finish(c, engine.CallError, engine.StatusAborted, "no final response")
			return
		case <-tx.Done():
			msg := "transaction ended without final response"
			if txErr := tx.Err(); txErr != nil {
				msg = txErr.Error()
			}
			u.finish(c, engine.CallError, engine.StatusAborted, msg)
			return
		case res = <-tx.Responses():
		}

		u.logger.Debug("outgoing call response", "call_id", c.id, "status", res.StatusCode, "reason", res.Reason)

		switch {
		case res.StatusCode == 100:
			continue

		case res.StatusCode == 180 || res.StatusCode == 183:
			st := engine.CallOutgoingRinging
			if res.StatusCode == 183 && len(res.Body()) > 0 {
				st = engine.CallOutgoingEarlyMedia
			}
			u.mu.Lock()
			if !c.ended && c.state != st {
				u.setState(c, st, res.Reason)
			}
			u.mu.Unlock()

		case (res.StatusCode == 401 || res.StatusCode == 407) && !authTried:
			authTried = true
			tx.Terminate()

			u.mu.Lock()
			password := c.acct.password
			u.mu.Unlock()

			authReq, err := authorize(req, res, req.Recipient.String(), c.acct.Username, password)
			if err != nil {
				u.finish(c, engine.CallError, engine.StatusAborted, err.Error())
				return
			}
			tx, err = client.TransactionRequest(ctx, authReq,
				sipgo.ClientRequestIncreaseCSEQ,
				sipgo.ClientRequestAddVia,
			)
			if err != nil {
				u.finish(c, engine.CallError, engine.StatusAborted, fmt.Sprintf("sending authenticated invite: %v", err))
				return
			}
			req = authReq
			u.mu.Lock()
			c.invite = req
			hangup := c.hangup
			u.mu.Unlock()
			if hangup {
				u.sendCancel(c)
			}

		case res.StatusCode >= 200 && res.StatusCode < 300:
			u.answered(c, req, res)
			tx.Terminate()
			return

		case res.StatusCode >= 300:
			tx.Terminate()
			u.mu.Lock()
			hangup := c.hangup
			u.mu.Unlock()
			switch {
			case hangup || res.StatusCode == 487:
				u.finish(c, engine.CallEnd, engine.StatusAborted, res.Reason)
			case res.StatusCode == 486 || res.StatusCode == 600 || res.StatusCode == 603:
				u.finish(c, engine.CallError, engine.StatusDeclined, res.Reason)
			default:
				u.finish(c, engine.CallError, engine.StatusAborted, fmt.Sprintf("%d %s", res.StatusCode, res.Reason))
			}
			return
		}
	}
}

// answered confirms an outgoing call on its 2xx.
func (u *UA) answered(c *call, req *sip.Request, res *sip.Response) {
	client := u.sipClient()
	if client != nil {
		if err := client.WriteRequest(buildACKFor2xx(req, res)); err != nil {
			u.logger.Error("failed to send ack", "call_id", c.id, "error", err)
		}
	}

	remote, err := parseRemoteSDP(res.Body())
	if err != nil {
		u.logger.Warn("answer carries no usable sdp", "call_id", c.id, "error", err)
	} else {
		c.media.setRemote(remote.addr)
	}

	u.mu.Lock()
	c.remote = remote
	c.dlg = newOutboundDialog(req, res)
	c.connectedAt = time.Now()
	c.status = engine.StatusSuccess
	hangup := c.hangup
	u.setState(c, engine.CallConnected, res.Reason)
	u.setState(c, engine.CallStreamsRunning, "")
	u.mu.Unlock()

	u.logger.Info("outgoing call answered", "call_id", c.id)

	// A hangup raced with the answer.
	if hangup {
		if err := u.Terminate(c.id); err != nil {
			u.logger.Warn("failed to end call answered after hangup", "call_id", c.id, "error", err)
		}
	}
}

func (u *UA) sendCancel(c *call) {
	client := u.sipClient()
	if client == nil {
		return
	}
	u.mu.Lock()
	req := c.invite
	u.mu.Unlock()
	if err := client.WriteRequest(buildCancel(req)); err != nil {
		u.logger.Error("failed to send cancel", "call_id", c.id, "error", err)
	}
}

// Calls returns every live call, oldest first.
func (u *UA) Calls() []engine.Call {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]engine.Call, 0, len(u.order))
	for _, id := range u.order {
		out = append(out, u.calls[id].snapshot())
	}
	return out
}

// CurrentCall returns the most recent live call.
func (u *UA) CurrentCall() (engine.Call, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for i := len(u.order) - 1; i >= 0; i-- {
		if c := u.calls[u.order[i]]; !c.ended {
			return c.snapshot(), true
		}
	}
	return engine.Call{}, false
}

// Accept answers a ringing inbound call.
func (u *UA) Accept(callID string) error {
	u.mu.Lock()
	c, err := u.lookup(callID)
	if err != nil {
		u.mu.Unlock()
		return err
	}
	if c.dir != engine.Incoming || c.dlg != nil {
		u.mu.Unlock()
		return fmt.Errorf("sipua: call %s is not ringing", callID)
	}
	body, err := c.localSDP(answerDirection(c.remote.direction))
	if err != nil {
		u.mu.Unlock()
		return fmt.Errorf("sipua: %w", err)
	}

	res := u.inviteResponse(c, 200, "OK", body)
	if err := c.serverTx.Respond(res); err != nil {
		u.mu.Unlock()
		return fmt.Errorf("sipua: sending 200 ok: %w", err)
	}

	c.dlg = newInboundDialog(c.invite, res)
	c.connectedAt = time.Now()
	c.status = engine.StatusSuccess
	c.settle()
	u.setState(c, engine.CallConnected, "")
	u.setState(c, engine.CallStreamsRunning, "")
	u.mu.Unlock()

	u.logger.Info("incoming call accepted", "call_id", callID)
	return nil
}

// Decline rejects a ringing inbound call with the status for reason.
func (u *UA) Decline(callID string, reason engine.DeclineReason) error {
	u.mu.Lock()
	c, err := u.lookup(callID)
	if err != nil {
		u.mu.Unlock()
		return err
	}
	if c.dir != engine.Incoming || c.dlg != nil {
		u.mu.Unlock()
		return u.Terminate(callID)
	}
	code, phrase := reason.SIPStatus()
	res := u.inviteResponse(c, code, phrase, nil)
	c.settle()
	u.mu.Unlock()

	if err := c.serverTx.Respond(res); err != nil {
		u.logger.Error("failed to send decline", "call_id", callID, "error", err)
	}
	u.finish(c, engine.CallEnd, engine.StatusDeclined, phrase)
	return nil
}

// Terminate ends a call in whatever phase it is in.
func (u *UA) Terminate(callID string) error {
	u.mu.Lock()
	c, err := u.lookup(callID)
	if err != nil {
		u.mu.Unlock()
		return err
	}

	switch {
	case c.dlg != nil:
		bye := c.dlg.request(sip.BYE, u.contactURI(c.acct))
		u.wg.Add(1)
		u.mu.Unlock()
		go func() {
			defer u.wg.Done()
			u.sendInDialog(c, bye)
		}()
		u.finish(c, engine.CallEnd, engine.StatusSuccess, "")
		return nil

	case c.dir == engine.Incoming:
		u.mu.Unlock()
		return u.Decline(callID, engine.ReasonDeclined)

	default:
		// The final response to the INVITE ends the call in runOutbound.
		c.hangup = true
		u.mu.Unlock()
		u.sendCancel(c)
		return nil
	}
}

// Pause puts an established call on hold with a sendonly re-INVITE.
func (u *UA) Pause(callID string) error {
	return u.reinvite(callID, true)
}

// Resume takes a held call off hold.
func (u *UA) Resume(callID string) error {
	return u.reinvite(callID, false)
}

func (u *UA) reinvite(callID string, hold bool) error {
	u.mu.Lock()
	c, err := u.lookup(callID)
	if err != nil {
		u.mu.Unlock()
		return err
	}
	if !c.established() {
		u.mu.Unlock()
		return fmt.Errorf("sipua: call %s is not established", callID)
	}
	if c.paused == hold {
		u.mu.Unlock()
		return nil
	}

	direction, pending, final := dirSendRecv, engine.CallResuming, engine.CallStreamsRunning
	if hold {
		direction, pending, final = dirSendOnly, engine.CallPausing, engine.CallPaused
	}
	body, err := c.localSDP(direction)
	if err != nil {
		u.mu.Unlock()
		return fmt.Errorf("sipua: %w", err)
	}
	req := c.dlg.request(sip.INVITE, u.contactURI(c.acct))
	ct := sip.ContentTypeHeader("application/sdp")
	req.AppendHeader(&ct)
	req.SetBody(body)
	u.setState(c, pending, "")
	u.wg.Add(1)
	u.mu.Unlock()

	go func() {
		defer u.wg.Done()
		res, err := u.sendInDialog(c, req)

		u.mu.Lock()
		defer u.mu.Unlock()
		if c.ended {
			return
		}
		if err != nil || res.StatusCode >= 300 {
			u.logger.Warn("re-invite failed", "call_id", c.id, "hold", hold, "error", err)
			// Fall back to the state before the request.
			if hold {
				u.setState(c, engine.CallStreamsRunning, "hold failed")
			} else {
				u.setState(c, engine.CallPaused, "resume failed")
			}
			return
		}
		c.paused = hold
		u.setState(c, final, "")
	}()
	return nil
}

// sendInDialog sends req inside the call's dialog and returns the final
// response. A 2xx to a re-INVITE is acknowledged.
func (u *UA) sendInDialog(c *call, req *sip.Request) (*sip.Response, error) {
	client := u.sipClient()
	if client == nil {
		return nil, errNotStarted
	}

	ctx, cancel := context.WithTimeout(context.Background(), inDialogTimeout)
	defer cancel()

	tx, err := client.TransactionRequest(ctx, req, sipgo.ClientRequestAddVia)
	if err != nil {
		return nil, fmt.Errorf("sending %s: %w", req.Method, err)
	}
	defer tx.Terminate()

	res, err := finalResponse(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("waiting for %s response: %w", req.Method, err)
	}
	if req.IsInvite() && res.StatusCode >= 200 && res.StatusCode < 300 {
		if err := client.WriteRequest(buildACKFor2xx(req, res)); err != nil {
			u.logger.Error("failed to ack re-invite", "call_id", c.id, "error", err)
		}
	}
	return res, nil
}

// TransferTo performs a blind transfer with REFER. The transferee ends our
// dialog with BYE once it has taken over.
func (u *UA) TransferTo(callID, address string) error {
	var target sip.Uri
	if err := sip.ParseUri(address, &target); err != nil {
		return fmt.Errorf("sipua: parsing transfer target %q: %w", address, err)
	}

	u.mu.Lock()
	c, err := u.lookup(callID)
	if err != nil {
		u.mu.Unlock()
		return err
	}
	if !c.established() {
		u.mu.Unlock()
		return fmt.Errorf("sipua: call %s is not established", callID)
	}
	contact := u.contactURI(c.acct)
	req := c.dlg.request(sip.REFER, contact)
	req.AppendHeader(sip.NewHeader("Refer-To", "<"+target.String()+">"))
	req.AppendHeader(sip.NewHeader("Referred-By", "<"+c.acct.aor()+">"))
	u.wg.Add(1)
	u.mu.Unlock()

	go func() {
		defer u.wg.Done()
		res, err := u.sendInDialog(c, req)
		if err != nil {
			u.logger.Warn("transfer failed", "call_id", c.id, "error", err)
			return
		}
		if res.StatusCode >= 300 {
			u.logger.Warn("transfer rejected", "call_id", c.id, "status", res.StatusCode, "reason", res.Reason)
			return
		}
		u.logger.Info("transfer accepted", "call_id", c.id, "target", target.String())
	}()
	return nil
}

// SendDTMF plays digit as RFC 4733 events when the peer negotiated
// telephone-event and as SIP INFO otherwise.
func (u *UA) SendDTMF(callID string, digit rune) error {
	digit = upperDigit(digit)
	if !validDigit(digit) {
		return fmt.Errorf("sipua: invalid dtmf digit %q", digit)
	}

	u.mu.Lock()
	c, err := u.lookup(callID)
	if err != nil {
		u.mu.Unlock()
		return err
	}
	if !c.established() {
		u.mu.Unlock()
		return fmt.Errorf("sipua: call %s is not established", callID)
	}

	if c.remote.telephoneEvent {
		u.wg.Add(1)
		u.mu.Unlock()
		go func() {
			defer u.wg.Done()
			if err := c.media.sendTelephoneEvent(digit, defaultToneDuration); err != nil {
				u.logger.Warn("failed to send dtmf event", "call_id", c.id, "error", err)
			}
		}()
		return nil
	}

	body, err := dtmfRelayBody(digit, defaultToneDuration)
	if err != nil {
		u.mu.Unlock()
		return fmt.Errorf("sipua: %w", err)
	}
	req := c.dlg.request(sip.INFO, u.contactURI(c.acct))
	ct := sip.ContentTypeHeader(dtmfContentType)
	req.AppendHeader(&ct)
	req.SetBody(body)
	u.wg.Add(1)
	u.mu.Unlock()

	go func() {
		defer u.wg.Done()
		if _, err := u.sendInDialog(c, req); err != nil {
			u.logger.Warn("failed to send dtmf info", "call_id", c.id, "error", err)
		}
	}()
	return nil
}

// CustomHeader returns a header of the call's INVITE, or "".
func (u *UA) CustomHeader(callID, name string) string {
	u.mu.Lock()
	defer u.mu.Unlock()
	c, ok := u.calls[callID]
	if !ok || c.invite == nil {
		return ""
	}
	if h := c.invite.GetHeader(name); h != nil {
		return h.Value()
	}
	return ""
}

// StartRecording records received audio. Calls placed without a record file
// are written to the recordings directory.
func (u *UA) StartRecording(callID string) error {
	u.mu.Lock()
	c, err := u.lookup(callID)
	if err != nil {
		u.mu.Unlock()
		return err
	}
	if c.recordFile == "" {
		if u.opts.RecordingsDir == "" {
			u.mu.Unlock()
			return errors.New("sipua: no recording file configured")
		}
		c.recordFile = filepath.Join(u.opts.RecordingsDir, c.id+".wav")
	}
	path := c.recordFile
	u.mu.Unlock()

	if err := c.media.startRecording(path); err != nil {
		return fmt.Errorf("sipua: %w", err)
	}
	return nil
}

// StopRecording finalizes the call's recording.
func (u *UA) StopRecording(callID string) error {
	u.mu.Lock()
	c, err := u.lookup(callID)
	u.mu.Unlock()
	if err != nil {
		return err
	}
	c.media.stopRecording()
	return nil
}

// IsRecording reports whether the call is being recorded.
func (u *UA) IsRecording(callID string) bool {
	u.mu.Lock()
	c, err := u.lookup(callID)
	u.mu.Unlock()
	if err != nil {
		return false
	}
	return c.media.recording()
}

func newTag() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}
