package sipua

import (
	"time"

	"github.com/emiago/sipgo/sip"

	"github.com/tiensd92/voip-linphone-sdk/internal/engine"
)

const allowMethods = "INVITE, ACK, CANCEL, BYE, OPTIONS, INFO, REFER"

func callIDOf(req *sip.Request) string {
	if cid := req.CallID(); cid != nil {
		return cid.Value()
	}
	return ""
}

// inviteResponse builds a response to the call's inbound INVITE carrying our
// To tag. Called with u.mu held.
func (u *UA) inviteResponse(c *call, code int, reason string, body []byte) *sip.Response {
	res := sip.NewResponseFromRequest(c.invite, code, reason, body)
	if to := res.To(); to != nil {
		if to.Params == nil {
			to.Params = sip.NewParams()
		}
		to.Params.Add("tag", c.localTag)
	}
	if code >= 180 && code < 300 && c.acct != nil {
		res.AppendHeader(&sip.ContactHeader{Address: u.contactURI(c.acct)})
	}
	if len(body) > 0 {
		ct := sip.ContentTypeHeader("application/sdp")
		res.AppendHeader(&ct)
	}
	return res
}

func (u *UA) respond(req *sip.Request, tx sip.ServerTransaction, code int, reason string) {
	res := sip.NewResponseFromRequest(req, code, reason, nil)
	if err := tx.Respond(res); err != nil {
		u.logger.Error("failed to send response", "code", code, "method", req.Method, "error", err)
	}
}

func (u *UA) handleInvite(req *sip.Request, tx sip.ServerTransaction) {
	callID := callIDOf(req)

	u.mu.Lock()
	existing := u.calls[callID]
	acct := u.accounts[u.defaultID]
	started := u.ctx != nil
	u.mu.Unlock()

	if existing != nil {
		if existing.established() {
			u.handleReInvite(existing, req, tx)
		}
		// Otherwise a retransmission of a ringing INVITE.
		return
	}
	if !started || acct == nil {
		u.respond(req, tx, 480, "Temporarily Unavailable")
		return
	}

	u.respond(req, tx, 100, "Trying")

	remote, err := parseRemoteSDP(req.Body())
	if err != nil {
		u.logger.Warn("rejecting incoming call", "call_id", callID, "error", err)
		u.respond(req, tx, 488, "Not Acceptable Here")
		return
	}

	contact := u.contactURI(acct)
	media, err := listenRTP(contact.Host, u.logger)
	if err != nil {
		u.logger.Error("failed to allocate media for incoming call", "call_id", callID, "error", err)
		u.respond(req, tx, 500, "Server Internal Error")
		return
	}
	media.setRemote(remote.addr)

	from := req.From()
	c := &call{
		id:            callID,
		dir:           engine.Incoming,
		status:        engine.StatusMissed,
		correlationID: headerValue(req, engine.HeaderCorrelationID),
		acct:          acct,
		startedAt:     time.Now(),
		invite:        req,
		serverTx:      tx,
		localTag:      newTag(),
		settled:       make(chan struct{}),
		media:         media,
		remote:        remote,
		mediaHost:     contact.Host,
		sdpSession:    uint64(time.Now().Unix()),
		output:        u.devices[1],
	}
	if from != nil {
		c.remoteUser = from.Address.User
		c.remoteAddress = from.Address.String()
		c.displayName = from.DisplayName
	}

	u.mu.Lock()
	u.addCall(c)
	u.setState(c, engine.CallIncomingReceived, "")
	ringing := u.inviteResponse(c, 180, "Ringing", nil)
	u.wg.Add(1)
	u.mu.Unlock()

	if err := tx.Respond(ringing); err != nil {
		u.logger.Error("failed to send ringing", "call_id", callID, "error", err)
	}

	u.logger.Info("incoming call",
		"call_id", callID,
		"from", c.remoteAddress,
		"uuid", c.correlationID,
	)

	go func() {
		defer u.wg.Done()
		u.watchIncoming(c)
	}()
}

// watchIncoming ends a ringing call when the caller gives up or it rings out.
func (u *UA) watchIncoming(c *call) {
	timer := time.NewTimer(incomingTimeout)
	defer timer.Stop()

	u.mu.Lock()
	ctx := u.ctx
	u.mu.Unlock()
	if ctx == nil {
		return
	}

	select {
	case <-c.settled:
		return
	case <-ctx.Done():
		return
	case <-c.serverTx.Done():
		u.endMissed(c, 0, "Call cancelled")
	case <-timer.C:
		u.endMissed(c, 480, "Temporarily Unavailable")
	}
}

// endMissed ends a still-ringing inbound call as missed. A non-zero code is sent
// as the final response to the INVITE.
func (u *UA) endMissed(c *call, code int, reason string) {
	u.mu.Lock()
	if c.ended || c.dlg != nil {
		u.mu.Unlock()
		return
	}
	var res *sip.Response
	if code != 0 {
		res = u.inviteResponse(c, code, reason, nil)
	}
	u.mu.Unlock()

	if res != nil {
		if err := c.serverTx.Respond(res); err != nil {
			u.logger.Error("failed to end unanswered call", "call_id", c.id, "error", err)
		}
	}
	u.finish(c, engine.CallEnd, engine.StatusMissed, reason)
}

// handleReInvite answers a mid-call INVITE, tracking remote hold.
func (u *UA) handleReInvite(c *call, req *sip.Request, tx sip.ServerTransaction) {
	remote, err := parseRemoteSDP(req.Body())
	if err != nil {
		u.logger.Warn("rejecting re-invite", "call_id", c.id, "error", err)
		u.respond(req, tx, 488, "Not Acceptable Here")
		return
	}

	u.mu.Lock()
	body, err := c.localSDP(answerDirection(remote.direction))
	if err != nil {
		u.mu.Unlock()
		u.respond(req, tx, 500, "Server Internal Error")
		return
	}
	res := sip.NewResponseFromRequest(req, 200, "OK", body)
	res.AppendHeader(&sip.ContactHeader{Address: u.contactURI(c.acct)})
	ct := sip.ContentTypeHeader("application/sdp")
	res.AppendHeader(&ct)

	wasHeld := c.remote.onHold()
	c.remote = remote
	c.media.setRemote(remote.addr)
	switch {
	case remote.onHold() && !wasHeld:
		u.setState(c, engine.CallPausedByRemote, "")
	case !remote.onHold() && wasHeld:
		u.setState(c, engine.CallUpdatedByRemote, "")
		u.setState(c, engine.CallStreamsRunning, "")
	default:
		u.setState(c, engine.CallUpdatedByRemote, "")
		if c.paused {
			u.setState(c, engine.CallPaused, "")
		} else {
			u.setState(c, engine.CallStreamsRunning, "")
		}
	}
	u.mu.Unlock()

	if err := tx.Respond(res); err != nil {
		u.logger.Error("failed to answer re-invite", "call_id", c.id, "error", err)
	}
}

func (u *UA) handleAck(req *sip.Request, tx sip.ServerTransaction) {
	u.logger.Debug("sip ack received", "call_id", callIDOf(req), "source", req.Source())
}

func (u *UA) handleBye(req *sip.Request, tx sip.ServerTransaction) {
	callID := callIDOf(req)

	u.mu.Lock()
	c, err := u.lookup(callID)
	u.mu.Unlock()
	if err != nil {
		u.respond(req, tx, 481, "Call/Transaction Does Not Exist")
		return
	}

	u.respond(req, tx, 200, "OK")
	u.logger.Info("call ended by remote", "call_id", callID)
	u.finish(c, engine.CallEnd, engine.StatusSuccess, "Call ended by remote")
}

func (u *UA) handleCancel(req *sip.Request, tx sip.ServerTransaction) {
	callID := callIDOf(req)

	u.mu.Lock()
	c, err := u.lookup(callID)
	u.mu.Unlock()
	if err != nil {
		u.respond(req, tx, 481, "Call/Transaction Does Not Exist")
		return
	}

	u.respond(req, tx, 200, "OK")
	u.endMissed(c, 487, "Request Terminated")
}

func (u *UA) handleInfo(req *sip.Request, tx sip.ServerTransaction) {
	callID := callIDOf(req)
	if ct := req.ContentType(); ct != nil {
		if digit, err := parseDTMFInfo(ct.Value(), req.Body()); err == nil {
			u.logger.Info("sip info dtmf received", "call_id", callID, "signal", string(digit))
		}
	}
	u.respond(req, tx, 200, "OK")
}

func (u *UA) handleOptions(req *sip.Request, tx sip.ServerTransaction) {
	res := sip.NewResponseFromRequest(req, 200, "OK", nil)
	res.AppendHeader(sip.NewHeader("Accept", "application/sdp"))
	res.AppendHeader(sip.NewHeader("Allow", allowMethods))
	if err := tx.Respond(res); err != nil {
		u.logger.Error("failed to respond to options", "error", err)
	}
}

func headerValue(req *sip.Request, name string) string {
	if h := req.GetHeader(name); h != nil {
		return h.Value()
	}
	return ""
}
