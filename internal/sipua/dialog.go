package sipua

import (
	"sync"

	"github.com/emiago/sipgo/sip"
)

// dialog holds what is needed to build in-dialog requests (BYE, re-INVITE,
// INFO, REFER) after an INVITE is answered.
type dialog struct {
	mu sync.Mutex

	outbound bool
	// invite is the INVITE that created the dialog, sent or received.
	invite *sip.Request
	// answer is the 2xx response that confirmed it, received or sent.
	answer *sip.Response
	// cseq is the last local CSeq number used in the dialog.
	cseq uint32
}

func newOutboundDialog(invite *sip.Request, answer *sip.Response) *dialog {
	d := &dialog{outbound: true, invite: invite, answer: answer}
	if cseq := invite.CSeq(); cseq != nil {
		d.cseq = cseq.SeqNo
	}
	return d
}

func newInboundDialog(invite *sip.Request, answer *sip.Response) *dialog {
	// The remote side owns the INVITE CSeq space; ours starts fresh.
	return &dialog{invite: invite, answer: answer, cseq: 1}
}

// request builds an in-dialog request per RFC 3261 section 12.2.1.1.
func (d *dialog) request(method sip.RequestMethod, localContact sip.Uri) *sip.Request {
	d.mu.Lock()
	defer d.mu.Unlock()

	var recipient sip.Uri
	if d.outbound {
		if contact := d.answer.Contact(); contact != nil {
			recipient = *contact.Address.Clone()
		} else {
			recipient = *d.invite.Recipient.Clone()
		}
	} else {
		if contact := d.invite.Contact(); contact != nil {
			recipient = *contact.Address.Clone()
		} else {
			recipient = *d.invite.From().Address.Clone()
		}
	}

	req := sip.NewRequest(method, recipient)

	if len(d.invite.GetHeaders("Route")) > 0 {
		sip.CopyHeaders("Route", d.invite, req)
	}

	if d.outbound {
		// Our identity is the INVITE From, theirs the 2xx To with its tag.
		if from := d.invite.From(); from != nil {
			req.AppendHeader(sip.HeaderClone(from))
		}
		if to := d.answer.To(); to != nil {
			req.AppendHeader(sip.HeaderClone(to))
		}
	} else {
		// Swapped: our identity is the To we answered with.
		if to := d.answer.To(); to != nil {
			req.AppendHeader(&sip.FromHeader{
				DisplayName: to.DisplayName,
				Address:     to.Address,
				Params:      to.Params.Clone(),
			})
		}
		if from := d.invite.From(); from != nil {
			req.AppendHeader(&sip.ToHeader{
				DisplayName: from.DisplayName,
				Address:     from.Address,
				Params:      from.Params.Clone(),
			})
		}
	}

	if h := d.invite.CallID(); h != nil {
		req.AppendHeader(sip.HeaderClone(h))
	}

	d.cseq++
	req.AppendHeader(&sip.CSeqHeader{SeqNo: d.cseq, MethodName: method})

	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)
	req.AppendHeader(&sip.ContactHeader{Address: localContact})

	req.SetTransport(d.invite.Transport())
	return req
}

// buildACKFor2xx creates the ACK for a 2xx response to an INVITE. The ACK for
// a 2xx is generated by the UAC core, not the transaction layer.
func buildACKFor2xx(inviteReq *sip.Request, inviteResp *sip.Response) *sip.Request {
	recipient := &inviteReq.Recipient
	if contact := inviteResp.Contact(); contact != nil {
		recipient = &contact.Address
	}

	ack := sip.NewRequest(sip.ACK, *recipient.Clone())
	ack.SipVersion = inviteReq.SipVersion

	if len(inviteReq.GetHeaders("Route")) > 0 {
		sip.CopyHeaders("Route", inviteReq, ack)
	}
	if h := inviteReq.From(); h != nil {
		ack.AppendHeader(sip.HeaderClone(h))
	}
	// The To carries the remote tag from the response.
	if h := inviteResp.To(); h != nil {
		ack.AppendHeader(sip.HeaderClone(h))
	}
	if h := inviteReq.CallID(); h != nil {
		ack.AppendHeader(sip.HeaderClone(h))
	}
	if h := inviteReq.CSeq(); h != nil {
		ack.AppendHeader(sip.HeaderClone(h))
	}
	if cseq := ack.CSeq(); cseq != nil {
		cseq.MethodName = sip.ACK
	}

	maxFwd := sip.MaxForwardsHeader(70)
	ack.AppendHeader(&maxFwd)

	if h := inviteReq.Contact(); h != nil {
		ack.AppendHeader(sip.HeaderClone(h))
	}

	ack.SetTransport(inviteReq.Transport())
	ack.SetSource(inviteReq.Source())
	ack.SetDestination(inviteReq.Destination())
	return ack
}

// buildCancel creates a CANCEL for a pending INVITE. It reuses the INVITE's
// top Via so the server matches it to the INVITE transaction.
func buildCancel(inviteReq *sip.Request) *sip.Request {
	cancel := sip.NewRequest(sip.CANCEL, *inviteReq.Recipient.Clone())
	cancel.SipVersion = inviteReq.SipVersion

	if via := inviteReq.Via(); via != nil {
		cancel.AppendHeader(sip.HeaderClone(via))
	}
	if len(inviteReq.GetHeaders("Route")) > 0 {
		sip.CopyHeaders("Route", inviteReq, cancel)
	}
	if h := inviteReq.From(); h != nil {
		cancel.AppendHeader(sip.HeaderClone(h))
	}
	if h := inviteReq.To(); h != nil {
		cancel.AppendHeader(sip.HeaderClone(h))
	}
	if h := inviteReq.CallID(); h != nil {
		cancel.AppendHeader(sip.HeaderClone(h))
	}
	if h := inviteReq.CSeq(); h != nil {
		cancel.AppendHeader(&sip.CSeqHeader{SeqNo: h.SeqNo, MethodName: sip.CANCEL})
	}

	maxFwd := sip.MaxForwardsHeader(70)
	cancel.AppendHeader(&maxFwd)

	cancel.SetTransport(inviteReq.Transport())
	cancel.SetDestination(inviteReq.Destination())
	return cancel
}
