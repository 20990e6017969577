package sipua

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/icholy/digest"

	"github.com/tiensd92/voip-linphone-sdk/internal/engine"
)

const (
	registerExpiry = 600

	// keepAliveInterval is how often the registrar is pinged with OPTIONS
	// while keep-alive is enabled.
	keepAliveInterval = 30 * time.Second
	keepAliveTimeout  = 5 * time.Second

	unregisterTimeout = 5 * time.Second
)

// account is the runtime state of one configured SIP identity.
type account struct {
	engine.Account
	password string

	cancel  context.CancelFunc
	refresh chan struct{}
	done    chan struct{}
}

func (a *account) registrarURI() string {
	return fmt.Sprintf("sip:%s:%d", a.Domain, a.Port)
}

func (a *account) aor() string {
	return fmt.Sprintf("sip:%s@%s", a.Username, a.Domain)
}

// startRegistration launches the register loop for acct. The loop lives
// until stopRegistration and ignores the lifetime of the calling request.
// Called with u.mu held.
func (u *UA) startRegistration(acct *account) {
	if acct.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(u.ctx)
	acct.cancel = cancel
	acct.refresh = make(chan struct{}, 1)
	acct.done = make(chan struct{})
	go u.registrationLoop(ctx, acct)
}

// stopRegistration stops the loop and sends a best-effort unregister if the
// account was registered. Called without u.mu held.
func (u *UA) stopRegistration(acct *account) {
	u.mu.Lock()
	cancel, done := acct.cancel, acct.done
	acct.cancel = nil
	wasRegistered := acct.State == engine.RegistrationOk || acct.State == engine.RegistrationRefreshing
	u.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	if wasRegistered {
		ctx, cancel := context.WithTimeout(context.Background(), unregisterTimeout)
		defer cancel()
		if _, err := u.sendRegister(ctx, acct, 0); err != nil {
			u.logger.Warn("failed to unregister account", "account", acct.aor(), "error", err)
		}
	}
	u.setRegistration(acct, engine.RegistrationCleared, "unregistered")
}

// registrationLoop registers, then re-registers at 80% of the granted
// expiry. Failures retry with exponential backoff.
func (u *UA) registrationLoop(ctx context.Context, acct *account) {
	defer close(acct.done)

	u.logger.Info("starting account registration",
		"account", acct.aor(),
		"transport", acct.Transport.Network(),
		"expiry", registerExpiry,
	)

	backoff := newBackoff()
	state := engine.RegistrationProgress

	for {
		u.setRegistration(acct, state, "")

		granted, err := u.sendRegister(ctx, acct, registerExpiry)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			retry := backoff.next()
			u.logger.Error("account registration failed",
				"account", acct.aor(),
				"error", err,
				"attempt", backoff.attempt,
				"retry_in", retry.String(),
			)
			u.setRegistration(acct, engine.RegistrationFailed, err.Error())
			state = engine.RegistrationProgress

			select {
			case <-ctx.Done():
				return
			case <-acct.refresh:
			case <-time.After(retry):
			}
			continue
		}

		backoff.reset()
		u.logger.Info("account registered", "account", acct.aor(), "expires_in", granted)
		u.setRegistration(acct, engine.RegistrationOk, "Registration successful")

		refreshIn := time.Duration(float64(granted)*0.8) * time.Second
		select {
		case <-ctx.Done():
			return
		case <-acct.refresh:
		case <-time.After(refreshIn):
		}
		state = engine.RegistrationRefreshing
	}
}

// sendRegister sends REGISTER, answering a digest challenge if needed, and
// returns the expiry granted by the registrar.
func (u *UA) sendRegister(ctx context.Context, acct *account, expiry int) (int, error) {
	recipientStr := acct.registrarURI()
	var recipient sip.Uri
	if err := sip.ParseUri(recipientStr, &recipient); err != nil {
		return 0, fmt.Errorf("parsing registrar uri: %w", err)
	}

	req := sip.NewRequest(sip.REGISTER, recipient)
	req.SetTransport(strings.ToUpper(acct.Transport.Network()))

	aor := "<" + acct.aor() + ">"
	req.AppendHeader(sip.NewHeader("From", aor))
	req.AppendHeader(sip.NewHeader("To", aor))
	req.AppendHeader(&sip.ContactHeader{Address: u.contactURI(acct)})
	req.AppendHeader(sip.NewHeader("Expires", strconv.Itoa(expiry)))

	res, err := u.requestWithAuth(ctx, req, recipientStr, acct, sipgo.ClientRequestRegisterBuild)
	if err != nil {
		return 0, err
	}
	if res.StatusCode != 200 {
		return 0, fmt.Errorf("register failed with status %d %s", res.StatusCode, res.Reason)
	}

	// The registrar may shorten the expiry. The Contact parameter wins over
	// the Expires header.
	granted := expiry
	if contact := res.GetHeader("Contact"); contact != nil {
		if parsed := parseContactExpires(contact.Value()); parsed > 0 {
			granted = parsed
		}
	} else if h := res.GetHeader("Expires"); h != nil {
		if parsed := parseExpiresHeader(h.Value()); parsed > 0 {
			granted = parsed
		}
	}
	return granted, nil
}

// requestWithAuth sends a non-INVITE request and waits for its final
// response, retrying once with credentials on 401 or 407.
func (u *UA) requestWithAuth(ctx context.Context, req *sip.Request, uri string, acct *account, build sipgo.ClientRequestOption) (*sip.Response, error) {
	client := u.sipClient()
	if client == nil {
		return nil, errNotStarted
	}

	tx, err := client.TransactionRequest(ctx, req, build)
	if err != nil {
		return nil, fmt.Errorf("sending %s: %w", req.Method, err)
	}
	res, err := finalResponse(ctx, tx)
	tx.Terminate()
	if err != nil {
		return nil, fmt.Errorf("waiting for %s response: %w", req.Method, err)
	}

	if res.StatusCode != 401 && res.StatusCode != 407 {
		return res, nil
	}

	authReq, err := authorize(req, res, uri, acct.Username, acct.password)
	if err != nil {
		return nil, err
	}
	tx, err = client.TransactionRequest(ctx, authReq,
		sipgo.ClientRequestIncreaseCSEQ,
		sipgo.ClientRequestAddVia,
	)
	if err != nil {
		return nil, fmt.Errorf("sending authenticated %s: %w", req.Method, err)
	}
	res, err = finalResponse(ctx, tx)
	tx.Terminate()
	if err != nil {
		return nil, fmt.Errorf("waiting for authenticated %s response: %w", req.Method, err)
	}
	return res, nil
}

// authorize clones req with credentials answering the challenge in res.
func authorize(req *sip.Request, res *sip.Response, uri, username, password string) (*sip.Request, error) {
	authHeader, authzHeader := "WWW-Authenticate", "Authorization"
	if res.StatusCode == 407 {
		authHeader, authzHeader = "Proxy-Authenticate", "Proxy-Authorization"
	}

	h := res.GetHeader(authHeader)
	if h == nil {
		return nil, fmt.Errorf("received %d but no %s header", res.StatusCode, authHeader)
	}
	chal, err := digest.ParseChallenge(h.Value())
	if err != nil {
		return nil, fmt.Errorf("parsing auth challenge: %w", err)
	}
	cred, err := digest.Digest(chal, digest.Options{
		Method:   req.Method.String(),
		URI:      uri,
		Username: username,
		Password: password,
	})
	if err != nil {
		return nil, fmt.Errorf("computing digest: %w", err)
	}

	authReq := req.Clone()
	authReq.RemoveHeader("Via")
	authReq.RemoveHeader(authzHeader)
	authReq.AppendHeader(sip.NewHeader(authzHeader, cred.String()))
	return authReq, nil
}

// keepAliveLoop pings the default account's registrar with OPTIONS.
func (u *UA) keepAliveLoop(ctx context.Context) {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		u.mu.Lock()
		enabled := u.keepAlive
		acct := u.accounts[u.defaultID]
		u.mu.Unlock()
		if !enabled || acct == nil || !acct.RegisterEnabled {
			continue
		}
		if err := u.sendOptions(ctx, acct); err != nil && ctx.Err() == nil {
			u.logger.Warn("keep-alive failed", "account", acct.aor(), "error", err)
		}
	}
}

func (u *UA) sendOptions(ctx context.Context, acct *account) error {
	var recipient sip.Uri
	if err := sip.ParseUri(acct.registrarURI(), &recipient); err != nil {
		return fmt.Errorf("parsing registrar uri: %w", err)
	}
	req := sip.NewRequest(sip.OPTIONS, recipient)
	req.SetTransport(strings.ToUpper(acct.Transport.Network()))

	client := u.sipClient()
	if client == nil {
		return errNotStarted
	}

	pingCtx, cancel := context.WithTimeout(ctx, keepAliveTimeout)
	defer cancel()

	tx, err := client.TransactionRequest(pingCtx, req, sipgo.ClientRequestBuild)
	if err != nil {
		return fmt.Errorf("sending options: %w", err)
	}
	res, err := finalResponse(pingCtx, tx)
	tx.Terminate()
	if err != nil {
		return fmt.Errorf("waiting for options response: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("options ping returned status %d %s", res.StatusCode, res.Reason)
	}
	return nil
}

// finalResponse waits past provisional responses for the final one.
func finalResponse(ctx context.Context, tx sip.ClientTransaction) (*sip.Response, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-tx.Done():
			return nil, fmt.Errorf("transaction terminated: %w", tx.Err())
		case res := <-tx.Responses():
			if res.StatusCode >= 200 {
				return res, nil
			}
		}
	}
}

// parseContactExpires extracts the expires parameter from a Contact value
// such as <sip:user@host>;expires=3600. It returns 0 when absent.
func parseContactExpires(contactValue string) int {
	lower := strings.ToLower(contactValue)
	idx := strings.Index(lower, ";expires=")
	if idx < 0 {
		return 0
	}
	rest := contactValue[idx+len(";expires="):]
	if end := strings.IndexAny(rest, ";,> \t"); end > 0 {
		rest = rest[:end]
	}
	val, err := strconv.Atoi(strings.TrimSpace(rest))
	if err != nil {
		return 0
	}
	return val
}

// parseExpiresHeader parses an Expires value in seconds, or returns 0.
func parseExpiresHeader(value string) int {
	val, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return val
}

// backoff is exponential with ~20% jitter.
type backoff struct {
	attempt   int
	baseDelay time.Duration
	maxDelay  time.Duration
}

func newBackoff() *backoff {
	return &backoff{
		baseDelay: 5 * time.Second,
		maxDelay:  5 * time.Minute,
	}
}

func (b *backoff) next() time.Duration {
	d := b.current()
	b.attempt++
	return d
}

func (b *backoff) current() time.Duration {
	d := b.baseDelay
	for i := 0; i < b.attempt; i++ {
		d *= 2
		if d > b.maxDelay {
			d = b.maxDelay
			break
		}
	}
	jitter := float64(d) * 0.2 * (2*rand.Float64() - 1)
	d += time.Duration(jitter)
	if d < 0 {
		d = b.baseDelay
	}
	return d
}

func (b *backoff) reset() {
	b.attempt = 0
}
