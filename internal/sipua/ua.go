// Package sipua implements the telephony engine on top of the sipgo SIP
// stack: account registration, call signaling, hold, DTMF, transfer and
// received-audio recording.
package sipua

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"

	"github.com/tiensd92/voip-linphone-sdk/internal/calllog"
	"github.com/tiensd92/voip-linphone-sdk/internal/engine"
)

var (
	errNotStarted = errors.New("sipua: user agent not started")
	errNoCall     = errors.New("sipua: no such call")
	errNoAccount  = errors.New("sipua: no such account")
)

const (
	defaultListenPort = 5070
	defaultUserAgent  = "voipbridge"
	storeTimeout      = 5 * time.Second
)

// Options configures a UA.
type Options struct {
	// ListenPort is the local SIP port for UDP and TCP.
	ListenPort int
	UserAgent  string
	// RecordingsDir receives recordings for calls without an explicit file.
	RecordingsDir string
	// CallLog persists finished calls. When nil, history is kept in memory
	// for the missed-call counter only.
	CallLog calllog.Store
	Logger  *slog.Logger
}

// UA is a SIP user agent implementing engine.Engine. Methods are safe for
// concurrent use. Notifications are delivered to listeners from a single
// goroutine in emission order.
type UA struct {
	opts   Options
	logger *slog.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	ua     *sipgo.UserAgent
	srv    *sipgo.Server
	client *sipgo.Client

	listeners []engine.Listener
	pending   []engine.Notification
	ready     chan struct{}

	accounts  map[string]*account
	defaultID string
	nextID    int
	keepAlive bool

	calls map[string]*call
	order []string

	mic          bool
	audioSession bool
	devices      []engine.AudioDevice
	missed       int
	// rtpClosed counts packets received by streams of released calls.
	rtpClosed uint64
}

var _ engine.Engine = (*UA)(nil)

// New returns a UA. Start must be called before accounts or calls are used.
func New(opts Options) *UA {
	if opts.ListenPort == 0 {
		opts.ListenPort = defaultListenPort
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &UA{
		opts:     opts,
		logger:   opts.Logger.With("subsystem", "sipua"),
		ready:    make(chan struct{}, 1),
		accounts: make(map[string]*account),
		calls:    make(map[string]*call),
		mic:      true,
		devices: []engine.AudioDevice{
			{ID: "microphone", Name: "Built-in Microphone", Kind: engine.DeviceMicrophone},
			{ID: "earpiece", Name: "Earpiece", Kind: engine.DeviceEarpiece},
			{ID: "speaker", Name: "Speaker", Kind: engine.DeviceSpeaker},
		},
	}
}

// Start creates the SIP stack and begins listening. The stack lives until
// Stop; ctx only bounds startup.
func (u *UA) Start(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.ctx != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ua, err := sipgo.NewUA(sipgo.WithUserAgent(u.opts.UserAgent))
	if err != nil {
		return fmt.Errorf("creating sip user agent: %w", err)
	}
	srv, err := sipgo.NewServer(ua, sipgo.WithServerLogger(u.logger))
	if err != nil {
		ua.Close()
		return fmt.Errorf("creating sip server: %w", err)
	}
	client, err := sipgo.NewClient(ua, sipgo.WithClientLogger(u.logger))
	if err != nil {
		srv.Close()
		ua.Close()
		return fmt.Errorf("creating sip client: %w", err)
	}

	srv.OnInvite(u.handleInvite)
	srv.OnAck(u.handleAck)
	srv.OnBye(u.handleBye)
	srv.OnCancel(u.handleCancel)
	srv.OnInfo(u.handleInfo)
	srv.OnOptions(u.handleOptions)

	// The stack outlives the request that started it.
	runCtx, cancel := context.WithCancel(context.Background())
	u.ctx, u.cancel = runCtx, cancel
	u.ua, u.srv, u.client = ua, srv, client

	addr := net.JoinHostPort("0.0.0.0", strconv.Itoa(u.opts.ListenPort))
	for _, network := range []string{"udp", "tcp"} {
		network := network
		u.wg.Add(1)
		go func() {
			defer u.wg.Done()
			u.logger.Info("sip listener starting", "network", network, "addr", addr)
			if err := srv.ListenAndServe(runCtx, network, addr); err != nil && runCtx.Err() == nil {
				u.logger.Error("sip listener stopped", "network", network, "error", err)
			}
		}()
	}

	u.wg.Add(2)
	go func() {
		defer u.wg.Done()
		u.notifyLoop(runCtx)
	}()
	go func() {
		defer u.wg.Done()
		u.keepAliveLoop(runCtx)
	}()

	u.logger.Info("sip user agent started", "port", u.opts.ListenPort, "user_agent", u.opts.UserAgent)
	return nil
}

// Stop ends all calls, unregisters every account and shuts the stack down.
func (u *UA) Stop() error {
	u.mu.Lock()
	if u.ctx == nil {
		u.mu.Unlock()
		return nil
	}
	calls := make([]*call, 0, len(u.calls))
	for _, id := range u.order {
		calls = append(calls, u.calls[id])
	}
	accounts := make([]*account, 0, len(u.accounts))
	for _, a := range u.accounts {
		accounts = append(accounts, a)
	}
	u.mu.Unlock()

	for _, c := range calls {
		if err := u.Terminate(c.id); err != nil {
			u.logger.Warn("failed to terminate call on stop", "call_id", c.id, "error", err)
		}
	}
	for _, a := range accounts {
		u.stopRegistration(a)
	}

	u.mu.Lock()
	cancel, srv, client, ua := u.cancel, u.srv, u.client, u.ua
	u.mu.Unlock()

	cancel()
	u.wg.Wait()
	u.flush()
	client.Close()
	srv.Close()
	ua.Close()

	u.mu.Lock()
	u.ctx, u.cancel = nil, nil
	u.ua, u.srv, u.client = nil, nil, nil
	u.mu.Unlock()

	u.logger.Info("sip user agent stopped")
	return nil
}

func (u *UA) sipClient() *sipgo.Client {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.client
}

// AddListener registers l for notifications.
func (u *UA) AddListener(l engine.Listener) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.listeners = append(u.listeners, l)
}

// RemoveListener unregisters l.
func (u *UA) RemoveListener(l engine.Listener) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for i, existing := range u.listeners {
		if existing == l {
			u.listeners = append(u.listeners[:i], u.listeners[i+1:]...)
			return
		}
	}
}

// emit queues n for delivery. Called with u.mu held, so the queue order is
// the order in which state changed.
func (u *UA) emit(n engine.Notification) {
	u.pending = append(u.pending, n)
	select {
	case u.ready <- struct{}{}:
	default:
	}
}

// notifyLoop delivers queued notifications outside the lock. On shutdown it
// flushes what is already queued.
func (u *UA) notifyLoop(ctx context.Context) {
	for {
		select {
		case <-u.ready:
			u.flush()
		case <-ctx.Done():
			u.flush()
			return
		}
	}
}

func (u *UA) flush() {
	for {
		u.mu.Lock()
		batch := u.pending
		u.pending = nil
		listeners := append([]engine.Listener(nil), u.listeners...)
		u.mu.Unlock()

		if len(batch) == 0 {
			return
		}
		for _, n := range batch {
			for _, l := range listeners {
				l.OnNotification(n)
			}
		}
	}
}

// CreateAccount adds a registering account and starts its register loop.
func (u *UA) CreateAccount(p engine.AccountParams) (engine.Account, error) {
	if p.Username == "" || p.Domain == "" {
		return engine.Account{}, errors.New("sipua: username and domain are required")
	}
	if p.Port == 0 {
		p.Port = 5060
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if u.ctx == nil {
		return engine.Account{}, errNotStarted
	}

	u.nextID++
	acct := &account{
		Account: engine.Account{
			ID:              "acct-" + strconv.Itoa(u.nextID),
			Username:        p.Username,
			Domain:          p.Domain,
			Port:            p.Port,
			Transport:       p.Transport,
			RegisterEnabled: true,
			State:           engine.RegistrationNone,
		},
		password: p.Password,
	}
	u.accounts[acct.ID] = acct
	u.startRegistration(acct)

	u.logger.Info("account created", "account", acct.aor(), "id", acct.ID)
	return acct.Account, nil
}

// SetDefaultAccount selects the account used for outgoing calls.
func (u *UA) SetDefaultAccount(id string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.accounts[id]; !ok {
		return errNoAccount
	}
	u.defaultID = id
	return nil
}

// DefaultAccount returns the account used for outgoing calls.
func (u *UA) DefaultAccount() (engine.Account, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	acct, ok := u.accounts[u.defaultID]
	if !ok {
		return engine.Account{}, false
	}
	return acct.Account, true
}

// DisableRegistration unregisters the account and keeps it configured.
func (u *UA) DisableRegistration(id string) error {
	u.mu.Lock()
	acct, ok := u.accounts[id]
	if ok {
		acct.RegisterEnabled = false
	}
	u.mu.Unlock()
	if !ok {
		return errNoAccount
	}
	u.stopRegistration(acct)
	return nil
}

// RemoveAccount unregisters and forgets the account.
func (u *UA) RemoveAccount(id string) error {
	u.mu.Lock()
	acct, ok := u.accounts[id]
	u.mu.Unlock()
	if !ok {
		return errNoAccount
	}

	u.stopRegistration(acct)

	u.mu.Lock()
	delete(u.accounts, id)
	if u.defaultID == id {
		u.defaultID = ""
	}
	u.mu.Unlock()
	return nil
}

// ClearAccounts removes every account.
func (u *UA) ClearAccounts() {
	u.mu.Lock()
	ids := make([]string, 0, len(u.accounts))
	for id := range u.accounts {
		ids = append(ids, id)
	}
	u.mu.Unlock()

	for _, id := range ids {
		if err := u.RemoveAccount(id); err != nil {
			u.logger.Warn("failed to remove account", "id", id, "error", err)
		}
	}
}

// ClearAuthInfo forgets every stored password.
func (u *UA) ClearAuthInfo() {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, a := range u.accounts {
		a.password = ""
	}
}

// RefreshRegisters re-registers every enabled account now.
func (u *UA) RefreshRegisters() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.ctx == nil {
		return errNotStarted
	}
	for _, a := range u.accounts {
		if !a.RegisterEnabled {
			continue
		}
		if a.cancel == nil {
			u.startRegistration(a)
			continue
		}
		select {
		case a.refresh <- struct{}{}:
		default:
		}
	}
	return nil
}

// SetKeepAlive toggles the OPTIONS keep-alive towards the registrar.
func (u *UA) SetKeepAlive(enabled bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.keepAlive = enabled
}

func (u *UA) setRegistration(acct *account, state engine.RegistrationState, msg string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	acct.State = state
	u.emit(engine.RegistrationStateChanged{AccountID: acct.ID, State: state, Message: msg})
}

// contactURI is the address the registrar and peers reach us on.
func (u *UA) contactURI(acct *account) sip.Uri {
	uri := sip.Uri{
		Scheme: "sip",
		User:   acct.Username,
		Host:   localIPFor(net.JoinHostPort(acct.Domain, strconv.Itoa(acct.Port))),
		Port:   u.opts.ListenPort,
	}
	if acct.Transport != engine.TransportUDP {
		uri.UriParams = sip.NewParams()
		uri.UriParams.Add("transport", acct.Transport.Network())
	}
	return uri
}

// localIPFor returns the local address the kernel would use to reach target.
// No packets are sent.
func localIPFor(target string) string {
	conn, err := net.Dial("udp", target)
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}
