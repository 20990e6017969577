package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tiensd92/voip-linphone-sdk/internal/api/middleware"
	"github.com/tiensd92/voip-linphone-sdk/internal/engine/enginetest"
	"github.com/tiensd92/voip-linphone-sdk/internal/voip"
)

const testSecret = "api-test-secret"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testServer struct {
	srv    *Server
	svc    *voip.Service
	eng    *enginetest.Engine
	callUI *CallUIStream
}

func newTestServer(t *testing.T, secret string) *testServer {
	t.Helper()
	eng := enginetest.New()
	callUI := NewCallUIStream(discardLogger())
	svc := voip.New(voip.Options{
		Engine:   eng,
		CallUI:   callUI,
		Logger:   discardLogger(),
		Debounce: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		svc.Run(ctx)
	}()

	srv := NewServer(Options{
		Service:   svc,
		CallUI:    callUI,
		Metrics:   http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { io.WriteString(w, "metrics") }),
		JWTSecret: secret,
		RateLimit: 1000,
		Logger:    discardLogger(),
	})
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})
	return &testServer{srv: srv, svc: svc, eng: eng, callUI: callUI}
}

func (ts *testServer) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.srv.ServeHTTP(w, r)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
	}
	return w, env
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, testSecret)

	w, env := ts.do(t, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	data, ok := env.Data.(map[string]any)
	if !ok || data["status"] != "ok" {
		t.Errorf("expected status ok, got %v", env.Data)
	}
}

func TestMetricsMounted(t *testing.T) {
	ts := newTestServer(t, testSecret)

	w, _ := ts.do(t, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if w.Body.String() != "metrics" {
		t.Errorf("expected metrics body, got %q", w.Body.String())
	}
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t, testSecret)

	w, _ := ts.do(t, http.MethodGet, "/api/v1/status", "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", w.Code)
	}

	token, _, err := middleware.GenerateClientToken([]byte(testSecret), "host-app", time.Hour)
	if err != nil {
		t.Fatalf("generating token: %v", err)
	}
	r := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	ts.srv.ServeHTTP(rec, r)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 with token, got %d", rec.Code)
	}
}

func TestStatus(t *testing.T) {
	ts := newTestServer(t, "")

	w, env := ts.do(t, http.MethodGet, "/api/v1/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	data, ok := env.Data.(map[string]any)
	if !ok {
		t.Fatalf("expected data to be map, got %T", env.Data)
	}
	if data["registration"] != "Registration.None" {
		t.Errorf("expected registration Registration.None, got %v", data["registration"])
	}
	if data["arbitration"] != "Idle" {
		t.Errorf("expected arbitration Idle, got %v", data["arbitration"])
	}
	if data["sessionActive"] != false {
		t.Errorf("expected no active session, got %v", data["sessionActive"])
	}
}

func TestUnknownCommand(t *testing.T) {
	ts := newTestServer(t, "")

	w, env := ts.do(t, http.MethodPost, "/api/v1/commands/selfDestruct", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", w.Code)
	}
	if env.Error != "unknown command selfDestruct" {
		t.Errorf("unexpected error %q", env.Error)
	}
}

func TestCommandBadBody(t *testing.T) {
	ts := newTestServer(t, "")

	w, env := ts.do(t, http.MethodPost, "/api/v1/commands/call", `{"recipient":"1001","bogus":1}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
	if !strings.HasPrefix(env.Error, "unknown field") {
		t.Errorf("expected unknown field error, got %q", env.Error)
	}
}

func TestHangupWithoutCall(t *testing.T) {
	ts := newTestServer(t, "")

	w, env := ts.do(t, http.MethodPost, "/api/v1/commands/hangup", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if env.Data != false {
		t.Errorf("expected data false, got %v", env.Data)
	}
}

func TestCallWithoutAccount(t *testing.T) {
	ts := newTestServer(t, "")

	w, env := ts.do(t, http.MethodPost, "/api/v1/commands/call", `{"recipient":"1001"}`)
	if w.Code != http.StatusPreconditionFailed {
		t.Fatalf("expected status 412, got %d", w.Code)
	}
	if env.Code != string(voip.CodeNoAccount) {
		t.Errorf("expected code NoAccount, got %q", env.Code)
	}
}

func TestInitModuleCommand(t *testing.T) {
	ts := newTestServer(t, "")

	w, env := ts.do(t, http.MethodPost, "/api/v1/commands/initModule",
		`{"extension":"1000","password":"pw","domain":"pbx.example.com","transportType":"udp"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, env.Error)
	}
	if env.Data != true {
		t.Errorf("expected data true, got %v", env.Data)
	}
	if !ts.eng.HasOp("CreateAccount 1000@pbx.example.com") {
		t.Error("expected engine account to be created")
	}

	w, env = ts.do(t, http.MethodPost, "/api/v1/commands/initModule", `{"extension":"1000"}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422 without domain, got %d", w.Code)
	}
	if env.Code != string(voip.CodeInvalidAddress) {
		t.Errorf("expected code InvalidAddress, got %q", env.Code)
	}
}

func TestCallLogCommandWithoutBody(t *testing.T) {
	ts := newTestServer(t, "")

	w, env := ts.do(t, http.MethodPost, "/api/v1/commands/callLog", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, env.Error)
	}
	if items, ok := env.Data.([]any); !ok || len(items) != 0 {
		t.Errorf("expected empty call log, got %v", env.Data)
	}
}

func TestPushRejectsNonCallPayload(t *testing.T) {
	ts := newTestServer(t, "")

	w, _ := ts.do(t, http.MethodPost, "/api/v1/push", `{"aps":{"alert":{}}}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", w.Code)
	}

	w, _ = ts.do(t, http.MethodPost, "/api/v1/push", `{not json`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}

	w, _ = ts.do(t, http.MethodPost, "/api/v1/push", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for empty body, got %d", w.Code)
	}
}

func TestEventStreamDeliversPush(t *testing.T) {
	ts := newTestServer(t, "")
	httpSrv := httptest.NewServer(ts.srv)
	defer httpSrv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, httpSrv.URL+"/api/v1/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("opening event stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected event-stream content type, got %q", ct)
	}

	lines := bufio.NewScanner(resp.Body)
	if !lines.Scan() || lines.Text() != ": connected" {
		t.Fatalf("expected connected comment, got %q", lines.Text())
	}

	push := `{"aps":{"alert":{"incoming_caller_id":"2002","incoming_caller_name":"Alice","uuid":"u-1"}}}`
	pr, err := http.Post(httpSrv.URL+"/api/v1/push", "application/json", strings.NewReader(push))
	if err != nil {
		t.Fatalf("posting push: %v", err)
	}
	pr.Body.Close()
	if pr.StatusCode != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d", pr.StatusCode)
	}

	for lines.Scan() {
		if lines.Text() != "event: Sip.PushReceive" {
			continue
		}
		if !lines.Scan() {
			break
		}
		data := strings.TrimPrefix(lines.Text(), "data: ")
		var ev struct {
			Event string         `json:"event"`
			Body  map[string]any `json:"body"`
		}
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			t.Fatalf("decoding event data %q: %v", data, err)
		}
		if ev.Body["callerName"] != "Alice" || ev.Body["uuid"] != "u-1" {
			t.Errorf("unexpected push body %v", ev.Body)
		}
		return
	}
	t.Fatalf("event stream ended without push event: %v", lines.Err())
}

func TestCallUIStreamWithoutClients(t *testing.T) {
	ui := NewCallUIStream(discardLogger())

	err := ui.ReportIncoming(voip.IncomingCall{UUID: "u-1", Handle: "2002"})
	if !errors.Is(err, ErrNoCallUI) {
		t.Fatalf("expected ErrNoCallUI, got %v", err)
	}
	// Ending an unpresented call is a no-op.
	ui.ReportEnded("u-1", voip.EndUnanswered)
}

func TestCallUIStreamBroadcast(t *testing.T) {
	ui := NewCallUIStream(discardLogger())
	first, unsubFirst := ui.subscribe()
	second, unsubSecond := ui.subscribe()
	defer unsubSecond()

	if ui.Clients() != 2 {
		t.Fatalf("expected 2 clients, got %d", ui.Clients())
	}
	if err := ui.ReportIncoming(voip.IncomingCall{UUID: "u-1", Handle: "2002", DisplayName: "Alice"}); err != nil {
		t.Fatalf("ReportIncoming: %v", err)
	}
	for i, ch := range []<-chan CallUIRequest{first, second} {
		req := <-ch
		if req.Type != "incoming" || req.UUID != "u-1" || req.DisplayName != "Alice" {
			t.Errorf("client %d got %+v", i, req)
		}
	}

	unsubFirst()
	ui.ReportEnded("u-1", voip.EndRemoteEnded)
	req := <-second
	if req.Type != "ended" || req.Reason != voip.EndRemoteEnded {
		t.Errorf("unexpected end request %+v", req)
	}
	if ui.Clients() != 1 {
		t.Errorf("expected 1 client after unsubscribe, got %d", ui.Clients())
	}
}

func TestCallUIAnswerWithoutAttempt(t *testing.T) {
	ts := newTestServer(t, "")

	w, env := ts.do(t, http.MethodPost, "/api/v1/callui/answer", `{"uuid":"nope"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, env.Error)
	}
	if env.Data != false {
		t.Errorf("expected data false, got %v", env.Data)
	}

	w, _ = ts.do(t, http.MethodPost, "/api/v1/callui/audio-session", `{"active":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200 for audio session, got %d", w.Code)
	}
}
