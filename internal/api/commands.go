package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tiensd92/voip-linphone-sdk/internal/engine"
	"github.com/tiensd92/voip-linphone-sdk/internal/voip"
)

// commandTimeout bounds how long a command waits for the worker.
const commandTimeout = 10 * time.Second

// command runs one bridge command. args allocates the argument struct the
// request body is decoded into; it is nil for commands without arguments.
type command struct {
	args func() any
	run  func(ctx context.Context, s *voip.Service, args any) (any, error)
}

type initModuleArgs struct {
	Extension     string `json:"extension"`
	Password      string `json:"password"`
	Domain        string `json:"domain"`
	Port          int    `json:"port"`
	TransportType string `json:"transportType"`
	KeepAlive     bool   `json:"keepAlive"`
}

type callArgs struct {
	Recipient   string `json:"recipient"`
	IsRecording bool   `json:"isRecording"`
}

type transferArgs struct {
	Extension string `json:"extension"`
}

type sendTonesArgs struct {
	Digits string `json:"digits"`
}

type switchAudioRouteArgs struct {
	Kind string `json:"kind"`
}

type pushTokenArgs struct {
	Token    string `json:"token"`
	Platform string `json:"platform"`
}

type callLogArgs struct {
	Limit int `json:"limit"`
}

// callLogView is the wire form of a call log entry.
type callLogView struct {
	CallID        string    `json:"callId"`
	UUID          string    `json:"uuid,omitempty"`
	CallType      string    `json:"callType"`
	Status        string    `json:"status"`
	RemoteUser    string    `json:"remoteUser"`
	RemoteAddress string    `json:"remoteAddress"`
	StartedAt     time.Time `json:"startedAt"`
	DurationMs    int64     `json:"duration"`
	RecordFile    string    `json:"recordFile,omitempty"`
}

func newCallLogView(l engine.CallLog) callLogView {
	return callLogView{
		CallID:        l.CallID,
		UUID:          l.CorrelationID,
		CallType:      l.Dir.String(),
		Status:        l.Status.String(),
		RemoteUser:    l.RemoteUser,
		RemoteAddress: l.RemoteAddress,
		StartedAt:     l.StartedAt,
		DurationMs:    l.Duration.Milliseconds(),
		RecordFile:    l.RecordFile,
	}
}

// noArgs adapts a Service method without arguments.
func noArgs[T any](fn func(*voip.Service, context.Context) (T, error)) command {
	return command{run: func(ctx context.Context, s *voip.Service, _ any) (any, error) {
		return fn(s, ctx)
	}}
}

// withArgs adapts a Service method taking decoded arguments of type A.
func withArgs[A any, T any](fn func(*voip.Service, context.Context, *A) (T, error)) command {
	return command{
		args: func() any { return new(A) },
		run: func(ctx context.Context, s *voip.Service, args any) (any, error) {
			return fn(s, ctx, args.(*A))
		},
	}
}

// commands is the host command vocabulary.
var commands = map[string]command{
	"initModule": withArgs(func(s *voip.Service, ctx context.Context, a *initModuleArgs) (bool, error) {
		return s.InitModule(ctx, voip.InitParams{
			Extension:     a.Extension,
			Password:      a.Password,
			Domain:        a.Domain,
			Port:          a.Port,
			TransportType: a.TransportType,
			KeepAlive:     a.KeepAlive,
		})
	}),
	"call": withArgs(func(s *voip.Service, ctx context.Context, a *callArgs) (bool, error) {
		return s.Call(ctx, a.Recipient, a.IsRecording)
	}),
	"hangup": noArgs((*voip.Service).Hangup),
	"answer": noArgs((*voip.Service).Answer),
	"reject": noArgs((*voip.Service).Reject),
	"pause":  noArgs((*voip.Service).Pause),
	"resume": noArgs((*voip.Service).Resume),
	"transfer": withArgs(func(s *voip.Service, ctx context.Context, a *transferArgs) (bool, error) {
		return s.Transfer(ctx, a.Extension)
	}),
	"sendTones": withArgs(func(s *voip.Service, ctx context.Context, a *sendTonesArgs) (bool, error) {
		return s.SendTones(ctx, a.Digits)
	}),
	"switchAudioRoute": withArgs(func(s *voip.Service, ctx context.Context, a *switchAudioRouteArgs) (bool, error) {
		return s.SwitchAudioRoute(ctx, a.Kind)
	}),
	"toggleMute":          noArgs((*voip.Service).ToggleMute),
	"refreshRegistration": noArgs((*voip.Service).RefreshRegistration),
	"unregister":          noArgs((*voip.Service).Unregister),
	"pushToken": withArgs(func(s *voip.Service, ctx context.Context, a *pushTokenArgs) (bool, error) {
		return s.PushTokenUpdated(ctx, a.Token, a.Platform)
	}),

	"callId":               noArgs((*voip.Service).CallID),
	"missedCallCount":      noArgs((*voip.Service).MissedCallCount),
	"resetMissedCallCount": noArgs((*voip.Service).ResetMissedCallCount),
	"registrationState": noArgs(func(s *voip.Service, _ context.Context) (string, error) {
		return s.RegistrationState(), nil
	}),
	"micEnabled":         noArgs((*voip.Service).MicEnabled),
	"speakerEnabled":     noArgs((*voip.Service).SpeakerEnabled),
	"listAudioDevices":   noArgs((*voip.Service).AudioDevices),
	"currentAudioDevice": noArgs((*voip.Service).CurrentAudioDevice),
	"callLog": withArgs(func(s *voip.Service, ctx context.Context, a *callLogArgs) ([]callLogView, error) {
		logs, err := s.CallLog(ctx, a.Limit)
		if err != nil {
			return nil, err
		}
		views := make([]callLogView, 0, len(logs))
		for _, l := range logs {
			views = append(views, newCallLogView(l))
		}
		return views, nil
	}),
}

// handleCommand runs POST /api/v1/commands/{name}.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	cmd, ok := commands[name]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown command "+name)
		return
	}

	var args any
	if cmd.args != nil {
		args = cmd.args()
		if msg := readOptionalJSON(r, args); msg != "" {
			writeError(w, http.StatusBadRequest, msg)
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()

	result, err := cmd.run(ctx, s.svc, args)
	if err != nil {
		s.logger.Warn("command failed", "command", name, "code", voip.CodeOf(err), "error", err)
		writeCommandError(w, err)
		return
	}
	s.logger.Debug("command completed", "command", name)
	writeJSON(w, http.StatusOK, result)
}
