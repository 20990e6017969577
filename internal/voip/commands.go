package voip

import (
	"context"
	"errors"

	"github.com/tiensd92/voip-linphone-sdk/internal/engine"
)

// The methods in this file are the host-facing command surface. Each one
// runs on the worker; an expected NoActiveCall outcome is reported as false
// rather than an error.

// benign maps a dispatcher result to the boolean command contract.
func benign(err error) (bool, error) {
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrNoActiveCall) {
		return false, nil
	}
	return false, err
}

func (s *Service) run(ctx context.Context, fn func() error) (bool, error) {
	return submit(ctx, s, func() (bool, error) { return benign(fn()) })
}

// InitModule configures the account and starts the engine.
func (s *Service) InitModule(ctx context.Context, p InitParams) (bool, error) {
	return s.run(ctx, func() error { return s.dispatcher.InitModule(ctx, p) })
}

// Call places an outbound call to recipient in the account domain.
func (s *Service) Call(ctx context.Context, recipient string, record bool) (bool, error) {
	return s.run(ctx, func() error { return s.dispatcher.PlaceCall(recipient, record) })
}

// Hangup ends the current call.
func (s *Service) Hangup(ctx context.Context) (bool, error) {
	return s.run(ctx, s.dispatcher.Hangup)
}

// Answer accepts the current call.
func (s *Service) Answer(ctx context.Context) (bool, error) {
	return s.run(ctx, s.dispatcher.Answer)
}

// Reject declines the current call.
func (s *Service) Reject(ctx context.Context) (bool, error) {
	return s.run(ctx, s.dispatcher.Reject)
}

// Pause holds the current call.
func (s *Service) Pause(ctx context.Context) (bool, error) {
	return s.run(ctx, s.dispatcher.Pause)
}

// Resume resumes a held call.
func (s *Service) Resume(ctx context.Context) (bool, error) {
	return s.run(ctx, s.dispatcher.Resume)
}

// Transfer blind-transfers the current call.
func (s *Service) Transfer(ctx context.Context, extension string) (bool, error) {
	return s.run(ctx, func() error { return s.dispatcher.Transfer(extension) })
}

// SendTones sends the first digit as DTMF.
func (s *Service) SendTones(ctx context.Context, digits string) (bool, error) {
	return s.run(ctx, func() error { return s.dispatcher.SendTones(digits) })
}

// SwitchAudioRoute switches the output device to the given kind.
func (s *Service) SwitchAudioRoute(ctx context.Context, kind string) (bool, error) {
	return s.run(ctx, func() error { return s.dispatcher.SwitchAudioRoute(kind) })
}

// ToggleMute flips the microphone and returns whether it is now enabled.
func (s *Service) ToggleMute(ctx context.Context) (bool, error) {
	return submit(ctx, s, func() (bool, error) {
		enabled, err := s.dispatcher.ToggleMute()
		if errors.Is(err, ErrNoActiveCall) {
			return false, nil
		}
		return enabled, err
	})
}

// RefreshRegistration re-registers the account. It never fails.
func (s *Service) RefreshRegistration(ctx context.Context) (bool, error) {
	return s.run(ctx, func() error {
		s.dispatcher.RefreshRegistration()
		return nil
	})
}

// Unregister removes the account; false when there was none.
func (s *Service) Unregister(ctx context.Context) (bool, error) {
	return submit(ctx, s, s.dispatcher.Unregister)
}

// CallID returns the engine id of the current call.
func (s *Service) CallID(ctx context.Context) (string, error) {
	return submit(ctx, s, func() (string, error) { return s.dispatcher.CallID(), nil })
}

// MissedCallCount reads the engine's missed-call counter.
func (s *Service) MissedCallCount(ctx context.Context) (int, error) {
	return submit(ctx, s, func() (int, error) { return s.tracker.MissedCallsTotal(), nil })
}

// ResetMissedCallCount zeroes the engine's missed-call counter.
func (s *Service) ResetMissedCallCount(ctx context.Context) (bool, error) {
	return s.run(ctx, func() error {
		if err := s.eng.ResetMissedCallsCount(); err != nil {
			return engineRejected(err)
		}
		return nil
	})
}

// MicEnabled reports whether the microphone is enabled.
func (s *Service) MicEnabled(ctx context.Context) (bool, error) {
	return submit(ctx, s, func() (bool, error) { return s.eng.MicEnabled(), nil })
}

// SpeakerEnabled reports whether the current call uses the speaker.
func (s *Service) SpeakerEnabled(ctx context.Context) (bool, error) {
	return submit(ctx, s, func() (bool, error) { return s.dispatcher.SpeakerEnabled(), nil })
}

// AudioDevices lists audio devices by kind.
func (s *Service) AudioDevices(ctx context.Context) (map[string]string, error) {
	return submit(ctx, s, func() (map[string]string, error) { return s.dispatcher.AudioDevices(), nil })
}

// CurrentAudioDevice returns the current output device kind.
func (s *Service) CurrentAudioDevice(ctx context.Context) (string, error) {
	return submit(ctx, s, func() (string, error) { return s.dispatcher.CurrentAudioDevice(), nil })
}

// CallLog returns up to limit recent call log entries, newest first.
func (s *Service) CallLog(ctx context.Context, limit int) ([]engine.CallLog, error) {
	return submit(ctx, s, func() ([]engine.CallLog, error) {
		logs, err := s.eng.CallLogs(limit)
		if err != nil {
			return nil, engineRejected(err)
		}
		return logs, nil
	})
}

// PushReceived feeds a decoded push wake-up into the arbitrator.
func (s *Service) PushReceived(ctx context.Context, p IncomingPush) error {
	_, err := submit(ctx, s, func() (struct{}, error) {
		s.publish(NewEvent(EventPushReceive, map[string]any{
			KeyCallerID:   p.CallerID,
			KeyCallerName: p.CallerName,
			KeyUUID:       p.UUID,
		}))
		s.arbitrator.Signal(Signal{
			Source:        SourcePushWake,
			CorrelationID: p.UUID,
			RemoteAddress: p.CallerID,
			DisplayName:   p.CallerName,
		})
		return struct{}{}, nil
	})
	return err
}

// PushTokenUpdated publishes a new device push token and registers it with
// the PBX when a registrar is configured. Registration happens on the
// caller's goroutine.
func (s *Service) PushTokenUpdated(ctx context.Context, token, platform string) (bool, error) {
	if token == "" {
		return false, newError(CodeInvalidAddress, "push token is empty")
	}
	_, err := submit(ctx, s, func() (struct{}, error) {
		s.publish(NewEvent(EventPushToken, map[string]any{KeyToken: token}))
		return struct{}{}, nil
	})
	if err != nil {
		return false, err
	}
	if s.pushTokens == nil {
		return true, nil
	}
	if err := s.pushTokens.RegisterPushToken(ctx, token, platform); err != nil {
		return false, engineRejected(err)
	}
	return true, nil
}

// CallUIAnswer handles the user answering from the system call UI.
func (s *Service) CallUIAnswer(ctx context.Context, correlationID string) (bool, error) {
	return s.run(ctx, func() error {
		if s.arbitrator.State() != ArbitratorIdle {
			return s.arbitrator.Answer(correlationID)
		}
		return s.dispatcher.Answer()
	})
}

// CallUIEnd handles the user ending a call from the system call UI.
func (s *Service) CallUIEnd(ctx context.Context, correlationID string) (bool, error) {
	return s.run(ctx, func() error {
		s.arbitrator.Dismiss(correlationID)
		call, ok := s.eng.CurrentCall()
		if !ok || call.State == engine.CallEnd || call.State == engine.CallReleased {
			return ErrNoActiveCall
		}
		return s.dispatcher.Hangup()
	})
}

// CallUIAudioSession forwards audio session activation to the engine.
func (s *Service) CallUIAudioSession(ctx context.Context, active bool) (bool, error) {
	return s.run(ctx, func() error {
		s.eng.ActivateAudioSession(active)
		return nil
	})
}
