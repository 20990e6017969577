package sipua

import (
	"fmt"

	"github.com/tiensd92/voip-linphone-sdk/internal/engine"
)

// AudioDevices returns the audio devices known to the user agent.
func (u *UA) AudioDevices() []engine.AudioDevice {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]engine.AudioDevice(nil), u.devices...)
}

// OutputDevice returns the device the call's audio is routed to.
func (u *UA) OutputDevice(callID string) (engine.AudioDevice, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	c, err := u.lookup(callID)
	if err != nil {
		return engine.AudioDevice{}, false
	}
	return c.output, true
}

// SetOutputDevice routes the call's audio to d, which must be a known device.
func (u *UA) SetOutputDevice(callID string, d engine.AudioDevice) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	c, err := u.lookup(callID)
	if err != nil {
		return err
	}
	for _, known := range u.devices {
		if known.ID == d.ID {
			c.output = known
			u.logger.Debug("audio output changed", "call_id", callID, "device", known.Name, "kind", known.Kind)
			return nil
		}
	}
	return fmt.Errorf("sipua: unknown audio device %q", d.ID)
}

// MicEnabled reports whether the microphone is enabled.
func (u *UA) MicEnabled() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.mic
}

// SetMicEnabled enables or mutes the microphone.
func (u *UA) SetMicEnabled(enabled bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.mic = enabled
}

// ActivateAudioSession records the host's audio session activation.
func (u *UA) ActivateAudioSession(active bool) {
	u.mu.Lock()
	changed := u.audioSession != active
	u.audioSession = active
	u.mu.Unlock()
	if changed {
		u.logger.Debug("audio session changed", "active", active)
	}
}

// MediaStats returns the number of live RTP streams and the packets received
// since the user agent was created.
func (u *UA) MediaStats() (active int, packets uint64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	packets = u.rtpClosed
	for _, c := range u.calls {
		if c.media != nil && !c.ended {
			active++
			packets += c.media.packets()
		}
	}
	return active, packets
}
