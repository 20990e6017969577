package engine

import "fmt"

// AudioDeviceKind classifies an audio device.
type AudioDeviceKind int

const (
	DeviceUnknown AudioDeviceKind = iota
	DeviceMicrophone
	DeviceEarpiece
	DeviceSpeaker
	DeviceBluetooth
	DeviceBluetoothA2DP
	DeviceTelephony
	DeviceAuxLine
	DeviceGenericUSB
	DeviceHeadset
	DeviceHeadphone
	DeviceHearingAid
)

var deviceKindNames = map[AudioDeviceKind]string{
	DeviceUnknown:       "Unknown",
	DeviceMicrophone:    "Microphone",
	DeviceEarpiece:      "Earpiece",
	DeviceSpeaker:       "Speaker",
	DeviceBluetooth:     "Bluetooth",
	DeviceBluetoothA2DP: "BluetoothA2DP",
	DeviceTelephony:     "Telephony",
	DeviceAuxLine:       "AuxLine",
	DeviceGenericUSB:    "GenericUsb",
	DeviceHeadset:       "Headset",
	DeviceHeadphone:     "Headphone",
	DeviceHearingAid:    "HearingAid",
}

func (k AudioDeviceKind) String() string {
	if name, ok := deviceKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", int(k))
}

// ParseAudioDeviceKind returns the kind with the given name.
func ParseAudioDeviceKind(name string) (AudioDeviceKind, bool) {
	for k, n := range deviceKindNames {
		if n == name {
			return k, true
		}
	}
	return DeviceUnknown, false
}

// AudioDevice is one entry in the engine's device list.
type AudioDevice struct {
	ID   string
	Name string
	Kind AudioDeviceKind
}
