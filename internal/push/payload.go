package push

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNotIncomingCall is returned for push payloads that carry no incoming
// call alert.
var ErrNotIncomingCall = errors.New("push: payload is not an incoming call")

// VoIPPayload is the VoIP push body delivered to the device:
// {"aps":{"alert":{"incoming_caller_id":..,"incoming_caller_name":..,"uuid":..}}}
type VoIPPayload struct {
	APS struct {
		Alert IncomingCallAlert `json:"alert"`
	} `json:"aps"`
}

// IncomingCallAlert identifies the caller of a push-woken call.
type IncomingCallAlert struct {
	CallerID   string `json:"incoming_caller_id"`
	CallerName string `json:"incoming_caller_name"`
	UUID       string `json:"uuid"`
}

// ParseVoIPPayload decodes a VoIP push body. A payload needs a caller id
// or a uuid to describe a call.
func ParseVoIPPayload(data []byte) (IncomingCallAlert, error) {
	var p VoIPPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return IncomingCallAlert{}, fmt.Errorf("push: decoding payload: %w", err)
	}
	alert := p.APS.Alert
	alert.CallerID = strings.TrimSpace(alert.CallerID)
	alert.CallerName = strings.TrimSpace(alert.CallerName)
	alert.UUID = strings.TrimSpace(alert.UUID)
	if alert.CallerID == "" && alert.UUID == "" {
		return IncomingCallAlert{}, ErrNotIncomingCall
	}
	return alert, nil
}
