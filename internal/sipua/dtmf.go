package sipua

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// dtmfContentType is used for DTMF sent in SIP INFO requests.
const dtmfContentType = "application/dtmf-relay"

const defaultToneDuration = 160 * time.Millisecond

var errInvalidDTMF = errors.New("invalid dtmf info body")

// validDigit reports whether r is a DTMF signal: 0-9, *, # or A-D.
func validDigit(r rune) bool {
	return strings.ContainsRune("0123456789*#ABCD", r)
}

// dtmfRelayBody renders an application/dtmf-relay INFO body.
func dtmfRelayBody(digit rune, d time.Duration) ([]byte, error) {
	digit = upperDigit(digit)
	if !validDigit(digit) {
		return nil, fmt.Errorf("invalid dtmf digit %q", digit)
	}
	if d <= 0 {
		d = defaultToneDuration
	}
	return []byte("Signal=" + string(digit) + "\r\nDuration=" + strconv.Itoa(int(d.Milliseconds())) + "\r\n"), nil
}

// parseDTMFInfo extracts the digit from an INFO body. Both the
// application/dtmf-relay and application/dtmf formats are accepted.
func parseDTMFInfo(contentType string, body []byte) (rune, error) {
	ct := strings.TrimSpace(strings.ToLower(contentType))
	if idx := strings.IndexByte(ct, ';'); idx >= 0 {
		ct = strings.TrimSpace(ct[:idx])
	}

	var signal string
	switch ct {
	case "application/dtmf-relay":
		for _, line := range strings.Split(string(body), "\n") {
			key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
			if ok && strings.EqualFold(strings.TrimSpace(key), "signal") {
				signal = strings.TrimSpace(value)
			}
		}
	case "application/dtmf":
		signal = strings.TrimSpace(string(body))
	default:
		return 0, errInvalidDTMF
	}

	if len(signal) != 1 {
		return 0, errInvalidDTMF
	}
	r := upperDigit(rune(signal[0]))
	if !validDigit(r) {
		return 0, errInvalidDTMF
	}
	return r, nil
}

func upperDigit(r rune) rune {
	if r >= 'a' && r <= 'd' {
		return r - 'a' + 'A'
	}
	return r
}
