package devices

import (
	"strconv"
	"strings"
)

// DeviceType classifies the kind of device a browser runs on. Only two
// classes matter for quota purposes; tablets count as computers.
type DeviceType string

const (
	DeviceTypePhone    DeviceType = "phone"
	DeviceTypeComputer DeviceType = "computer"
)

// signalPlaceholder substitutes for any fingerprinting primitive the browser
// could not produce (no canvas, no WebGL). Two browsers that both fail a
// primitive become indistinguishable on that signal; the collision is
// tolerated rather than blocking the user.
const signalPlaceholder = "unsupported"

const signalSeparator = "|||"

// Signals are the browser/environment properties a fingerprint is derived
// from. Empty fields degrade to a constant placeholder, never an error.
type Signals struct {
	UserAgent string `json:"userAgent"`
	Screen    string `json:"screen"`   // e.g. "1920x1080x24"
	Timezone  string `json:"timezone"` // IANA name
	Language  string `json:"language"`
	Platform  string `json:"platform"`
	Canvas    string `json:"canvas"` // canvas rendering snippet, data-URL prefix
	WebGL     string `json:"webgl"`  // WebGL renderer string
}

// Fingerprint reduces a signal tuple to a short base-36 pseudo-identifier.
// Identical signal tuples always produce identical fingerprints.
//
// The hash is the classic multiply-by-31 rolling hash with 32-bit wraparound;
// it is not cryptographic and does not need to be, since the fingerprint only
// approximates device identity for quota counting.
func Fingerprint(s Signals) string {
	parts := []string{
		orPlaceholder(s.UserAgent),
		orPlaceholder(s.Screen),
		orPlaceholder(s.Timezone),
		orPlaceholder(s.Language),
		orPlaceholder(s.Platform),
		orPlaceholder(s.Canvas),
		orPlaceholder(s.WebGL),
	}
	joined := strings.Join(parts, signalSeparator)

	var h int32
	for _, b := range []byte(joined) {
		h = h*31 + int32(b)
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return strconv.FormatInt(v, 36)
}

// ValidDeviceType reports whether t is a known device class.
func ValidDeviceType(t DeviceType) bool {
	return t == DeviceTypePhone || t == DeviceTypeComputer
}

// ClassifyDeviceType derives the device class from a user-agent string.
// Tablets (iPad, Android without "Mobile", explicit "Tablet") are counted as
// computers.
func ClassifyDeviceType(userAgent string) DeviceType {
	ua := strings.ToLower(userAgent)

	if strings.Contains(ua, "ipad") || strings.Contains(ua, "tablet") {
		return DeviceTypeComputer
	}
	// Explicit phone markers win over the Android heuristic: a phone UA can
	// carry an Android compat token without being an Android tablet.
	for _, marker := range []string{"iphone", "ipod", "windows phone", "mobi"} {
		if strings.Contains(ua, marker) {
			return DeviceTypePhone
		}
	}
	// Android phones advertise "Mobile" (caught above); remaining Android
	// UAs are tablets.
	return DeviceTypeComputer
}

func orPlaceholder(v string) string {
	if strings.TrimSpace(v) == "" {
		return signalPlaceholder
	}
	return v
}
