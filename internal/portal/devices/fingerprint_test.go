package devices

import (
	"strings"
	"testing"
)

func sampleSignals() Signals {
	return Signals{
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
		Screen:    "1920x1080x24",
		Timezone:  "Africa/Windhoek",
		Language:  "en-US",
		Platform:  "Win32",
		Canvas:    "data:image/png;base64,iVBORw0KGgo",
		WebGL:     "ANGLE (NVIDIA GeForce GTX 1060)",
	}
}

func TestFingerprintDeterministic(t *testing.T) {
	s := sampleSignals()
	first := Fingerprint(s)
	for i := 0; i < 10; i++ {
		if got := Fingerprint(s); got != first {
			t.Fatalf("fingerprint not deterministic: %q vs %q", got, first)
		}
	}
	if first == "" {
		t.Fatal("fingerprint is empty")
	}
}

func TestFingerprintBase36(t *testing.T) {
	fp := Fingerprint(sampleSignals())
	for _, c := range fp {
		if !strings.ContainsRune("0123456789abcdefghijklmnopqrstuvwxyz", c) {
			t.Fatalf("character %q not base-36 (fingerprint %q)", c, fp)
		}
	}
}

func TestFingerprintDistinguishesSignals(t *testing.T) {
	a := sampleSignals()
	b := sampleSignals()
	b.Screen = "1366x768x24"
	if Fingerprint(a) == Fingerprint(b) {
		t.Error("different screens should not collide on this input")
	}
}

func TestFingerprintMissingSignalsDegrade(t *testing.T) {
	// Two browsers that both fail canvas/WebGL collapse onto the placeholder
	// for those signals rather than erroring.
	a := sampleSignals()
	a.Canvas = ""
	a.WebGL = ""
	b := sampleSignals()
	b.Canvas = "   "
	b.WebGL = ""

	if Fingerprint(a) != Fingerprint(b) {
		t.Error("blank and whitespace-only signals should both degrade to the placeholder")
	}
	if Fingerprint(Signals{}) == "" {
		t.Error("all-missing signals must still produce a fingerprint")
	}
}

func TestClassifyDeviceType(t *testing.T) {
	cases := []struct {
		ua   string
		want DeviceType
	}{
		{"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) Mobile/15E148", DeviceTypePhone},
		{"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 Mobile Safari/537.36", DeviceTypePhone},
		{"Mozilla/5.0 (Windows Phone 10.0; Android 6.0.1)", DeviceTypePhone},
		{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36", DeviceTypeComputer},
		{"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15", DeviceTypeComputer},
		// Tablet exception: tablets count as computers.
		{"Mozilla/5.0 (iPad; CPU OS 16_0 like Mac OS X) Mobile/15E148", DeviceTypeComputer},
		{"Mozilla/5.0 (Linux; Android 13; SM-X700) AppleWebKit/537.36 Safari/537.36", DeviceTypeComputer},
		{"Mozilla/5.0 (Linux; Android 13; Tablet) AppleWebKit/537.36", DeviceTypeComputer},
		{"", DeviceTypeComputer},
	}
	for _, tc := range cases {
		if got := ClassifyDeviceType(tc.ua); got != tc.want {
			t.Errorf("ClassifyDeviceType(%q) = %q, want %q", tc.ua, got, tc.want)
		}
	}
}
