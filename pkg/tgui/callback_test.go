package tgui

import "testing"

func TestDataParseRoundTrip(t *testing.T) {
	t.Parallel()
	cases := []struct {
		scope, action, payload string
	}{
		{"base", "toggle", "60"},
		{"plan", "cancel", "123"},
		{"plan", "add", ""},
		{"tz", "manual", "17:30"},
	}
	for _, tc := range cases {
		d := Data(tc.scope, tc.action, tc.payload)
		s, a, p := Parse(d)
		if s != tc.scope || a != tc.action || p != tc.payload {
			t.Fatalf("round trip %q -> (%q,%q,%q)", d, s, a, p)
		}
	}
}

func TestParsePayloadKeepsColons(t *testing.T) {
	t.Parallel()
	_, _, p := Parse("tz:manual:17:30")
	if p != "17:30" {
		t.Fatalf("payload = %q", p)
	}
}

func TestTruncRunes(t *testing.T) {
	t.Parallel()
	if got := TruncRunes("héllo", 3); got != "hél…" {
		t.Fatalf("got %q", got)
	}
	if got := TruncRunes("hi", 10); got != "hi" {
		t.Fatalf("got %q", got)
	}
}
