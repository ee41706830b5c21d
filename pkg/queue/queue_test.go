package queue

import "testing"

func TestMemberRoundTrip(t *testing.T) {
	cases := []struct {
		kind, key string
	}{
		{"bot_action", "bot-1"},
		{"bot_action", "a:b:c"}, // keys may contain the separator
		{"sweep", "x"},
	}
	for _, tc := range cases {
		member := memberOf(tc.kind, tc.key)
		kind, key, err := parseMember(member)
		if err != nil {
			t.Fatalf("parse %q: %v", member, err)
		}
		if kind != tc.kind || key != tc.key {
			t.Fatalf("parse %q: got (%q, %q) want (%q, %q)", member, kind, key, tc.kind, tc.key)
		}
	}
}

func TestParseMemberMalformed(t *testing.T) {
	for _, member := range []string{"", "nokey", "nokey:", ":novalue", ":"} {
		if _, _, err := parseMember(member); err == nil {
			t.Fatalf("parse %q: expected error", member)
		}
	}
}
