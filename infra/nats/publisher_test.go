package nats

import "testing"

func TestSubject(t *testing.T) {
	cases := map[string]string{
		"riders":     "pawfect.rooms.riders",
		"sellers.s1": "pawfect.rooms.sellers.s1",
	}
	for room, want := range cases {
		if got := Subject(room); got != want {
			t.Errorf("Subject(%q) = %q, want %q", room, got, want)
		}
	}
}
