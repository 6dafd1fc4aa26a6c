package token

import "testing"

func TestNewer(t *testing.T) {
	// Truth table for the signed modulo-256 ordering. The second value is
	// newer when the first lags it by fewer than 128 steps forward.
	testCases := []struct {
		ours   Token
		theirs Token
		newer  bool
	}{
		{0, 0, false},
		{0, 1, true},
		{1, 0, false},
		{5, 250, false},
		{250, 5, true},
		{0, 127, true},
		// Forward distance of exactly 128: the signed difference is -128,
		// so the peer value wins, as in the firmware comparison.
		{0, 128, true},
		{0, 129, false},
		{255, 0, true},
		{0, 255, false},
		{200, 10, true},
		{10, 200, false},
	}

	for _, tc := range testCases {
		if got := Newer(tc.ours, tc.theirs); got != tc.newer {
			t.Errorf("Newer(%s, %s) = %v, want %v", tc.ours, tc.theirs, got, tc.newer)
		}
	}
}

func TestNext(t *testing.T) {
	if got := Token(255).Next(); got != 0 {
		t.Fatalf("Next should wrap around, got %s", got)
	}

	next := Token(41).Next()
	if next != 42 {
		t.Fatalf("Next(41) = %s, want 0x2a", next)
	}
	if !Newer(41, next) {
		t.Fatalf("the successor of a token should be newer than it")
	}
}
