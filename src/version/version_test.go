package version

import (
	"strings"
	"testing"
)

func TestVersionString(t *testing.T) {
	if !strings.HasPrefix(Version, "0.2.0") {
		t.Fatalf("Version does not start with the base version: %s", Version)
	}

	if Flag != "" && !strings.Contains(Version, Flag) {
		t.Fatalf("Version does not carry the flag: %s", Version)
	}
}
