package version

import (
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	got := String()
	if !strings.HasPrefix(got, "dev (unknown) built unknown") {
		t.Errorf("String() = %q, want dev defaults", got)
	}
	if !strings.HasSuffix(got, "bridge protocol v1") {
		t.Errorf("String() = %q, want bridge protocol suffix", got)
	}
	if n := len(Attrs()); n%2 != 0 {
		t.Errorf("Attrs() has %d entries, want key/value pairs", n)
	}
}
