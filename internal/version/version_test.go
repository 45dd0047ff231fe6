package version

import (
	"runtime"
	"strings"
	"testing"
)

func TestGet(t *testing.T) {
	v := Get()
	if v == "" {
		t.Fatal("Get() returned empty version")
	}
	if strings.TrimSpace(v) != v {
		t.Errorf("Get() = %q, not trimmed", v)
	}
}

func TestString(t *testing.T) {
	old := Commit
	t.Cleanup(func() { Commit = old })

	Commit = ""
	if got, want := String(), Get()+" "+runtime.Version(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}

	Commit = "abc1234"
	if got := String(); !strings.Contains(got, "(abc1234)") {
		t.Errorf("String() = %q, want commit", got)
	}
}
