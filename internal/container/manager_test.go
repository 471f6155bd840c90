package container

import "testing"

func TestRuntimeLabel(t *testing.T) {
	if got := runtimeLabel(""); got != "default" {
		t.Fatalf("got %q, want %q", got, "default")
	}
	if got := runtimeLabel("runsc"); got != "runsc" {
		t.Fatalf("got %q, want %q", got, "runsc")
	}
}
