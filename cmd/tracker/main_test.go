package main

import "testing"

func TestResolvePrefersFlagValue(t *testing.T) {
	if got := resolve("flag", "config"); got != "flag" {
		t.Errorf("resolve = %q, want %q", got, "flag")
	}
}

func TestResolveFallsBackToConfig(t *testing.T) {
	if got := resolve("", "config"); got != "config" {
		t.Errorf("resolve = %q, want %q", got, "config")
	}
}
