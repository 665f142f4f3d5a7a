package utils

import (
	"testing"
	"time"
)

func TestEnvOrDefault(t *testing.T) {
	t.Setenv("NOMAD_TEST_STR", "hello")
	if got := EnvOrDefault("NOMAD_TEST_STR", "fallback"); got != "hello" {
		t.Fatalf("expected hello, got %q", got)
	}
	if got := EnvOrDefault("NOMAD_TEST_MISSING", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
	t.Setenv("NOMAD_TEST_EMPTY", "")
	if got := EnvOrDefault("NOMAD_TEST_EMPTY", "fallback"); got != "fallback" {
		t.Fatalf("empty variable should fall back, got %q", got)
	}
}

func TestEnvOrDefaultInt(t *testing.T) {
	t.Setenv("NOMAD_TEST_INT", "42")
	if got := EnvOrDefaultInt("NOMAD_TEST_INT", 7); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
	t.Setenv("NOMAD_TEST_BAD", "not-a-number")
	if got := EnvOrDefaultInt("NOMAD_TEST_BAD", 7); got != 7 {
		t.Fatalf("unparseable variable should fall back, got %d", got)
	}
}

func TestEnvOrDefaultDuration(t *testing.T) {
	t.Setenv("NOMAD_TEST_DUR", "250ms")
	if got := EnvOrDefaultDuration("NOMAD_TEST_DUR", time.Second); got != 250*time.Millisecond {
		t.Fatalf("expected 250ms, got %v", got)
	}
	if got := EnvOrDefaultDuration("NOMAD_TEST_DUR_MISSING", time.Second); got != time.Second {
		t.Fatalf("expected 1s fallback, got %v", got)
	}
}

func TestWrap(t *testing.T) {
	if err := Wrap(nil, "context"); err != nil {
		t.Fatalf("wrapping nil should stay nil, got %v", err)
	}
}
