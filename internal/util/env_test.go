package util

import (
	"testing"
	"time"
)

func TestGetEnvString_DefaultWhenUnsetOrBlank(t *testing.T) {
	t.Setenv("UTIL_TEST_BLANK", "  ")
	if got := GetEnvString("UTIL_TEST_BLANK", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
	if got := GetEnvString("UTIL_TEST_UNSET_KEY", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
	t.Setenv("UTIL_TEST_SET", "value")
	if got := GetEnvString("UTIL_TEST_SET", "fallback"); got != "value" {
		t.Fatalf("expected value, got %q", got)
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("UTIL_TEST_INT", " 7 ")
	if got := GetEnvInt("UTIL_TEST_INT", 3); got != 7 {
		t.Fatalf("expected 7, got %d", got)
	}
	t.Setenv("UTIL_TEST_INT", "seven")
	if got := GetEnvInt("UTIL_TEST_INT", 3); got != 3 {
		t.Fatalf("expected default 3, got %d", got)
	}
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("UTIL_TEST_BOOL", "true")
	if !GetEnvBool("UTIL_TEST_BOOL", false) {
		t.Fatal("expected true")
	}
	t.Setenv("UTIL_TEST_BOOL", "yes")
	if GetEnvBool("UTIL_TEST_BOOL", false) {
		t.Fatal("expected default false for unrecognized value")
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("UTIL_TEST_DURATION", "10m")
	if got := GetEnvDuration("UTIL_TEST_DURATION", time.Second); got != 10*time.Minute {
		t.Fatalf("expected 10m, got %s", got)
	}
	t.Setenv("UTIL_TEST_DURATION", "ten minutes")
	if got := GetEnvDuration("UTIL_TEST_DURATION", time.Second); got != time.Second {
		t.Fatalf("expected default 1s, got %s", got)
	}
}
