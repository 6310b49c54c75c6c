package main

import (
	"testing"
)

func TestResolveStorageDriver(t *testing.T) {
	cases := []struct {
		name      string
		flagValue string
		envValue  string
		dsn       string
		want      string
	}{
		{name: "flag wins", flagValue: "JSON", envValue: "postgres", dsn: "postgres://x", want: "json"},
		{name: "env when no flag", envValue: "postgres", want: "postgres"},
		{name: "dsn implies postgres", dsn: "postgres://x", want: "postgres"},
		{name: "default is json", want: "json"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := resolveStorageDriver(tc.flagValue, tc.envValue, tc.dsn)
			if err != nil {
				t.Fatalf("resolveStorageDriver: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", "  ", "value", "other"); got != "value" {
		t.Fatalf("expected value, got %q", got)
	}
	if got := firstNonEmpty("", "   "); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}

func TestResolveInt(t *testing.T) {
	if got := resolveInt(4, "MEDIAFORGE_TEST_WORKERS"); got != 4 {
		t.Fatalf("flag value should win, got %d", got)
	}
	t.Setenv("MEDIAFORGE_TEST_WORKERS", "8")
	if got := resolveInt(0, "MEDIAFORGE_TEST_WORKERS"); got != 8 {
		t.Fatalf("expected env value 8, got %d", got)
	}
	t.Setenv("MEDIAFORGE_TEST_WORKERS", "not-a-number")
	if got := resolveInt(0, "MEDIAFORGE_TEST_WORKERS"); got != 0 {
		t.Fatalf("expected 0 for junk env, got %d", got)
	}
}

func TestResolveBool(t *testing.T) {
	if !resolveBool(true, "MEDIAFORGE_TEST_FLAG") {
		t.Fatal("flag true should win")
	}
	t.Setenv("MEDIAFORGE_TEST_FLAG", "true")
	if !resolveBool(false, "MEDIAFORGE_TEST_FLAG") {
		t.Fatal("expected env true")
	}
	t.Setenv("MEDIAFORGE_TEST_FLAG", "junk")
	if resolveBool(false, "MEDIAFORGE_TEST_FLAG") {
		t.Fatal("junk env must not enable the flag")
	}
}

func TestResolveDataPathDefault(t *testing.T) {
	if got := resolveDataPath("", ""); got != "data/assets.json" {
		t.Fatalf("unexpected default %q", got)
	}
	if got := resolveDataPath("custom.json", "env.json"); got != "custom.json" {
		t.Fatalf("flag should win, got %q", got)
	}
}

func TestResolveRedisAddrDefault(t *testing.T) {
	if got := resolveRedisAddr("", ""); got != "127.0.0.1:6379" {
		t.Fatalf("unexpected default %q", got)
	}
}

func TestResolveConsumerNameFallsBackToHostname(t *testing.T) {
	if got := resolveConsumerName("named"); got != "named" {
		t.Fatalf("expected named, got %q", got)
	}
	if got := resolveConsumerName(""); got == "" {
		t.Fatal("expected non-empty consumer name")
	}
}
