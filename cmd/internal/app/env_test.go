package app

import (
	"testing"
	"time"
)

func TestEnvHelpers(t *testing.T) {
	t.Setenv("SPERANZA_TEST_STRING", "  value  ")
	t.Setenv("SPERANZA_TEST_BOOL", "true")
	t.Setenv("SPERANZA_TEST_INT", "42")
	t.Setenv("SPERANZA_TEST_INT_BAD", "-3")
	t.Setenv("SPERANZA_TEST_DURATION", "90s")
	t.Setenv("SPERANZA_TEST_CSV", "a, b ,,c")

	if got := envString("SPERANZA_TEST_STRING", "def"); got != "value" {
		t.Fatalf("envString=%q", got)
	}
	if got := envString("SPERANZA_TEST_MISSING", "def"); got != "def" {
		t.Fatalf("envString default=%q", got)
	}
	if !envBool("SPERANZA_TEST_BOOL", false) {
		t.Fatalf("envBool should be true")
	}
	if got := envInt("SPERANZA_TEST_INT", 1); got != 42 {
		t.Fatalf("envInt=%d", got)
	}
	if got := envInt("SPERANZA_TEST_INT_BAD", 7); got != 7 {
		t.Fatalf("negative int must fall back, got %d", got)
	}
	if got := envIntAllowZero("SPERANZA_TEST_REDIS_DB", 0); got != 0 {
		t.Fatalf("envIntAllowZero default=%d", got)
	}
	if got := envDuration("SPERANZA_TEST_DURATION", time.Second); got != 90*time.Second {
		t.Fatalf("envDuration=%v", got)
	}

	csv := envCSV("SPERANZA_TEST_CSV", "")
	if len(csv) != 3 || csv[0] != "a" || csv[1] != "b" || csv[2] != "c" {
		t.Fatalf("envCSV=%v", csv)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("SPERANZA_HTTP_ADDR", "")
	t.Setenv("SPERANZA_MONGO_DATABASE", "")
	t.Setenv("SPERANZA_HTTP_READ_HEADER_TIMEOUT", "")

	cfg := LoadConfig()

	if cfg.HTTPAddr == "" {
		t.Fatalf("HTTPAddr must default")
	}
	if cfg.MongoDatabase != "speranza" {
		t.Fatalf("MongoDatabase default=%q", cfg.MongoDatabase)
	}
	if cfg.ReadHeaderTimeout <= 0 {
		t.Fatalf("ReadHeaderTimeout must default positive")
	}
}
