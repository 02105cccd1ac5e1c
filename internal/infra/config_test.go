package infra

import (
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("TELEGRAM_TOKEN", "bot-token")
	t.Setenv("TARGET_CHAT_ID", "-100123")
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("RECORD_SINKS", "")
	t.Setenv("GEMINI_API_KEYS", "")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("TEXT_OVERLOAD_POLICY", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if len(cfg.RecordSinks) != 1 || cfg.RecordSinks[0] != "sqlite" {
		t.Fatalf("RecordSinks mismatch: %#v", cfg.RecordSinks)
	}
	if cfg.TextOverloadPolicy != OverloadAbortRun {
		t.Fatalf("TextOverloadPolicy = %q, want %q", cfg.TextOverloadPolicy, OverloadAbortRun)
	}
	if cfg.TextOverloadDelay != 30*time.Second {
		t.Fatalf("TextOverloadDelay = %s, want 30s", cfg.TextOverloadDelay)
	}
	if len(cfg.GeminiAPIKeys) != 0 {
		t.Fatalf("GeminiAPIKeys = %#v, want empty", cfg.GeminiAPIKeys)
	}
}

func TestLoadConfigParsesKeyList(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("GEMINI_API_KEYS", " k1, ,k2,k3 ")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	want := []string{"k1", "k2", "k3"}
	if len(cfg.GeminiAPIKeys) != len(want) {
		t.Fatalf("GeminiAPIKeys = %#v, want %#v", cfg.GeminiAPIKeys, want)
	}
	for i := range want {
		if cfg.GeminiAPIKeys[i] != want[i] {
			t.Fatalf("GeminiAPIKeys[%d] = %q, want %q", i, cfg.GeminiAPIKeys[i], want[i])
		}
	}
}

func TestLoadConfigFallsBackToSingleKey(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("GEMINI_API_KEYS", "")
	t.Setenv("GEMINI_API_KEY", "solo")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if len(cfg.GeminiAPIKeys) != 1 || cfg.GeminiAPIKeys[0] != "solo" {
		t.Fatalf("GeminiAPIKeys = %#v", cfg.GeminiAPIKeys)
	}
}

func TestLoadConfigValidation(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{name: "missing telegram token", env: map[string]string{"TELEGRAM_TOKEN": ""}},
		{name: "missing chat id", env: map[string]string{"TARGET_CHAT_ID": ""}},
		{name: "bad overload policy", env: map[string]string{"TEXT_OVERLOAD_POLICY": "exit"}},
		{name: "postgres sink without url", env: map[string]string{"RECORD_SINKS": "sqlite,postgres", "DATABASE_URL": ""}},
		{name: "dynamo sink without table", env: map[string]string{"RECORD_SINKS": "dynamo", "DYNAMO_TABLE": ""}},
		{name: "unknown sink", env: map[string]string{"RECORD_SINKS": "mongo"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setRequiredEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := LoadConfig(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestGetEnvDurationAcceptsSeconds(t *testing.T) {
	t.Setenv("SOME_DELAY", "300")
	if got := getEnvDuration("SOME_DELAY", time.Second); got != 5*time.Minute {
		t.Fatalf("getEnvDuration = %s, want 5m", got)
	}
	t.Setenv("SOME_DELAY", "90s")
	if got := getEnvDuration("SOME_DELAY", time.Second); got != 90*time.Second {
		t.Fatalf("getEnvDuration = %s, want 90s", got)
	}
}

func TestRunnerEnabled(t *testing.T) {
	cfg := &Config{}
	if !cfg.RunnerEnabled("flux") {
		t.Fatal("empty list should enable every runner")
	}
	cfg.EnabledRunners = []string{"kandinsky"}
	if cfg.RunnerEnabled("flux") {
		t.Fatal("flux should be disabled")
	}
	if !cfg.RunnerEnabled("kandinsky") {
		t.Fatal("kandinsky should be enabled")
	}
}
