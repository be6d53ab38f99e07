package config

import (
	"log/slog"
	"os"
	"testing"
)

func TestDefaults(t *testing.T) {
	// Clear any env vars that might interfere.
	for _, env := range []string{
		"DIALER_DATA_DIR", "DIALER_ESL_HOST", "DIALER_ESL_PORT",
		"DIALER_ESL_PASSWORD", "DIALER_GATEWAY", "DIALER_LOG_LEVEL",
		"RECORDING_BASE_URL",
	} {
		t.Setenv(env, "")
		os.Unsetenv(env)
	}

	os.Args = []string{"dialer"}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DataDir != defaultDataDir {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir, defaultDataDir)
	}
	if cfg.ESLHost != defaultESLHost {
		t.Errorf("ESLHost = %q, want %q", cfg.ESLHost, defaultESLHost)
	}
	if cfg.ESLPort != defaultESLPort {
		t.Errorf("ESLPort = %d, want %d", cfg.ESLPort, defaultESLPort)
	}
	if cfg.ESLPassword != defaultESLPassword {
		t.Errorf("ESLPassword = %q, want %q", cfg.ESLPassword, defaultESLPassword)
	}
	if cfg.DialerGateway != defaultDialerGateway {
		t.Errorf("DialerGateway = %q, want %q", cfg.DialerGateway, defaultDialerGateway)
	}
	if cfg.LogLevel != defaultLogLevel {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, defaultLogLevel)
	}
	if cfg.ConnectTimeout != defaultConnectTimeout {
		t.Errorf("ConnectTimeout = %v, want %v", cfg.ConnectTimeout, defaultConnectTimeout)
	}
}

func TestEnvVarOverride(t *testing.T) {
	os.Args = []string{"dialer"}
	t.Setenv("DIALER_ESL_PORT", "8022")
	t.Setenv("DIALER_DATA_DIR", "/tmp/dialer-test")
	t.Setenv("DIALER_LOG_LEVEL", "debug")
	t.Setenv("RECORDING_BASE_URL", "http://localhost:8080")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.ESLPort != 8022 {
		t.Errorf("ESLPort = %d, want 8022", cfg.ESLPort)
	}
	if cfg.DataDir != "/tmp/dialer-test" {
		t.Errorf("DataDir = %q, want /tmp/dialer-test", cfg.DataDir)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.RecordingBaseURL != "http://localhost:8080" {
		t.Errorf("RecordingBaseURL = %q, want http://localhost:8080", cfg.RecordingBaseURL)
	}
}

func TestCLIFlagsPrecedence(t *testing.T) {
	// CLI flags should override env vars.
	os.Args = []string{"dialer", "--esl-port", "8023", "--log-level", "warn"}
	t.Setenv("DIALER_ESL_PORT", "8022")
	t.Setenv("DIALER_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.ESLPort != 8023 {
		t.Errorf("ESLPort = %d, want 8023 (CLI should override env)", cfg.ESLPort)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn (CLI should override env)", cfg.LogLevel)
	}
}

func TestValidateInvalidPort(t *testing.T) {
	os.Args = []string{"dialer", "--esl-port", "99999"}
	_, err := Load()
	if err == nil {
		t.Fatal("expected error for invalid port, got nil")
	}
}

func TestValidateInvalidLogLevel(t *testing.T) {
	os.Args = []string{"dialer", "--log-level", "verbose"}
	_, err := Load()
	if err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
}

func TestValidateEmptyGateway(t *testing.T) {
	os.Args = []string{"dialer", "--dialer-gateway", ""}
	_, err := Load()
	if err == nil {
		t.Fatal("expected error when dialer-gateway is empty")
	}
}

func TestRecordingBaseURLTrimmed(t *testing.T) {
	cfg := &Config{RecordingBaseURL: "http://localhost:8080/"}
	if got := cfg.RecordingBaseURLTrimmed(); got != "http://localhost:8080" {
		t.Errorf("RecordingBaseURLTrimmed() = %q, want http://localhost:8080", got)
	}
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.level}
			if got := cfg.SlogLevel(); got != tt.want {
				t.Errorf("SlogLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}
