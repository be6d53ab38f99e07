package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration for the dialer process.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	DataDir string

	ESLHost     string
	ESLPort     int
	ESLPassword string

	DialerGateway  string
	DialerDIDNum   string
	OriginateRate  float64
	OriginateBurst int

	RecordingDirectory string
	RecordingBaseURL   string
	RecordingMaxDays   int

	ConnectTimeout      time.Duration
	AgentAnswerTimeout  time.Duration
	LeadAnswerTimeout   time.Duration
	EarlyMediaConfirmMS time.Duration

	OpsHTTPAddr string
	LogLevel    string
	LogFormat   string
}

// defaults
const (
	defaultDataDir = "./data"

	defaultESLHost     = "127.0.0.1"
	defaultESLPort     = 8021
	defaultESLPassword = "ClueCon"

	defaultDialerGateway  = "default"
	defaultOriginateRate  = 5.0
	defaultOriginateBurst = 10

	defaultRecordingDirectory = "./data/recordings"
	defaultRecordingMaxDays   = 90

	defaultConnectTimeout      = 10 * time.Second
	defaultAgentAnswerTimeout  = 30 * time.Second
	defaultLeadAnswerTimeout   = 60 * time.Second
	defaultEarlyMediaConfirmMS = 500 * time.Millisecond

	defaultOpsHTTPAddr = ":9090"
	defaultLogLevel    = "info"
	defaultLogFormat   = "text"
)

// envPrefix is the prefix for all dialer environment variables.
const envPrefix = "DIALER_"

// Load parses configuration from CLI flags and environment variables.
// Precedence: CLI flags > env vars > defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("dialer", flag.ContinueOnError)

	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "data directory for local storage")

	fs.StringVar(&cfg.ESLHost, "esl-host", defaultESLHost, "FreeSWITCH ESL host")
	fs.IntVar(&cfg.ESLPort, "esl-port", defaultESLPort, "FreeSWITCH ESL port")
	fs.StringVar(&cfg.ESLPassword, "esl-password", defaultESLPassword, "FreeSWITCH ESL auth password")

	fs.StringVar(&cfg.DialerGateway, "dialer-gateway", defaultDialerGateway, "SIP gateway name used in originate strings")
	fs.StringVar(&cfg.DialerDIDNum, "dialer-did-number", "", "caller ID number presented to the lead leg")
	fs.Float64Var(&cfg.OriginateRate, "dialer-originate-rate", defaultOriginateRate, "max originate commands per second per gateway")
	fs.IntVar(&cfg.OriginateBurst, "dialer-originate-burst", defaultOriginateBurst, "originate rate limiter burst size per gateway")

	fs.StringVar(&cfg.RecordingDirectory, "recording-directory", defaultRecordingDirectory, "absolute path for call recording .wav files")
	fs.StringVar(&cfg.RecordingBaseURL, "recording-base-url", "", "URL prefix for retrieving recording artifacts")
	fs.IntVar(&cfg.RecordingMaxDays, "recording-max-days", defaultRecordingMaxDays, "recording retention window in days; 0 disables cleanup")

	fs.DurationVar(&cfg.ConnectTimeout, "timeout-connect", defaultConnectTimeout, "ESL connect timeout")
	fs.DurationVar(&cfg.AgentAnswerTimeout, "timeout-agent-answer", defaultAgentAnswerTimeout, "max time to wait for the agent leg to answer")
	fs.DurationVar(&cfg.LeadAnswerTimeout, "timeout-lead-answer", defaultLeadAnswerTimeout, "max time to wait for the lead leg to answer")
	fs.DurationVar(&cfg.EarlyMediaConfirmMS, "timeout-early-media-confirm", defaultEarlyMediaConfirmMS, "delay before confirming an agent answer is not early media")

	fs.StringVar(&cfg.OpsHTTPAddr, "ops-http-addr", defaultOpsHTTPAddr, "bind address for the /healthz and /metrics ops server")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	// Apply env var overrides for any flags not explicitly set on the command line.
	// CLI flags take precedence over env vars.
	applyEnvOverrides(fs, cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line. This preserves the precedence:
// CLI flags > env vars > defaults.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	// Track which flags were explicitly set via CLI.
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	// Map of flag name to env var name. recording-base-url is read from
	// RECORDING_BASE_URL only, without the DIALER_ prefix, because
	// deployments commonly inject it from a shared object-storage config
	// block.
	envMap := map[string]string{
		"data-dir":                    envPrefix + "DATA_DIR",
		"esl-host":                    envPrefix + "ESL_HOST",
		"esl-port":                    envPrefix + "ESL_PORT",
		"esl-password":                envPrefix + "ESL_PASSWORD",
		"dialer-gateway":              envPrefix + "GATEWAY",
		"dialer-did-number":           envPrefix + "DID_NUMBER",
		"dialer-originate-rate":       envPrefix + "ORIGINATE_RATE",
		"dialer-originate-burst":      envPrefix + "ORIGINATE_BURST",
		"recording-directory":        envPrefix + "RECORDING_DIRECTORY",
		"recording-base-url":         "RECORDING_BASE_URL",
		"recording-max-days":         envPrefix + "RECORDING_MAX_DAYS",
		"timeout-connect":             envPrefix + "TIMEOUT_CONNECT",
		"timeout-agent-answer":        envPrefix + "TIMEOUT_AGENT_ANSWER",
		"timeout-lead-answer":         envPrefix + "TIMEOUT_LEAD_ANSWER",
		"timeout-early-media-confirm": envPrefix + "TIMEOUT_EARLY_MEDIA_CONFIRM",
		"ops-http-addr":               envPrefix + "OPS_HTTP_ADDR",
		"log-level":                   envPrefix + "LOG_LEVEL",
		"log-format":                  envPrefix + "LOG_FORMAT",
	}

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		switch flagName {
		case "data-dir":
			cfg.DataDir = val
		case "esl-host":
			cfg.ESLHost = val
		case "esl-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.ESLPort = v
			}
		case "esl-password":
			cfg.ESLPassword = val
		case "dialer-gateway":
			cfg.DialerGateway = val
		case "dialer-did-number":
			cfg.DialerDIDNum = val
		case "dialer-originate-rate":
			if v, err := strconv.ParseFloat(val, 64); err == nil {
				cfg.OriginateRate = v
			}
		case "dialer-originate-burst":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.OriginateBurst = v
			}
		case "recording-directory":
			cfg.RecordingDirectory = val
		case "recording-base-url":
			cfg.RecordingBaseURL = val
		case "recording-max-days":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.RecordingMaxDays = v
			}
		case "timeout-connect":
			if v, err := time.ParseDuration(val); err == nil {
				cfg.ConnectTimeout = v
			}
		case "timeout-agent-answer":
			if v, err := time.ParseDuration(val); err == nil {
				cfg.AgentAnswerTimeout = v
			}
		case "timeout-lead-answer":
			if v, err := time.ParseDuration(val); err == nil {
				cfg.LeadAnswerTimeout = v
			}
		case "timeout-early-media-confirm":
			if v, err := time.ParseDuration(val); err == nil {
				cfg.EarlyMediaConfirmMS = v
			}
		case "ops-http-addr":
			cfg.OpsHTTPAddr = val
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		}
	}
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.ESLPort < 1 || c.ESLPort > 65535 {
		return fmt.Errorf("esl-port must be between 1 and 65535, got %d", c.ESLPort)
	}
	if c.ESLHost == "" {
		return fmt.Errorf("esl-host must not be empty")
	}
	if c.DialerGateway == "" {
		return fmt.Errorf("dialer-gateway must not be empty")
	}
	if c.OriginateRate <= 0 {
		return fmt.Errorf("dialer-originate-rate must be positive, got %v", c.OriginateRate)
	}
	if c.OriginateBurst < 1 {
		return fmt.Errorf("dialer-originate-burst must be at least 1, got %d", c.OriginateBurst)
	}
	if c.RecordingDirectory == "" {
		return fmt.Errorf("recording-directory must not be empty")
	}
	if c.RecordingMaxDays < 0 {
		return fmt.Errorf("recording-max-days must not be negative, got %d", c.RecordingMaxDays)
	}
	if c.ConnectTimeout <= 0 || c.AgentAnswerTimeout <= 0 || c.LeadAnswerTimeout <= 0 || c.EarlyMediaConfirmMS <= 0 {
		return fmt.Errorf("all timeout values must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	return nil
}

// RecordingBaseURLTrimmed returns the configured base URL with any trailing
// slash trimmed, so callers can safely join it with a filename using "/".
func (c *Config) RecordingBaseURLTrimmed() string {
	return strings.TrimRight(c.RecordingBaseURL, "/")
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
