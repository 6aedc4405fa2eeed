package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config contains all runtime settings for the consult voice service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool
	LogLevel         string
	LogFormat        string

	DebounceDelay         time.Duration
	KeepAliveInterval     time.Duration
	CallInactivityTimeout time.Duration

	VoiceProvider  string
	VoiceWSBaseURL string
	VoiceAPIKey    string
	DefaultVoiceID string
	DefaultModelID string

	DefaultSystemPrompt string
	DefaultFirstMessage string

	KafkaBrokers []string
	KafkaTopic   string
	KafkaEnabled bool
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "consultvoice"),
		LogLevel:         envOrDefault("APP_LOG_LEVEL", "info"),
		LogFormat:        envOrDefault("APP_LOG_FORMAT", "json"),
		VoiceProvider:    envOrDefault("VOICE_PROVIDER", "auto"),
		VoiceWSBaseURL:   envOrDefault("VOICE_WS_BASE_URL", "wss://realtime.voicebridge.io"),
		VoiceAPIKey:      envTrimmed("VOICE_API_KEY"),
		DefaultVoiceID:   envOrDefault("VOICE_DEFAULT_VOICE_ID", "jennifer"),
		DefaultModelID:   envOrDefault("VOICE_DEFAULT_MODEL_ID", "nova-2"),
		DefaultSystemPrompt: envOrDefault("CONSULT_SYSTEM_PROMPT",
			"You are a telehealth intake assistant. Gather the patient's symptoms and history for the doctor."),
		DefaultFirstMessage: envOrDefault("CONSULT_FIRST_MESSAGE",
			"Hello, I'm your consultation assistant. How are you feeling today?"),
		KafkaTopic:            envOrDefault("KAFKA_TOPIC", "consult.transcripts.completed"),
		ShutdownTimeout:       15 * time.Second,
		DebounceDelay:         300 * time.Millisecond,
		KeepAliveInterval:     20 * time.Second,
		CallInactivityTimeout: 30 * time.Minute,
	}

	if brokers := envTrimmed("KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.DebounceDelay, err = durationFromEnv("TRANSCRIPT_DEBOUNCE", cfg.DebounceDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.KeepAliveInterval, err = durationFromEnv("CALL_KEEPALIVE_INTERVAL", cfg.KeepAliveInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.CallInactivityTimeout, err = durationFromEnv("CALL_INACTIVITY_TIMEOUT", cfg.CallInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.KafkaEnabled, err = boolFromEnv("KAFKA_ENABLED", len(cfg.KafkaBrokers) > 0)
	if err != nil {
		return Config{}, err
	}

	if cfg.DebounceDelay <= 0 || cfg.DebounceDelay > 5*time.Second {
		return Config{}, fmt.Errorf("TRANSCRIPT_DEBOUNCE must be in (0s, 5s]")
	}
	if cfg.KeepAliveInterval < time.Second {
		return Config{}, fmt.Errorf("CALL_KEEPALIVE_INTERVAL must be at least 1s")
	}
	if cfg.CallInactivityTimeout < time.Minute {
		return Config{}, fmt.Errorf("CALL_INACTIVITY_TIMEOUT must be at least 1m")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.VoiceProvider)) {
	case "auto", "realtime", "mock":
	default:
		return Config{}, fmt.Errorf("invalid VOICE_PROVIDER: %q (expected auto|realtime|mock)", cfg.VoiceProvider)
	}
	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return Config{}, fmt.Errorf("KAFKA_ENABLED requires KAFKA_BROKERS")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func envTrimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(envTrimmed(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
