package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// LaunchPolicy controls what Acquire does when the remote debugging endpoint
// is unreachable.
type LaunchPolicy string

const (
	// LaunchAuto attaches over CDP and falls back to launching a managed
	// headless Chromium when the endpoint is unreachable.
	LaunchAuto LaunchPolicy = "auto"
	// LaunchAttach fails fast when the endpoint is unreachable.
	LaunchAttach LaunchPolicy = "attach"
	// LaunchManaged always launches a managed browser and never attaches.
	LaunchManaged LaunchPolicy = "launch"
)

// DefaultTargetURL is the generation surface driven when no override is set.
// The thread behind this URL already has image generation enabled.
const DefaultTargetURL = "https://www.perplexity.ai/search/a-split-image-on-one-side-glea-hNLvcaq8QUuuS6w.r.n9qA"

// Config contains all runtime settings for the image relay service.
type Config struct {
	BindAddr         string
	Debug            bool
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	BrowserDebugURL string
	LaunchPolicy    LaunchPolicy
	TargetURL       string

	GenerationWait    time.Duration
	PollInterval      time.Duration
	GracePeriod       time.Duration
	SubmitRetries     int
	InputWait         time.Duration
	NavigationTimeout time.Duration

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:          envOrDefault("APP_BIND_ADDR", ""),
		MetricsNamespace:  envOrDefault("APP_METRICS_NAMESPACE", "imagerelay"),
		BrowserDebugURL:   trimmedEnv("BROWSER_DEBUG_URL"),
		LaunchPolicy:      LaunchPolicy(strings.ToLower(envOrDefault("BROWSER_LAUNCH_POLICY", string(LaunchAuto)))),
		TargetURL:         envOrDefault("GENERATION_TARGET_URL", DefaultTargetURL),
		DatabaseURL:       trimmedEnv("DATABASE_URL"),
		ShutdownTimeout:   15 * time.Second,
		GenerationWait:    60 * time.Second,
		PollInterval:      750 * time.Millisecond,
		GracePeriod:       5 * time.Second,
		SubmitRetries:     2,
		InputWait:         10 * time.Second,
		NavigationTimeout: 30 * time.Second,
	}

	// PORT is honored as a shorthand for n8n/docker style deployments, the
	// explicit bind address wins when both are set.
	if cfg.BindAddr == "" {
		if port := trimmedEnv("PORT"); port != "" {
			cfg.BindAddr = ":" + port
		} else {
			cfg.BindAddr = ":8080"
		}
	}

	// BROWSER_DEBUG_PORT is the shorthand for a local endpoint; the full URL
	// wins when both are set.
	if cfg.BrowserDebugURL == "" {
		port, err := intFromEnv("BROWSER_DEBUG_PORT", 9222)
		if err != nil {
			return Config{}, err
		}
		cfg.BrowserDebugURL = fmt.Sprintf("http://127.0.0.1:%d", port)
	}

	var err error
	cfg.Debug, err = boolFromEnv("APP_DEBUG", false)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", false)
	if err != nil {
		return Config{}, err
	}
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}

	waitMS, err := intFromEnv("GENERATION_WAIT_MS", int(cfg.GenerationWait.Milliseconds()))
	if err != nil {
		return Config{}, err
	}
	cfg.GenerationWait = time.Duration(waitMS) * time.Millisecond

	cfg.PollInterval, err = durationFromEnv("GENERATION_POLL_INTERVAL", cfg.PollInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.GracePeriod, err = durationFromEnv("GENERATION_GRACE_PERIOD", cfg.GracePeriod)
	if err != nil {
		return Config{}, err
	}
	cfg.InputWait, err = durationFromEnv("GENERATION_INPUT_WAIT", cfg.InputWait)
	if err != nil {
		return Config{}, err
	}
	cfg.NavigationTimeout, err = durationFromEnv("BROWSER_NAVIGATION_TIMEOUT", cfg.NavigationTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SubmitRetries, err = intFromEnv("GENERATION_SUBMIT_RETRIES", cfg.SubmitRetries)
	if err != nil {
		return Config{}, err
	}

	switch cfg.LaunchPolicy {
	case LaunchAuto, LaunchAttach, LaunchManaged:
	default:
		return Config{}, fmt.Errorf("invalid BROWSER_LAUNCH_POLICY: %q (expected auto|attach|launch)", cfg.LaunchPolicy)
	}
	if cfg.GenerationWait <= 0 {
		return Config{}, fmt.Errorf("GENERATION_WAIT_MS must be positive")
	}
	if cfg.PollInterval <= 0 {
		return Config{}, fmt.Errorf("GENERATION_POLL_INTERVAL must be positive")
	}
	if cfg.PollInterval >= cfg.GenerationWait {
		return Config{}, fmt.Errorf("GENERATION_POLL_INTERVAL must be shorter than the wait ceiling")
	}
	if cfg.SubmitRetries < 0 {
		return Config{}, fmt.Errorf("GENERATION_SUBMIT_RETRIES must be >= 0")
	}
	if strings.TrimSpace(cfg.TargetURL) == "" {
		return Config{}, fmt.Errorf("GENERATION_TARGET_URL must not be empty")
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

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmedEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: invalid boolean %q", key, v)
	}
}
