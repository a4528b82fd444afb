package config

import (
	"os"
	"strconv"
	"time"
)

// Timeouts bounds how long each kind of stage may run.
// Values can be overridden with environment variables.
type Timeouts struct {
	Source            time.Duration // Fetching the source revision
	Scan              time.Duration // Running the IaC scanner
	Build             time.Duration // Lint, build, push and image scan
	Deploy            time.Duration // Applying manifests
	Rollout           time.Duration // Waiting for deployments to become available
	RolloutPoll       time.Duration // Interval between rollout checks
	RetryMaxAttempts  int           // Maximum number of retry attempts
	RetryInitialDelay time.Duration // Initial delay between retries
}

// LoadTimeouts loads timeout configuration from environment variables.
// If an environment variable is not set or invalid, a default value is used.
//
// Environment Variables:
//   - SHIPGATE_TIMEOUT_SOURCE (default: 5m)
//   - SHIPGATE_TIMEOUT_SCAN (default: 10m)
//   - SHIPGATE_TIMEOUT_BUILD (default: 30m)
//   - SHIPGATE_TIMEOUT_DEPLOY (default: 10m)
//   - SHIPGATE_TIMEOUT_ROLLOUT (default: 5m)
//   - SHIPGATE_TIMEOUT_ROLLOUT_POLL (default: 5s)
//   - SHIPGATE_RETRY_MAX_ATTEMPTS (default: 5)
//   - SHIPGATE_RETRY_INITIAL_DELAY (default: 1s)
func LoadTimeouts() *Timeouts {
	return &Timeouts{
		Source:            parseDuration("SHIPGATE_TIMEOUT_SOURCE", 5*time.Minute),
		Scan:              parseDuration("SHIPGATE_TIMEOUT_SCAN", 10*time.Minute),
		Build:             parseDuration("SHIPGATE_TIMEOUT_BUILD", 30*time.Minute),
		Deploy:            parseDuration("SHIPGATE_TIMEOUT_DEPLOY", 10*time.Minute),
		Rollout:           parseDuration("SHIPGATE_TIMEOUT_ROLLOUT", 5*time.Minute),
		RolloutPoll:       parseDuration("SHIPGATE_TIMEOUT_ROLLOUT_POLL", 5*time.Second),
		RetryMaxAttempts:  parseInt("SHIPGATE_RETRY_MAX_ATTEMPTS", 5),
		RetryInitialDelay: parseDuration("SHIPGATE_RETRY_INITIAL_DELAY", 1*time.Second),
	}
}

// ForKind returns the stage timeout for a kind. Gates have none here; their
// timeout comes from the stage declaration.
func (t *Timeouts) ForKind(kind string) time.Duration {
	switch kind {
	case KindSource:
		return t.Source
	case KindScan:
		return t.Scan
	case KindBuild:
		return t.Build
	case KindDeploy:
		return t.Deploy
	}
	return 0
}

// StageTimeout returns the declared timeout of a non-gate stage, falling back
// to the per-kind default.
func (t *Timeouts) StageTimeout(s StageConfig) time.Duration {
	if s.Kind != KindGate && s.Timeout > 0 {
		return s.Timeout
	}
	return t.ForKind(s.Kind)
}

// parseDuration parses a duration from an environment variable.
// If the variable is not set or parsing fails, the default value is returned.
func parseDuration(envVar string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(envVar)
	if val == "" {
		return defaultVal
	}

	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return defaultVal
	}

	return d
}

// parseInt parses an integer from an environment variable.
// If the variable is not set or parsing fails, the default value is returned.
func parseInt(envVar string, defaultVal int) int {
	val := os.Getenv(envVar)
	if val == "" {
		return defaultVal
	}

	i, err := strconv.Atoi(val)
	if err != nil || i < 0 {
		return defaultVal
	}

	return i
}
