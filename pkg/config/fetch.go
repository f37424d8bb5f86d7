package config

import (
	"fmt"
	"time"
)

// FetchPolicy is the parsed form of FetchConfig.
type FetchPolicy struct {
	Timeout           time.Duration
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	RequestsPerSecond float64
	Burst             int
	UserAgents        []string
}

// Merge returns a copy of f with every field set in override replacing
// the corresponding value.
func (f FetchConfig) Merge(override *FetchConfig) FetchConfig {
	if override == nil {
		return f
	}

	merged := f

	if override.Timeout != "" {
		merged.Timeout = override.Timeout
	}

	if override.MaxAttempts > 0 {
		merged.MaxAttempts = override.MaxAttempts
	}

	if override.InitialBackoff != "" {
		merged.InitialBackoff = override.InitialBackoff
	}

	if override.MaxBackoff != "" {
		merged.MaxBackoff = override.MaxBackoff
	}

	if override.RequestsPerSecond > 0 {
		merged.RequestsPerSecond = override.RequestsPerSecond
	}

	if override.Burst > 0 {
		merged.Burst = override.Burst
	}

	if len(override.UserAgents) > 0 {
		merged.UserAgents = override.UserAgents
	}

	return merged
}

// Policy parses the duration fields and checks the numeric bounds.
func (f FetchConfig) Policy() (FetchPolicy, error) {
	timeout, err := parsePositiveDuration("timeout", f.Timeout)
	if err != nil {
		return FetchPolicy{}, err
	}

	initial, err := parsePositiveDuration("initial_backoff", f.InitialBackoff)
	if err != nil {
		return FetchPolicy{}, err
	}

	maxBackoff, err := parsePositiveDuration("max_backoff", f.MaxBackoff)
	if err != nil {
		return FetchPolicy{}, err
	}

	if maxBackoff < initial {
		return FetchPolicy{}, fmt.Errorf("max_backoff %s is shorter than initial_backoff %s", maxBackoff, initial)
	}

	if f.MaxAttempts < 1 {
		return FetchPolicy{}, fmt.Errorf("max_attempts must be at least 1")
	}

	if f.RequestsPerSecond <= 0 {
		return FetchPolicy{}, fmt.Errorf("requests_per_second must be positive")
	}

	burst := f.Burst
	if burst < 1 {
		burst = 1
	}

	return FetchPolicy{
		Timeout:           timeout,
		MaxAttempts:       f.MaxAttempts,
		InitialBackoff:    initial,
		MaxBackoff:        maxBackoff,
		RequestsPerSecond: f.RequestsPerSecond,
		Burst:             burst,
		UserAgents:        f.UserAgents,
	}, nil
}

func parsePositiveDuration(field, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, value, err)
	}

	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", field)
	}

	return d, nil
}
