package ratelimit

import (
	"errors"
	"sync"
	"time"
)

// Default pacing configuration values.
const (
	DefaultPacingBaseDelay = 200 * time.Millisecond
	DefaultPacingMaxDelay  = 30 * time.Second
)

// PacingController adapts the delay between backfill units. Success restores
// the base delay; each failure doubles it up to the cap, so a struggling
// provider gets progressively more breathing room without stalling the job.
type PacingController struct {
	baseDelay time.Duration
	maxDelay  time.Duration

	mu               sync.Mutex
	currentDelay     time.Duration
	consecutiveFails int
}

// PacingControllerConfig holds configuration for the pacing controller.
type PacingControllerConfig struct {
	// BaseDelay is the delay between units when everything succeeds. Default: 200ms.
	BaseDelay time.Duration

	// MaxDelay caps the backoff. Default: 30s.
	MaxDelay time.Duration
}

// Validate checks if the configuration is valid.
func (c *PacingControllerConfig) Validate() error {
	if c.BaseDelay < 0 {
		return errors.New("base delay cannot be negative")
	}
	if c.MaxDelay < 0 {
		return errors.New("max delay cannot be negative")
	}
	if c.MaxDelay > 0 && c.BaseDelay > 0 && c.BaseDelay > c.MaxDelay {
		return errors.New("base delay cannot exceed max delay")
	}
	return nil
}

// NewPacingController creates a controller with the given configuration.
func NewPacingController(cfg *PacingControllerConfig) (*PacingController, error) {
	if cfg == nil {
		cfg = &PacingControllerConfig{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	baseDelay := cfg.BaseDelay
	if baseDelay == 0 {
		baseDelay = DefaultPacingBaseDelay
	}
	maxDelay := cfg.MaxDelay
	if maxDelay == 0 {
		maxDelay = DefaultPacingMaxDelay
	}

	return &PacingController{
		baseDelay:    baseDelay,
		maxDelay:     maxDelay,
		currentDelay: baseDelay,
	}, nil
}

// Delay returns the wait to apply before the next unit.
func (c *PacingController) Delay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentDelay
}

// RecordSuccess resets the backoff after a successful unit.
func (c *PacingController) RecordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecutiveFails = 0
	c.currentDelay = c.baseDelay
}

// RecordFailure doubles the delay after a failed unit, capped at MaxDelay.
func (c *PacingController) RecordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecutiveFails++

	newDelay := c.baseDelay
	for i := 0; i < c.consecutiveFails; i++ {
		newDelay *= 2
		if newDelay > c.maxDelay {
			newDelay = c.maxDelay
			break
		}
	}
	c.currentDelay = newDelay
}

// ConsecutiveFailures returns the current failure streak.
func (c *PacingController) ConsecutiveFailures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.consecutiveFails
}
