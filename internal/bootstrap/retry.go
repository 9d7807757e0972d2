// Package bootstrap brings trading instances up before a run. Initialisation
// may report that it is still waiting on a dependency, in which case it is
// polled again with exponential back-off.
package bootstrap

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"portfolio-backtest/internal/model"
)

type Status int

const (
	Ready Status = iota
	Waiting
	ConfigError
)

func (s Status) String() string {
	switch s {
	case Ready:
		return "ready"
	case Waiting:
		return "waiting"
	case ConfigError:
		return "config_error"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

type Mode string

const (
	ModeBacktest     Mode = "backtest"
	ModeOptimization Mode = "optimization"
)

// Initializer prepares one instance. A non-nil error is treated like
// ConfigError.
type Initializer interface {
	Init(ctx context.Context, instanceID int, mode Mode, configPath string) (Status, error)
}

// InitializerFunc adapts a function to Initializer.
type InitializerFunc func(ctx context.Context, instanceID int, mode Mode, configPath string) (Status, error)

func (f InitializerFunc) Init(ctx context.Context, instanceID int, mode Mode, configPath string) (Status, error) {
	return f(ctx, instanceID, mode, configPath)
}

type RetryPolicy struct {
	MaxAttempts  int           `yaml:"max_attempts" json:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay"`
	Factor       float64       `yaml:"factor" json:"factor"`
	MaxDelay     time.Duration `yaml:"max_delay" json:"max_delay"`
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  50,
		InitialDelay: 500 * time.Millisecond,
		Factor:       1.2,
		MaxDelay:     2 * time.Second,
	}
}

// WithDefaults fills zero fields from DefaultRetryPolicy.
func (p RetryPolicy) WithDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = d.InitialDelay
	}
	if p.Factor < 1 {
		p.Factor = d.Factor
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	return p
}

// Delay is the wait after the given zero-based failed attempt:
// InitialDelay * Factor^attempt capped at MaxDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := float64(p.InitialDelay) * math.Pow(p.Factor, float64(attempt))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	return time.Duration(d)
}

// Initialize polls init until it reports Ready. It fails with ErrConfig on a
// configuration failure and with ErrInitTimeout once the attempts run out.
func Initialize(ctx context.Context, init Initializer, p RetryPolicy, instanceID int, mode Mode, configPath string, log *zap.Logger) error {
	if init == nil {
		return nil
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.Int("instance", instanceID), zap.String("mode", string(mode)))

	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		status, err := init.Init(ctx, instanceID, mode, configPath)
		if err != nil || status == ConfigError {
			log.Error("instance initialisation failed", zap.Error(err), zap.String("config", configPath))
			if err == nil {
				err = fmt.Errorf("status %s", status)
			}
			return fmt.Errorf("%w: instance %d: %v", model.ErrConfig, instanceID, err)
		}
		if status == Ready {
			log.Debug("instance ready", zap.Int("attempts", attempt+1))
			return nil
		}
		if attempt == p.MaxAttempts-1 {
			break
		}
		delay := p.Delay(attempt)
		log.Debug("instance not ready, retrying", zap.Int("attempt", attempt+1), zap.Duration("delay", delay))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	log.Error("instance never became ready", zap.Int("attempts", p.MaxAttempts))
	return fmt.Errorf("%w: instance %d not ready after %d attempts", model.ErrInitTimeout, instanceID, p.MaxAttempts)
}
