// Package startup runs named dependencies (poller, throttle, migrations) in
// dependency order with retries, and stops them in reverse on shutdown.
package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
)

type Dependency interface {
	GetName() string
	DependsOn() []string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type Status int

const (
	StatusPending Status = iota
	StatusStarted
	StatusStopped
	StatusFailed
)

type Runner struct {
	dependencies map[string]Dependency
	order        []string
	logger       ectologger.Logger
	statuses     map[string]Status
	attempt      int
	maxAttempts  int
}

func NewRunner(logger ectologger.Logger, maxAttempts int) *Runner {
	return &Runner{
		logger:       logger,
		dependencies: make(map[string]Dependency),
		statuses:     make(map[string]Status),
		maxAttempts:  maxAttempts,
	}
}

func (r *Runner) AddDependency(dependency Dependency) {
	if _, ok := r.dependencies[dependency.GetName()]; !ok {
		r.order = append(r.order, dependency.GetName())
	}
	r.dependencies[dependency.GetName()] = dependency
}

func (r *Runner) Start(ctx context.Context) error {
	r.attempt = 0
	var lastErr error

	// Fibonacci backoff sequence
	a, b := 1, 1
	for r.attempt < r.maxAttempts {
		r.attempt++
		r.logger.WithField("attempt", r.attempt).Infof("Beginning startup attempt %d", r.attempt)

		success := true
		for _, name := range r.order {
			if err := r.startDependency(ctx, r.dependencies[name]); err != nil {
				r.logger.WithError(err).Errorf("Startup dependency '%s' attempt %d failed", name, r.attempt)
				lastErr = err
				success = false
				break
			}
		}

		if success {
			return nil
		}

		if r.attempt >= r.maxAttempts {
			return fmt.Errorf("startup failed after %d attempts: %w", r.attempt, lastErr)
		}

		waitTime := time.Duration(a) * time.Second
		r.logger.Infof("Retrying in %d seconds (attempt %d/%d)", a, r.attempt, r.maxAttempts)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitTime):
		}

		a, b = b, a+b
	}

	return nil
}

func (r *Runner) startDependency(ctx context.Context, dependency Dependency) error {
	if r.statuses[dependency.GetName()] == StatusStarted {
		return nil
	}

	for _, dependencyName := range dependency.DependsOn() {
		if r.statuses[dependencyName] != StatusStarted {
			if err := r.startDependency(ctx, r.dependencies[dependencyName]); err != nil {
				return err
			}
		}
	}

	r.logger.WithField("dependency", dependency.GetName()).Infof("Starting dependency '%s'", dependency.GetName())
	r.statuses[dependency.GetName()] = StatusPending
	if err := dependency.Start(ctx); err != nil {
		r.statuses[dependency.GetName()] = StatusFailed
		r.logger.WithError(err).WithField("dependency", dependency.GetName()).Errorf("Failed to start dependency '%s'", dependency.GetName())
		return err
	}
	r.statuses[dependency.GetName()] = StatusStarted
	return nil
}

func (r *Runner) Stop(ctx context.Context) error {
	// Stop in reverse start order
	for i := len(r.order) - 1; i >= 0; i-- {
		if err := r.stopDependency(ctx, r.dependencies[r.order[i]]); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) stopDependency(ctx context.Context, dependency Dependency) error {
	if r.statuses[dependency.GetName()] == StatusStopped {
		return nil
	}

	r.logger.WithField("dependency", dependency.GetName()).Infof("Stopping dependency '%s'", dependency.GetName())
	if err := dependency.Stop(ctx); err != nil {
		r.logger.WithError(err).WithField("dependency", dependency.GetName()).Errorf("Failed to stop dependency '%s'", dependency.GetName())
		return err
	}

	r.statuses[dependency.GetName()] = StatusStopped
	return nil
}
