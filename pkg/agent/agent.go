// Package agent runs the background actions of the desk until shutdown.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/lisanmuaddib/replydesk/pkg/actions"
)

// Agent runs registered actions side by side
type Agent struct {
	logger  *logrus.Logger
	actions map[string]actions.Action
	mu      sync.RWMutex
}

// Config holds the configuration for the Agent
type Config struct {
	Logger *logrus.Logger
}

// New creates a new Agent instance
func New(config Config) (*Agent, error) {
	if config.Logger == nil {
		config.Logger = logrus.New()
	}
	return &Agent{
		logger:  config.Logger,
		actions: make(map[string]actions.Action),
	}, nil
}

// RegisterAction adds a new action to the agent
func (a *Agent) RegisterAction(action actions.Action) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	name := action.Name()
	if _, exists := a.actions[name]; exists {
		return fmt.Errorf("action %s already registered", name)
	}

	a.actions[name] = action
	return nil
}

// Actions returns the registered action names
func (a *Agent) Actions() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, 0, len(a.actions))
	for name := range a.actions {
		names = append(names, name)
	}
	return names
}

// Run starts all registered actions and blocks until ctx is done or one of them fails
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("Starting agent with registered actions")

	a.mu.RLock()
	errChan := make(chan error, len(a.actions))
	var wg sync.WaitGroup
	for name, action := range a.actions {
		wg.Add(1)
		go func(name string, action actions.Action) {
			defer wg.Done()

			a.logger.WithField("action", name).Info("Starting action")
			if err := action.Execute(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.WithError(err).WithField("action", name).Error("Action failed")
				errChan <- fmt.Errorf("action %s failed: %w", name, err)
			}
		}(name, action)
	}
	a.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("Context cancelled, stopping all actions")
		a.stopAllActions()
		<-done
		return ctx.Err()
	case err := <-errChan:
		a.logger.WithError(err).Error("Action error occurred")
		a.stopAllActions()
		<-done
		return err
	case <-done:
		a.logger.Info("All actions completed")
		return nil
	}
}

// stopAllActions cleanly stops all registered actions
func (a *Agent) stopAllActions() {
	a.mu.RLock()
	defer a.mu.RUnlock()

	for name, action := range a.actions {
		a.logger.WithField("action", name).Info("Stopping action")
		action.Stop()
	}
}
