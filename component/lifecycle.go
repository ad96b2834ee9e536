package component

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/semstreams-plc/errors"
)

// State represents the current lifecycle state of a component
type State int

const (
	// StateCreated indicates component was created but not initialized
	StateCreated State = iota
	// StateInitialized indicates component was initialized but not started
	StateInitialized
	// StateStarted indicates component is running
	StateStarted
	// StateStopped indicates component was stopped
	StateStopped
	// StateFailed indicates component failed during lifecycle operation
	StateFailed
)

// String returns a string representation of the component state
func (cs State) String() string {
	switch cs {
	case StateCreated:
		return "created"
	case StateInitialized:
		return "initialized"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// LifecycleComponent is a component with the three-phase lifecycle:
//   - Initialize() error                 // setup only, no context
//   - Start(ctx context.Context) error   // start with context passed through
//   - Stop(timeout time.Duration) error  // graceful stop bounded by timeout
type LifecycleComponent interface {
	Discoverable
	Initialize() error
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
}

// ManagedComponent tracks a component and its lifecycle state inside a Group.
type ManagedComponent struct {
	Component LifecycleComponent
	State     State

	// Cancel stops the child context the component was started with. The
	// component never stores the context itself.
	Cancel context.CancelFunc

	StartOrder int
	LastError  error
}

// Group starts components in the order they were added and stops them in
// reverse order.
type Group struct {
	mu      sync.Mutex
	members []*ManagedComponent
	logger  *slog.Logger
}

// NewGroup creates an empty group.
func NewGroup(logger *slog.Logger) *Group {
	if logger == nil {
		logger = slog.Default()
	}
	return &Group{logger: logger}
}

// Add appends a component. Components must be added before Initialize.
func (g *Group) Add(c LifecycleComponent) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.members = append(g.members, &ManagedComponent{Component: c, State: StateCreated})
}

// Initialize initializes every component, stopping at the first failure.
func (g *Group) Initialize() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, mc := range g.members {
		if err := mc.Component.Initialize(); err != nil {
			mc.State = StateFailed
			mc.LastError = err
			return errors.WrapFatal(err, "Group", "Initialize", "initialize "+mc.Component.Meta().Name)
		}
		mc.State = StateInitialized
	}
	return nil
}

// Start starts every component with its own child context. If one fails, the
// components already started are stopped again.
func (g *Group) Start(ctx context.Context, stopTimeout time.Duration) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i, mc := range g.members {
		childCtx, cancel := context.WithCancel(ctx)
		if err := mc.Component.Start(childCtx); err != nil {
			cancel()
			mc.State = StateFailed
			mc.LastError = err
			g.stopLocked(i, stopTimeout)
			return errors.WrapFatal(err, "Group", "Start", "start "+mc.Component.Meta().Name)
		}
		mc.Cancel = cancel
		mc.StartOrder = i
		mc.State = StateStarted
		g.logger.Info("Component started", "name", mc.Component.Meta().Name, "type", mc.Component.Meta().Type)
	}
	return nil
}

// Stop stops every started component in reverse start order. Each component
// gets the full timeout. All stop errors are returned joined.
func (g *Group) Stop(timeout time.Duration) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stopLocked(len(g.members), timeout)
}

func (g *Group) stopLocked(upTo int, timeout time.Duration) error {
	var errs []error
	for i := upTo - 1; i >= 0; i-- {
		mc := g.members[i]
		if mc.State != StateStarted {
			continue
		}
		err := mc.Component.Stop(timeout)
		if mc.Cancel != nil {
			mc.Cancel()
			mc.Cancel = nil
		}
		if err != nil {
			mc.State = StateFailed
			mc.LastError = err
			errs = append(errs, fmt.Errorf("stop %s: %w", mc.Component.Meta().Name, err))
			continue
		}
		mc.State = StateStopped
		g.logger.Info("Component stopped", "name", mc.Component.Meta().Name)
	}
	return stderrors.Join(errs...)
}

// Components returns the members in start order.
func (g *Group) Components() []Discoverable {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]Discoverable, 0, len(g.members))
	for _, mc := range g.members {
		out = append(out, mc.Component)
	}
	return out
}

// States returns the lifecycle state of each member by name.
func (g *Group) States() map[string]State {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make(map[string]State, len(g.members))
	for _, mc := range g.members {
		out[mc.Component.Meta().Name] = mc.State
	}
	return out
}
