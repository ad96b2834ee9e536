package component

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// LifecycleFactory creates a fresh LifecycleComponent for each test
type LifecycleFactory func() LifecycleComponent

// StandardLifecycleTests runs the lifecycle checks every bridge component
// must pass.
func StandardLifecycleTests(t *testing.T, factory LifecycleFactory) {
	t.Run("Compliance", func(t *testing.T) {
		testLifecycleCompliance(t, factory)
	})
	t.Run("ErrorPaths", func(t *testing.T) {
		testErrorPaths(t, factory)
	})
	t.Run("ConcurrentStartStop", func(t *testing.T) {
		testConcurrentStartStop(t, factory)
	})
}

func testLifecycleCompliance(t *testing.T, factory LifecycleFactory) {
	tests := []struct {
		name string
		test func(t *testing.T, comp LifecycleComponent)
	}{
		{"Start", testStart},
		{"DoubleStop", testDoubleStop},
		{"StopWithoutStart", testStopWithoutStart},
		{"RestartAfterStop", testRestartAfterStop},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			comp := factory()
			require.NotNil(t, comp, "Component factory returned nil")
			tt.test(t, comp)
		})
	}
}

func testStart(t *testing.T, comp LifecycleComponent) {
	require.NoError(t, comp.Initialize(), "Initialize must succeed before Start")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	assert.NoError(t, comp.Start(ctx), "Start should succeed after Initialize")
	assert.True(t, comp.Health().Healthy, "running component should report healthy")
	assert.NoError(t, comp.Stop(5*time.Second), "Stop should succeed after Start")
}

func testDoubleStop(t *testing.T, comp LifecycleComponent) {
	require.NoError(t, comp.Initialize())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, comp.Start(ctx))

	assert.NoError(t, comp.Stop(5*time.Second), "First Stop should succeed")
	assert.NoError(t, comp.Stop(5*time.Second), "Second Stop should be idempotent")
}

func testStopWithoutStart(t *testing.T, comp LifecycleComponent) {
	assert.NoError(t, comp.Stop(5*time.Second), "Stop should be safe to call without Start")
}

func testRestartAfterStop(t *testing.T, comp LifecycleComponent) {
	require.NoError(t, comp.Initialize())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, comp.Start(ctx))
	require.NoError(t, comp.Stop(5*time.Second))

	if err := comp.Start(ctx); err != nil {
		require.NoError(t, comp.Initialize(), "Re-initialize should succeed if Start fails after Stop")
		require.NoError(t, comp.Start(ctx), "Start should succeed after re-initialization")
	}
	assert.NoError(t, comp.Stop(5*time.Second), "Final Stop should succeed")
}

func testErrorPaths(t *testing.T, factory LifecycleFactory) {
	tests := []struct {
		name      string
		setup     func(LifecycleComponent) error
		operation func(LifecycleComponent) error
		wantErr   bool
		errCheck  func(error) bool
	}{
		{
			name:  "cancelled_context_on_start",
			setup: func(comp LifecycleComponent) error { return comp.Initialize() },
			operation: func(comp LifecycleComponent) error {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				return comp.Start(ctx)
			},
			wantErr: true,
			errCheck: func(err error) bool {
				return strings.Contains(err.Error(), "context") || strings.Contains(err.Error(), "cancel")
			},
		},
		{
			name:      "start_without_initialize",
			setup:     func(_ LifecycleComponent) error { return nil },
			operation: func(comp LifecycleComponent) error { return comp.Start(context.Background()) },
			wantErr:   true,
			errCheck:  func(err error) bool { return strings.Contains(err.Error(), "not initialized") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			comp := factory()
			require.NotNil(t, comp, "Component factory returned nil")
			require.NoError(t, tt.setup(comp), "Test setup failed")

			err := tt.operation(comp)
			if tt.wantErr {
				require.Error(t, err, "Operation should have failed")
				assert.True(t, tt.errCheck(err), "Error should match expected pattern: %v", err)
			}

			assert.NoError(t, comp.Stop(5*time.Second), "Component should be stoppable after error test")
		})
	}
}

func testConcurrentStartStop(t *testing.T, factory LifecycleFactory) {
	comp := factory()
	require.NotNil(t, comp, "Component factory returned nil")
	require.NoError(t, comp.Initialize())

	var wg sync.WaitGroup
	errs := make([]error, 20)

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			errs[idx] = comp.Start(ctx)
		}(i)
	}
	for i := 10; i < 20; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			time.Sleep(10 * time.Millisecond)
			errs[idx] = comp.Stop(5 * time.Second)
		}(i)
	}
	wg.Wait()

	successfulStarts := 0
	for _, err := range errs[:10] {
		if err == nil {
			successfulStarts++
		}
	}
	assert.GreaterOrEqual(t, successfulStarts, 1, "At least one Start should succeed")
	for _, err := range errs[10:] {
		assert.NoError(t, err, "Stop should never fail")
	}

	assert.NoError(t, comp.Stop(5*time.Second))
}
