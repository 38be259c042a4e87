// Package recovery restores application state after a restart. Components
// register named hooks and the manager runs them in registration order during
// startup.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/propfin/loanagent/internal/store"
)

// DefaultStaleAfter is how long a follow-up may sit in the claimed state
// before it is considered orphaned by a crashed sweep.
const DefaultStaleAfter = 10 * time.Minute

// Hook is one named recovery step.
type Hook struct {
	Name string
	Run  func(ctx context.Context) error
}

// Manager runs registered recovery hooks at startup.
type Manager struct {
	hooks []Hook
}

// NewManager creates an empty recovery manager.
func NewManager() *Manager {
	return &Manager{}
}

// Register adds a named recovery hook. Hooks run in registration order.
func (m *Manager) Register(name string, fn func(ctx context.Context) error) {
	m.hooks = append(m.hooks, Hook{Name: name, Run: fn})
}

// RecoverAll runs every registered hook. A failing hook is logged and does
// not stop the remaining hooks; the first error is returned after all hooks
// have run.
func (m *Manager) RecoverAll(ctx context.Context) error {
	slog.Info("Starting application recovery", "hooks", len(m.hooks))

	recovered := 0
	var firstErr error
	for _, h := range m.hooks {
		if err := h.Run(ctx); err != nil {
			slog.Error("Recovery hook failed", "error", err, "hook", h.Name)
			if firstErr == nil {
				firstErr = fmt.Errorf("recovery hook %s failed: %w", h.Name, err)
			}
			continue
		}
		recovered++
	}

	slog.Info("Application recovery completed", "recovered", recovered, "errors", len(m.hooks)-recovered)
	return firstErr
}

// FollowUpRequeueHook returns a hook that returns follow-ups stuck in the
// claimed state (orphaned by a crashed sweep) to pending.
func FollowUpRequeueHook(st store.Store, staleAfter time.Duration) func(ctx context.Context) error {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return func(ctx context.Context) error {
		n, err := st.RequeueStaleFollowUps(time.Now().Add(-staleAfter))
		if err != nil {
			return fmt.Errorf("failed to requeue stale follow-ups: %w", err)
		}
		if n > 0 {
			slog.Info("Requeued stale follow-ups from previous run", "count", n)
		}
		return nil
	}
}
