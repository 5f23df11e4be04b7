// Package gate implements the approval gate that must open before the
// publisher may touch a registry. The gate is an explicit object awaiting
// an external approval signal per environment, replacing implicit
// environment-based gating: production stays safe because a human (or an
// authorized system) must approve each publish.
package gate

import (
	"context"
	"log/slog"
	"sync"

	"github.com/packforge/packforge/errors"
)

// Gate blocks the pipeline until the named environment is approved.
type Gate interface {
	// Wait blocks until the environment is approved, rejected, or the
	// context is done. A nil return means the publish may proceed.
	Wait(ctx context.Context, environment string) error
}

// decision is the outcome signalled for one environment.
type decision struct {
	approved bool
	approver string
	reason   string
}

// ApprovalGate is a Gate fed by external Approve/Reject signals. A signal
// reaches only a run that is waiting when it arrives; signals with no
// waiting run are dropped, so a duplicate approval can never carry over
// and open the gate for a later run. It is safe for concurrent use.
type ApprovalGate struct {
	mu      sync.Mutex
	waiting map[string][]chan decision
	logger  *slog.Logger
}

// NewApprovalGate creates an ApprovalGate.
func NewApprovalGate(logger *slog.Logger) *ApprovalGate {
	if logger == nil {
		logger = slog.Default()
	}
	return &ApprovalGate{
		waiting: make(map[string][]chan decision),
		logger:  logger,
	}
}

// register enqueues a new waiting run for the environment and returns its
// decision channel.
func (g *ApprovalGate) register(environment string) chan decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	ch := make(chan decision, 1)
	g.waiting[environment] = append(g.waiting[environment], ch)
	return ch
}

// unregister removes a waiter that left without a decision (context
// cancelled). A waiter already popped by signal is simply absent.
func (g *ApprovalGate) unregister(environment string, ch chan decision) {
	g.mu.Lock()
	defer g.mu.Unlock()

	queue := g.waiting[environment]
	for i, w := range queue {
		if w == ch {
			g.waiting[environment] = append(queue[:i], queue[i+1:]...)
			break
		}
	}
	if len(g.waiting[environment]) == 0 {
		delete(g.waiting, environment)
	}
}

// signal delivers a decision to the oldest waiting run for the
// environment. It reports false when no run is waiting; the signal is
// dropped in that case.
func (g *ApprovalGate) signal(environment string, d decision) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	queue := g.waiting[environment]
	if len(queue) == 0 {
		return false
	}

	ch := queue[0]
	if len(queue) == 1 {
		delete(g.waiting, environment)
	} else {
		g.waiting[environment] = queue[1:]
	}
	// The channel is buffered and each waiter receives at most one send.
	ch <- d
	return true
}

// Pending reports whether a run is currently waiting on the environment.
func (g *ApprovalGate) Pending(environment string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.waiting[environment]) > 0
}

// Approve signals that the waiting run for the environment may proceed.
// With no run waiting the signal is dropped.
func (g *ApprovalGate) Approve(environment, approver string) {
	if !g.signal(environment, decision{approved: true, approver: approver}) {
		g.logger.Warn("approval dropped, no run is waiting",
			"environment", environment, "approver", approver)
		return
	}
	g.logger.Info("environment approved", "environment", environment, "approver", approver)
}

// Reject signals that the waiting run for the environment must not
// proceed. With no run waiting the signal is dropped.
func (g *ApprovalGate) Reject(environment, approver, reason string) {
	if !g.signal(environment, decision{approver: approver, reason: reason}) {
		g.logger.Warn("rejection dropped, no run is waiting",
			"environment", environment, "approver", approver)
		return
	}
	g.logger.Warn("environment rejected",
		"environment", environment, "approver", approver, "reason", reason)
}

// Wait implements Gate.Wait.
func (g *ApprovalGate) Wait(ctx context.Context, environment string) error {
	if environment == "" {
		return errors.New(errors.CodeInvalidInput, "environment cannot be empty")
	}

	ch := g.register(environment)
	defer g.unregister(environment, ch)

	g.logger.Info("awaiting approval", "environment", environment)

	select {
	case d := <-ch:
		if !d.approved {
			return errors.Newf(errors.CodeApprovalDenied,
				"environment %q rejected by %s: %s", environment, d.approver, d.reason)
		}
		return nil
	case <-ctx.Done():
		return errors.WrapWithContext(ctx.Err(), errors.CodeApprovalDenied, "approval wait ended",
			map[string]interface{}{"environment": environment})
	}
}

// AutoApprove is a Gate that always opens immediately. Used for staging
// environments where no human gate is configured.
type AutoApprove struct{}

// Wait implements Gate.Wait.
func (AutoApprove) Wait(ctx context.Context, _ string) error {
	return ctx.Err()
}
