// Package scheduler runs the background janitor that watches for
// executions stuck in the running state.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lumenclass/agentrun/internal/store"
	"github.com/lumenclass/agentrun/pkg/schema"
)

// Janitor periodically scans for executions that have been running
// longer than the stale threshold. It is detection-only: stale records
// are logged and audited once, never mutated. A run interrupted by a
// crash stays running for an operator to inspect.
type Janitor struct {
	store     store.Store
	parser    cron.Parser
	logger    *slog.Logger
	cronExpr  string
	threshold time.Duration

	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex

	seenMu sync.Mutex
	seen   map[string]struct{} // execution IDs already reported
}

// NewJanitor creates a Janitor that scans on the given cron cadence and
// flags executions running longer than threshold.
func NewJanitor(s store.Store, cronExpr string, threshold time.Duration, logger *slog.Logger) *Janitor {
	return &Janitor{
		store:     s,
		parser:    cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:    logger,
		cronExpr:  cronExpr,
		threshold: threshold,
		seen:      make(map[string]struct{}),
	}
}

// Start launches the background scan loop.
func (j *Janitor) Start(ctx context.Context) error {
	schedule, err := j.parser.Parse(j.cronExpr)
	if err != nil {
		return fmt.Errorf("parse janitor cron expression %q: %w", j.cronExpr, err)
	}

	j.mu.Lock()
	if j.done != nil {
		j.mu.Unlock()
		return fmt.Errorf("janitor already started")
	}
	scanCtx, cancel := context.WithCancel(ctx)
	j.cancel = cancel
	j.done = make(chan struct{})
	j.mu.Unlock()

	go j.loop(scanCtx, schedule)
	j.logger.Info("janitor started",
		slog.String("cadence", j.cronExpr),
		slog.Duration("threshold", j.threshold),
	)
	return nil
}

func (j *Janitor) loop(ctx context.Context, schedule cron.Schedule) {
	defer close(j.done)

	// Run an initial scan immediately.
	j.Scan(ctx)

	for {
		next := schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			j.Scan(ctx)
		}
	}
}

// Scan flags every execution that has been running longer than the
// threshold. Each record is reported once per process lifetime.
func (j *Janitor) Scan(ctx context.Context) {
	running := schema.ExecutionStatusRunning
	threshold := j.threshold
	execs, _, err := j.store.ListExecutions(ctx, store.ExecutionFilter{
		Status:     &running,
		RunningFor: &threshold,
	})
	if err != nil {
		j.logger.Error("janitor scan failed", slog.String("error", err.Error()))
		return
	}

	for _, exec := range execs {
		if !j.firstSighting(exec.ID) {
			continue
		}
		j.logger.Warn("execution appears stuck",
			slog.String("execution_id", exec.ID),
			slog.String("agent_type", string(exec.AgentType)),
			slog.Time("started_at", derefTime(exec.StartedAt)),
		)

		details, _ := json.Marshal(map[string]any{
			"agent_type":    exec.AgentType,
			"threshold_sec": int(j.threshold.Seconds()),
		})
		if err := j.store.AppendAuditEntry(ctx, &store.AuditEntry{
			ActorID:      exec.InitiatedBy,
			Action:       schema.ActionExecutionStale,
			ResourceType: "execution",
			ResourceID:   exec.ID,
			ScopeID:      &exec.ScopeID,
			Details:      details,
		}); err != nil {
			j.logger.Error("janitor audit write failed",
				slog.String("execution_id", exec.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// firstSighting returns true the first time an execution ID is seen.
func (j *Janitor) firstSighting(id string) bool {
	j.seenMu.Lock()
	defer j.seenMu.Unlock()
	if _, ok := j.seen[id]; ok {
		return false
	}
	j.seen[id] = struct{}{}
	return true
}

// Stop gracefully shuts down the janitor.
func (j *Janitor) Stop() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.cancel == nil {
		return nil
	}

	j.cancel()
	<-j.done
	j.cancel = nil
	j.done = nil

	j.logger.Info("janitor stopped")
	return nil
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
