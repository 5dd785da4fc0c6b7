package reaper

import (
	"context"
	"log/slog"
	"time"

	"github.com/wisbric/aegis/internal/telemetry"
	"github.com/wisbric/aegis/pkg/workspacehost"
)

const pageSize = 50

const (
	actionWouldStop  = "would_stop"
	actionStopped    = "stopped"
	actionStopFailed = "stop_failed"
)

// Engine runs the idle-classification tick against the workspace host.
type Engine struct {
	host          workspacehost.Client
	logger        *slog.Logger
	state         *State
	idleTimeout   time.Duration
	gracePeriod   time.Duration
	dryRun        bool
	excludedOwner map[string]bool
}

// Config configures one Engine.
type Config struct {
	IdleTimeout    time.Duration
	GracePeriod    time.Duration
	DryRun         bool
	ExcludedOwners map[string]bool
}

// NewEngine builds an Engine.
func NewEngine(host workspacehost.Client, logger *slog.Logger, state *State, cfg Config) *Engine {
	excluded := cfg.ExcludedOwners
	if excluded == nil {
		excluded = map[string]bool{}
	}
	return &Engine{
		host:          host,
		logger:        logger,
		state:         state,
		idleTimeout:   cfg.IdleTimeout,
		gracePeriod:   cfg.GracePeriod,
		dryRun:        cfg.DryRun,
		excludedOwner: excluded,
	}
}

// Tick runs one full classification pass over every running workspace,
// fully completing classification before issuing any stop action.
func (e *Engine) Tick(ctx context.Context) error {
	start := time.Now()
	timer := telemetry.ReaperTickDuration
	defer func() { timer.Observe(time.Since(start).Seconds()) }()

	workspaces, err := e.listAll(ctx)
	if err != nil {
		e.state.RecordError(err)
		return err
	}

	now := time.Now()
	var idle []workspacehost.WorkspaceSnapshot
	for _, ws := range workspaces {
		e.state.RecordCheck()
		telemetry.ReaperWorkspacesScannedTotal.Inc()
		if e.classify(ws, now) {
			idle = append(idle, ws)
		}
	}

	for _, ws := range idle {
		e.act(ctx, ws)
	}

	e.state.RecordTick(now, len(idle))
	e.state.RecordError(nil)
	return nil
}

// classify implements the four-step idle test. It returns true if the
// workspace belongs in the idle set for this tick.
func (e *Engine) classify(ws workspacehost.WorkspaceSnapshot, now time.Time) bool {
	if e.excludedOwner[ws.OwnerName] {
		return false
	}
	if now.Sub(ws.LatestBuild.CreatedAt) < e.gracePeriod {
		return false
	}

	var reference time.Time
	switch {
	case ws.LastUsedAt != nil:
		reference = *ws.LastUsedAt
	case !ws.LatestBuild.CreatedAt.IsZero():
		reference = ws.LatestBuild.CreatedAt
	default:
		return false
	}

	idleDuration := now.Sub(reference)
	return idleDuration >= e.idleTimeout
}

func (e *Engine) act(ctx context.Context, ws workspacehost.WorkspaceSnapshot) {
	if e.dryRun {
		e.logger.Info("would stop idle workspace", "workspace_id", ws.ID, "owner", ws.OwnerName)
		e.state.RecordAction(Action{
			WorkspaceID: ws.ID,
			Owner:       ws.OwnerName,
			Action:      actionWouldStop,
			At:          time.Now(),
		}, false)
		return
	}

	if err := e.host.StopWorkspace(ctx, ws.ID); err != nil {
		e.logger.Warn("failed to stop idle workspace", "workspace_id", ws.ID, "owner", ws.OwnerName, "error", err)
		telemetry.ReaperStopsTotal.WithLabelValues("failed").Inc()
		e.state.RecordAction(Action{
			WorkspaceID: ws.ID,
			Owner:       ws.OwnerName,
			Action:      actionStopFailed,
			Error:       err.Error(),
			At:          time.Now(),
		}, false)
		return
	}

	e.logger.Info("stopped idle workspace", "workspace_id", ws.ID, "owner", ws.OwnerName)
	telemetry.ReaperStopsTotal.WithLabelValues("stopped").Inc()
	e.state.RecordAction(Action{
		WorkspaceID: ws.ID,
		Owner:       ws.OwnerName,
		Action:      actionStopped,
		At:          time.Now(),
	}, true)
}

func (e *Engine) listAll(ctx context.Context) ([]workspacehost.WorkspaceSnapshot, error) {
	var all []workspacehost.WorkspaceSnapshot
	offset := 0
	for {
		page, err := e.host.ListWorkspaces(ctx, offset, pageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Workspaces...)
		offset += len(page.Workspaces)
		if offset >= page.Total || len(page.Workspaces) == 0 {
			break
		}
	}
	return all, nil
}

// Run loops Tick on the given interval until ctx is cancelled.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.Tick(ctx); err != nil {
				e.logger.Error("reaper tick failed", "error", err)
			}
		}
	}
}
