// Package reaper implements the Idle Workspace Reaper: a single background
// tick that classifies running workspaces by idle duration and stops the
// ones that cross the configured threshold.
package reaper

import (
	"sync"
	"time"

	"go.uber.org/atomic"
)

const maxRecentActions = 50

// Action records one idle classification outcome for the status surface.
type Action struct {
	WorkspaceID string    `json:"workspace_id"`
	Owner       string    `json:"owner_name"`
	Action      string    `json:"action"`
	Error       string    `json:"error,omitempty"`
	At          time.Time `json:"at"`
}

// State is the reaper's in-memory status, written only by the tick goroutine
// and read concurrently by the HTTP status handler. Readers always observe a
// consistent snapshot of each field.
type State struct {
	totalChecks atomic.Int64
	totalStops  atomic.Int64
	lastTick    atomic.Time
	lastError   atomic.String

	mu            sync.Mutex
	recentActions []Action
	idleCount     int
}

// NewState builds an empty State.
func NewState() *State {
	return &State{}
}

// RecordTick stamps the completion time of a classification pass.
func (s *State) RecordTick(at time.Time, idleCount int) {
	s.lastTick.Store(at)
	s.mu.Lock()
	s.idleCount = idleCount
	s.mu.Unlock()
}

// RecordCheck increments the running total of workspaces classified.
func (s *State) RecordCheck() {
	s.totalChecks.Inc()
}

// RecordAction appends an action outcome to the bounded recent-actions ring
// and, on success, increments the running total of stops.
func (s *State) RecordAction(a Action, stopped bool) {
	if stopped {
		s.totalStops.Inc()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recentActions = append(s.recentActions, a)
	if len(s.recentActions) > maxRecentActions {
		s.recentActions = s.recentActions[len(s.recentActions)-maxRecentActions:]
	}
}

// RecordError stamps the most recent tick-level failure, or clears it on a
// successful tick.
func (s *State) RecordError(err error) {
	if err == nil {
		s.lastError.Store("")
		return
	}
	s.lastError.Store(err.Error())
}

// Snapshot is the read-only view exposed by the status endpoint.
type Snapshot struct {
	TotalChecks   int64     `json:"total_checks"`
	TotalStops    int64     `json:"total_stops"`
	LastTick      time.Time `json:"last_tick"`
	LastError     string    `json:"last_error,omitempty"`
	IdleCount     int       `json:"idle_workspace_count"`
	RecentActions []Action  `json:"recent_actions"`
}

// Snapshot returns a consistent copy of the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	actions := make([]Action, len(s.recentActions))
	copy(actions, s.recentActions)
	return Snapshot{
		TotalChecks:   s.totalChecks.Load(),
		TotalStops:    s.totalStops.Load(),
		LastTick:      s.lastTick.Load(),
		LastError:     s.lastError.Load(),
		IdleCount:     s.idleCount,
		RecentActions: actions,
	}
}
