package reaper

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisbric/aegis/pkg/workspacehost"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeHost struct {
	workspaces []workspacehost.WorkspaceSnapshot
	stopped    []string
	stopErr    error
}

func (f *fakeHost) UserInfo(ctx context.Context, sessionToken string) (*workspacehost.UserInfo, error) {
	return nil, nil
}

func (f *fakeHost) ListWorkspaces(ctx context.Context, offset, limit int) (*workspacehost.WorkspacePage, error) {
	end := offset + limit
	if end > len(f.workspaces) {
		end = len(f.workspaces)
	}
	if offset > len(f.workspaces) {
		offset = len(f.workspaces)
	}
	return &workspacehost.WorkspacePage{
		Workspaces: f.workspaces[offset:end],
		Total:      len(f.workspaces),
	}, nil
}

func (f *fakeHost) StopWorkspace(ctx context.Context, id string) error {
	if f.stopErr != nil {
		return f.stopErr
	}
	f.stopped = append(f.stopped, id)
	return nil
}

func ptrTime(t time.Time) *time.Time { return &t }

func TestTick_SkipsExcludedOwner(t *testing.T) {
	now := time.Now()
	host := &fakeHost{workspaces: []workspacehost.WorkspaceSnapshot{
		{ID: "ws-1", OwnerName: "ci-bot", LatestBuild: workspacehost.LatestBuild{CreatedAt: now.Add(-2 * time.Hour)}, LastUsedAt: ptrTime(now.Add(-2 * time.Hour))},
	}}
	state := NewState()
	e := NewEngine(host, testLogger(), state, Config{
		IdleTimeout:    30 * time.Minute,
		GracePeriod:    5 * time.Minute,
		ExcludedOwners: map[string]bool{"ci-bot": true},
	})

	require.NoError(t, e.Tick(context.Background()))
	assert.Empty(t, host.stopped)
	assert.Equal(t, 0, state.Snapshot().IdleCount)
}

func TestTick_SkipsWithinGracePeriod(t *testing.T) {
	now := time.Now()
	host := &fakeHost{workspaces: []workspacehost.WorkspaceSnapshot{
		{ID: "ws-2", OwnerName: "alice", LatestBuild: workspacehost.LatestBuild{CreatedAt: now.Add(-1 * time.Minute)}},
	}}
	state := NewState()
	e := NewEngine(host, testLogger(), state, Config{
		IdleTimeout: 10 * time.Minute,
		GracePeriod: 5 * time.Minute,
	})

	require.NoError(t, e.Tick(context.Background()))
	assert.Empty(t, host.stopped)
}

func TestTick_SkipsWithoutAnyTimestamp(t *testing.T) {
	host := &fakeHost{workspaces: []workspacehost.WorkspaceSnapshot{
		{ID: "ws-3", OwnerName: "bob", LatestBuild: workspacehost.LatestBuild{}},
	}}
	state := NewState()
	e := NewEngine(host, testLogger(), state, Config{
		IdleTimeout: 10 * time.Minute,
		GracePeriod: 5 * time.Minute,
	})

	require.NoError(t, e.Tick(context.Background()))
	assert.Empty(t, host.stopped)
}

func TestTick_StopsIdleWorkspace(t *testing.T) {
	now := time.Now()
	host := &fakeHost{workspaces: []workspacehost.WorkspaceSnapshot{
		{
			ID:          "ws-4",
			OwnerName:   "carol",
			LatestBuild: workspacehost.LatestBuild{CreatedAt: now.Add(-2 * time.Hour)},
			LastUsedAt:  ptrTime(now.Add(-1 * time.Hour)),
		},
	}}
	state := NewState()
	e := NewEngine(host, testLogger(), state, Config{
		IdleTimeout: 30 * time.Minute,
		GracePeriod: 5 * time.Minute,
	})

	require.NoError(t, e.Tick(context.Background()))
	assert.Equal(t, []string{"ws-4"}, host.stopped)
	assert.EqualValues(t, 1, state.Snapshot().TotalStops)
}

func TestTick_DryRunNeverStops(t *testing.T) {
	now := time.Now()
	host := &fakeHost{workspaces: []workspacehost.WorkspaceSnapshot{
		{
			ID:          "ws-5",
			OwnerName:   "dave",
			LatestBuild: workspacehost.LatestBuild{CreatedAt: now.Add(-2 * time.Hour)},
			LastUsedAt:  ptrTime(now.Add(-1 * time.Hour)),
		},
	}}
	state := NewState()
	e := NewEngine(host, testLogger(), state, Config{
		IdleTimeout: 30 * time.Minute,
		GracePeriod: 5 * time.Minute,
		DryRun:      true,
	})

	require.NoError(t, e.Tick(context.Background()))
	assert.Empty(t, host.stopped)
	snap := state.Snapshot()
	require.Len(t, snap.RecentActions, 1)
	assert.Equal(t, actionWouldStop, snap.RecentActions[0].Action)
}

func TestTick_PaginatesThroughAllWorkspaces(t *testing.T) {
	now := time.Now()
	var workspaces []workspacehost.WorkspaceSnapshot
	for i := 0; i < 120; i++ {
		workspaces = append(workspaces, workspacehost.WorkspaceSnapshot{
			ID:          "ws-page",
			OwnerName:   "excluded",
			LatestBuild: workspacehost.LatestBuild{CreatedAt: now},
		})
	}
	host := &fakeHost{workspaces: workspaces}
	state := NewState()
	e := NewEngine(host, testLogger(), state, Config{
		IdleTimeout:    30 * time.Minute,
		GracePeriod:    5 * time.Minute,
		ExcludedOwners: map[string]bool{"excluded": true},
	})

	require.NoError(t, e.Tick(context.Background()))
	assert.EqualValues(t, 120, state.Snapshot().TotalChecks)
}
