package mcp

import (
	"context"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/vigil/internal/interfaces"
	"github.com/ternarybob/vigil/internal/models"
	"github.com/ternarybob/vigil/internal/services/dashboard"
)

type fakeSource struct {
	snapshots []*models.Snapshot
}

func (f *fakeSource) LatestSnapshot(ctx context.Context) (*models.Snapshot, error) {
	if len(f.snapshots) == 0 {
		return nil, interfaces.ErrSnapshotNotFound
	}
	return f.snapshots[0], nil
}

func (f *fakeSource) SnapshotHistory(ctx context.Context, limit int) ([]*models.Snapshot, error) {
	if limit < len(f.snapshots) {
		return f.snapshots[:limit], nil
	}
	return f.snapshots, nil
}

func (f *fakeSource) Periods(count int) []models.WeekPeriod {
	return dashboard.RecentPeriods(time.Date(2025, 10, 22, 12, 0, 0, 0, time.UTC), count)
}

func ptr(v float64) *float64 { return &v }

func testSnapshot() *models.Snapshot {
	return &models.Snapshot{
		ID:          "snap_1",
		CreatedUnix: 1761134400,
		Interval:    models.NewTimeInterval(1760529600, 1761134400),
		Data: models.DashboardData{
			TotalEvents: 3200,
			TotalUsers:  700,
			LoginStats:  &models.LoginStats{TotalLogins: 50, UniqueLoginUsers: 20, NewUsers: 5, ReturningUsers: 15},
			Bots: []models.BotInteraction{
				{SlugID: "quiet", EventCount: 200, UniqueUsers: ptr(100), AvgActivity: ptr(2)},
				{SlugID: "loud", EventCount: 3000, UniqueUsers: ptr(600), AvgActivity: ptr(5)},
			},
		},
	}
}

func callTool(t *testing.T, source SnapshotSource, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()

	c, err := client.NewInProcessClient(NewServer(source, arbor.NewLogger()))
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Start(ctx))

	init := mcp.InitializeRequest{}
	init.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	init.Params.ClientInfo = mcp.Implementation{Name: "test", Version: "0.0.1"}
	_, err = c.Initialize(ctx, init)
	require.NoError(t, err)

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	result, err := c.CallTool(ctx, req)
	require.NoError(t, err)
	return result
}

func text(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	tc, ok := mcp.AsTextContent(result.Content[0])
	require.True(t, ok)
	return tc.Text
}

func TestLatestSnapshot(t *testing.T) {
	source := &fakeSource{snapshots: []*models.Snapshot{testSnapshot()}}

	result := callTool(t, source, "latest_snapshot", map[string]interface{}{"limit": 1})
	require.False(t, result.IsError)

	out := text(t, result)
	assert.Contains(t, out, "# Snapshot snap_1")
	assert.Contains(t, out, "**Total events:** 3200")
	assert.Contains(t, out, "Returning users: 15")
	assert.Contains(t, out, "| loud | 3000 | 600 | 5.0 |")
	assert.NotContains(t, out, "| quiet |")
	assert.Contains(t, out, "...and 1 more")
}

func TestLatestSnapshot_NoneStored(t *testing.T) {
	result := callTool(t, &fakeSource{}, "latest_snapshot", nil)
	assert.True(t, result.IsError)
	assert.Contains(t, text(t, result), "No snapshot stored yet")
}

func TestFilterBots(t *testing.T) {
	tests := []struct {
		name      string
		preset    string
		wantError bool
		want      string
		notWant   string
	}{
		{name: "hot", preset: "hot", want: "| loud |", notWant: "| quiet |"},
		{name: "all", preset: "", want: "| quiet |"},
		{name: "unknown preset", preset: "viral", wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := &fakeSource{snapshots: []*models.Snapshot{testSnapshot()}}
			result := callTool(t, source, "filter_bots", map[string]interface{}{"preset": tt.preset})

			if tt.wantError {
				assert.True(t, result.IsError)
				return
			}
			require.False(t, result.IsError)
			out := text(t, result)
			assert.Contains(t, out, tt.want)
			if tt.notWant != "" {
				assert.NotContains(t, out, tt.notWant)
			}
		})
	}
}

func TestSnapshotHistoryAndPeriods(t *testing.T) {
	older := testSnapshot()
	older.ID = "snap_0"
	older.Data.Degraded = true
	source := &fakeSource{snapshots: []*models.Snapshot{testSnapshot(), older}}

	out := text(t, callTool(t, source, "snapshot_history", map[string]interface{}{"limit": 5}))
	assert.Contains(t, out, "# Snapshots (2)")
	assert.Contains(t, out, "2. **snap_0**")
	assert.Contains(t, out, "(degraded)")

	out = text(t, callTool(t, source, "recent_periods", map[string]interface{}{"count": 2}))
	assert.Contains(t, out, "Last 9 days")
	assert.Contains(t, out, "Previous 9 days")
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 1, clamp(-3, 1, 10))
	assert.Equal(t, 10, clamp(99, 1, 10))
	assert.Equal(t, 4, clamp(4, 1, 10))
}
