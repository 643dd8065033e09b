// Package mcp exposes stored dashboard snapshots as MCP tools so agents can
// read bot activity without re-running the upstream queries.
package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/vigil/internal/common"
	"github.com/ternarybob/vigil/internal/interfaces"
	"github.com/ternarybob/vigil/internal/models"
	"github.com/ternarybob/vigil/internal/services/dashboard"
)

const (
	defaultBotLimit     = 20
	maxBotLimit         = 200
	defaultHistoryLimit = 10
	maxHistoryLimit     = 100
)

// SnapshotSource is the read side of the dashboard service
type SnapshotSource interface {
	LatestSnapshot(ctx context.Context) (*models.Snapshot, error)
	SnapshotHistory(ctx context.Context, limit int) ([]*models.Snapshot, error)
	Periods(count int) []models.WeekPeriod
}

// NewServer creates an MCP server with the snapshot tools registered
func NewServer(source SnapshotSource, logger arbor.ILogger) *server.MCPServer {
	s := server.NewMCPServer(
		"vigil",
		common.GetVersion(),
		server.WithToolCapabilities(true),
	)

	s.AddTool(latestSnapshotTool(), handleLatestSnapshot(source, logger))
	s.AddTool(snapshotHistoryTool(), handleSnapshotHistory(source, logger))
	s.AddTool(filterBotsTool(), handleFilterBots(source, logger))
	s.AddTool(recentPeriodsTool(), handleRecentPeriods(source))

	return s
}

func latestSnapshotTool() mcp.Tool {
	return mcp.NewTool("latest_snapshot",
		mcp.WithDescription("Summarize the most recent dashboard snapshot: totals, login stats, funnel and top bots"),
		mcp.WithNumber("limit",
			mcp.Description("Number of top bots to list (default: 20, max: 200)"),
		),
	)
}

func snapshotHistoryTool() mcp.Tool {
	return mcp.NewTool("snapshot_history",
		mcp.WithDescription("List stored snapshots, newest first"),
		mcp.WithNumber("limit",
			mcp.Description("Maximum snapshots to list (default: 10, max: 100)"),
		),
	)
}

func filterBotsTool() mcp.Tool {
	return mcp.NewTool("filter_bots",
		mcp.WithDescription("Filter bots of the latest snapshot by preset and report the matching totals"),
		mcp.WithString("preset",
			mcp.Description("One of: all, hot, high-activity, emerging, popular"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Number of matching bots to list (default: 20, max: 200)"),
		),
	)
}

func recentPeriodsTool() mcp.Tool {
	return mcp.NewTool("recent_periods",
		mcp.WithDescription("List rolling 9-day periods ending today, newest first"),
		mcp.WithNumber("count",
			mcp.Description("Number of periods (default: 4, max: 52)"),
		),
	)
}

func handleLatestSnapshot(source SnapshotSource, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := clamp(request.GetInt("limit", defaultBotLimit), 1, maxBotLimit)

		snapshot, err := source.LatestSnapshot(ctx)
		if err != nil {
			return snapshotError(err, logger), nil
		}

		return mcp.NewToolResultText(formatSnapshot(snapshot, limit)), nil
	}
}

func handleSnapshotHistory(source SnapshotSource, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := clamp(request.GetInt("limit", defaultHistoryLimit), 1, maxHistoryLimit)

		snapshots, err := source.SnapshotHistory(ctx, limit)
		if err != nil {
			logger.Error().Err(err).Msg("Snapshot history failed")
			return mcp.NewToolResultError(fmt.Sprintf("History error: %v", err)), nil
		}

		return mcp.NewToolResultText(formatHistory(snapshots)), nil
	}
}

func handleFilterBots(source SnapshotSource, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		preset, err := dashboard.ParsePreset(request.GetString("preset", ""))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		limit := clamp(request.GetInt("limit", defaultBotLimit), 1, maxBotLimit)

		snapshot, err := source.LatestSnapshot(ctx)
		if err != nil {
			return snapshotError(err, logger), nil
		}

		bots := snapshot.Data.Bots
		ranges := dashboard.PresetRanges(preset, dashboard.DataRanges(bots))
		filtered := dashboard.ApplyFilter(bots, ranges)

		return mcp.NewToolResultText(formatFiltered(preset, ranges, filtered, dashboard.Stats(filtered), limit)), nil
	}
}

func handleRecentPeriods(source SnapshotSource) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		count := clamp(request.GetInt("count", 4), 1, 52)
		return mcp.NewToolResultText(formatPeriods(source.Periods(count))), nil
	}
}

func snapshotError(err error, logger arbor.ILogger) *mcp.CallToolResult {
	if errors.Is(err, interfaces.ErrSnapshotNotFound) {
		return mcp.NewToolResultError("No snapshot stored yet. Run a refresh first.")
	}
	logger.Error().Err(err).Msg("Snapshot read failed")
	return mcp.NewToolResultError(fmt.Sprintf("Snapshot error: %v", err))
}

func clamp(n, lo, hi int) int {
	return max(lo, min(n, hi))
}
