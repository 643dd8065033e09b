package common

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"
)

// PrintBanner displays the application banner and the resolved upstream settings
func PrintBanner(config *Config, logger arbor.ILogger) {
	banner.PrintSimple("Vigil", GetVersion())

	logger.Info().
		Str("mcp_url", config.MCP.URL).
		Str("dataset", config.Honeycomb.DatasetSlug).
		Str("batch_width", config.Batching.BatchWidth).
		Str("merge_policy", config.Batching.MergePolicy).
		Bool("scheduler", config.Scheduler.Enabled).
		Msg("Vigil configuration")
}
