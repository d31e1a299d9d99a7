package config

import (
	"fmt"
	"strings"
)

// Validate checks the configuration for values the pipeline cannot run with.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Paths.DataRoot) == "" {
		problems = append(problems, "paths.data_root must be set")
	}
	if strings.TrimSpace(c.Paths.PromptsDir) == "" {
		problems = append(problems, "paths.prompts_dir must be set")
	}
	switch c.Pipeline.Version {
	case 1, 2:
	default:
		problems = append(problems, fmt.Sprintf("pipeline.version %d is not supported (1 = legacy, 2 = v2)", c.Pipeline.Version))
	}
	if c.Pipeline.MaxEpisodeCostUSD <= 0 {
		problems = append(problems, "pipeline.max_episode_cost_usd must be positive")
	}
	if c.Pipeline.MaxRetries < 0 {
		problems = append(problems, "pipeline.max_retries must not be negative")
	}
	if c.Pipeline.RunPendingLimit < 1 {
		problems = append(problems, "pipeline.run_pending_limit must be at least 1")
	}
	if c.Review.AutoApproveCorrections && c.Review.AutoApproveMaxChanges < 1 {
		problems = append(problems, "review.auto_approve_max_changes must be at least 1 when auto-approve is enabled")
	}
	if c.LLM.InputCostPerMTok < 0 || c.LLM.OutputCostPerMTok < 0 {
		problems = append(problems, "llm token prices must not be negative")
	}
	if c.Render.SegmentTimeoutSeconds < 1 {
		problems = append(problems, "render.segment_timeout_seconds must be at least 1")
	}
	if c.Render.ConcatTimeoutSeconds < 1 {
		problems = append(problems, "render.concat_timeout_seconds must be at least 1")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}
