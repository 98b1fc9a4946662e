package core

import "github.com/JonMunkholm/catalogimport/internal/config"

// ConfigFrom maps the application configuration onto service limits.
// Zero values fall back to DefaultConfig in New.
func ConfigFrom(c *config.Config) Config {
	return Config{
		DefaultChunkSize:      c.Import.DefaultChunkSize,
		DefaultMaxMinutes:     c.Import.DefaultMaxMinutes,
		DryRunSampleSize:      c.Import.DryRunSampleSize,
		AutoAdvanceScore:      c.Import.AutoAdvanceScore,
		MappingCoverageFloor:  c.Import.MappingCoverageFloor,
		GroupingMinConfidence: c.Import.GroupingMinConfidence,
		ErrorLogLimit:         c.Import.ErrorLogLimit,

		MaxFileSize:       c.Upload.MaxFileSize,
		AllowedExtensions: c.Upload.AllowedExtensions,
		MaxConcurrent:     c.Upload.MaxConcurrent,
		MaxWaitTime:       c.Upload.MaxWaitTime,

		TaskRetries:       c.Queue.MaxRetries,
		StaleAfter:        c.Sweeper.StaleAfter,
		ArtifactRetention: c.Sweeper.ArtifactRetention,
	}
}
