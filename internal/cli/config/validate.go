package config

import (
	"fmt"

	"github.com/leapstack-labs/querylineage/internal/cli/output"
	"github.com/leapstack-labs/querylineage/pkg/core"
	"github.com/leapstack-labs/querylineage/pkg/dialect"
	"github.com/leapstack-labs/querylineage/pkg/filter"
)

// Validate checks the options every command depends on. Errors wrap
// core.ErrInvalidConfiguration.
func (c *Config) Validate() error {
	if !output.Valid(c.OutputFormat) {
		return core.InvalidConfigf("unknown output format %q (want one of %v)", c.OutputFormat, output.Modes)
	}
	if c.StatePath == "" {
		return core.InvalidConfigf("state_path is required")
	}
	if c.Server.Refresh < 0 {
		return core.InvalidConfigf("server.refresh must not be negative, got %s", c.Server.Refresh)
	}
	if c.Server.Watch && (c.Source.Type != "file" || c.Source.Path == "") {
		return core.InvalidConfigf("server.watch requires the file source with source.path set")
	}
	return nil
}

// ValidateExtract checks the options needed to extract lineage.
func (c *Config) ValidateExtract() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.LookbackDays < 0 {
		return core.InvalidConfigf("lookback_days must be >= 0, got %d", c.LookbackDays)
	}
	if c.Workers < 0 {
		return core.InvalidConfigf("workers must be >= 0, got %d", c.Workers)
	}
	if c.QueueSize < 0 {
		return core.InvalidConfigf("queue_size must be >= 0, got %d", c.QueueSize)
	}
	if c.MaxQuerySamples < 0 {
		return core.InvalidConfigf("max_query_samples must be >= 0, got %d", c.MaxQuerySamples)
	}
	if _, err := c.ResolveDialect(); err != nil {
		return err
	}
	if c.Filter != "" {
		if _, err := filter.Compile(c.Filter); err != nil {
			return err
		}
	}
	return nil
}

// ResolveDialect returns the configured dialect with the default-schema
// policy and push-down log filter applied.
func (c *Config) ResolveDialect() (*dialect.Dialect, error) {
	d, err := dialect.MustGet(c.Dialect)
	if err != nil {
		return nil, err
	}
	if c.DefaultSchemaPolicy != "" {
		policy, err := dialect.ParseSentinelPolicy(c.DefaultSchemaPolicy)
		if err != nil {
			return nil, err
		}
		d = d.WithSentinelPolicy(policy)
	}
	if c.LogFilter != "" {
		d = d.WithLogFilter(c.LogFilter)
	}
	return d, nil
}

// Describe returns a one-line summary for verbose output.
func (c *Config) Describe() string {
	return fmt.Sprintf("dialect=%s lookback_days=%d source=%s state=%s",
		c.Dialect, c.LookbackDays, c.Source.Type, c.StatePath)
}
