package commands

import (
	"runtime"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/querylineage/internal/cli/output"
)

// VersionJSON is the JSON output of the version command.
type VersionJSON struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
}

// NewVersionCommand creates the version command.
func NewVersionCommand(version, commit, date string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r := NewCommandContext(cmd).Renderer
			v := VersionJSON{Version: version, GitCommit: commit, BuildDate: date, GoVersion: runtime.Version()}
			if r.EffectiveMode() == output.ModeJSON {
				return r.JSON(v)
			}
			r.Printf("querylineage %s (commit %s, built %s, %s)\n", v.Version, v.GitCommit, v.BuildDate, v.GoVersion)
			return nil
		},
	}
}
