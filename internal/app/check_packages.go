package app

import (
	"context"

	"github.com/spf13/cobra"
)

var checkPackagesCmd = &cobra.Command{
	Use:   "check-packages [application]",
	Short: "List the packages of the current environment",
	Long: `Lists every package installed in the current version's environment.
When a plugin index is configured, packages named by it are flagged as
related so callers can tell application plugins from plain dependencies.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCheckPackages,
}

func init() {
	RootCmd.AddCommand(checkPackagesCmd)
}

func runCheckPackages(cmd *cobra.Command, args []string) error {
	return runRead(args, func(ctx context.Context, s *session) (any, error) {
		m, err := s.engine()
		if err != nil {
			return nil, err
		}
		return m.CheckPackages(ctx, s.pluginsURL)
	})
}
