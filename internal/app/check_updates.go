package app

import (
	"context"

	"github.com/spf13/cobra"
)

var (
	checkUpdatesDev bool

	checkUpdatesCmd = &cobra.Command{
		Use:   "check-updates [application]",
		Short: "Query the channel for newer versions",
		Long: `Compares the versions the configured channels publish against the
installed environments and reports whether an update is available. The
current version is the spec's pinned version when given, otherwise the
newest installed one.`,
		Example: `  # The running application asks about itself
  appenv check-updates napari=0.4.16

  # Include alpha/beta/rc builds
  appenv check-updates napari --dev`,
		Args: cobra.MaximumNArgs(1),
		RunE: runCheckUpdates,
	}
)

func init() {
	checkUpdatesCmd.Flags().BoolVar(&checkUpdatesDev, "dev", false, "include pre-release versions")
	RootCmd.AddCommand(checkUpdatesCmd)
}

func runCheckUpdates(cmd *cobra.Command, args []string) error {
	return runRead(args, func(ctx context.Context, s *session) (any, error) {
		m, err := s.engine()
		if err != nil {
			return nil, err
		}
		return m.CheckUpdates(ctx, checkUpdatesDev)
	})
}
