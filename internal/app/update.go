package app

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/appenv/internal/actions"
)

var (
	updateDelayed bool
	updateDev     bool

	updateCmd = &cobra.Command{
		Use:   "update [application]",
		Short: "Install the latest version next to the current one",
		Long: `Installs the newest channel version into a fresh environment, snapshots
it, creates its shortcut and marks it current, then retires the old
environment. The old version stays usable until the new one is marked, so
a failed update never leaves the application broken.

With --delayed the heavy work still happens now, but the shortcut swap
and old-environment removal wait: the new environment is installed and
marked while the running version keeps its shortcut. Run update --delayed
again after the application restarts (with the running version pinned in
the spec) to finish the swap.`,
		Example: `  # Plain update
  appenv update napari

  # Two-phase update around an application restart
  appenv update napari=0.4.16 --delayed     # phase 1: install
  appenv update napari=0.4.16 --delayed     # phase 2: after restart`,
		Args: cobra.MaximumNArgs(1),
		RunE: runUpdate,
	}
)

func init() {
	updateCmd.Flags().BoolVar(&updateDelayed, "delayed", false, "defer the shortcut swap and old-environment removal to a second run")
	updateCmd.Flags().BoolVar(&updateDev, "dev", false, "include pre-release versions")
	RootCmd.AddCommand(updateCmd)
}

func runUpdate(cmd *cobra.Command, args []string) error {
	return runLocked("update", args, func(ctx context.Context, s *session) (any, []string, error) {
		m, err := s.engine()
		if err != nil {
			return nil, nil, err
		}
		res, err := m.Update(ctx, actions.UpdateOptions{
			Delayed:         updateDelayed,
			IncludeUnstable: updateDev,
			PluginsURL:      s.pluginsURL,
		})
		if err != nil {
			return nil, nil, err
		}
		return res, res.Warnings, nil
	})
}
