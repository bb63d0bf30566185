package app

import (
	"context"

	"github.com/spf13/cobra"
)

var (
	restoreSnapshot string

	restoreCmd = &cobra.Command{
		Use:   "restore [application]",
		Short: "Rebuild the current version from a snapshot",
		Long: `Tears down the current version's environment and rebuilds it from a
lock snapshot, reproducing the exact package set recorded at lock time.
By default the newest snapshot of the current version is used; --snapshot
picks a specific one (ids come from the status command).`,
		Args: cobra.MaximumNArgs(1),
		RunE: runRestore,
	}
)

func init() {
	restoreCmd.Flags().StringVar(&restoreSnapshot, "snapshot", "", "snapshot id to restore (default: newest for the current version)")
	RootCmd.AddCommand(restoreCmd)
}

func runRestore(cmd *cobra.Command, args []string) error {
	return runLocked("restore", args, func(ctx context.Context, s *session) (any, []string, error) {
		m, err := s.engine()
		if err != nil {
			return nil, nil, err
		}
		res, err := m.Restore(ctx, restoreSnapshot)
		if err != nil {
			return nil, nil, err
		}
		return res, res.Warnings, nil
	})
}
