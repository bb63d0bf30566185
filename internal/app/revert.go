package app

import (
	"context"

	"github.com/spf13/cobra"
)

var revertCmd = &cobra.Command{
	Use:   "revert [application]",
	Short: "Roll back to the previous version's snapshot",
	Long: `Rebuilds the nearest older version that has a lock snapshot and makes it
current, then removes the version being rolled back from. Only versions
that were snapshotted (update and lock-environment do this) can be
reverted to.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRevert,
}

func init() {
	RootCmd.AddCommand(revertCmd)
}

func runRevert(cmd *cobra.Command, args []string) error {
	return runLocked("revert", args, func(ctx context.Context, s *session) (any, []string, error) {
		m, err := s.engine()
		if err != nil {
			return nil, nil, err
		}
		res, err := m.Revert(ctx)
		if err != nil {
			return nil, nil, err
		}
		return res, res.Warnings, nil
	})
}
