package app

import (
	"context"

	"github.com/spf13/cobra"
)

var (
	lockVersion string

	lockEnvironmentCmd = &cobra.Command{
		Use:   "lock-environment [application]",
		Short: "Snapshot an installed environment",
		Long: `Resolves an installed environment's exact package set with conda-lock
and records it as a snapshot that restore and revert can rebuild from.
By default the current version is snapshotted; --version picks another
installed one. When the environment has not changed since the last
snapshot, nothing new is recorded and the covering snapshot is reported.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runLockEnvironment,
	}
)

func init() {
	lockEnvironmentCmd.Flags().StringVar(&lockVersion, "version", "", "version to snapshot (default: current)")
	RootCmd.AddCommand(lockEnvironmentCmd)
}

func runLockEnvironment(cmd *cobra.Command, args []string) error {
	return runLocked("lock-environment", args, func(ctx context.Context, s *session) (any, []string, error) {
		m, err := s.engine()
		if err != nil {
			return nil, nil, err
		}
		res, err := m.LockEnvironment(ctx, lockVersion, s.pluginsURL)
		if err != nil {
			return nil, nil, err
		}
		return res, nil, nil
	})
}
