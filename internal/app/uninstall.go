package app

import (
	"context"

	"github.com/spf13/cobra"
)

var uninstallCmd = &cobra.Command{
	Use:   "uninstall [application]",
	Short: "Remove every environment and all recorded state",
	Long: `Removes every installed version of the application, its shortcuts, its
broken leftovers and the snapshots recorded for it. Only the application's
own environments are touched; the base prefix and other applications stay
as they are.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runUninstall,
}

func init() {
	RootCmd.AddCommand(uninstallCmd)
}

func runUninstall(cmd *cobra.Command, args []string) error {
	return runLocked("uninstall", args, func(ctx context.Context, s *session) (any, []string, error) {
		m, err := s.engine()
		if err != nil {
			return nil, nil, err
		}
		res, err := m.Uninstall(ctx)
		if err != nil {
			return nil, nil, err
		}
		return res, res.Warnings, nil
	})
}
