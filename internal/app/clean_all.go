package app

import (
	"context"

	"github.com/spf13/cobra"
)

var cleanAllCmd = &cobra.Command{
	Use:   "clean-all [application]",
	Short: "Delete broken environments",
	Long: `Deletes every environment of the application that is not marked as a
managed install: half-built environments from interrupted updates and
leftovers already retired by a previous removal. Marked environments are
never touched.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCleanAll,
}

func init() {
	RootCmd.AddCommand(cleanAllCmd)
}

func runCleanAll(cmd *cobra.Command, args []string) error {
	return runLocked("clean-all", args, func(ctx context.Context, s *session) (any, []string, error) {
		m, err := s.engine()
		if err != nil {
			return nil, nil, err
		}
		res, err := m.CleanAll(ctx)
		if err != nil {
			return nil, nil, err
		}
		return res, res.Warnings, nil
	})
}
