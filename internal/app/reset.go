package app

import (
	"context"

	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset [application]",
	Short: "Reinstall the current version from scratch",
	Long: `Removes the current version's environment and every broken leftover,
then installs the version fresh from the channel. When nothing is
installed the latest channel version is installed instead. This is the
repair of last resort for an environment damaged beyond restore.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReset,
}

func init() {
	RootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	return runLocked("reset", args, func(ctx context.Context, s *session) (any, []string, error) {
		m, err := s.engine()
		if err != nil {
			return nil, nil, err
		}
		res, err := m.Reset(ctx)
		if err != nil {
			return nil, nil, err
		}
		return res, res.Warnings, nil
	})
}
