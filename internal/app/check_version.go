package app

import (
	"context"

	"github.com/spf13/cobra"
)

var checkVersionCmd = &cobra.Command{
	Use:   "check-version [application]",
	Short: "Report the installed version and build",
	Long: `Reports the version the manager considers current and the build string
of its installed package, read from the environment's package metadata.
Works offline; the channel is never queried.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCheckVersion,
}

func init() {
	RootCmd.AddCommand(checkVersionCmd)
}

func runCheckVersion(cmd *cobra.Command, args []string) error {
	return runRead(args, func(ctx context.Context, s *session) (any, error) {
		m, err := s.engine()
		if err != nil {
			return nil, err
		}
		return m.CheckVersion()
	})
}
