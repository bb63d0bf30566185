package app

import (
	"context"

	"github.com/spf13/cobra"
)

var (
	openVersion string

	openCmd = &cobra.Command{
		Use:   "open [application]",
		Short: "Launch an installed version",
		Long: `Launches the application through its OS shortcut, falling back to the
environment's binary when no shortcut exists. By default the current
version is opened; --version picks another installed one.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runOpen,
	}
)

func init() {
	openCmd.Flags().StringVar(&openVersion, "version", "", "version to launch (default: current)")
	RootCmd.AddCommand(openCmd)
}

func runOpen(cmd *cobra.Command, args []string) error {
	return runRead(args, func(ctx context.Context, s *session) (any, error) {
		m, err := s.engine()
		if err != nil {
			return nil, err
		}
		return m.Open(openVersion)
	})
}
