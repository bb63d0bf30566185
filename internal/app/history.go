package app

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/appenv/internal/config"
	"github.com/blackwell-systems/appenv/internal/history"
)

var (
	historyLimit int

	historyCmd = &cobra.Command{
		Use:   "history [application]",
		Short: "List recent journaled actions",
		Long: `Lists the mutating commands recently run against the application,
newest first, with their outcome and any warnings they raised. An
application no command has touched yet has an empty history.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runHistory,
	}
)

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of actions to list")
	RootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	return runRead(args, func(ctx context.Context, s *session) (any, error) {
		store, err := history.OpenExisting(config.HistoryPath(s.root))
		if err != nil {
			if errors.Is(err, history.ErrNotInitialized) {
				return []*history.Action{}, nil
			}
			return nil, err
		}
		defer store.Close()

		actions, err := store.Recent(s.spec.Name, historyLimit)
		if err != nil {
			return nil, err
		}
		if actions == nil {
			actions = []*history.Action{}
		}
		return actions, nil
	})
}
