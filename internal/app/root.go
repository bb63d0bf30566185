// Package app wires the command-line façade. Every command prints exactly
// one JSON envelope {"data": ..., "error": ...} on stdout so a driving
// process can parse the outcome, including failures, from a zero exit.
// Progress and logs go to stderr and the log file, never stdout.
package app

import (
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/appenv/internal/config"
	"github.com/blackwell-systems/appenv/internal/logging"
)

var (
	configRoot   string
	basePrefix   string
	channels     []string
	pluginsURL   string
	condaBin     string
	condaTimeout time.Duration
	logLevel     string
	logFile      string

	// RootCmd is the appenv root command.
	RootCmd = &cobra.Command{
		Use:   "appenv",
		Short: "Versioned environment manager for conda-packaged applications",
		Long: `appenv installs, updates and repairs versioned environments for a
conda-packaged desktop application. Each version lives in its own
environment named <application>-<version> under the base prefix, marked
with a sentinel file; updates install the new version next to the old one
and only then retire it, so a failed update never leaves the application
unusable.

Every command writes a single JSON object to stdout:

  {
      "data": { ... },
      "error": ""
  }

Errors are reported inside that envelope with a zero exit code, so the
calling application can always parse the result. Mutating commands take a
transition lock; a second instance reports "Another instance is running"
and exits without touching anything.

The application argument is a conda spec, e.g. "napari" or
"napari=0.4.16=*pyside*". It can be omitted when the settings file names
one.`,
		Example: `  # What does the channel offer?
  appenv check-updates napari=0.4.16

  # Install the newest version, keep the running one until restart
  appenv update napari=0.4.16 --delayed

  # Snapshot, roll back, repair
  appenv lock-environment napari
  appenv revert napari=0.4.17
  appenv reset napari

  # Observe the environment tree
  appenv status napari
  appenv watch napari --daemon`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			root, err := config.Root(configRoot)
			if err != nil {
				return err
			}
			path := logFile
			if path == "" {
				path = filepath.Join(config.LogDir(root), "appenv.log")
			}
			return logging.Init(logLevel, path)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
)

func init() {
	RootCmd.PersistentFlags().StringVar(&configRoot, "config-root", "", "configuration directory (default: $APPENV_HOME or ~/.appenv)")
	RootCmd.PersistentFlags().StringVar(&basePrefix, "base-prefix", "", "base prefix containing the envs directory")
	RootCmd.PersistentFlags().StringArrayVar(&channels, "channel", nil, "package channel, repeatable (default: settings or conda-forge)")
	RootCmd.PersistentFlags().StringVar(&pluginsURL, "plugins-url", "", "plugin index used to label related packages")
	RootCmd.PersistentFlags().StringVar(&condaBin, "conda-bin", "", "package manager executable (default: mamba, conda or micromamba on PATH)")
	RootCmd.PersistentFlags().DurationVar(&condaTimeout, "timeout", 0, "package manager operation timeout (default: 1h)")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log verbosity")
	RootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "log file path (default: <config-root>/log/appenv.log)")

	RootCmd.SuggestionsMinimumDistance = 2
}

// Execute runs the root command.
func Execute() error {
	return RootCmd.Execute()
}
