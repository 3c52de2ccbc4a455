package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wesleyorama2/trackload/internal/config"
	"github.com/wesleyorama2/trackload/internal/logging"
)

var version = "0.1.0"

// errRunFailed signals a completed run that did not pass. The summary has
// already been printed, so Execute only sets the exit status.
var errRunFailed = errors.New("run failed")

// NewRootCmd builds the trackload command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "trackload",
		Short:   "Load generator for ticket-tracking REST APIs",
		Version: version,
		Long: `trackload simulates a population of virtual users working a ticket tracker:
creating issues, adding notes, reading details, searching and updating fields
with randomized think time, and reports per-operation counts, failures and
latency percentiles.

Connection settings come from environment variables (JIRA_BASE_URL,
JIRA_USERNAME, JIRA_API_TOKEN or JIRA_PASSWORD, PROJECT_KEY, ...), a .env file
in the working directory, or the file given with --config.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	root.PersistentFlags().StringP("config", "c", "", "Connection config file (.env, YAML, JSON or TOML)")
	root.PersistentFlags().String("log", logging.ModeNop, fmt.Sprintf("Log mode: %v", logging.Modes()))

	root.AddCommand(
		newRunCmd(),
		newCheckCmd(),
		newMockCmd(),
		newHistoryCmd(),
		newProfilesCmd(),
	)
	return root
}

// Execute runs the root command and returns the process exit status.
func Execute() int {
	if err := NewRootCmd().Execute(); err != nil {
		if !errors.Is(err, errRunFailed) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		return 1
	}
	return 0
}

func newLogger(cmd *cobra.Command) (*zap.Logger, error) {
	mode, _ := cmd.Flags().GetString("log")
	return logging.New(mode)
}

// loadConnection reads and validates the connection settings, printing
// warnings to stderr.
func loadConnection(cmd *cobra.Command) (config.ConnectionDescriptor, error) {
	configFile, _ := cmd.Flags().GetString("config")
	v, err := config.NewViper(configFile)
	if err != nil {
		return config.ConnectionDescriptor{}, err
	}

	conn, warnings, err := config.LoadConnection(v)
	for _, w := range warnings {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", w)
	}
	if err != nil {
		return config.ConnectionDescriptor{}, fmt.Errorf("invalid connection settings: %w", err)
	}
	return conn, nil
}
