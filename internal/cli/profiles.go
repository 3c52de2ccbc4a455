package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/trackload/internal/config"
	"github.com/wesleyorama2/trackload/internal/performance/executor"
	"github.com/wesleyorama2/trackload/internal/performance/output"
	"github.com/wesleyorama2/trackload/internal/performance/profile"
)

func newProfilesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List the built-in behavior profiles and executors",
		Long: `List the built-in behavior profiles with their operation weights, followed
by the executors a run can use. Profiles whose pacing follows MIN_WAIT_TIME and
MAX_WAIT_TIME show "connection".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			colors := output.ColorsFor(w)

			for _, name := range profile.BuiltinNames() {
				p, err := profile.Builtin(name, config.ConnectionDescriptor{})
				if err != nil {
					return err
				}

				pacing := "connection"
				if p.Pacing.Max > 0 {
					pacing = fmt.Sprintf("%s-%s", p.Pacing.Min, p.Pacing.Max)
				}
				fmt.Fprintf(w, "%s  %s\n", colors.Highlight.Sprint(name), profile.Describe(name))
				fmt.Fprintf(w, "  pacing: %s\n", pacing)

				weights := p.Weights()
				ops := make([]string, 0, len(weights))
				for op := range weights {
					ops = append(ops, op)
				}
				sort.Strings(ops)
				for _, op := range ops {
					fmt.Fprintf(w, "  %-14s %d\n", op, weights[op])
				}
				fmt.Fprintln(w)
			}

			fmt.Fprintln(w, colors.Title.Sprint("Executors:"))
			for _, t := range executor.GetSupportedExecutors() {
				desc := executor.GetExecutorDescription(t)
				fmt.Fprintf(w, "  %s %s\n", colors.Highlight.Sprintf("%-16s", t), desc.Name)
				fmt.Fprintf(w, "  %-16s %s\n", "", desc.Description)
			}
			return nil
		},
	}
}
