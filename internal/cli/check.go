package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/trackload/internal/config"
	httpclient "github.com/wesleyorama2/trackload/internal/http"
	"github.com/wesleyorama2/trackload/internal/performance/output"
	"github.com/wesleyorama2/trackload/internal/tracker"
)

const checkSearchResults = 5

func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify the connection settings before a run",
		Long: `Validate the connection settings, then read the project, run one search and
create one issue. The created issue is not deleted; remove it by hand.

A failed create is reported as a warning since read-only runs still work.
Configuration, project read and search failures exit non-zero.`,
		Args: cobra.NoArgs,
		RunE: runCheck,
	}
	cmd.Flags().String("project", "", "Project key, overrides PROJECT_KEY")
	cmd.Flags().Bool("skip-create", false, "Do not create the test issue")
	return cmd
}

type checkReport struct {
	w       io.Writer
	colors  *output.ColorScheme
	noColor bool
}

func (r *checkReport) step(n int, title string) {
	fmt.Fprintf(r.w, "\n%s\n", r.colors.Title.Sprintf("%d. %s", n, title))
}

func (r *checkReport) ok(format string, args ...interface{}) {
	fmt.Fprintf(r.w, "%s %s\n", output.SuccessIcon(r.noColor), fmt.Sprintf(format, args...))
}

func (r *checkReport) fail(format string, args ...interface{}) {
	fmt.Fprintf(r.w, "%s %s\n", output.ErrorIcon(r.noColor), fmt.Sprintf(format, args...))
}

func (r *checkReport) warn(format string, args ...interface{}) {
	fmt.Fprintf(r.w, "%s %s\n", output.WarningIcon(r.noColor), fmt.Sprintf(format, args...))
}

func (r *checkReport) info(format string, args ...interface{}) {
	fmt.Fprintf(r.w, "%s %s\n", output.InfoIcon(r.noColor), fmt.Sprintf(format, args...))
}

func (r *checkReport) detail(label, value string) {
	fmt.Fprintf(r.w, "   %s %s\n", r.colors.Label.Sprintf("%-12s", label+":"), value)
}

func runCheck(cmd *cobra.Command, _ []string) error {
	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	w := cmd.OutOrStdout()
	colors := output.ColorsFor(w)
	r := &checkReport{w: w, colors: colors, noColor: !output.IsTerminal(w)}

	fmt.Fprintln(w, colors.Highlight.Sprint("=== trackload configuration check ==="))

	r.step(1, "Configuration")
	conn, err := loadConnection(cmd)
	if err != nil {
		r.fail("%v", err)
		return err
	}
	if project, _ := cmd.Flags().GetString("project"); project != "" {
		conn = conn.WithProject(project)
	}
	r.ok("configuration is valid")
	r.detail("Server", conn.BaseURL())
	r.detail("Username", conn.Username())
	r.detail("Project", conn.ProjectKey())
	r.detail("Issue type", conn.IssueType())
	r.detail("Auth", authLabel(conn.AuthMethod()))

	client := tracker.New(httpclient.NewClient(
		httpclient.WithBaseURL(conn.APIURL()),
		httpclient.WithTimeout(conn.Timeout()),
		httpclient.WithBasicAuth(conn.Username(), conn.Secret()),
		httpclient.WithHeader("User-Agent", tracker.UserAgent),
	), logger)
	ctx := cmd.Context()

	r.step(2, "Project access")
	project, err := client.GetProject(ctx, conn.ProjectKey())
	if err != nil {
		r.fail("cannot read project %s: %v", conn.ProjectKey(), err)
		return fmt.Errorf("project check failed: %w", err)
	}
	r.ok("connected to project %s", project.Name)
	r.detail("Key", project.ProjKey)
	r.detail("Type", project.Type)

	r.step(3, "Search")
	found, err := client.Search(ctx, tracker.SearchQuery{
		JQL:        tracker.RecentQuery(conn.ProjectKey()),
		MaxResults: checkSearchResults,
		Fields:     tracker.SearchFields,
	})
	if err != nil {
		r.fail("search failed: %v", err)
		return fmt.Errorf("search check failed: %w", err)
	}
	r.ok("search works, the project has %d issues", found.Total)
	for i, issue := range found.Issues {
		if i == 3 {
			break
		}
		fmt.Fprintf(w, "   - %s: %s\n", issue.Key, issue.Summary)
	}

	r.step(4, "Create permission")
	if skip, _ := cmd.Flags().GetBool("skip-create"); skip {
		r.warn("skipped")
	} else {
		created, err := client.CreateIssue(ctx, tracker.IssueFields{
			Project:     conn.ProjectKey(),
			Summary:     "[trackload] configuration check issue - safe to delete",
			Description: "Created by trackload check to verify create permission. It can be deleted.",
			IssueType:   conn.IssueType(),
		})
		if err != nil {
			r.warn("create failed: %v", err)
			r.info("this is likely a permission problem; read-only profiles still work")
		} else {
			r.ok("created test issue %s", created.Key)
			r.info("delete %s by hand when done", created.Key)
		}
	}

	fmt.Fprintf(w, "\n%s\n", colors.Success.Sprint("Configuration looks good. Start a run with:"))
	fmt.Fprintln(w, "   trackload run --users 5 --ramp-up 1 --duration 30s")
	return nil
}

func authLabel(m config.AuthMethod) string {
	if m == config.AuthToken {
		return "API token"
	}
	return "password"
}
