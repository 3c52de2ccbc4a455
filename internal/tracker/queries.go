package tracker

import "fmt"

// Search limits and field lists.
const (
	SearchMaxResults   = 20
	DiscoverMaxResults = 10
)

// SearchFields are requested on every search.
var SearchFields = []string{"key", "summary", "status", "created"}

// DetailFields are requested when reading one issue.
var DetailFields = []string{"summary", "status", "priority", "description"}

// QuerySet builds a list of JQL queries for a project.
type QuerySet func(project string) []string

// GeneralQueries are the project-scoped queries used by the Search operation.
func GeneralQueries(project string) []string {
	return []string{
		RecentQuery(project),
		fmt.Sprintf("project = %s AND status = 'To Do' ORDER BY created DESC", project),
		fmt.Sprintf("project = %s AND created >= -7d ORDER BY created DESC", project),
		fmt.Sprintf("project = %s AND summary ~ 'test*' ORDER BY created DESC", project),
	}
}

// TriageQueries are queries an incident-response analyst tends to run.
func TriageQueries(project string) []string {
	return []string{
		fmt.Sprintf(`project = %s AND priority = "Critical" AND status != "Resolved" ORDER BY created DESC`, project),
		fmt.Sprintf(`project = %s AND summary ~ "Malware" AND created >= -24h ORDER BY priority DESC`, project),
		fmt.Sprintf(`project = %s AND labels in ("APT", "targeted-attack") ORDER BY created DESC`, project),
		fmt.Sprintf(`project = %s AND status = "New" AND created >= -8h ORDER BY priority DESC, created DESC`, project),
		fmt.Sprintf(`project = %s AND description ~ "phishing" AND created >= -7d ORDER BY created DESC`, project),
		fmt.Sprintf(`project = %s AND priority in ("Critical", "High") AND assignee is EMPTY ORDER BY created ASC`, project),
	}
}

// RecentQuery lists the newest issues of a project. Discover uses it.
func RecentQuery(project string) string {
	return fmt.Sprintf("project = %s ORDER BY created DESC", project)
}
