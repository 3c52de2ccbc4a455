package textgen

import (
	"fmt"
	"math/rand"
	"strings"
	"time"
)

var (
	threatTypes = []string{
		"Malware Detection", "Network Intrusion", "Suspicious Login",
		"Data Exfiltration", "Phishing Attempt", "Vulnerability Exploit",
		"Brute Force Attack", "DDoS Attack", "Insider Threat", "APT Activity",
	}

	attackVectors = []string{
		"Email", "Web Application", "Network", "Endpoint", "Cloud Services",
		"Remote Access", "Mobile Device", "IoT Device", "Database", "API",
	}

	iocTypes = []string{
		"IP Address", "Domain Name", "File Hash", "URL", "Email Address",
		"Registry Key", "Process Name", "User Account",
	}

	analysts = []string{"Alice", "Bob", "Chen", "Dana", "Emeka", "Farah", "Goran", "Hana"}

	hosts = []string{"web-01", "db-02", "mail-gw", "vpn-edge", "hr-laptop-17", "build-agent-3", "dc-01"}

	words = []string{
		"anomalous", "outbound", "beacon", "credential", "session", "payload",
		"lateral", "privilege", "registry", "token", "firewall", "signature",
		"endpoint", "process", "traffic", "archive", "script", "domain",
	}

	commentTemplates = []string{
		"[%s] Initial triage completed. %s Escalating to L2 for further analysis.",
		"[%s] Investigation in progress. %s Checking threat intelligence feeds.",
		"[%s] False positive confirmed. %s Updating detection rules to reduce noise.",
		"[%s] Containment actions taken. %s Monitoring for additional indicators.",
		"[%s] Incident resolved. %s Root cause analysis completed.",
		"[%s] Timeline analysis: %s Event correlation with other incidents ongoing.",
		"[%s] Network forensics: %s Packet capture analysis in progress.",
	}
)

// securityText writes security-operations flavoured text.
type securityText struct {
	rng *rand.Rand
}

func (g *securityText) Summary() string {
	threat := pick(g.rng, threatTypes)
	vector := pick(g.rng, attackVectors)

	switch g.rng.Intn(5) {
	case 0:
		return fmt.Sprintf("%s detected via %s", threat, vector)
	case 1:
		return fmt.Sprintf("Suspicious %s activity on %s", threat, vector)
	case 2:
		return fmt.Sprintf("Alert: %s targeting %s", threat, vector)
	case 3:
		return fmt.Sprintf("Security Event: %s through %s", threat, vector)
	default:
		return fmt.Sprintf("Incident: Potential %s using %s", threat, vector)
	}
}

func (g *securityText) Description() string {
	ts := time.Now().Add(-time.Duration(g.rng.Int63n(int64(7 * 24 * time.Hour)))).UTC().Format(time.RFC3339)

	var b strings.Builder
	switch g.rng.Intn(3) {
	case 0:
		b.WriteString("Wazuh Alert Details:\n")
		fmt.Fprintf(&b, "- Timestamp: %s\n", ts)
		fmt.Fprintf(&b, "- Source IP: %s\n", ipv4(g.rng))
		fmt.Fprintf(&b, "- Destination IP: %s\n", ipv4(g.rng))
		fmt.Fprintf(&b, "- Rule ID: %d\n", between(g.rng, 1000, 9999))
		fmt.Fprintf(&b, "- Alert Level: %d\n", between(g.rng, 1, 15))
		fmt.Fprintf(&b, "- Description: %s", g.sentence())
	case 1:
		b.WriteString("SIEM Alert Triggered:\n")
		fmt.Fprintf(&b, "- Event Time: %s\n", ts)
		fmt.Fprintf(&b, "- Affected Asset: %s\n", pick(g.rng, hosts))
		fmt.Fprintf(&b, "- Source: %s\n", ipv4(g.rng))
		fmt.Fprintf(&b, "- IOC: %s\n", g.IOC())
		fmt.Fprintf(&b, "- Risk Score: %d", between(g.rng, 1, 100))
	default:
		b.WriteString("Security Event Detected:\n")
		fmt.Fprintf(&b, "- Detection Time: %s\n", ts)
		fmt.Fprintf(&b, "- Endpoint: %s\n", pick(g.rng, hosts))
		fmt.Fprintf(&b, "- Process: %s.exe\n", pick(g.rng, words))
		fmt.Fprintf(&b, "- Hash: %s\n", hexString(g.rng, 64))
		b.WriteString("- Analyst Notes: Initial triage required")
	}
	return b.String()
}

func (g *securityText) Comment() string {
	return fmt.Sprintf(pick(g.rng, commentTemplates), pick(g.rng, analysts), g.sentence())
}

// IOC returns an indicator of compromise such as "IP Address: 10.1.2.3".
func (g *securityText) IOC() string {
	kind := pick(g.rng, iocTypes)
	var value string
	switch kind {
	case "IP Address":
		value = ipv4(g.rng)
	case "Domain Name":
		value = pick(g.rng, words) + "-" + pick(g.rng, words) + ".example"
	case "File Hash":
		value = hexString(g.rng, 64)
	case "URL":
		value = "https://" + pick(g.rng, words) + ".example/" + pick(g.rng, words)
	case "Email Address":
		value = strings.ToLower(pick(g.rng, analysts)) + "@" + pick(g.rng, words) + ".example"
	case "Registry Key":
		value = `HKEY_LOCAL_MACHINE\` + pick(g.rng, words) + `\` + pick(g.rng, words)
	case "Process Name":
		value = pick(g.rng, words) + ".exe"
	default:
		value = strings.ToLower(pick(g.rng, analysts)) + "." + pick(g.rng, words)
	}
	return kind + ": " + value
}

func (g *securityText) sentence() string {
	n := between(g.rng, 4, 9)
	parts := make([]string, n)
	for i := range parts {
		parts[i] = pick(g.rng, words)
	}
	s := strings.Join(parts, " ")
	return strings.ToUpper(s[:1]) + s[1:] + "."
}
