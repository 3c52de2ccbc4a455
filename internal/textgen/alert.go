package textgen

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// Alert is a synthetic host-intrusion alert.
type Alert struct {
	RuleID      int       `json:"rule_id"`
	Level       int       `json:"level"`
	Description string    `json:"description"`
	Groups      []string  `json:"groups"`
	Timestamp   time.Time `json:"timestamp"`
	Agent       Agent     `json:"agent"`
	Data        AlertData `json:"data"`
}

// Agent identifies the host that raised an alert.
type Agent struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	IP   string `json:"ip"`
}

// AlertData holds the network tuple of an alert.
type AlertData struct {
	SrcIP    string `json:"srcip"`
	DstIP    string `json:"dstip"`
	SrcPort  int    `json:"srcport"`
	DstPort  int    `json:"dstport"`
	Protocol string `json:"protocol"`
	Action   string `json:"action"`
}

// Priority names.
const (
	PriorityCritical = "Critical"
	PriorityHigh     = "High"
	PriorityMedium   = "Medium"
	PriorityLow      = "Low"
)

var levelPriorities = map[int]string{
	15: PriorityCritical,
	12: PriorityHigh,
	10: PriorityHigh,
	7:  PriorityMedium,
	5:  PriorityMedium,
	3:  PriorityLow,
	1:  PriorityLow,
}

// PriorityForLevel maps an alert level to an issue priority.
// Levels without an explicit mapping are Medium.
func PriorityForLevel(level int) string {
	if p, ok := levelPriorities[level]; ok {
		return p
	}
	return PriorityMedium
}

// Escalated returns the next priority up, stopping at Critical.
func Escalated(priority string) string {
	switch priority {
	case PriorityLow:
		return PriorityMedium
	case PriorityMedium:
		return PriorityHigh
	default:
		return PriorityCritical
	}
}

// NewAlert generates a random alert.
func NewAlert(rng *rand.Rand) Alert {
	g := &securityText{rng: rng}
	return Alert{
		RuleID:      between(rng, 1000, 99999),
		Level:       between(rng, 1, 15),
		Description: g.sentence(),
		Groups:      []string{pick(rng, words), pick(rng, words)},
		Timestamp:   time.Now().Add(-time.Duration(rng.Int63n(int64(24 * time.Hour)))).UTC(),
		Agent: Agent{
			ID:   fmt.Sprintf("%03d", between(rng, 1, 999)),
			Name: pick(rng, hosts),
			IP:   ipv4(rng),
		},
		Data: AlertData{
			SrcIP:    ipv4(rng),
			DstIP:    ipv4(rng),
			SrcPort:  between(rng, 1024, 65535),
			DstPort:  between(rng, 1, 1023),
			Protocol: pick(rng, []string{"TCP", "UDP", "ICMP"}),
			Action:   pick(rng, []string{"ALLOW", "DENY", "DROP"}),
		},
	}
}

// Summary is the issue title for an alert.
func (a Alert) Summary() string {
	return fmt.Sprintf("Wazuh Alert %d: %s", a.RuleID, a.Description)
}

// Priority is the issue priority derived from the alert level.
func (a Alert) Priority() string {
	return PriorityForLevel(a.Level)
}

// IssueDescription renders the alert, including its raw JSON, as issue text.
func (a Alert) IssueDescription() string {
	raw, _ := json.MarshalIndent(a, "", "  ")

	var b strings.Builder
	b.WriteString("Wazuh Security Alert\n\n")
	fmt.Fprintf(&b, "Rule ID: %d\n", a.RuleID)
	fmt.Fprintf(&b, "Alert Level: %d\n", a.Level)
	fmt.Fprintf(&b, "Description: %s\n", a.Description)
	fmt.Fprintf(&b, "Agent: %s (%s)\n", a.Agent.Name, a.Agent.IP)
	fmt.Fprintf(&b, "Timestamp: %s\n\n", a.Timestamp.Format(time.RFC3339))
	b.WriteString("Raw Alert Data:\n")
	b.Write(raw)
	return b.String()
}
