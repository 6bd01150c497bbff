package api

// The report document below is consumed by tooling built around the original
// service account audit output. Field names and shapes must not change.

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type AuditFinding struct {
	Severity       Severity `json:"severity"`
	Description    string   `json:"description"`
	Recommendation string   `json:"recommendation"`
}

type AuditItem struct {
	Id       string         `json:"id"`
	Name     string         `json:"name"`
	Email    string         `json:"email"`
	Status   string         `json:"status"`
	Roles    []string       `json:"roles"`
	LastUsed *string        `json:"last_used"`
	Findings []AuditFinding `json:"findings"`
}

type Summary struct {
	TotalAccounts    int `json:"total_accounts"`
	ActiveAccounts   int `json:"active_accounts"`
	CriticalFindings int `json:"critical_findings"`
	HighFindings     int `json:"high_findings"`
}

type AuditReport struct {
	Timestamp string      `json:"timestamp"`
	Items     []AuditItem `json:"items"`
	Summary   Summary     `json:"summary"`
}

type AuditRun struct {
	RunId     string  `json:"run_id"`
	Timestamp string  `json:"timestamp"`
	Summary   Summary `json:"summary"`
}

type Rule struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type Error struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}
