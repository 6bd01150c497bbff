package store

import "time"

type AuditRun struct {
	RunID            string
	StartedAt        time.Time
	TotalAccounts    int
	ActiveAccounts   int
	CriticalFindings int
	HighFindings     int
}

type AuditFinding struct {
	RunID       string
	IdentityID  string
	Rule        string
	Severity    string
	Description string
}
