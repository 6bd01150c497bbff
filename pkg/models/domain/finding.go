package domain

import (
	"fmt"
	"strings"
)

type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = map[Severity]string{
	SeverityLow:      "low",
	SeverityMedium:   "medium",
	SeverityHigh:     "high",
	SeverityCritical: "critical",
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return fmt.Sprintf("severity(%d)", int(s))
}

func (s Severity) Valid() bool {
	_, ok := severityNames[s]
	return ok
}

func ParseSeverity(s string) (Severity, error) {
	needle := strings.ToLower(strings.TrimSpace(s))
	for sev, name := range severityNames {
		if name == needle {
			return sev, nil
		}
	}
	return 0, fmt.Errorf("unknown severity %q", s)
}

// AuditFinding is a single risk flagged by a rule against one identity.
type AuditFinding struct {
	Severity       Severity
	Description    string
	Recommendation string
	IdentityID     string
	RuleName       string
}

func NewAuditFinding(severity Severity, description, recommendation, identityID, ruleName string) (AuditFinding, error) {
	f := AuditFinding{
		Severity:       severity,
		Description:    description,
		Recommendation: recommendation,
		IdentityID:     identityID,
		RuleName:       ruleName,
	}
	if err := f.Validate(); err != nil {
		return AuditFinding{}, err
	}
	return f, nil
}

func (f AuditFinding) Validate() error {
	if !f.Severity.Valid() {
		return fmt.Errorf("finding for %s has invalid %s", f.IdentityID, f.Severity)
	}
	if f.IdentityID == "" {
		return fmt.Errorf("finding must reference an identity")
	}
	if f.RuleName == "" {
		return fmt.Errorf("finding must reference a rule")
	}
	return nil
}
