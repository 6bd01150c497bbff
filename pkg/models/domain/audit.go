package domain

import (
	"fmt"
	"sort"
	"time"
)

// AuditItem pairs an identity with the findings raised against it.
type AuditItem struct {
	Identity Identity
	Findings []AuditFinding
}

type Summary struct {
	TotalAccounts    int
	ActiveAccounts   int
	DisabledAccounts int
	UnknownAccounts  int
	CriticalFindings int
	HighFindings     int
	MediumFindings   int
	LowFindings      int
}

// Summarize derives the summary from items. It is the only way a Summary is
// produced, so the counts always agree with the items they describe.
func Summarize(items []AuditItem) Summary {
	var s Summary
	for _, item := range items {
		s.TotalAccounts++
		switch item.Identity.Status {
		case StatusActive:
			s.ActiveAccounts++
		case StatusDisabled:
			s.DisabledAccounts++
		default:
			s.UnknownAccounts++
		}
		for _, f := range item.Findings {
			switch f.Severity {
			case SeverityCritical:
				s.CriticalFindings++
			case SeverityHigh:
				s.HighFindings++
			case SeverityMedium:
				s.MediumFindings++
			case SeverityLow:
				s.LowFindings++
			}
		}
	}
	return s
}

func (s Summary) TotalFindings() int {
	return s.CriticalFindings + s.HighFindings + s.MediumFindings + s.LowFindings
}

type AuditReport struct {
	RunID     string
	Timestamp time.Time
	Items     []AuditItem
	Summary   Summary
}

// NewAuditReport builds a report from evaluated items. Items are sorted by
// identity id and findings within an item by rule name. Findings from the
// same rule keep their relative order.
func NewAuditReport(runID string, timestamp time.Time, items []AuditItem) (AuditReport, error) {
	sorted := make([]AuditItem, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Identity.ID < sorted[j].Identity.ID
	})

	seen := make(map[string]struct{}, len(sorted))
	for i, item := range sorted {
		if err := item.Identity.Validate(); err != nil {
			return AuditReport{}, err
		}
		if _, dup := seen[item.Identity.ID]; dup {
			return AuditReport{}, fmt.Errorf("duplicate identity id %q in report", item.Identity.ID)
		}
		seen[item.Identity.ID] = struct{}{}

		findings := make([]AuditFinding, len(item.Findings))
		for k, f := range item.Findings {
			if err := f.Validate(); err != nil {
				return AuditReport{}, err
			}
			if f.IdentityID != item.Identity.ID {
				return AuditReport{}, fmt.Errorf("finding from rule %s references %q but is attached to %q",
					f.RuleName, f.IdentityID, item.Identity.ID)
			}
			findings[k] = f
		}
		sort.SliceStable(findings, func(a, b int) bool {
			return findings[a].RuleName < findings[b].RuleName
		})
		sorted[i] = AuditItem{Identity: item.Identity.Clone(), Findings: findings}
	}

	return AuditReport{
		RunID:     runID,
		Timestamp: timestamp,
		Items:     sorted,
		Summary:   Summarize(sorted),
	}, nil
}

// Findings flattens the findings of every item in report order.
func (r AuditReport) Findings() []AuditFinding {
	var out []AuditFinding
	for _, item := range r.Items {
		out = append(out, item.Findings...)
	}
	return out
}
