package adapters

import (
	"fmt"
	"time"

	"github.com/de-tools/identity-atlas/pkg/models/api"
	"github.com/de-tools/identity-atlas/pkg/models/domain"
	"github.com/de-tools/identity-atlas/pkg/models/store"
)

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func MapSeverityDomainToApi(s domain.Severity) api.Severity {
	switch s {
	case domain.SeverityLow:
		return api.SeverityLow
	case domain.SeverityMedium:
		return api.SeverityMedium
	case domain.SeverityHigh:
		return api.SeverityHigh
	case domain.SeverityCritical:
		return api.SeverityCritical
	default:
		return api.SeverityLow
	}
}

func MapSeverityApiToDomain(s api.Severity) (domain.Severity, error) {
	return domain.ParseSeverity(string(s))
}

func MapAuditFindingDomainToApi(f domain.AuditFinding) api.AuditFinding {
	return api.AuditFinding{
		Severity:       MapSeverityDomainToApi(f.Severity),
		Description:    f.Description,
		Recommendation: f.Recommendation,
	}
}

func MapSummaryDomainToApi(s domain.Summary) api.Summary {
	return api.Summary{
		TotalAccounts:    s.TotalAccounts,
		ActiveAccounts:   s.ActiveAccounts,
		CriticalFindings: s.CriticalFindings,
		HighFindings:     s.HighFindings,
	}
}

func MapAuditItemDomainToApi(item domain.AuditItem) api.AuditItem {
	res := api.AuditItem{
		Id:       item.Identity.ID,
		Name:     item.Identity.Name,
		Email:    item.Identity.Email,
		Status:   string(item.Identity.Status),
		Roles:    make([]string, 0, len(item.Identity.Roles)),
		Findings: make([]api.AuditFinding, 0, len(item.Findings)),
	}
	res.Roles = append(res.Roles, item.Identity.Roles...)
	if item.Identity.LastUsed != nil {
		lastUsed := FormatTimestamp(*item.Identity.LastUsed)
		res.LastUsed = &lastUsed
	}
	for _, f := range item.Findings {
		res.Findings = append(res.Findings, MapAuditFindingDomainToApi(f))
	}
	return res
}

func MapAuditReportDomainToApi(r domain.AuditReport) api.AuditReport {
	res := api.AuditReport{
		Timestamp: FormatTimestamp(r.Timestamp),
		Items:     make([]api.AuditItem, 0, len(r.Items)),
		Summary:   MapSummaryDomainToApi(r.Summary),
	}
	for _, item := range r.Items {
		res.Items = append(res.Items, MapAuditItemDomainToApi(item))
	}
	return res
}

// MapAuditItemApiToDomainIdentity recovers the collected identity from a
// persisted report item. Findings are dropped; they are recomputed on every run.
func MapAuditItemApiToDomainIdentity(item api.AuditItem) (domain.Identity, error) {
	status, err := domain.ParseStatus(item.Status)
	if err != nil {
		return domain.Identity{}, err
	}

	var lastUsed *time.Time
	if item.LastUsed != nil {
		lastUsed, err = domain.ParseTimestamp(*item.LastUsed)
		if err != nil {
			return domain.Identity{}, fmt.Errorf("identity %s: %w", item.Id, err)
		}
	}

	return domain.NewIdentity(item.Id, item.Name, item.Email, status, item.Roles, lastUsed)
}

func MapAuditReportDomainToStore(r domain.AuditReport) (store.AuditRun, []store.AuditFinding) {
	run := store.AuditRun{
		RunID:            r.RunID,
		StartedAt:        r.Timestamp,
		TotalAccounts:    r.Summary.TotalAccounts,
		ActiveAccounts:   r.Summary.ActiveAccounts,
		CriticalFindings: r.Summary.CriticalFindings,
		HighFindings:     r.Summary.HighFindings,
	}

	findings := make([]store.AuditFinding, 0, r.Summary.TotalFindings())
	for _, f := range r.Findings() {
		findings = append(findings, store.AuditFinding{
			RunID:       r.RunID,
			IdentityID:  f.IdentityID,
			Rule:        f.RuleName,
			Severity:    f.Severity.String(),
			Description: f.Description,
		})
	}
	return run, findings
}

func MapAuditRunStoreToApi(run store.AuditRun) api.AuditRun {
	return api.AuditRun{
		RunId:     run.RunID,
		Timestamp: FormatTimestamp(run.StartedAt),
		Summary: api.Summary{
			TotalAccounts:    run.TotalAccounts,
			ActiveAccounts:   run.ActiveAccounts,
			CriticalFindings: run.CriticalFindings,
			HighFindings:     run.HighFindings,
		},
	}
}
