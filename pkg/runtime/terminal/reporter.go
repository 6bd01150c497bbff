package terminal

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/template"
	"time"

	"github.com/de-tools/identity-atlas/pkg/models/domain"
	"github.com/fatih/color"
)

const reportTemplate = `
Identity audit {{.RunID}}
Started: {{timestamp .Timestamp}}

Accounts: {{.Summary.TotalAccounts}} total, {{.Summary.ActiveAccounts}} active, {{.Summary.DisabledAccounts}} disabled, {{.Summary.UnknownAccounts}} unknown
Findings: {{severity "critical"}} {{.Summary.CriticalFindings}}  {{severity "high"}} {{.Summary.HighFindings}}  {{severity "medium"}} {{.Summary.MediumFindings}}  {{severity "low"}} {{.Summary.LowFindings}}
{{range .Items}}{{if .Findings}}
=== {{.Identity.Name}} ({{.Identity.ID}}) ===
{{if .Identity.Email}}Email: {{.Identity.Email}}
{{end}}Status: {{.Identity.Status}}
Roles: {{join .Identity.Roles ", "}}
{{range .Findings}}  [{{severity .Severity.String}}] {{.Description}}
      {{.Recommendation}}
{{end}}{{end}}{{end}}`

// Reporter prints an audit report to the console with severities coloured
// from low (cyan) to critical (bold red).
type Reporter struct {
	writer io.Writer
	colors map[string]*color.Color
	tmpl   *template.Template
}

func NewReporter(writer io.Writer, noColor bool) *Reporter {
	if writer == nil {
		writer = os.Stdout
	}

	colors := map[string]*color.Color{
		"critical": color.New(color.FgRed, color.Bold),
		"high":     color.New(color.FgRed),
		"medium":   color.New(color.FgYellow),
		"low":      color.New(color.FgCyan),
	}
	if noColor {
		for _, c := range colors {
			c.DisableColor()
		}
	}

	r := &Reporter{writer: writer, colors: colors}
	r.tmpl = template.Must(template.New("report").Funcs(template.FuncMap{
		"severity":  r.severity,
		"join":      strings.Join,
		"timestamp": func(t time.Time) string { return t.UTC().Format(time.RFC3339) },
	}).Parse(reportTemplate))
	return r
}

func (r *Reporter) severity(name string) string {
	label := strings.ToUpper(name)
	if c, ok := r.colors[name]; ok {
		return c.Sprint(label)
	}
	return label
}

func (r *Reporter) Handle(report domain.AuditReport) error {
	if err := r.tmpl.Execute(r.writer, report); err != nil {
		return fmt.Errorf("failed to render report: %w", err)
	}
	return nil
}
