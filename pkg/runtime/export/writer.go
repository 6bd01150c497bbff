package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/de-tools/identity-atlas/pkg/adapters"
	"github.com/de-tools/identity-atlas/pkg/models/domain"
)

// Writer persists a finished audit report.
type Writer interface {
	Write(ctx context.Context, report domain.AuditReport) error
}

// Marshal renders a report in the persisted JSON shape.
func Marshal(report domain.AuditReport) ([]byte, error) {
	data, err := json.MarshalIndent(adapters.MapAuditReportDomainToApi(report), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report: %w", err)
	}
	return append(data, '\n'), nil
}

type multiWriter []Writer

// MultiWriter writes to every writer, even after one fails, and joins the errors.
func MultiWriter(writers ...Writer) Writer {
	var flat multiWriter
	for _, w := range writers {
		if w == nil {
			continue
		}
		if mw, ok := w.(multiWriter); ok {
			flat = append(flat, mw...)
			continue
		}
		flat = append(flat, w)
	}
	return flat
}

func (m multiWriter) Write(ctx context.Context, report domain.AuditReport) error {
	var errs []error
	for _, w := range m {
		if err := w.Write(ctx, report); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
