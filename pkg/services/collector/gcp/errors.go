package gcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/de-tools/identity-atlas/pkg/models/domain"
	"google.golang.org/api/googleapi"
)

// classify maps Google API failures onto the collector error taxonomy.
// Authentication, permission and not-found answers will not improve on retry.
func classify(op string, err error) error {
	wrapped := fmt.Errorf("failed to %s: %w", op, err)

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return domain.NewCancelledError(source, wrapped)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusBadRequest:
			return domain.NewConfigurationError("gcp collector", wrapped)
		}
	}
	return domain.NewCollectionError(source, wrapped)
}
