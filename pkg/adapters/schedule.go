package adapters

import (
	"github.com/de-tools/identity-atlas/pkg/models/api"
	"github.com/de-tools/identity-atlas/pkg/models/store"
)

func MapScheduleStoreToApi(s store.Schedule) api.Schedule {
	res := api.Schedule{
		Profile:   s.Profile,
		Platform:  s.Platform,
		Interval:  s.Interval.String(),
		CreatedAt: FormatTimestamp(s.CreatedAt),
		LastRunId: s.LastRunID,
		Error:     s.Error,
	}
	if s.LastRunAt != nil {
		at := FormatTimestamp(*s.LastRunAt)
		res.LastRunAt = &at
	}
	return res
}
