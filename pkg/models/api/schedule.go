package api

type ScheduleRequest struct {
	Profile  string `json:"profile"`
	Platform string `json:"platform"`
	Interval string `json:"interval"`
}

type Schedule struct {
	Profile   string  `json:"profile"`
	Platform  string  `json:"platform"`
	Interval  string  `json:"interval"`
	CreatedAt string  `json:"created_at"`
	LastRunAt *string `json:"last_run_at"`
	LastRunId *string `json:"last_run_id"`
	Error     *string `json:"error"`
}
