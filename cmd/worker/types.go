package main

// ScheduledDetail is the optional detail of the scheduled event. A window
// set here overrides DATE_FROM and DATE_TO for that invocation.
type ScheduledDetail struct {
	DateFrom string `json:"date_from,omitempty"`
	DateTo   string `json:"date_to,omitempty"`
}

// RunResult is returned to the Lambda runtime.
type RunResult struct {
	RunID       string `json:"run_id"`
	Result      string `json:"result"`
	Candidates  int    `json:"candidates"`
	Attempted   int    `json:"attempted"`
	Succeeded   int    `json:"succeeded"`
	Failed      int    `json:"failed"`
	NoAction    int    `json:"no_action_needed"`
	Interrupted bool   `json:"interrupted,omitempty"`
}
