package models

import "time"

// Session groups jobs that belong to one bulk upload. Updated is bumped
// whenever a member job is added, mutated or deleted, so session staleness
// reflects the freshest member.
type Session struct {
	ID      string    `json:"id"`
	Created time.Time `json:"created"`
	Updated time.Time `json:"updated"`
}

// SessionDetails is the API view of a session with aggregated member state.
// Member jobs appear in abbreviated form; full details including logs and
// metadata are fetched per job. The member list is optional on the wire,
// clients request it with the jobs query parameter.
type SessionDetails struct {
	ID           string       `json:"id"`
	Created      time.Time    `json:"created"`
	Updated      time.Time    `json:"updated"`
	JobsTotal    int          `json:"jobs_total"`
	JobsFinished int          `json:"jobs_finished"`
	Jobs         []JobSummary `json:"jobs,omitempty"`
}
