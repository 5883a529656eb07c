package models

import (
	"fmt"
	"time"
)

// JobStatus represents the lifecycle state of a cleaning job.
// Values are part of the wire format and must not be reordered.
type JobStatus uint8

const (
	JobStatusCreated JobStatus = iota // accepted, not yet queued
	JobStatusQueued                   // waiting for a worker slot
	JobStatusRunning                  // being processed in a sandbox
	JobStatusSuccess                  // terminal: cleaned result available
	JobStatusError                    // terminal: processing failed
)

// IsTerminal returns true if the status is final. Terminal jobs are never
// retried or transitioned again.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSuccess || s == JobStatusError
}

func (s JobStatus) String() string {
	switch s {
	case JobStatusCreated:
		return "CREATED"
	case JobStatusQueued:
		return "QUEUED"
	case JobStatusRunning:
		return "RUNNING"
	case JobStatusSuccess:
		return "SUCCESS"
	case JobStatusError:
		return "ERROR"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(s))
	}
}

// ParseJobStatus converts a status name (as printed by String) back to a
// JobStatus. Used by the CLI diagnostics commands.
func ParseJobStatus(name string) (JobStatus, error) {
	switch name {
	case "CREATED":
		return JobStatusCreated, nil
	case "QUEUED":
		return JobStatusQueued, nil
	case "RUNNING":
		return JobStatusRunning, nil
	case "SUCCESS":
		return JobStatusSuccess, nil
	case "ERROR":
		return JobStatusError, nil
	default:
		return 0, fmt.Errorf("unknown job status %q", name)
	}
}

// JobParams carries client-supplied processing options. They are forwarded
// verbatim to the sandbox; unknown keys are ignored by the container tooling.
type JobParams map[string]string

// Job is a single document cleaning request and its accumulated state.
// Source and Result hold raw document bytes and are stripped from list
// queries and from JSON responses.
type Job struct {
	ID             string           `json:"id"`
	Type           string           `json:"type"`
	Status         JobStatus        `json:"status"`
	Created        time.Time        `json:"created"`
	Updated        time.Time        `json:"updated"`
	Name           string           `json:"name,omitempty"`
	SessionID      string           `json:"session_id,omitempty"`
	Params         JobParams        `json:"params,omitempty"`
	Source         []byte           `json:"-"`
	Result         []byte           `json:"-"`
	Log            []string         `json:"log"`
	MetadataSrc    DocumentMetadata `json:"metadata_src"`
	MetadataResult DocumentMetadata `json:"metadata_result"`
}

// JobDetails is the API view of a job. Payload bytes never leave through
// this shape; results are downloaded via the dedicated result endpoint.
type JobDetails struct {
	ID             string           `json:"id"`
	Type           string           `json:"type"`
	Status         JobStatus        `json:"status"`
	Log            []string         `json:"log"`
	MetadataSrc    DocumentMetadata `json:"metadata_src"`
	MetadataResult DocumentMetadata `json:"metadata_result"`
}

// Details projects the job into its API view.
func (j *Job) Details() JobDetails {
	log := j.Log
	if log == nil {
		log = []string{}
	}
	return JobDetails{
		ID:             j.ID,
		Type:           j.Type,
		Status:         j.Status,
		Log:            log,
		MetadataSrc:    j.MetadataSrc,
		MetadataResult: j.MetadataResult,
	}
}

// JobSummary is the abbreviated job view embedded in session details.
type JobSummary struct {
	ID      string    `json:"id"`
	Created time.Time `json:"created"`
	Updated time.Time `json:"updated"`
	Type    string    `json:"type"`
	Status  JobStatus `json:"status"`
}

// Summary projects the job into its abbreviated view.
func (j *Job) Summary() JobSummary {
	return JobSummary{
		ID:      j.ID,
		Created: j.Created,
		Updated: j.Updated,
		Type:    j.Type,
		Status:  j.Status,
	}
}

// JobStats summarizes the repository job population. TotalCreated counts
// every job ever added and is not reduced by deletion or purging.
type JobStats struct {
	Current      int `json:"current"`
	Created      int `json:"created"`
	Queued       int `json:"queued"`
	Running      int `json:"running"`
	Success      int `json:"success"`
	Error        int `json:"error"`
	TotalCreated int `json:"total_created"`
}
