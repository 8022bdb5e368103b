package automation

import (
	"sort"
	"strings"
	"time"
)

// StreamType is the kind of output a job stream record carries.
type StreamType string

const (
	StreamAny      StreamType = "Any"
	StreamProgress StreamType = "Progress"
	StreamOutput   StreamType = "Output"
	StreamWarning  StreamType = "Warning"
	StreamError    StreamType = "Error"
	StreamDebug    StreamType = "Debug"
	StreamVerbose  StreamType = "Verbose"
)

// JobSummary is a list entry for a job.
type JobSummary struct {
	ID           string    `json:"id" yaml:"id"`
	RunbookName  string    `json:"runbook_name" yaml:"runbook"`
	Status       string    `json:"status" yaml:"status"`
	CreationTime time.Time `json:"creation_time" yaml:"creation_time"`
}

// Job is the full detail record of one runbook execution.
type Job struct {
	ID            string            `json:"id" yaml:"id"`
	RunbookName   string            `json:"runbook_name" yaml:"runbook"`
	Status        string            `json:"status" yaml:"status"`
	StatusDetails string            `json:"status_details,omitempty" yaml:"status_details,omitempty"`
	CreationTime  time.Time         `json:"creation_time" yaml:"creation_time"`
	StartTime     time.Time         `json:"start_time" yaml:"start_time"`
	EndTime       time.Time         `json:"end_time" yaml:"end_time"`
	LastModified  time.Time         `json:"last_modified" yaml:"last_modified"`
	Exception     string            `json:"exception,omitempty" yaml:"exception,omitempty"`
	RunOn         string            `json:"run_on,omitempty" yaml:"run_on,omitempty"`
	Parameters    map[string]string `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// StreamSummary is a list entry for a job output record.
type StreamSummary struct {
	ID      string     `json:"id" yaml:"id"`
	Type    StreamType `json:"type" yaml:"type"`
	Time    time.Time  `json:"time" yaml:"time"`
	Summary string     `json:"summary" yaml:"summary"`
}

// JobStreamRecord is one stream record joined with its owning job.
type JobStreamRecord struct {
	JobID        string     `json:"job_id"`
	RunbookName  string     `json:"runbook_name"`
	JobStatus    string     `json:"job_status"`
	RecordID     string     `json:"record_id"`
	Time         time.Time  `json:"time"`
	Type         StreamType `json:"type"`
	Summary      string     `json:"summary"`
	Value        string     `json:"value,omitempty"`
	ValueFetched bool       `json:"value_fetched"`
	ValueError   string     `json:"value_error,omitempty"`

	valueErr error
}

// NewJobStreamRecord joins a stream summary with its job. The value fields
// stay empty until WithValue or WithValueError produces a new record.
func NewJobStreamRecord(job Job, s StreamSummary) JobStreamRecord {
	return JobStreamRecord{
		JobID:       job.ID,
		RunbookName: job.RunbookName,
		JobStatus:   job.Status,
		RecordID:    s.ID,
		Time:        s.Time,
		Type:        s.Type,
		Summary:     s.Summary,
	}
}

// WithValue returns a copy of r carrying the materialized value.
func (r JobStreamRecord) WithValue(v string) JobStreamRecord {
	r.Value = v
	r.ValueFetched = true
	return r
}

// WithValueError returns a copy of r recording a failed value fetch.
func (r JobStreamRecord) WithValueError(err error) JobStreamRecord {
	r.ValueError = err.Error()
	r.valueErr = err
	return r
}

// ValueErr returns the error of a failed value fetch, or nil.
func (r JobStreamRecord) ValueErr() error {
	return r.valueErr
}

// CompareStreamIDs orders stream record ids ascending. Ids end in fixed-width
// sequence numbers, so shorter ids sort first and equal widths sort lexically.
func CompareStreamIDs(a, b string) int {
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}

// SortStreams sorts summaries in place by ascending record id.
func SortStreams(streams []StreamSummary) {
	sort.SliceStable(streams, func(i, j int) bool {
		return CompareStreamIDs(streams[i].ID, streams[j].ID) < 0
	})
}
