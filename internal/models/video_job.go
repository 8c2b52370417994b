package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// MaxActiveJobsPerUser bounds how many PENDING/RUNNING video jobs a user may hold.
const MaxActiveJobsPerUser = 3

type JobStatus string

const (
	JobPending   JobStatus = "PENDING"
	JobRunning   JobStatus = "RUNNING"
	JobSucceeded JobStatus = "SUCCEEDED"
	JobFailed    JobStatus = "FAILED"
	JobCancelled JobStatus = "CANCELLED"
	JobDeleted   JobStatus = "DELETED"
)

// ActiveStatuses are the statuses counted against MaxActiveJobsPerUser.
var ActiveStatuses = []JobStatus{JobPending, JobRunning}

// TerminalStatuses never transition again.
var TerminalStatuses = []JobStatus{JobSucceeded, JobFailed, JobCancelled, JobDeleted}

func ParseJobStatus(s string) (JobStatus, error) {
	switch st := JobStatus(s); st {
	case JobPending, JobRunning, JobSucceeded, JobFailed, JobCancelled, JobDeleted:
		return st, nil
	}
	return "", fmt.Errorf("unknown job status %q", s)
}

func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobSucceeded, JobFailed, JobCancelled, JobDeleted:
		return true
	case JobPending, JobRunning:
		return false
	}
	return false
}

func (s JobStatus) IsActive() bool {
	return s == JobPending || s == JobRunning
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobPending:
		switch next {
		case JobRunning, JobFailed, JobCancelled, JobDeleted:
			return true
		}
	case JobRunning:
		switch next {
		case JobSucceeded, JobFailed, JobCancelled, JobDeleted:
			return true
		}
	case JobSucceeded, JobFailed, JobCancelled, JobDeleted:
		return false
	}
	return false
}

// SourcesFor lists the statuses that may move to next; stores use it to guard updates.
func SourcesFor(next JobStatus) []JobStatus {
	var out []JobStatus
	for _, s := range []JobStatus{JobPending, JobRunning, JobSucceeded, JobFailed, JobCancelled, JobDeleted} {
		if s.CanTransitionTo(next) {
			out = append(out, s)
		}
	}
	return out
}

type LogLevel string

const (
	LogInfo    LogLevel = "info"
	LogWarning LogLevel = "warning"
	LogError   LogLevel = "error"
)

type JobLog struct {
	ID         int64     `json:"-"`
	VideoJobID int64     `json:"-"`
	Level      LogLevel  `json:"level"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"timestamp"`
}

type VideoJob struct {
	ID                 int64           `json:"id"`
	UserID             int64           `json:"userId"`
	LookID             *int64          `json:"lookId,omitempty"`
	Prompt             string          `json:"prompt"`
	Model              string          `json:"model"`
	Resolution         string          `json:"resolution"`
	AspectRatio        string          `json:"aspectRatio"`
	DurationSeconds    int             `json:"durationSeconds,omitempty"`
	GenerateAudio      bool            `json:"generateAudio"`
	InputImageURL      string          `json:"inputImageUrl,omitempty"`
	EndImageURL        string          `json:"endImageUrl,omitempty"`
	ReferenceImageURLs []string        `json:"referenceImageUrls,omitempty"`
	Status             JobStatus       `json:"status"`
	StatusMessage      string          `json:"statusMessage,omitempty"`
	ErrorMessage       string          `json:"errorMessage,omitempty"`
	ProgressPercentage int             `json:"progressPercentage"`
	TokensConsumed     int             `json:"tokensConsumed"`
	RequestSnapshot    json.RawMessage `json:"-"`
	OperationName      string          `json:"operationName,omitempty"`
	ProviderResultURI  string          `json:"-"`
	ProviderResponse   json.RawMessage `json:"-"`
	ResultURL          string          `json:"resultUrl,omitempty"`
	Logs               []JobLog        `json:"logs,omitempty"`
	StartedAt          *time.Time      `json:"startedAt,omitempty"`
	CompletedAt        *time.Time      `json:"completedAt,omitempty"`
	CreatedAt          time.Time       `json:"createdAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`
}

// InputURLs returns every stored input artifact of the job.
func (j *VideoJob) InputURLs() []string {
	var out []string
	if j.InputImageURL != "" {
		out = append(out, j.InputImageURL)
	}
	if j.EndImageURL != "" {
		out = append(out, j.EndImageURL)
	}
	return append(out, j.ReferenceImageURLs...)
}
