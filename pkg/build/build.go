package build

import (
	"bytes"
	"errors"
	"time"

	"github.com/heathcliff26/buildhook/pkg/trigger"
)

var (
	ErrNotFound  = errors.New("build not found")
	ErrDuplicate = errors.New("build already exists")
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusSuccess  Status = "success"
	StatusFailure  Status = "failure"
	StatusErrored  Status = "errored"
	StatusCanceled Status = "canceled"
)

// Done reports if the build reached a final state
func (s Status) Done() bool {
	switch s {
	case StatusSuccess, StatusFailure, StatusErrored, StatusCanceled:
		return true
	default:
		return false
	}
}

// Build is a single build request created from a trigger
type Build struct {
	ID                int64
	Provider          trigger.Provider
	InstallationID    int64
	RepoID            string
	RepoFullName      string
	EventType         string
	Ref               string
	Branch            string
	TagName           string
	CommitID          string
	CommitMessage     string
	CompareURL        string
	Committer         trigger.Committer
	PullRequestNumber int
	Action            string
	Status            Status
	CheckRunID        int64
	EventTime         time.Time
	RequestRaw        []byte
	DedupKey          string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Create a pending build from a trigger
func FromTrigger(t trigger.BuildTrigger) Build {
	b := Build{
		Provider:          t.Provider,
		InstallationID:    t.InstallationID,
		RepoID:            t.RepoID,
		RepoFullName:      t.RepoFullName,
		EventType:         t.EventType,
		Ref:               t.Ref,
		Branch:            t.Branch(),
		CommitID:          t.CommitID,
		CommitMessage:     t.CommitMessage,
		CompareURL:        t.CompareURL,
		Committer:         t.Committer,
		PullRequestNumber: t.PullRequestNumber,
		Action:            t.Action,
		Status:            StatusPending,
		EventTime:         t.EventTime,
		RequestRaw:        bytes.Clone(t.RawPayload),
		DedupKey:          t.DedupKey(),
	}
	if t.RefKind == trigger.RefKindTag {
		b.TagName = t.RefName
	}
	return b
}
