package trigger

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Provider string

const (
	ProviderGithub    Provider = "github"
	ProviderGithubApp Provider = "github_app"
	ProviderGitee     Provider = "gitee"
	ProviderCoding    Provider = "coding"
)

var Providers = []Provider{ProviderGithub, ProviderGithubApp, ProviderGitee, ProviderCoding}

// Parse a provider name as used in urls and queue payloads
func ParseProvider(name string) (Provider, error) {
	for _, p := range Providers {
		if string(p) == name {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown provider '%s'", name)
}

type RefKind string

const (
	RefKindNone        RefKind = "none"
	RefKindBranch      RefKind = "branch"
	RefKindTag         RefKind = "tag"
	RefKindPullRequest RefKind = "pull_request"
)

type Committer struct {
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
}

// Repository as referenced by installation events
type Repository struct {
	ID       int64  `json:"id"`
	FullName string `json:"full_name,omitempty"`
}

// InstallationChange describes a mutation of an installation's repository set
type InstallationChange struct {
	ID       int64        `json:"id"`
	Action   string       `json:"action"`
	SenderID int64        `json:"sender_id,omitempty"`
	Added    []Repository `json:"added,omitempty"`
	Removed  []Repository `json:"removed,omitempty"`
	// Set when the whole installation was removed
	Deleted bool `json:"deleted,omitempty"`
}

// BuildTrigger is the provider independent summary of a webhook delivery
type BuildTrigger struct {
	Provider          Provider            `json:"provider"`
	EventType         string              `json:"event_type"`
	DeliveryID        string              `json:"delivery_id,omitempty"`
	RepoID            string              `json:"repo_id,omitempty"`
	RepoFullName      string              `json:"repo_full_name,omitempty"`
	InstallationID    int64               `json:"installation_id,omitempty"`
	RefKind           RefKind             `json:"ref_kind"`
	Ref               string              `json:"ref,omitempty"`
	RefName           string              `json:"ref_name,omitempty"`
	BaseBranch        string              `json:"base_branch,omitempty"`
	CommitID          string              `json:"commit_id,omitempty"`
	CommitMessage     string              `json:"commit_message,omitempty"`
	CompareURL        string              `json:"compare_url,omitempty"`
	Committer         Committer           `json:"committer,omitzero"`
	PullRequestNumber int                 `json:"pull_request_number,omitempty"`
	Action            string              `json:"action,omitempty"`
	EventTime         time.Time           `json:"event_time,omitzero"`
	Audit             bool                `json:"audit,omitempty"`
	Installation      *InstallationChange `json:"installation,omitempty"`
	RawPayload        []byte              `json:"raw_payload,omitempty"`
}

// Validate checks the ref invariants of the trigger
func (t BuildTrigger) Validate() error {
	switch t.RefKind {
	case RefKindBranch, RefKindTag:
		if t.RefName == "" {
			return fmt.Errorf("%s trigger without ref name", t.RefKind)
		}
		if t.PullRequestNumber != 0 {
			return fmt.Errorf("%s trigger must not carry a pull request number", t.RefKind)
		}
	case RefKindPullRequest:
		if t.PullRequestNumber <= 0 {
			return fmt.Errorf("pull request trigger without pull request number")
		}
	case RefKindNone, "":
		if t.PullRequestNumber != 0 {
			return fmt.Errorf("trigger without ref must not carry a pull request number")
		}
	default:
		return fmt.Errorf("unknown ref kind '%s'", t.RefKind)
	}
	return nil
}

// Buildable reports if the trigger should result in a build.
// Whether a pull request action is worth a build is decided by the consumer.
func (t BuildTrigger) Buildable() bool {
	if t.Audit {
		return false
	}
	switch EventType(t.EventType) {
	case EventPush, EventTag, EventPullRequest:
		return t.CommitID != ""
	default:
		return false
	}
}

// Branch returns the branch a build for this trigger runs against
func (t BuildTrigger) Branch() string {
	switch t.RefKind {
	case RefKindBranch, RefKindPullRequest:
		return t.RefName
	case RefKindTag:
		return t.BaseBranch
	default:
		return ""
	}
}

// Identifies the trigger for duplicate detection: provider, repository, event and commit.
func (t BuildTrigger) DedupKey() string {
	parts := []string{string(t.Provider), t.RepoID, t.EventType, t.CommitID}
	if t.RefKind == RefKindPullRequest {
		parts = append(parts, strconv.Itoa(t.PullRequestNumber), t.Action)
	} else if t.RefName != "" {
		parts = append(parts, t.RefName)
	}
	return strings.Join(parts, "/")
}
