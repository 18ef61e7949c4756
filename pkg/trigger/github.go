package trigger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Normalizes the events of the GitHub webhook and GitHub App integrations.
// See https://docs.github.com/en/webhooks/webhook-events-and-payloads
type githubHandler struct {
	provider Provider
}

func (h *githubHandler) Normalize(event EventType, body []byte) (Result, error) {
	switch event {
	case EventPush:
		return h.push(body)
	case EventTag:
		return h.tag(body)
	case EventPullRequest:
		return h.pullRequest(body)
	case EventPing, EventStatus, EventIssues, EventIssueComment, EventMember, EventCheckSuite, EventCheckRun:
		return h.audit(event, body)
	case EventWatch, EventFork, EventRelease, EventTeamAdd, EventIntegrationInstallation, EventIntegrationInstallationRepositories:
		if !json.Valid(body) {
			return Result{}, normalizationError(event, "malformed json payload", nil)
		}
		return noOp(fmt.Sprintf("%s events do not trigger builds", event)), nil
	case EventCreate:
		return h.create(body)
	case EventDelete:
		return h.delete(body)
	case EventInstallation:
		return h.installation(body)
	case EventInstallationRepositories:
		return h.installationRepositories(body)
	default:
		return noOp(fmt.Sprintf("unknown event type '%s'", event)), nil
	}
}

func decode(event EventType, body []byte, v any) error {
	err := json.Unmarshal(body, v)
	if err != nil {
		return normalizationError(event, "malformed json payload", err)
	}
	return nil
}

// Fill the fields every trigger shares
func (h *githubHandler) base(event EventType, env githubEnvelope, body []byte) BuildTrigger {
	t := BuildTrigger{
		Provider:   h.provider,
		EventType:  string(event),
		RefKind:    RefKindNone,
		Action:     env.Action,
		RawPayload: bytes.Clone(body),
	}
	if env.Repository != nil {
		t.RepoID = strconv.FormatInt(env.Repository.ID, 10)
		t.RepoFullName = env.Repository.FullName
	}
	if env.Installation != nil {
		t.InstallationID = env.Installation.ID
	}
	return t
}

// Split "refs/{kind}/{name}", the name may contain further slashes
func splitRef(ref string) (string, string, error) {
	parts := strings.SplitN(ref, "/", 3)
	if len(parts) != 3 || parts[0] != "refs" || parts[1] == "" || parts[2] == "" {
		return "", "", fmt.Errorf("expected refs/<kind>/<name>, got '%s'", ref)
	}
	return parts[1], parts[2], nil
}

func parseTimestamp(event EventType, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, normalizationError(event, "malformed timestamp", err)
	}
	return ts.UTC(), nil
}

func committerFrom(user *githubCommitUser) Committer {
	if user == nil {
		return Committer{}
	}
	return Committer{
		Name:     user.Name,
		Email:    user.Email,
		Username: user.Username,
	}
}

func (h *githubHandler) push(body []byte) (Result, error) {
	var event githubPushEvent
	err := decode(EventPush, body, &event)
	if err != nil {
		return Result{}, err
	}

	// First push of a new branch without commits, or a deleted ref
	if event.HeadCommit == nil {
		return noOp("push without head commit"), nil
	}

	if event.Ref == "" {
		return Result{}, normalizationError(EventPush, "missing ref", nil)
	}
	kind, name, err := splitRef(event.Ref)
	if err != nil {
		return Result{}, normalizationError(EventPush, "malformed ref", err)
	}

	switch kind {
	case "tags":
		return h.tagFromPush(&event, name, body)
	case "heads":
	default:
		return noOp(fmt.Sprintf("push to unsupported ref kind '%s'", kind)), nil
	}

	if event.Repository == nil {
		return Result{}, normalizationError(EventPush, "missing repository", nil)
	}

	t := h.base(EventPush, event.githubEnvelope, body)
	t.RefKind = RefKindBranch
	t.Ref = event.Ref
	t.RefName = name
	t.CommitID = event.After
	if t.CommitID == "" {
		t.CommitID = event.HeadCommit.ID
	}
	t.CommitMessage = event.HeadCommit.Message
	t.CompareURL = event.Compare
	t.Committer = committerFrom(event.HeadCommit.Committer)
	t.EventTime, err = parseTimestamp(EventPush, event.HeadCommit.Timestamp)
	if err != nil {
		return Result{}, err
	}

	return triggered(t), nil
}

func (h *githubHandler) tag(body []byte) (Result, error) {
	var event githubPushEvent
	err := decode(EventTag, body, &event)
	if err != nil {
		return Result{}, err
	}

	kind, name, err := splitRef(event.Ref)
	if err != nil {
		return Result{}, normalizationError(EventTag, "malformed ref", err)
	}
	if kind != "tags" {
		return Result{}, normalizationError(EventTag, fmt.Sprintf("ref '%s' is not a tag", event.Ref), nil)
	}

	return h.tagFromPush(&event, name, body)
}

func (h *githubHandler) tagFromPush(event *githubPushEvent, tag string, body []byte) (Result, error) {
	if event.HeadCommit == nil {
		return Result{}, normalizationError(EventTag, "missing head commit", nil)
	}
	if event.Repository == nil {
		return Result{}, normalizationError(EventTag, "missing repository", nil)
	}

	t := h.base(EventTag, event.githubEnvelope, body)
	t.RefKind = RefKindTag
	t.Ref = event.Ref
	t.RefName = tag
	if event.BaseRef != nil {
		if kind, branch, err := splitRef(*event.BaseRef); err == nil && kind == "heads" {
			t.BaseBranch = branch
		}
	}
	t.CommitID = event.HeadCommit.ID
	if t.CommitID == "" {
		t.CommitID = event.After
	}
	t.CommitMessage = event.HeadCommit.Message
	t.CompareURL = event.Compare
	t.Committer = committerFrom(event.HeadCommit.Author)

	var err error
	t.EventTime, err = parseTimestamp(EventTag, event.HeadCommit.Timestamp)
	if err != nil {
		return Result{}, err
	}

	return triggered(t), nil
}

func (h *githubHandler) pullRequest(body []byte) (Result, error) {
	var event githubPullRequestEvent
	err := decode(EventPullRequest, body, &event)
	if err != nil {
		return Result{}, err
	}

	pr := event.PullRequest
	if pr == nil {
		return Result{}, normalizationError(EventPullRequest, "missing pull_request", nil)
	}
	number := event.Number
	if number == 0 {
		number = pr.Number
	}
	if number <= 0 {
		return Result{}, normalizationError(EventPullRequest, "missing pull request number", nil)
	}
	if pr.Head == nil || pr.Head.SHA == "" {
		return Result{}, normalizationError(EventPullRequest, "missing head sha", nil)
	}
	if pr.Base == nil || pr.Base.Ref == "" {
		return Result{}, normalizationError(EventPullRequest, "missing base ref", nil)
	}

	t := h.base(EventPullRequest, event.githubEnvelope, body)
	if pr.Base.Repo != nil {
		t.RepoID = strconv.FormatInt(pr.Base.Repo.ID, 10)
		if pr.Base.Repo.FullName != "" {
			t.RepoFullName = pr.Base.Repo.FullName
		}
	}
	if t.RepoID == "" {
		return Result{}, normalizationError(EventPullRequest, "missing repository", nil)
	}

	t.RefKind = RefKindPullRequest
	t.Ref = fmt.Sprintf("refs/pull/%d/head", number)
	t.RefName = pr.Base.Ref
	t.CommitID = pr.Head.SHA
	t.CommitMessage = pr.Title
	t.PullRequestNumber = number
	if pr.User != nil {
		t.Committer.Username = pr.User.Login
	}
	t.EventTime, err = parseTimestamp(EventPullRequest, pr.UpdatedAt)
	if err != nil {
		return Result{}, err
	}

	return triggered(t), nil
}

type githubHeadSHA struct {
	HeadSHA string `json:"head_sha"`
}

type githubAuditEvent struct {
	githubEnvelope
	SHA        string         `json:"sha"`
	CheckRun   *githubHeadSHA `json:"check_run"`
	CheckSuite *githubHeadSHA `json:"check_suite"`
}

// Events that only prove delivery, recorded but never built
func (h *githubHandler) audit(event EventType, body []byte) (Result, error) {
	var payload githubAuditEvent
	err := decode(event, body, &payload)
	if err != nil {
		return Result{}, err
	}

	t := h.base(event, payload.githubEnvelope, body)
	t.Audit = true
	switch {
	case payload.SHA != "":
		t.CommitID = payload.SHA
	case payload.CheckRun != nil:
		t.CommitID = payload.CheckRun.HeadSHA
	case payload.CheckSuite != nil:
		t.CommitID = payload.CheckSuite.HeadSHA
	}
	return triggered(t), nil
}

func refKindFromType(refType string) (RefKind, bool) {
	switch refType {
	case "branch":
		return RefKindBranch, true
	case "tag":
		return RefKindTag, true
	default:
		return "", false
	}
}

func (h *githubHandler) create(body []byte) (Result, error) {
	var event githubRefEvent
	err := decode(EventCreate, body, &event)
	if err != nil {
		return Result{}, err
	}

	kind, ok := refKindFromType(event.RefType)
	if !ok {
		return noOp(fmt.Sprintf("create of '%s' does not trigger builds", event.RefType)), nil
	}
	if event.Ref == "" {
		return Result{}, normalizationError(EventCreate, "missing ref", nil)
	}

	t := h.base(EventCreate, event.githubEnvelope, body)
	t.Audit = true
	t.RefKind = kind
	t.RefName = event.Ref
	return triggered(t), nil
}

// A deleted branch invalidates everything recorded for it, deleted tags are only audited
func (h *githubHandler) delete(body []byte) (Result, error) {
	var event githubRefEvent
	err := decode(EventDelete, body, &event)
	if err != nil {
		return Result{}, err
	}

	kind, ok := refKindFromType(event.RefType)
	if !ok {
		return noOp(fmt.Sprintf("delete of '%s' requires no cleanup", event.RefType)), nil
	}
	if event.Ref == "" {
		return Result{}, normalizationError(EventDelete, "missing ref", nil)
	}
	if event.Repository == nil {
		return Result{}, normalizationError(EventDelete, "missing repository", nil)
	}

	t := h.base(EventDelete, event.githubEnvelope, body)
	t.RefKind = kind
	t.RefName = event.Ref
	t.Audit = kind == RefKindTag
	return triggered(t), nil
}

func validateRepositories(event EventType, repos []Repository) error {
	for _, repo := range repos {
		if repo.ID <= 0 {
			return normalizationError(event, "repository without id", nil)
		}
	}
	return nil
}

func (h *githubHandler) installation(body []byte) (Result, error) {
	var event githubInstallationEvent
	err := decode(EventInstallation, body, &event)
	if err != nil {
		return Result{}, err
	}
	if event.Installation == nil || event.Installation.ID == 0 {
		return Result{}, normalizationError(EventInstallation, "missing installation id", nil)
	}
	err = validateRepositories(EventInstallation, event.Repositories)
	if err != nil {
		return Result{}, err
	}

	change := &InstallationChange{
		ID:     event.Installation.ID,
		Action: event.Action,
	}
	if event.Sender != nil {
		change.SenderID = event.Sender.ID
	}

	switch event.Action {
	case "created":
		change.Added = event.Repositories
	case "deleted":
		change.Deleted = true
		change.Removed = event.Repositories
	default:
		return noOp(fmt.Sprintf("installation action '%s' does not change repositories", event.Action)), nil
	}

	t := h.base(EventInstallation, event.githubEnvelope, body)
	t.Installation = change
	return triggered(t), nil
}

func (h *githubHandler) installationRepositories(body []byte) (Result, error) {
	var event githubInstallationEvent
	err := decode(EventInstallationRepositories, body, &event)
	if err != nil {
		return Result{}, err
	}
	if event.Installation == nil || event.Installation.ID == 0 {
		return Result{}, normalizationError(EventInstallationRepositories, "missing installation id", nil)
	}

	change := &InstallationChange{
		ID:     event.Installation.ID,
		Action: event.Action,
	}
	if event.Sender != nil {
		change.SenderID = event.Sender.ID
	}

	switch event.Action {
	case "added":
		change.Added = event.RepositoriesAdded
		err = validateRepositories(EventInstallationRepositories, change.Added)
	case "removed":
		change.Removed = event.RepositoriesRemoved
		err = validateRepositories(EventInstallationRepositories, change.Removed)
	default:
		return noOp(fmt.Sprintf("installation_repositories action '%s' is not handled", event.Action)), nil
	}
	if err != nil {
		return Result{}, err
	}

	t := h.base(EventInstallationRepositories, event.githubEnvelope, body)
	t.Installation = change
	return triggered(t), nil
}
