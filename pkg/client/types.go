package client

import "time"

const (
	CheckStatusQueued     = "queued"
	CheckStatusInProgress = "in_progress"
	CheckStatusCompleted  = "completed"
)

const (
	ConclusionSuccess        = "success"
	ConclusionFailure        = "failure"
	ConclusionNeutral        = "neutral"
	ConclusionCancelled      = "cancelled"
	ConclusionTimedOut       = "timed_out"
	ConclusionActionRequired = "action_required"
	ConclusionSkipped        = "skipped"
)

const (
	AnnotationNotice  = "notice"
	AnnotationWarning = "warning"
	AnnotationFailure = "failure"
)

const (
	StatePending = "pending"
	StateSuccess = "success"
	StateFailure = "failure"
	StateError   = "error"
)

// CheckRun is used for requests and responses of the checks api.
// Unset fields are left out of the request body.
type CheckRun struct {
	ID          int64     `json:"id,omitempty"`
	Name        string    `json:"name,omitempty"`
	HeadBranch  string    `json:"head_branch,omitempty"`
	HeadSHA     string    `json:"head_sha,omitempty"`
	DetailsURL  string    `json:"details_url,omitempty"`
	ExternalID  string    `json:"external_id,omitempty"`
	Status      string    `json:"status,omitempty"`
	StartedAt   time.Time `json:"started_at,omitzero"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
	Conclusion  string    `json:"conclusion,omitempty"`
	Output      *Output   `json:"output,omitempty"`
	Actions     []Action  `json:"actions,omitempty"`

	// Only set in responses
	HTMLURL    string         `json:"html_url,omitempty"`
	CheckSuite *CheckSuiteRef `json:"check_suite,omitempty"`
}

type CheckSuiteRef struct {
	ID int64 `json:"id"`
}

type Output struct {
	Title            string       `json:"title,omitempty"`
	Summary          string       `json:"summary,omitempty"`
	Text             string       `json:"text,omitempty"`
	AnnotationsCount int          `json:"annotations_count,omitempty"`
	Annotations      []Annotation `json:"annotations,omitempty"`
	Images           []Image      `json:"images,omitempty"`
}

type Annotation struct {
	Path            string `json:"path"`
	BlobHRef        string `json:"blob_href,omitempty"`
	StartLine       int    `json:"start_line"`
	EndLine         int    `json:"end_line"`
	StartColumn     int    `json:"start_column,omitempty"`
	EndColumn       int    `json:"end_column,omitempty"`
	AnnotationLevel string `json:"annotation_level"`
	Message         string `json:"message"`
	Title           string `json:"title,omitempty"`
	RawDetails      string `json:"raw_details,omitempty"`
}

type Image struct {
	Alt      string `json:"alt"`
	ImageURL string `json:"image_url"`
	Caption  string `json:"caption,omitempty"`
}

// Action is a button shown on the check run, clicking it sends a requested_action event
type Action struct {
	Label       string `json:"label"`
	Description string `json:"description"`
	Identifier  string `json:"identifier"`
}

type CheckRunList struct {
	TotalCount int        `json:"total_count"`
	CheckRuns  []CheckRun `json:"check_runs"`
}

// Filters for listing check runs, empty fields are not sent
type ListCheckRunsOptions struct {
	CheckName string
	Status    string
	// latest or all
	Filter string
}

// CommitStatus is a request or response of the commit status api
type CommitStatus struct {
	ID          int64  `json:"id,omitempty"`
	State       string `json:"state"`
	TargetURL   string `json:"target_url,omitempty"`
	Description string `json:"description,omitempty"`
	Context     string `json:"context,omitempty"`
}

type InstallationAccessTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}
