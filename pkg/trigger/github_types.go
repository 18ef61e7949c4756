package trigger

// Subset of the GitHub webhook payloads used during normalization.
// Optional objects are pointers so a missing object can be told apart from an empty one.

type githubRepository struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	URL      string `json:"url"`
}

type githubSender struct {
	Login string `json:"login"`
	ID    int64  `json:"id"`
}

type githubInstallation struct {
	ID int64 `json:"id"`
}

type githubCommitUser struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Username string `json:"username"`
}

type githubCommit struct {
	ID        string            `json:"id"`
	Message   string            `json:"message"`
	Timestamp string            `json:"timestamp"`
	Author    *githubCommitUser `json:"author"`
	Committer *githubCommitUser `json:"committer"`
}

// Shared envelope fields of all events
type githubEnvelope struct {
	Action       string              `json:"action,omitempty"`
	Installation *githubInstallation `json:"installation,omitempty"`
	Repository   *githubRepository   `json:"repository,omitempty"`
	Sender       *githubSender       `json:"sender,omitempty"`
}

type githubPushEvent struct {
	githubEnvelope
	Ref        string        `json:"ref"`
	BaseRef    *string       `json:"base_ref"`
	Before     string        `json:"before"`
	After      string        `json:"after"`
	Compare    string        `json:"compare"`
	Deleted    bool          `json:"deleted"`
	HeadCommit *githubCommit `json:"head_commit"`
}

type githubBranchRef struct {
	Ref  string            `json:"ref"`
	SHA  string            `json:"sha"`
	Repo *githubRepository `json:"repo"`
}

type githubPullRequest struct {
	Number    int              `json:"number"`
	Title     string           `json:"title"`
	UpdatedAt string           `json:"updated_at"`
	User      *githubSender    `json:"user"`
	Head      *githubBranchRef `json:"head"`
	Base      *githubBranchRef `json:"base"`
}

type githubPullRequestEvent struct {
	githubEnvelope
	Number      int                `json:"number"`
	PullRequest *githubPullRequest `json:"pull_request"`
}

// create and delete events
type githubRefEvent struct {
	githubEnvelope
	Ref     string `json:"ref"`
	RefType string `json:"ref_type"`
}

type githubInstallationEvent struct {
	githubEnvelope
	Repositories        []Repository `json:"repositories"`
	RepositoriesAdded   []Repository `json:"repositories_added"`
	RepositoriesRemoved []Repository `json:"repositories_removed"`
}
