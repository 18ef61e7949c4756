package client

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/heathcliff26/buildhook/pkg/build"
	"github.com/heathcliff26/buildhook/pkg/config"
	"github.com/heathcliff26/buildhook/pkg/metrics"
	"github.com/heathcliff26/buildhook/pkg/trigger"
)

const (
	reportKindCheckRun = "check_run"
	reportKindStatus   = "status"
)

// Reporter publishes the state of builds to the provider.
// Builds of the github_app integration get a check run, plain github builds a commit status.
type Reporter struct {
	client        *GithubClient
	checkName     string
	statusContext string
	detailsURL    string
	recorder      metrics.Recorder
	now           func() time.Time
}

func NewReporter(client *GithubClient, cfg config.GithubConfig, recorder metrics.Recorder) *Reporter {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &Reporter{
		client:        client,
		checkName:     cfg.CheckName,
		statusContext: cfg.StatusContext,
		detailsURL:    strings.TrimSuffix(cfg.DetailsURL, "/"),
		recorder:      recorder,
		now:           time.Now,
	}
}

// Report a newly queued build. Returns the id of the created check run, 0 if none was created.
func (r *Reporter) BuildQueued(ctx context.Context, b build.Build) (int64, error) {
	switch b.Provider {
	case trigger.ProviderGithubApp:
		checks, err := r.appChecks(ctx, b)
		if checks == nil {
			return 0, err
		}

		run, _, err := checks.CreateCheckRun(ctx, b.RepoFullName, CheckRun{
			Name:       r.checkName,
			HeadBranch: b.Branch,
			HeadSHA:    b.CommitID,
			DetailsURL: r.targetURL(b),
			ExternalID: strconv.FormatInt(b.ID, 10),
			Status:     CheckStatusQueued,
			StartedAt:  r.timestamp(),
			Output: &Output{
				Title:   r.checkName,
				Summary: fmt.Sprintf("Build #%d is queued", b.ID),
			},
		})
		r.observe(reportKindCheckRun, err)
		if err != nil {
			return 0, err
		}
		return run.ID, nil
	case trigger.ProviderGithub:
		return 0, r.createStatus(ctx, b, StatePending, "The build is queued")
	default:
		slog.Debug("No status reporting for provider", slog.String("provider", string(b.Provider)))
		return 0, nil
	}
}

// Report the final state of a build
func (r *Reporter) BuildCompleted(ctx context.Context, b build.Build) error {
	if !b.Status.Done() {
		return validationError("build %d is not completed, status is '%s'", b.ID, b.Status)
	}

	switch b.Provider {
	case trigger.ProviderGithubApp:
		if b.CheckRunID == 0 {
			slog.Debug("Build has no check run to complete", slog.Int64("build", b.ID))
			return nil
		}
		checks, err := r.appChecks(ctx, b)
		if checks == nil {
			return err
		}

		conclusion := checkConclusion(b.Status)
		_, err = checks.UpdateCheckRun(ctx, b.RepoFullName, b.CheckRunID, CheckRun{
			Status:      CheckStatusCompleted,
			Conclusion:  conclusion,
			CompletedAt: r.timestamp(),
			Output: &Output{
				Title:   r.checkName,
				Summary: fmt.Sprintf("Build #%d finished with %s", b.ID, b.Status),
			},
		})
		r.observe(reportKindCheckRun, err)
		return err
	case trigger.ProviderGithub:
		return r.createStatus(ctx, b, commitState(b.Status), fmt.Sprintf("The build finished with %s", b.Status))
	default:
		return nil
	}
}

// Checks client authenticated for the installation of the build,
// nil without error when the app is not configured.
func (r *Reporter) appChecks(ctx context.Context, b build.Build) (*ChecksClient, error) {
	if !r.client.HasAppCredentials() || b.InstallationID == 0 {
		slog.Debug("Skipping check run, no app credentials or installation", slog.Int64("build", b.ID))
		return nil, nil
	}
	token, err := r.client.GetInstallationAccessToken(ctx, b.InstallationID)
	if err != nil {
		r.observe(reportKindCheckRun, err)
		return nil, fmt.Errorf("failed to get installation token: %w", err)
	}
	return r.client.Checks(token), nil
}

func (r *Reporter) createStatus(ctx context.Context, b build.Build, state, description string) error {
	token := r.client.StaticToken()
	if token == "" {
		slog.Debug("Skipping commit status, no token configured", slog.Int64("build", b.ID))
		return nil
	}

	statuses, err := r.client.Statuses(token)
	if err != nil {
		return err
	}
	_, err = statuses.CreateStatus(ctx, b.RepoFullName, b.CommitID, CommitStatus{
		State:       state,
		TargetURL:   r.targetURL(b),
		Description: description,
		Context:     r.statusContext + "/" + b.EventType,
	})
	r.observe(reportKindStatus, err)
	return err
}

// Link to the build: <details-url>/<provider>/<owner>/<repo>/builds/<id>
func (r *Reporter) targetURL(b build.Build) string {
	if r.detailsURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/%s/%s/builds/%d", r.detailsURL, b.Provider, b.RepoFullName, b.ID)
}

func (r *Reporter) timestamp() time.Time {
	return r.now().UTC().Truncate(time.Second)
}

func (r *Reporter) observe(kind string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	r.recorder.IncReporterRequest(kind, outcome)
}

func checkConclusion(s build.Status) string {
	switch s {
	case build.StatusSuccess:
		return ConclusionSuccess
	case build.StatusCanceled:
		return ConclusionCancelled
	default:
		return ConclusionFailure
	}
}

func commitState(s build.Status) string {
	switch s {
	case build.StatusSuccess:
		return StateSuccess
	case build.StatusFailure:
		return StateFailure
	case build.StatusPending, build.StatusRunning:
		return StatePending
	default:
		return StateError
	}
}
