package trigger

import (
	"fmt"
)

type EventType string

const (
	EventPing                     EventType = "ping"
	EventPush                     EventType = "push"
	EventTag                      EventType = "tag"
	EventPullRequest              EventType = "pull_request"
	EventStatus                   EventType = "status"
	EventIssues                   EventType = "issues"
	EventIssueComment             EventType = "issue_comment"
	EventWatch                    EventType = "watch"
	EventFork                     EventType = "fork"
	EventRelease                  EventType = "release"
	EventCreate                   EventType = "create"
	EventDelete                   EventType = "delete"
	EventMember                   EventType = "member"
	EventTeamAdd                  EventType = "team_add"
	EventInstallation             EventType = "installation"
	EventInstallationRepositories EventType = "installation_repositories"
	EventCheckSuite               EventType = "check_suite"
	EventCheckRun                 EventType = "check_run"
	// Deprecated by GitHub, still delivered by old app registrations
	EventIntegrationInstallation             EventType = "integration_installation"
	EventIntegrationInstallationRepositories EventType = "integration_installation_repositories"
)

// Result of normalizing a delivery. Either Trigger is set or NoOp is true.
type Result struct {
	Trigger BuildTrigger
	NoOp    bool
	// Why the delivery was ignored
	Reason string
}

func noOp(reason string) Result {
	return Result{NoOp: true, Reason: reason}
}

func triggered(t BuildTrigger) Result {
	return Result{Trigger: t}
}

// NormalizationError is returned for payloads of known events that can not be understood
type NormalizationError struct {
	EventType string
	Cause     string
	Err       error
}

func (e *NormalizationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to normalize %s event: %s: %v", e.EventType, e.Cause, e.Err)
	}
	return fmt.Sprintf("failed to normalize %s event: %s", e.EventType, e.Cause)
}

func (e *NormalizationError) Unwrap() error {
	return e.Err
}

func normalizationError(event EventType, cause string, err error) *NormalizationError {
	return &NormalizationError{EventType: string(event), Cause: cause, Err: err}
}

// Handler normalizes the events of a single provider integration
type Handler interface {
	Normalize(event EventType, body []byte) (Result, error)
}

// Normalizer dispatches deliveries to the handler of their provider.
// It keeps no state between calls, the same input always gives the same result.
type Normalizer struct {
	handlers map[Provider]Handler
}

// Create a normalizer with the default handlers for all known providers
func NewNormalizer() *Normalizer {
	github := &githubHandler{provider: ProviderGithub}
	githubApp := &githubHandler{provider: ProviderGithubApp}
	return &Normalizer{
		handlers: map[Provider]Handler{
			ProviderGithub:    github,
			ProviderGithubApp: githubApp,
			ProviderGitee:     unsupportedHandler{provider: ProviderGitee},
			ProviderCoding:    unsupportedHandler{provider: ProviderCoding},
		},
	}
}

// Normalize a raw delivery into a BuildTrigger
func (n *Normalizer) Normalize(provider Provider, eventType string, body []byte) (Result, error) {
	handler, ok := n.handlers[provider]
	if !ok {
		return Result{}, fmt.Errorf("no handler registered for provider '%s'", provider)
	}
	if eventType == "" {
		return Result{}, normalizationError("", "missing event type", nil)
	}

	res, err := handler.Normalize(EventType(eventType), body)
	if err != nil {
		return Result{}, err
	}
	if res.NoOp {
		return res, nil
	}

	err = res.Trigger.Validate()
	if err != nil {
		return Result{}, normalizationError(EventType(eventType), "invalid trigger", err)
	}
	return res, nil
}

// Integrations that are acknowledged but not processed yet
type unsupportedHandler struct {
	provider Provider
}

func (h unsupportedHandler) Normalize(event EventType, _ []byte) (Result, error) {
	return noOp(fmt.Sprintf("%s integration does not process %s events", h.provider, event)), nil
}
