package client

import (
	"slices"
	"unicode/utf8"
)

const (
	MaxAnnotationsPerRequest = 50
	MaxActions               = 3
	maxActionLabel           = 20
	maxActionIdentifier      = 20
	maxActionDescription     = 40
)

var (
	checkStatuses    = []string{CheckStatusQueued, CheckStatusInProgress, CheckStatusCompleted}
	conclusions      = []string{ConclusionSuccess, ConclusionFailure, ConclusionNeutral, ConclusionCancelled, ConclusionTimedOut, ConclusionActionRequired, ConclusionSkipped}
	annotationLevels = []string{AnnotationNotice, AnnotationWarning, AnnotationFailure}
)

// Create an annotation for the lines start to end of a file
func NewAnnotation(path, blobHRef string, startLine, endLine int, level, message string) Annotation {
	return Annotation{
		Path:            path,
		BlobHRef:        blobHRef,
		StartLine:       startLine,
		EndLine:         endLine,
		AnnotationLevel: level,
		Message:         message,
	}
}

func NewImage(alt, imageURL, caption string) Image {
	return Image{
		Alt:      alt,
		ImageURL: imageURL,
		Caption:  caption,
	}
}

func NewAction(label, identifier, description string) Action {
	return Action{
		Label:       label,
		Identifier:  identifier,
		Description: description,
	}
}

// Action offering the user to let the integration fix reported errors
func DefaultFixAction() Action {
	return NewAction("Fix", "fix_errors", "Allow us to fix these errors for you")
}

// Check the preconditions of the checks api, create additionally requires name and head sha.
func validateCheckRun(run CheckRun, create bool) error {
	if create {
		if run.Name == "" {
			return validationError("check run requires a name")
		}
		if run.HeadSHA == "" {
			return validationError("check run requires a head sha")
		}
	}

	if run.Status != "" && !slices.Contains(checkStatuses, run.Status) {
		return validationError("unknown check run status '%s'", run.Status)
	}

	if run.Conclusion != "" {
		if !slices.Contains(conclusions, run.Conclusion) {
			return validationError("unknown conclusion '%s'", run.Conclusion)
		}
		if run.CompletedAt.IsZero() {
			return validationError("conclusion '%s' requires completed_at", run.Conclusion)
		}
		if run.Status == CheckStatusQueued || run.Status == CheckStatusInProgress {
			return validationError("conclusion can not be set on a check run with status '%s'", run.Status)
		}
	}

	if run.Output != nil {
		err := validateOutput(*run.Output)
		if err != nil {
			return err
		}
	}

	if len(run.Actions) > MaxActions {
		return validationError("at most %d actions are allowed, got %d", MaxActions, len(run.Actions))
	}
	for _, action := range run.Actions {
		err := validateAction(action)
		if err != nil {
			return err
		}
	}
	return nil
}

func validateOutput(output Output) error {
	if output.Title == "" || output.Summary == "" {
		return validationError("check run output requires title and summary")
	}

	if len(output.Annotations) > MaxAnnotationsPerRequest {
		return validationError("at most %d annotations per request are allowed, got %d", MaxAnnotationsPerRequest, len(output.Annotations))
	}
	for _, a := range output.Annotations {
		switch {
		case a.Path == "":
			return validationError("annotation requires a path")
		case a.Message == "":
			return validationError("annotation for '%s' requires a message", a.Path)
		case a.StartLine < 1 || a.EndLine < a.StartLine:
			return validationError("annotation for '%s' has invalid lines %d-%d", a.Path, a.StartLine, a.EndLine)
		case !slices.Contains(annotationLevels, a.AnnotationLevel):
			return validationError("annotation for '%s' has unknown level '%s'", a.Path, a.AnnotationLevel)
		}
	}

	for _, img := range output.Images {
		if img.Alt == "" || img.ImageURL == "" {
			return validationError("image requires alt text and url")
		}
	}
	return nil
}

func validateAction(action Action) error {
	if action.Label == "" || action.Identifier == "" || action.Description == "" {
		return validationError("action requires label, identifier and description")
	}
	if utf8.RuneCountInString(action.Label) > maxActionLabel {
		return validationError("action label '%s' is longer than %d characters", action.Label, maxActionLabel)
	}
	if utf8.RuneCountInString(action.Identifier) > maxActionIdentifier {
		return validationError("action identifier '%s' is longer than %d characters", action.Identifier, maxActionIdentifier)
	}
	if utf8.RuneCountInString(action.Description) > maxActionDescription {
		return validationError("action description is longer than %d characters", maxActionDescription)
	}
	return nil
}
