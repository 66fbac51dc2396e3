package pipeline

import (
	"errors"
	"strings"
)

var (
	// ErrChannelExists is returned by [Registry.Create] when an orchestrator
	// for the channel is already registered or starting.
	ErrChannelExists = errors.New("pipeline: channel already exists")

	// ErrAlreadyStarted is returned by [Orchestrator.Start] outside the
	// CONNECTING state.
	ErrAlreadyStarted = errors.New("pipeline: orchestrator already started")

	errSourceClosed     = errors.New("frame source closed")
	errRecognizerClosed = errors.New("recognizer transcript stream closed")
	errPacingClosed     = errors.New("pacing release stream closed")
)

// MissingCollaboratorError lists required collaborators that were nil.
type MissingCollaboratorError struct {
	Names []string
}

func (e *MissingCollaboratorError) Error() string {
	return "pipeline: missing collaborators: " + strings.Join(e.Names, ", ")
}
