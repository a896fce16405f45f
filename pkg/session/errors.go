package session

import "errors"

var (
	// ErrSessionNotFound is returned when no cached or stored session matches.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExists is returned by CreateSession for a taken id.
	ErrSessionExists = errors.New("session already exists")
	// ErrInvalidSessionID rejects ids that cannot be stored safely.
	ErrInvalidSessionID = errors.New("invalid session id")
	// ErrTaskNotFound is returned when a task id is not in the tree.
	ErrTaskNotFound = errors.New("task not found")
	// ErrInvalidMove rejects moves that would create a cycle.
	ErrInvalidMove = errors.New("invalid task move")
	// ErrInvalidStatus rejects unknown task statuses.
	ErrInvalidStatus = errors.New("invalid task status")
	// ErrNoUserMessage is returned when history has no user message to amend.
	ErrNoUserMessage = errors.New("no user message in history")
	// ErrNotFound is returned by stores for missing records.
	ErrNotFound = errors.New("record not found")
)
