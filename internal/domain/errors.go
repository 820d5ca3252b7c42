package domain

import "errors"

var (
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrSessionNotFound is returned when no live session exists for a code.
	ErrSessionNotFound = errors.New("quiz session not found")
	// ErrParticipantNotFound is returned when a user tries to act before joining.
	ErrParticipantNotFound = errors.New("participant not found in quiz")
	// ErrUnauthorized is returned when a caller lacks the identity or role a command needs.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidTransition is returned when a command is not allowed in the current state.
	ErrInvalidTransition = errors.New("invalid session transition")
	// ErrBadRequest is returned for malformed commands.
	ErrBadRequest = errors.New("bad request")
	// ErrConflict is the parent of duplicate and stale submissions.
	ErrConflict = errors.New("conflict")

	// ErrDuplicateAnswer is returned when a player answers the same question twice.
	ErrDuplicateAnswer = &kindError{parent: ErrConflict, msg: "answer already submitted for this question"}
	// ErrStaleAnswer is returned for answers naming a question that has already closed.
	ErrStaleAnswer = &kindError{parent: ErrConflict, msg: "question is no longer accepting answers"}
	// ErrNotEnoughPlayers is returned when start is requested below the player minimum.
	ErrNotEnoughPlayers = &kindError{parent: ErrInvalidTransition, msg: "not enough players to start"}
)

// ErrorKind is the wire name of an error class.
type ErrorKind string

const (
	KindNotFound          ErrorKind = "NotFound"
	KindUnauthorized      ErrorKind = "Unauthorized"
	KindInvalidTransition ErrorKind = "InvalidTransition"
	KindBadRequest        ErrorKind = "BadRequest"
	KindConflict          ErrorKind = "Conflict"
	KindInternal          ErrorKind = "Internal"
)

// KindOf maps an error onto its class.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrQuizNotFound), errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrParticipantNotFound):
		return KindNotFound
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrInvalidTransition):
		return KindInvalidTransition
	case errors.Is(err, ErrBadRequest):
		return KindBadRequest
	case errors.Is(err, ErrConflict):
		return KindConflict
	default:
		return KindInternal
	}
}

// kindError is a named error that also matches its parent class with errors.Is.
type kindError struct {
	parent error
	msg    string
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Unwrap() error { return e.parent }
