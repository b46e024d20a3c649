package service

import (
	"errors"
	"fmt"

	"github.com/25x8/campus-errands/internal/errands/repository"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrForbidden         = errors.New("forbidden")
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrInvalidInput      = errors.New("invalid input")
	ErrDuplicateRating   = errors.New("request already rated")
)

// TransitionError reports which request, action and guard rejected a call
type TransitionError struct {
	RequestID string
	Action    Action
	Reason    string
	Err       error
}

func (e *TransitionError) Error() string {
	if e.Action == "" {
		return fmt.Sprintf("request %s: %s: %v", e.RequestID, e.Reason, e.Err)
	}
	return fmt.Sprintf("request %s: %s: %s: %v", e.RequestID, e.Action, e.Reason, e.Err)
}

func (e *TransitionError) Unwrap() error { return e.Err }

func reject(requestID string, action Action, sentinel error, format string, args ...any) error {
	return &TransitionError{
		RequestID: requestID,
		Action:    action,
		Reason:    fmt.Sprintf(format, args...),
		Err:       sentinel,
	}
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// storeErr maps backend failures onto the service taxonomy. Anything the
// repository does not classify is a transient infrastructure failure.
func storeErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	default:
		return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
	}
}
