package domain

import (
	"errors"
	"fmt"
)

// Closed error taxonomy. Collaborator errors are wrapped into one of these
// kinds at the component boundary; callers match with errors.Is.
var (
	ErrBindingListUnavailable = errors.New("binding list unavailable")
	ErrSourceFetchFailed      = errors.New("match source fetch failed")
	ErrNoTargetFound          = errors.New("no delivery target found")
	ErrAllTargetsFailed       = errors.New("all delivery targets failed")
	ErrPlayback               = errors.New("playback failed")
	ErrCacheUnavailable       = errors.New("cache unavailable")
)

// Error annotates a taxonomy kind with the failing operation. The original
// collaborator error is flattened into text so its type never escapes.
type Error struct {
	Kind   error
	Op     string
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Kind }

// Wrap translates err into kind. A nil err yields a bare kind error for op.
func Wrap(kind error, op string, err error) error {
	e := &Error{Kind: kind, Op: op}
	if err != nil {
		e.Detail = err.Error()
	}
	return e
}
