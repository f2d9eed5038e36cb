package fault

import (
	"errors"
	"fmt"
)

// Kind classifies failures by how the process reacts to them. None of the
// kinds is fatal on its own; each terminates only the event that raised it.
type Kind string

const (
	KindConfig    Kind = "config"
	KindTransport Kind = "transport"
	KindArchive   Kind = "archive"
	KindRuntime   Kind = "runtime"
)

// Error tags an underlying error with its Kind and the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Config wraps err as a configuration failure (missing bundle, bad settings).
func Config(op string, err error) error { return wrap(KindConfig, op, err) }

// Transport wraps err as a publish/subscribe failure.
func Transport(op string, err error) error { return wrap(KindTransport, op, err) }

// Archive wraps err as a corrupt or unreadable bundle archive.
func Archive(op string, err error) error { return wrap(KindArchive, op, err) }

// Runtime wraps err as a container build or run failure.
func Runtime(op string, err error) error { return wrap(KindRuntime, op, err) }

// KindOf reports the Kind of the outermost fault.Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return "", false
}

// IsKind reports whether err carries the given Kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
